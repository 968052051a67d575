package cell

import (
	"fmt"
	"math/big"
)

// Builder assembles a cell. The first overflow sticks and is reported by EndCell.
type Builder struct {
	data    []byte
	bitsLen int
	refs    []*Cell
	err     error
}

func BeginCell() *Builder {
	return &Builder{data: make([]byte, 0, 128)}
}

func (b *Builder) BitsUsed() int { return b.bitsLen }
func (b *Builder) RefsUsed() int { return len(b.refs) }

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) StoreBit(v bool) *Builder {
	if b.err != nil {
		return b
	}
	if b.bitsLen+1 > MaxBits {
		return b.fail(ErrCellOverflow)
	}
	if b.bitsLen%8 == 0 {
		b.data = append(b.data, 0)
	}
	if v {
		b.data[b.bitsLen/8] |= 1 << (7 - b.bitsLen%8)
	}
	b.bitsLen++
	return b
}

// StoreUInt stores the low n bits of v, most significant first.
func (b *Builder) StoreUInt(v uint64, n int) *Builder {
	if n < 0 || n > 64 {
		return b.fail(fmt.Errorf("cell: bad uint width %d", n))
	}
	if n < 64 && v>>uint(n) != 0 {
		return b.fail(fmt.Errorf("cell: %d does not fit in %d bits", v, n))
	}
	if b.bitsLen+n > MaxBits {
		return b.fail(ErrCellOverflow)
	}
	for i := n - 1; i >= 0; i-- {
		b.StoreBit(v>>uint(i)&1 == 1)
	}
	return b
}

func (b *Builder) StoreInt(v int64, n int) *Builder {
	if n <= 0 || n > 64 {
		return b.fail(fmt.Errorf("cell: bad int width %d", n))
	}
	if n < 64 {
		lim := int64(1) << uint(n-1)
		if v < -lim || v >= lim {
			return b.fail(fmt.Errorf("cell: %d does not fit in %d signed bits", v, n))
		}
	}
	return b.StoreUInt(uint64(v)&(^uint64(0)>>uint(64-n)), n)
}

// StoreBigInt stores v as an n-bit two's complement integer.
func (b *Builder) StoreBigInt(v *big.Int, n int) *Builder {
	if n <= 0 {
		return b.fail(fmt.Errorf("cell: bad int width %d", n))
	}
	lim := new(big.Int).Lsh(big.NewInt(1), uint(n-1))
	if v.Cmp(new(big.Int).Neg(lim)) < 0 || v.Cmp(lim) >= 0 {
		return b.fail(fmt.Errorf("cell: %s does not fit in %d signed bits", v, n))
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, new(big.Int).Lsh(big.NewInt(1), uint(n)))
	}
	return b.storeBigBits(u, n)
}

func (b *Builder) StoreBigUInt(v *big.Int, n int) *Builder {
	if v.Sign() < 0 || v.BitLen() > n {
		return b.fail(fmt.Errorf("cell: %s does not fit in %d bits", v, n))
	}
	return b.storeBigBits(v, n)
}

func (b *Builder) storeBigBits(u *big.Int, n int) *Builder {
	if b.bitsLen+n > MaxBits {
		return b.fail(ErrCellOverflow)
	}
	for i := n - 1; i >= 0; i-- {
		b.StoreBit(u.Bit(i) == 1)
	}
	return b
}

// StoreBits stores the first n bits of data.
func (b *Builder) StoreBits(data []byte, n int) *Builder {
	if n > len(data)*8 {
		return b.fail(fmt.Errorf("cell: %d bits requested from %d bytes", n, len(data)))
	}
	if b.bitsLen+n > MaxBits {
		return b.fail(ErrCellOverflow)
	}
	for i := 0; i < n; i++ {
		b.StoreBit(getBit(data, i))
	}
	return b
}

func (b *Builder) StoreRef(c *Cell) *Builder {
	if b.err != nil {
		return b
	}
	if c == nil {
		return b.fail(fmt.Errorf("cell: nil ref"))
	}
	if len(b.refs) >= MaxRefs {
		return b.fail(ErrCellOverflow)
	}
	b.refs = append(b.refs, c)
	return b
}

func (b *Builder) StoreMaybeRef(c *Cell) *Builder {
	if c == nil {
		return b.StoreBit(false)
	}
	return b.StoreBit(true).StoreRef(c)
}

// StoreSlice copies the unread bits and refs of s without consuming them.
func (b *Builder) StoreSlice(s *Slice) *Builder {
	if b.bitsLen+s.BitsLeft() > MaxBits || len(b.refs)+s.RefsLeft() > MaxRefs {
		return b.fail(ErrCellOverflow)
	}
	for i := s.pos; i < s.bitsLen; i++ {
		b.StoreBit(getBit(s.data, i))
	}
	for _, r := range s.refs[s.refPos:] {
		b.StoreRef(r)
	}
	return b
}

// StoreCoins stores a Grams value (VarUInteger 16).
func (b *Builder) StoreCoins(v *big.Int) *Builder {
	return b.StoreVarUInt(v, 16)
}

// StoreVarUInt stores VarUInteger max: a length in bytes, then the value.
func (b *Builder) StoreVarUInt(v *big.Int, max int) *Builder {
	n := (v.BitLen() + 7) / 8
	if n >= max {
		return b.fail(fmt.Errorf("cell: %s too large for VarUInteger %d", v, max))
	}
	b.StoreUInt(uint64(n), lenBits(max-1))
	return b.StoreBigUInt(v, n*8)
}

func (b *Builder) EndCell() (*Cell, error) {
	if b.err != nil {
		return nil, b.err
	}
	data := make([]byte, (b.bitsLen+7)/8)
	copy(data, b.data)
	refs := make([]*Cell, len(b.refs))
	copy(refs, b.refs)
	return &Cell{data: data, bitsLen: b.bitsLen, refs: refs, levelMask: childLevelMask(refs)}, nil
}

// MustEndCell is EndCell for builders that cannot overflow.
func (b *Builder) MustEndCell() *Cell {
	c, err := b.EndCell()
	if err != nil {
		panic(err)
	}
	return c
}

func childLevelMask(refs []*Cell) uint8 {
	var m uint8
	for _, r := range refs {
		if r.special && r.Type() == TypeMerkleProof || r.special && r.Type() == TypeMerkleUpdate {
			m |= r.levelMask >> 1
			continue
		}
		m |= r.levelMask
	}
	return m
}

func getBit(data []byte, i int) bool {
	return data[i/8]>>(7-uint(i%8))&1 == 1
}

// lenBits is the width of the #<= m field.
func lenBits(m int) int {
	n := 0
	for v := m; v > 0; v >>= 1 {
		n++
	}
	return n
}
