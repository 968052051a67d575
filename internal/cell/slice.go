package cell

import (
	"fmt"
	"math/big"
)

// Slice reads a cell front to back. The first error sticks; later loads return zero values.
type Slice struct {
	data    []byte
	bitsLen int
	pos     int
	refs    []*Cell
	refPos  int
	err     error
}

func (s *Slice) Err() error    { return s.err }
func (s *Slice) BitsLeft() int { return s.bitsLen - s.pos }
func (s *Slice) RefsLeft() int { return len(s.refs) - s.refPos }
func (s *Slice) IsEmpty() bool { return s.BitsLeft() == 0 && s.RefsLeft() == 0 }

func (s *Slice) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *Slice) need(n int) bool {
	if s.err != nil {
		return false
	}
	if n < 0 || s.pos+n > s.bitsLen {
		s.fail(fmt.Errorf("%w: need %d bits, have %d", ErrUnderflow, n, s.BitsLeft()))
		return false
	}
	return true
}

func (s *Slice) LoadBit() bool {
	if !s.need(1) {
		return false
	}
	v := getBit(s.data, s.pos)
	s.pos++
	return v
}

func (s *Slice) SkipBits(n int) {
	if s.need(n) {
		s.pos += n
	}
}

func (s *Slice) LoadUInt(n int) uint64 {
	if n > 64 {
		s.fail(fmt.Errorf("cell: uint width %d", n))
		return 0
	}
	if !s.need(n) {
		return 0
	}
	var v uint64
	for i := 0; i < n; i++ {
		v <<= 1
		if getBit(s.data, s.pos+i) {
			v |= 1
		}
	}
	s.pos += n
	return v
}

func (s *Slice) PreloadUInt(n int) uint64 {
	pos, err := s.pos, s.err
	v := s.LoadUInt(n)
	s.pos, s.err = pos, err
	return v
}

func (s *Slice) LoadInt(n int) int64 {
	if n == 0 {
		return 0
	}
	v := s.LoadUInt(n)
	if n < 64 && v>>uint(n-1)&1 == 1 {
		v |= ^uint64(0) << uint(n)
	}
	return int64(v)
}

func (s *Slice) LoadBigUInt(n int) *big.Int {
	if !s.need(n) {
		return new(big.Int)
	}
	v := new(big.Int)
	for i := 0; i < n; i++ {
		v.Lsh(v, 1)
		if getBit(s.data, s.pos+i) {
			v.SetBit(v, 0, 1)
		}
	}
	s.pos += n
	return v
}

func (s *Slice) LoadBigInt(n int) *big.Int {
	v := s.LoadBigUInt(n)
	if n > 0 && v.Bit(n-1) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(n)))
	}
	return v
}

// LoadBits returns n bits left-aligned in ceil(n/8) bytes.
func (s *Slice) LoadBits(n int) []byte {
	if !s.need(n) {
		return nil
	}
	out := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if getBit(s.data, s.pos+i) {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	s.pos += n
	return out
}

func (s *Slice) LoadHash() (h [32]byte) {
	copy(h[:], s.LoadBits(256))
	return h
}

func (s *Slice) LoadRef() *Cell {
	if s.err != nil {
		return nil
	}
	if s.refPos >= len(s.refs) {
		s.fail(fmt.Errorf("%w: ref %d of %d", ErrNoRef, s.refPos, len(s.refs)))
		return nil
	}
	c := s.refs[s.refPos]
	s.refPos++
	return c
}

// LoadMaybeRef reads a Maybe ^X bit and the ref when it is set.
func (s *Slice) LoadMaybeRef() *Cell {
	if !s.LoadBit() {
		return nil
	}
	return s.LoadRef()
}

// LoadVarUInt reads VarUInteger max.
func (s *Slice) LoadVarUInt(max int) *big.Int {
	n := int(s.LoadUInt(lenBits(max - 1)))
	return s.LoadBigUInt(n * 8)
}

// LoadCoins reads a Grams value.
func (s *Slice) LoadCoins() *big.Int {
	return s.LoadVarUInt(16)
}

// Restrict cuts the slice to bits [stBits,endBits) and refs [stRef,endRef) of its cell.
func (s *Slice) Restrict(stBits, endBits, stRef, endRef int) error {
	if stBits < 0 || stBits > endBits || endBits > s.bitsLen || stRef < 0 || stRef > endRef || endRef > len(s.refs) {
		return fmt.Errorf("cell: bad slice bounds bits [%d,%d) refs [%d,%d)", stBits, endBits, stRef, endRef)
	}
	s.pos, s.bitsLen = stBits, endBits
	s.refs = s.refs[:endRef]
	s.refPos = stRef
	return nil
}

// ToCell returns a cell holding the unread part of the slice.
func (s *Slice) ToCell() (*Cell, error) {
	if s.err != nil {
		return nil, s.err
	}
	return BeginCell().StoreSlice(s).EndCell()
}

func (s *Slice) Copy() *Slice {
	cp := *s
	return &cp
}
