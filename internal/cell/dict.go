package cell

import (
	"errors"
	"fmt"
)

var ErrKeyNotFound = errors.New("cell: key not found")

// DictVisitor receives each leaf: the full key (left-aligned bits) and a slice positioned
// right after the leaf label. For augmented dictionaries the slice starts with the extra.
type DictVisitor func(key []byte, value *Slice) error

// LoadDictE reads a HashmapE: a Maybe bit followed by the root ref.
func (s *Slice) LoadDictE() *Cell {
	return s.LoadMaybeRef()
}

// WalkDict visits every leaf of a Hashmap keyBits rooted at root. Pruned subtrees are skipped.
func WalkDict(root *Cell, keyBits int, fn DictVisitor) error {
	if root == nil {
		return nil
	}
	return walk(root, &bitBuf{}, keyBits, fn)
}

func walk(c *Cell, prefix *bitBuf, m int, fn DictVisitor) error {
	if c.special {
		return nil
	}
	s := c.BeginParse()
	label, n := loadLabel(s, m)
	if err := s.Err(); err != nil {
		return fmt.Errorf("dict label: %w", err)
	}
	key := prefix.clone()
	key.appendBits(label, n)
	m -= n
	if m == 0 {
		return fn(key.bytes(), s)
	}
	if s.RefsLeft() < 2 {
		return fmt.Errorf("dict fork: %w", ErrNoRef)
	}
	left, right := s.LoadRef(), s.LoadRef()
	lk := key.clone()
	lk.appendBit(false)
	if err := walk(left, lk, m-1, fn); err != nil {
		return err
	}
	key.appendBit(true)
	return walk(right, key, m-1, fn)
}

// LookupDict finds key (keyBits long, left-aligned) and returns the slice after the leaf label.
func LookupDict(root *Cell, key []byte, keyBits int) (*Slice, error) {
	if root == nil {
		return nil, ErrKeyNotFound
	}
	if len(key)*8 < keyBits {
		return nil, fmt.Errorf("cell: key shorter than %d bits", keyBits)
	}
	c, pos, m := root, 0, keyBits
	for {
		if c.special {
			return nil, fmt.Errorf("cell: dictionary path is pruned")
		}
		s := c.BeginParse()
		label, n := loadLabel(s, m)
		if err := s.Err(); err != nil {
			return nil, fmt.Errorf("dict label: %w", err)
		}
		for i := 0; i < n; i++ {
			if getBit(label, i) != getBit(key, pos+i) {
				return nil, ErrKeyNotFound
			}
		}
		pos += n
		m -= n
		if m == 0 {
			return s, nil
		}
		if s.RefsLeft() < 2 {
			return nil, fmt.Errorf("dict fork: %w", ErrNoRef)
		}
		next, err := c.Ref(0)
		if getBit(key, pos) {
			next, err = c.Ref(1)
		}
		if err != nil {
			return nil, err
		}
		c = next
		pos++
		m--
	}
}

// loadLabel parses HmLabel ~n m and returns the label bits and n.
func loadLabel(s *Slice, m int) ([]byte, int) {
	if !s.LoadBit() {
		// hml_short$0 len:(Unary ~n) s:(n * Bit)
		n := 0
		for s.LoadBit() {
			n++
		}
		if n > m {
			s.fail(fmt.Errorf("cell: label length %d exceeds %d", n, m))
			return nil, 0
		}
		return s.LoadBits(n), n
	}
	if !s.LoadBit() {
		// hml_long$10 n:(#<= m) s:(n * Bit)
		n := int(s.LoadUInt(lenBits(m)))
		if n > m {
			s.fail(fmt.Errorf("cell: label length %d exceeds %d", n, m))
			return nil, 0
		}
		return s.LoadBits(n), n
	}
	// hml_same$11 v:Bit n:(#<= m)
	v := s.LoadBit()
	n := int(s.LoadUInt(lenBits(m)))
	if n > m {
		s.fail(fmt.Errorf("cell: label length %d exceeds %d", n, m))
		return nil, 0
	}
	out := make([]byte, (n+7)/8)
	if v {
		for i := 0; i < n; i++ {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out, n
}

type bitBuf struct {
	data []byte
	n    int
}

func (b *bitBuf) clone() *bitBuf {
	return &bitBuf{data: append([]byte(nil), b.data...), n: b.n}
}

func (b *bitBuf) appendBit(v bool) {
	if b.n%8 == 0 {
		b.data = append(b.data, 0)
	}
	if v {
		b.data[b.n/8] |= 1 << (7 - uint(b.n%8))
	}
	b.n++
}

func (b *bitBuf) appendBits(data []byte, n int) {
	for i := 0; i < n; i++ {
		b.appendBit(getBit(data, i))
	}
}

func (b *bitBuf) bytes() []byte { return b.data }

// KeyUint reads a key of up to 64 bits as an unsigned integer.
func KeyUint(key []byte, keyBits int) uint64 {
	var v uint64
	for i := 0; i < keyBits; i++ {
		v <<= 1
		if getBit(key, i) {
			v |= 1
		}
	}
	return v
}

// KeyInt32 reads a 32-bit signed key.
func KeyInt32(key []byte) int32 {
	return int32(uint32(KeyUint(key, 32)))
}

// Uint32Key builds a 32-bit key.
func Uint32Key(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
