// Package cell implements TON cells: bag-of-cells (de)serialization, a bit builder and reader,
// representation hashes and dictionary traversal.
package cell

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	sha256 "github.com/minio/sha256-simd"
)

const (
	MaxBits = 1023
	MaxRefs = 4
)

// Exotic cell types, taken from the first data byte of a special cell.
type Type uint8

const (
	TypeOrdinary     Type = 0
	TypePrunedBranch Type = 1
	TypeLibrary      Type = 2
	TypeMerkleProof  Type = 3
	TypeMerkleUpdate Type = 4
)

var (
	ErrCellOverflow = errors.New("cell: overflow")
	ErrUnderflow    = errors.New("cell: not enough data")
	ErrNoRef        = errors.New("cell: no such ref")
)

// Cell is an immutable node of up to 1023 bits and 4 references.
type Cell struct {
	data      []byte
	bitsLen   int
	refs      []*Cell
	special   bool
	levelMask uint8

	hashOnce sync.Once
	hash     [32]byte
	depth    uint16
}

func (c *Cell) BitsSize() int { return c.bitsLen }
func (c *Cell) RefsNum() int  { return len(c.refs) }
func (c *Cell) IsSpecial() bool {
	return c.special
}

// Data returns the data bits left-aligned, ceil(BitsSize/8) bytes.
func (c *Cell) Data() []byte {
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

func (c *Cell) Type() Type {
	if !c.special || len(c.data) == 0 {
		return TypeOrdinary
	}
	return Type(c.data[0])
}

func (c *Cell) Ref(i int) (*Cell, error) {
	if i < 0 || i >= len(c.refs) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoRef, i, len(c.refs))
	}
	return c.refs[i], nil
}

func (c *Cell) BeginParse() *Slice {
	return &Slice{data: c.data, bitsLen: c.bitsLen, refs: c.refs}
}

// Hash is the representation hash of the cell. It is exact for level-0 cells,
// which covers every cell that is not a pruned branch or above one.
func (c *Cell) Hash() [32]byte {
	c.computeHash()
	return c.hash
}

func (c *Cell) HashHex() string {
	h := c.Hash()
	return hex.EncodeToString(h[:])
}

func (c *Cell) Depth() uint16 {
	c.computeHash()
	return c.depth
}

func (c *Cell) computeHash() {
	c.hashOnce.Do(func() {
		h := sha256.New()
		h.Write(c.descriptors())
		h.Write(c.paddedData())
		var depth uint16
		var buf [2]byte
		for _, r := range c.refs {
			d := r.Depth()
			binary.BigEndian.PutUint16(buf[:], d)
			h.Write(buf[:])
			if d+1 > depth {
				depth = d + 1
			}
		}
		for _, r := range c.refs {
			rh := r.Hash()
			h.Write(rh[:])
		}
		h.Sum(c.hash[:0])
		c.depth = depth
	})
}

func (c *Cell) descriptors() []byte {
	d1 := byte(len(c.refs)) | c.levelMask<<5
	if c.special {
		d1 |= 8
	}
	d2 := byte(c.bitsLen/8) + byte((c.bitsLen+7)/8)
	return []byte{d1, d2}
}

// paddedData appends the completion tag when the bit length is not byte aligned.
func (c *Cell) paddedData() []byte {
	n := (c.bitsLen + 7) / 8
	out := make([]byte, n)
	copy(out, c.data)
	if rem := c.bitsLen % 8; rem != 0 {
		out[n-1] &= ^byte(0xff >> rem)
		out[n-1] |= 1 << (7 - rem)
	}
	return out
}

func (c *Cell) String() string {
	return fmt.Sprintf("cell{%d bits, %d refs, %s}", c.bitsLen, len(c.refs), hex.EncodeToString(c.data))
}
