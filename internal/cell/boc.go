package cell

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math/bits"
)

const (
	bocMagic          = 0xb5ee9c72
	bocMagicIdx       = 0x68ff65f3
	bocMagicIdxCRC32C = 0xacc3a728
)

var (
	ErrBadBOC = errors.New("cell: bad boc")

	castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

// FromBOC parses a bag of cells and returns its roots.
func FromBOC(data []byte) ([]*Cell, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("%w: too short", ErrBadBOC)
	}
	var (
		hasIdx, hasCRC bool
		size           int
	)
	magic := binary.BigEndian.Uint32(data)
	flags := data[4]
	switch magic {
	case bocMagic:
		hasIdx = flags&0x80 != 0
		hasCRC = flags&0x40 != 0
		size = int(flags & 0x07)
	case bocMagicIdx:
		hasIdx, size = true, int(flags)
	case bocMagicIdxCRC32C:
		hasIdx, hasCRC, size = true, true, int(flags)
	default:
		return nil, fmt.Errorf("%w: magic %08x", ErrBadBOC, magic)
	}
	if size < 1 || size > 4 {
		return nil, fmt.Errorf("%w: ref size %d", ErrBadBOC, size)
	}
	if hasCRC {
		if len(data) < 10 {
			return nil, fmt.Errorf("%w: too short", ErrBadBOC)
		}
		body := data[:len(data)-4]
		if crc32.Checksum(body, castagnoli) != binary.LittleEndian.Uint32(data[len(data)-4:]) {
			return nil, fmt.Errorf("%w: crc32c mismatch", ErrBadBOC)
		}
		data = body
	}

	r := &byteReader{data: data, off: 5}
	offBytes := int(r.byte())
	if offBytes < 1 || offBytes > 8 {
		return nil, fmt.Errorf("%w: offset size %d", ErrBadBOC, offBytes)
	}
	cellsNum := r.uint(size)
	rootsNum := r.uint(size)
	_ = r.uint(size) // absent
	totalSize := r.uint(offBytes)
	if r.err != nil {
		return nil, r.err
	}
	if cellsNum == 0 || rootsNum == 0 || rootsNum > cellsNum {
		return nil, fmt.Errorf("%w: %d cells %d roots", ErrBadBOC, cellsNum, rootsNum)
	}
	roots := make([]int, rootsNum)
	for i := range roots {
		roots[i] = r.uint(size)
	}
	if hasIdx {
		r.skip(cellsNum * offBytes)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.left() < totalSize {
		return nil, fmt.Errorf("%w: cell data truncated", ErrBadBOC)
	}

	type raw struct {
		c    *Cell
		refs []int
	}
	cells := make([]raw, cellsNum)
	for i := 0; i < cellsNum; i++ {
		d1 := r.byte()
		d2 := r.byte()
		refsNum := int(d1 & 7)
		special := d1&8 != 0
		withHashes := d1&16 != 0
		levelMask := d1 >> 5
		if refsNum > MaxRefs {
			return nil, fmt.Errorf("%w: cell %d has %d refs", ErrBadBOC, i, refsNum)
		}
		if withHashes {
			r.skip((bits.OnesCount8(levelMask) + 1) * (32 + 2))
		}
		dataLen := int(d2+1) / 2
		payload := r.bytes(dataLen)
		if r.err != nil {
			return nil, r.err
		}
		bitsLen := dataLen * 8
		if d2%2 == 1 {
			last := payload[dataLen-1]
			if last == 0 {
				return nil, fmt.Errorf("%w: cell %d missing completion tag", ErrBadBOC, i)
			}
			tz := bits.TrailingZeros8(last)
			bitsLen -= tz + 1
			payload = append([]byte(nil), payload...)
			payload[dataLen-1] &^= byte(1<<(tz+1) - 1)
		} else {
			payload = append([]byte(nil), payload...)
		}
		refs := make([]int, refsNum)
		for j := range refs {
			idx := r.uint(size)
			if idx <= i || idx >= cellsNum {
				return nil, fmt.Errorf("%w: cell %d bad ref index %d", ErrBadBOC, i, idx)
			}
			refs[j] = idx
		}
		if r.err != nil {
			return nil, r.err
		}
		cells[i] = raw{c: &Cell{data: payload, bitsLen: bitsLen, special: special, levelMask: levelMask}, refs: refs}
	}
	for i := cellsNum - 1; i >= 0; i-- {
		c := cells[i].c
		c.refs = make([]*Cell, len(cells[i].refs))
		for j, idx := range cells[i].refs {
			c.refs[j] = cells[idx].c
		}
	}
	out := make([]*Cell, rootsNum)
	for i, idx := range roots {
		if idx >= cellsNum {
			return nil, fmt.Errorf("%w: root index %d", ErrBadBOC, idx)
		}
		out[i] = cells[idx].c
	}
	return out, nil
}

// FromBOCSingle parses a bag of cells and returns its first root.
func FromBOCSingle(data []byte) (*Cell, error) {
	roots, err := FromBOC(data)
	if err != nil {
		return nil, err
	}
	return roots[0], nil
}

// ToBOC serializes c with a crc32c trailer and no index.
func (c *Cell) ToBOC() []byte {
	return ToBOCMulti(c)
}

// ToBOCMulti serializes several roots into one bag, keeping their order.
func ToBOCMulti(roots ...*Cell) []byte {
	order := topoOrder(roots)
	index := make(map[*Cell]int, len(order))
	for i, x := range order {
		index[x] = i
	}
	size := byteLen(uint64(len(order)))

	var body []byte
	for _, x := range order {
		body = append(body, x.descriptors()...)
		body = append(body, x.paddedData()...)
		for _, r := range x.refs {
			body = appendUint(body, uint64(index[r]), size)
		}
	}
	offBytes := byteLen(uint64(len(body)))

	out := make([]byte, 0, 16+len(roots)*size+len(body))
	out = binary.BigEndian.AppendUint32(out, bocMagic)
	out = append(out, 0x40|byte(size), byte(offBytes))
	out = appendUint(out, uint64(len(order)), size)
	out = appendUint(out, uint64(len(roots)), size)
	out = appendUint(out, 0, size)
	out = appendUint(out, uint64(len(body)), offBytes)
	for _, r := range roots {
		out = appendUint(out, uint64(index[r]), size)
	}
	out = append(out, body...)
	return binary.LittleEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
}

// topoOrder lists cells so that every cell precedes the cells it references.
func topoOrder(roots []*Cell) []*Cell {
	seen := make(map[*Cell]bool)
	var post []*Cell
	var visit func(*Cell)
	visit = func(c *Cell) {
		if seen[c] {
			return
		}
		seen[c] = true
		for _, r := range c.refs {
			visit(r)
		}
		post = append(post, c)
	}
	for _, r := range roots {
		visit(r)
	}
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func byteLen(v uint64) int {
	n := (bits.Len64(v) + 7) / 8
	if n == 0 {
		return 1
	}
	return n
}

func appendUint(b []byte, v uint64, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*uint(i))))
	}
	return b
}

type byteReader struct {
	data []byte
	off  int
	err  error
}

func (r *byteReader) left() int { return len(r.data) - r.off }

func (r *byteReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w: truncated", ErrBadBOC)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *byteReader) skip(n int) { r.bytes(n) }

func (r *byteReader) byte() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *byteReader) uint(n int) int {
	b := r.bytes(n)
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return int(v)
}
