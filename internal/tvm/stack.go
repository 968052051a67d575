// Package tvm converts get-method arguments and results to and from the VmStack cell format.
//
// Values are represented as:
//
//	nil          null
//	*big.Int     int257 (small ints are accepted as int, int64, uint64 on input)
//	*cell.Cell   cell
//	*cell.Slice  slice
//	*cell.Builder builder
//	[]any        tuple
package tvm

import (
	"errors"
	"fmt"
	"math/big"

	"tonlite/internal/address"
	"tonlite/internal/cell"
)

const (
	tagNull    = 0x00
	tagTinyInt = 0x01
	tagInt     = 0x0100 // 15-bit prefix of vm_stk_int#0201_
	tagNaN     = 0x02ff
	tagCell    = 0x03
	tagSlice   = 0x04
	tagBuilder = 0x05
	tagCont    = 0x06
	tagTuple   = 0x07

	maxTupleLen = 255
)

var ErrUnsupported = errors.New("tvm: unsupported stack value")

// Encode serializes values, the last element being the top of the stack.
func Encode(values []any) (*cell.Cell, error) {
	// VmStackList cells carry no depth; only the root does.
	rest := cell.BeginCell().MustEndCell()
	root := cell.BeginCell().StoreUInt(uint64(len(values)), 24)
	for i, v := range values {
		b := cell.BeginCell()
		if i == len(values)-1 {
			b = root
		}
		b.StoreRef(rest)
		if err := storeValue(b, v); err != nil {
			return nil, fmt.Errorf("stack item %d: %w", i, err)
		}
		if i == len(values)-1 {
			break
		}
		c, err := b.EndCell()
		if err != nil {
			return nil, fmt.Errorf("stack item %d: %w", i, err)
		}
		rest = c
	}
	return root.EndCell()
}

// Decode reads a VmStack. The returned slice is ordered bottom to top.
func Decode(root *cell.Cell) ([]any, error) {
	s := root.BeginParse()
	depth := int(s.LoadUInt(24))
	if err := s.Err(); err != nil {
		return nil, err
	}
	out := make([]any, depth)
	for i := depth - 1; i >= 0; i-- {
		next := s.LoadRef()
		v, err := loadValue(s)
		if err != nil {
			return nil, fmt.Errorf("stack item %d: %w", i, err)
		}
		out[i] = v
		if i > 0 {
			if next == nil {
				return nil, fmt.Errorf("stack item %d: %w", i, cell.ErrNoRef)
			}
			s = next.BeginParse()
		}
	}
	return out, nil
}

func storeValue(b *cell.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.StoreUInt(tagNull, 8)
	case int:
		return storeInt(b, big.NewInt(int64(x)))
	case int64:
		return storeInt(b, big.NewInt(x))
	case uint64:
		return storeInt(b, new(big.Int).SetUint64(x))
	case *big.Int:
		return storeInt(b, x)
	case *cell.Cell:
		b.StoreUInt(tagCell, 8).StoreRef(x)
	case *cell.Slice:
		c, err := x.ToCell()
		if err != nil {
			return err
		}
		b.StoreUInt(tagSlice, 8).StoreRef(c)
		b.StoreUInt(0, 10).StoreUInt(uint64(c.BitsSize()), 10)
		b.StoreUInt(0, 3).StoreUInt(uint64(c.RefsNum()), 3)
	case *cell.Builder:
		c, err := x.EndCell()
		if err != nil {
			return err
		}
		b.StoreUInt(tagBuilder, 8).StoreRef(c)
	case address.Address:
		c, err := AddressSlice(x)
		if err != nil {
			return err
		}
		return storeValue(b, c.BeginParse())
	case []any:
		return storeTuple(b, x)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
	return nil
}

func storeInt(b *cell.Builder, v *big.Int) error {
	if v.IsInt64() {
		b.StoreUInt(tagTinyInt, 8).StoreInt(v.Int64(), 64)
		return nil
	}
	b.StoreUInt(tagInt, 15).StoreBigInt(v, 257)
	return nil
}

// storeTuple writes vm_stk_tuple: len then VmTuple len.
func storeTuple(b *cell.Builder, items []any) error {
	if len(items) > maxTupleLen {
		return fmt.Errorf("tvm: tuple of %d items", len(items))
	}
	b.StoreUInt(tagTuple, 8).StoreUInt(uint64(len(items)), 16)
	return storeTupleBody(b, items)
}

// VmTuple n: head (VmTupleRef n-1) then tail ^VmStackValue.
func storeTupleBody(b *cell.Builder, items []any) error {
	n := len(items)
	if n == 0 {
		return nil
	}
	if err := storeTupleRef(b, items[:n-1]); err != nil {
		return err
	}
	tail, err := valueCell(items[n-1])
	if err != nil {
		return err
	}
	b.StoreRef(tail)
	return nil
}

func storeTupleRef(b *cell.Builder, items []any) error {
	switch len(items) {
	case 0:
		return nil
	case 1:
		c, err := valueCell(items[0])
		if err != nil {
			return err
		}
		b.StoreRef(c)
		return nil
	default:
		inner := cell.BeginCell()
		if err := storeTupleBody(inner, items); err != nil {
			return err
		}
		c, err := inner.EndCell()
		if err != nil {
			return err
		}
		b.StoreRef(c)
		return nil
	}
}

func valueCell(v any) (*cell.Cell, error) {
	b := cell.BeginCell()
	if err := storeValue(b, v); err != nil {
		return nil, err
	}
	return b.EndCell()
}

func loadValue(s *cell.Slice) (any, error) {
	tag := s.LoadUInt(8)
	if err := s.Err(); err != nil {
		return nil, err
	}
	switch tag {
	case tagNull:
		return nil, nil
	case tagTinyInt:
		v := s.LoadInt(64)
		return big.NewInt(v), s.Err()
	case 0x02:
		if s.PreloadUInt(8) == 0xff {
			return nil, fmt.Errorf("%w: NaN", ErrUnsupported)
		}
		s.SkipBits(7)
		v := s.LoadBigInt(257)
		return v, s.Err()
	case tagCell:
		c := s.LoadRef()
		return c, s.Err()
	case tagSlice:
		c := s.LoadRef()
		stBits := int(s.LoadUInt(10))
		endBits := int(s.LoadUInt(10))
		stRef := int(s.LoadUInt(3))
		endRef := int(s.LoadUInt(3))
		if err := s.Err(); err != nil {
			return nil, err
		}
		cs := c.BeginParse()
		if err := cs.Restrict(stBits, endBits, stRef, endRef); err != nil {
			return nil, err
		}
		return cs, nil
	case tagBuilder:
		c := s.LoadRef()
		if err := s.Err(); err != nil {
			return nil, err
		}
		return cell.BeginCell().StoreSlice(c.BeginParse()), nil
	case tagTuple:
		n := int(s.LoadUInt(16))
		if err := s.Err(); err != nil {
			return nil, err
		}
		return loadTupleBody(s, n)
	case tagCont:
		return nil, fmt.Errorf("%w: continuation", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: tag %02x", ErrUnsupported, tag)
	}
}

func loadTupleBody(s *cell.Slice, n int) ([]any, error) {
	if n == 0 {
		return []any{}, nil
	}
	head, err := loadTupleRef(s, n-1)
	if err != nil {
		return nil, err
	}
	tail := s.LoadRef()
	if err := s.Err(); err != nil {
		return nil, err
	}
	v, err := loadValue(tail.BeginParse())
	if err != nil {
		return nil, err
	}
	return append(head, v), nil
}

func loadTupleRef(s *cell.Slice, n int) ([]any, error) {
	switch n {
	case 0:
		return []any{}, nil
	case 1:
		c := s.LoadRef()
		if err := s.Err(); err != nil {
			return nil, err
		}
		v, err := loadValue(c.BeginParse())
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	default:
		c := s.LoadRef()
		if err := s.Err(); err != nil {
			return nil, err
		}
		return loadTupleBody(c.BeginParse(), n)
	}
}

// AddressSlice builds the addr_std slice get-methods expect for an address argument.
func AddressSlice(a address.Address) (*cell.Cell, error) {
	return cell.BeginCell().
		StoreUInt(0b100, 3).
		StoreInt(int64(a.Workchain), 8).
		StoreBits(a.Hash[:], 256).
		EndCell()
}

// SliceAddress reads an addr_std from a slice returned by a get-method.
func SliceAddress(s *cell.Slice) (address.Address, error) {
	s = s.Copy()
	if tag := s.LoadUInt(2); tag != 0b10 {
		if s.Err() != nil {
			return address.Address{}, s.Err()
		}
		return address.Address{}, fmt.Errorf("%w: not addr_std", address.ErrBadAddress)
	}
	if s.LoadBit() {
		return address.Address{}, fmt.Errorf("%w: anycast", ErrUnsupported)
	}
	a := address.Address{Workchain: int32(s.LoadInt(8)), Hash: s.LoadHash(), Bounceable: true}
	return a, s.Err()
}
