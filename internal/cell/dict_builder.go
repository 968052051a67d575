package cell

import (
	"fmt"
	"sort"
)

// DictItem is one key/value pair for BuildDict. Value bits and refs are copied into the leaf.
type DictItem struct {
	Key   []byte
	Value *Cell
}

// BuildDict serializes a Hashmap keyBits. Keys must be unique.
func BuildDict(keyBits int, items []DictItem) (*Cell, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cell: empty dictionary")
	}
	sorted := make([]DictItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return KeyUintPrefix(sorted[i].Key, keyBits) < KeyUintPrefix(sorted[j].Key, keyBits)
	})
	return buildNode(sorted, 0, keyBits)
}

// KeyUintPrefix orders keys by their first min(keyBits, 64) bits.
func KeyUintPrefix(key []byte, keyBits int) uint64 {
	if keyBits > 64 {
		keyBits = 64
	}
	return KeyUint(key, keyBits)
}

func buildNode(items []DictItem, pos, m int) (*Cell, error) {
	n := commonPrefix(items, pos, m)
	b := BeginCell()
	// always hml_long: simple and valid for every length
	b.StoreUInt(0b10, 2)
	b.StoreUInt(uint64(n), lenBits(m))
	for i := 0; i < n; i++ {
		b.StoreBit(getBit(items[0].Key, pos+i))
	}
	pos += n
	m -= n
	if m == 0 {
		if len(items) != 1 {
			return nil, fmt.Errorf("cell: duplicate dictionary key")
		}
		b.StoreSlice(items[0].Value.BeginParse())
		return b.EndCell()
	}
	var left, right []DictItem
	for _, it := range items {
		if getBit(it.Key, pos) {
			right = append(right, it)
		} else {
			left = append(left, it)
		}
	}
	l, err := buildNode(left, pos+1, m-1)
	if err != nil {
		return nil, err
	}
	r, err := buildNode(right, pos+1, m-1)
	if err != nil {
		return nil, err
	}
	return b.StoreRef(l).StoreRef(r).EndCell()
}

func commonPrefix(items []DictItem, pos, m int) int {
	n := 0
	for n < m {
		bit := getBit(items[0].Key, pos+n)
		for _, it := range items[1:] {
			if getBit(it.Key, pos+n) != bit {
				return n
			}
		}
		n++
	}
	return n
}
