package block

import (
	"fmt"

	"tonlite/internal/cell"
	"tonlite/internal/tl"
)

// ParseShardHashes decodes getAllShardsInfo data into the shard heads of every workchain.
func ParseShardHashes(data []byte) ([]tl.BlockIDExt, error) {
	root, err := cell.FromBOCSingle(data)
	if err != nil {
		return nil, err
	}
	s := root.BeginParse()
	dict := s.LoadDictE()
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("shard hashes: %w", err)
	}
	return shardsFromDict(dict)
}

func shardsFromDict(dict *cell.Cell) ([]tl.BlockIDExt, error) {
	var out []tl.BlockIDExt
	err := cell.WalkDict(dict, 32, func(key []byte, v *cell.Slice) error {
		wc := cell.KeyInt32(key)
		tree := v.LoadRef()
		if err := v.Err(); err != nil {
			return err
		}
		return walkBinTree(tree, func(leaf *cell.Slice) error {
			id, err := parseShardDescr(wc, leaf)
			if err != nil {
				return err
			}
			out = append(out, id)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("shard hashes: %w", err)
	}
	return out, nil
}

// bt_leaf$0 leaf:X / bt_fork$1 left:^(BinTree X) right:^(BinTree X)
func walkBinTree(c *cell.Cell, fn func(*cell.Slice) error) error {
	if c.IsSpecial() {
		return nil
	}
	s := c.BeginParse()
	if !s.LoadBit() {
		if err := s.Err(); err != nil {
			return err
		}
		return fn(s)
	}
	left, right := s.LoadRef(), s.LoadRef()
	if err := s.Err(); err != nil {
		return err
	}
	if err := walkBinTree(left, fn); err != nil {
		return err
	}
	return walkBinTree(right, fn)
}

func parseShardDescr(wc int32, s *cell.Slice) (tl.BlockIDExt, error) {
	switch tag := s.LoadUInt(4); tag {
	case 0xa, 0xb:
	default:
		if err := s.Err(); err != nil {
			return tl.BlockIDExt{}, err
		}
		return tl.BlockIDExt{}, fmt.Errorf("%w: shard_descr %x", ErrBadTag, tag)
	}
	id := tl.BlockIDExt{Workchain: wc, Seqno: int32(s.LoadUInt(32))}
	s.SkipBits(32 + 64 + 64) // reg_mc_seqno, start_lt, end_lt
	id.RootHash = s.LoadHash()
	id.FileHash = s.LoadHash()
	s.SkipBits(5 + 3 + 32) // split/merge flags, flags, next_catchain_seqno
	id.Shard = int64(s.LoadUInt(64))
	return id, s.Err()
}
