// Package block decodes the parts of blocks, states and transactions the client reads.
// Proofs are unwrapped but not verified.
package block

import (
	"errors"
	"fmt"

	"tonlite/internal/cell"
)

const (
	tagBlock      = 0x11ef55aa
	tagBlockInfo  = 0x9bc7a987
	tagShardState = 0x9023afe2
	tagMcExtra    = 0xcc26
)

var ErrBadTag = errors.New("block: unexpected tag")

// unwrapProof returns the proven cell of a Merkle proof, or c itself for a plain cell.
func unwrapProof(c *cell.Cell) (*cell.Cell, error) {
	if c.IsSpecial() && c.Type() == cell.TypeMerkleProof {
		return c.Ref(0)
	}
	return c, nil
}

type BlockInfo struct {
	GlobalID          int32
	Version           uint32
	NotMaster         bool
	AfterMerge        bool
	BeforeSplit       bool
	AfterSplit        bool
	WantSplit         bool
	WantMerge         bool
	KeyBlock          bool
	SeqNo             uint32
	VertSeqNo         uint32
	Workchain         int32
	ShardPrefix       uint64
	GenUtime          uint32
	StartLT           uint64
	EndLT             uint64
	GenCatchainSeqno  uint32
	MinRefMcSeqno     uint32
	PrevKeyBlockSeqno uint32
}

// ParseHeaderProof reads BlockInfo from a block header proof BoC.
func ParseHeaderProof(boc []byte) (*BlockInfo, error) {
	root, err := cell.FromBOCSingle(boc)
	if err != nil {
		return nil, err
	}
	blk, err := unwrapProof(root)
	if err != nil {
		return nil, err
	}
	s := blk.BeginParse()
	if tag := s.LoadUInt(32); tag != tagBlock {
		return nil, fmt.Errorf("%w: block %08x", ErrBadTag, tag)
	}
	globalID := int32(s.LoadInt(32))
	infoCell := s.LoadRef()
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("block: %w", err)
	}
	info, err := parseBlockInfo(infoCell.BeginParse())
	if err != nil {
		return nil, err
	}
	info.GlobalID = globalID
	return info, nil
}

func parseBlockInfo(s *cell.Slice) (*BlockInfo, error) {
	if tag := s.LoadUInt(32); tag != tagBlockInfo {
		return nil, fmt.Errorf("%w: block_info %08x", ErrBadTag, tag)
	}
	info := &BlockInfo{Version: uint32(s.LoadUInt(32))}
	info.NotMaster = s.LoadBit()
	info.AfterMerge = s.LoadBit()
	info.BeforeSplit = s.LoadBit()
	info.AfterSplit = s.LoadBit()
	info.WantSplit = s.LoadBit()
	info.WantMerge = s.LoadBit()
	info.KeyBlock = s.LoadBit()
	s.SkipBits(1 + 8) // vert_seqno_incr, flags
	info.SeqNo = uint32(s.LoadUInt(32))
	info.VertSeqNo = uint32(s.LoadUInt(32))
	info.Workchain, info.ShardPrefix = loadShardIdent(s)
	info.GenUtime = uint32(s.LoadUInt(32))
	info.StartLT = s.LoadUInt(64)
	info.EndLT = s.LoadUInt(64)
	s.SkipBits(32) // gen_validator_list_hash_short
	info.GenCatchainSeqno = uint32(s.LoadUInt(32))
	info.MinRefMcSeqno = uint32(s.LoadUInt(32))
	info.PrevKeyBlockSeqno = uint32(s.LoadUInt(32))
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("block_info: %w", err)
	}
	return info, nil
}

// shard_ident$00 shard_pfx_bits:(#<= 60) workchain_id:int32 shard_prefix:uint64
func loadShardIdent(s *cell.Slice) (int32, uint64) {
	s.SkipBits(2 + 6)
	wc := int32(s.LoadInt(32))
	return wc, s.LoadUInt(64)
}
