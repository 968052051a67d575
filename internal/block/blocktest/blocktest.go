// Package blocktest builds small, well-formed state and block cells for tests.
// The cells carry the fields the block package reads and zeros elsewhere.
package blocktest

import (
	"math/big"

	"tonlite/internal/cell"
	"tonlite/internal/tl"
)

// Info is the subset of BlockInfo written by Header.
type Info struct {
	GlobalID  int32
	Workchain int32
	Shard     uint64
	SeqNo     uint32
	GenUtime  uint32
	StartLT   uint64
	EndLT     uint64
	KeyBlock  bool
}

// Header returns a block root whose first ref is a block_info cell.
func Header(in Info) *cell.Cell {
	info := cell.BeginCell().
		StoreUInt(0x9bc7a987, 32).
		StoreUInt(0, 32).             // version
		StoreBit(in.Workchain != -1). // not_master
		StoreUInt(0, 5).              // after_merge..want_merge
		StoreBit(in.KeyBlock).        // key_block
		StoreUInt(0, 1+8).            // vert_seqno_incr, flags
		StoreUInt(uint64(in.SeqNo), 32).
		StoreUInt(0, 32). // vert_seq_no
		StoreUInt(0, 2).StoreUInt(0, 6).StoreInt(int64(in.Workchain), 32).StoreUInt(in.Shard, 64).
		StoreUInt(uint64(in.GenUtime), 32).
		StoreUInt(in.StartLT, 64).
		StoreUInt(in.EndLT, 64).
		StoreBits(make([]byte, 16), 32*4).
		MustEndCell()
	empty := cell.BeginCell().MustEndCell()
	return cell.BeginCell().
		StoreUInt(0x11ef55aa, 32).
		StoreInt(int64(in.GlobalID), 32).
		StoreRef(info).StoreRef(empty).StoreRef(empty).StoreRef(empty).
		MustEndCell()
}

// Transaction builds a transaction head for account at lt pointing to the previous one.
func Transaction(account [32]byte, lt uint64, prevHash [32]byte, prevLT uint64, now uint32) *cell.Cell {
	return cell.BeginCell().
		StoreUInt(0b0111, 4).
		StoreBits(account[:], 256).
		StoreUInt(lt, 64).
		StoreBits(prevHash[:], 256).
		StoreUInt(prevLT, 64).
		StoreUInt(uint64(now), 32).
		StoreUInt(0, 15).
		MustEndCell()
}

// TransactionChain builds n linked transactions, newest first, the oldest at firstLT.
func TransactionChain(account [32]byte, firstLT, step uint64, n int) []*cell.Cell {
	chain := make([]*cell.Cell, n)
	var prevHash [32]byte
	var prevLT uint64
	for i := 0; i < n; i++ {
		lt := firstLT + uint64(i)*step
		c := Transaction(account, lt, prevHash, prevLT, uint32(1_700_000_000+i))
		chain[n-1-i] = c
		prevHash, prevLT = c.Hash(), lt
	}
	return chain
}

// BOC serializes several roots into one bag.
func BOC(roots ...*cell.Cell) []byte {
	if len(roots) == 0 {
		return nil
	}
	if len(roots) == 1 {
		return roots[0].ToBOC()
	}
	return cell.ToBOCMulti(roots...)
}

// ShardAccount is one entry of the accounts dictionary.
type ShardAccount struct {
	Balance  *big.Int
	Account  *cell.Cell
	LastHash [32]byte
	LastLT   uint64
}

// ActiveAccount returns an account cell that reads as account$1 with some payload.
func ActiveAccount(payload uint64) *cell.Cell {
	return cell.BeginCell().StoreBit(true).StoreUInt(payload, 64).MustEndCell()
}

// NoAccount is account_none$0.
func NoAccount() *cell.Cell {
	return cell.BeginCell().StoreBit(false).MustEndCell()
}

func depthBalance(b *cell.Builder, balance *big.Int) {
	if balance == nil {
		balance = new(big.Int)
	}
	b.StoreUInt(0, 5).StoreCoins(balance).StoreBit(false)
}

// Accounts builds ShardAccounts. Fork nodes carry no aggregated extra.
func Accounts(accounts map[[32]byte]ShardAccount) *cell.Cell {
	b := cell.BeginCell()
	if len(accounts) == 0 {
		b.StoreBit(false)
	} else {
		items := make([]cell.DictItem, 0, len(accounts))
		for id, sa := range accounts {
			v := cell.BeginCell()
			depthBalance(v, sa.Balance)
			v.StoreRef(sa.Account).StoreBits(sa.LastHash[:], 256).StoreUInt(sa.LastLT, 64)
			key := id
			items = append(items, cell.DictItem{Key: key[:], Value: v.MustEndCell()})
		}
		root, err := cell.BuildDict(256, items)
		if err != nil {
			panic(err)
		}
		b.StoreBit(true).StoreRef(root)
	}
	depthBalance(b, nil)
	return b.MustEndCell()
}

// ShardState builds shard_state#9023afe2 with the given accounts and optional masterchain extra.
func ShardState(workchain int32, seqno uint32, accounts, custom *cell.Cell) *cell.Cell {
	empty := cell.BeginCell().MustEndCell()
	if accounts == nil {
		accounts = Accounts(nil)
	}
	return cell.BeginCell().
		StoreUInt(0x9023afe2, 32).
		StoreInt(-239, 32).
		StoreUInt(0, 2).StoreUInt(0, 6).StoreInt(int64(workchain), 32).StoreUInt(1<<63, 64).
		StoreUInt(uint64(seqno), 32).
		StoreBits(make([]byte, 20), 32+32+64+32). // vert_seq_no, gen_utime, gen_lt, min_ref_mc_seqno
		StoreBit(false).                          // before_split
		StoreRef(empty).
		StoreRef(accounts).
		StoreRef(empty).
		StoreMaybeRef(custom).
		MustEndCell()
}

// McStateExtra builds masterchain_state_extra with shard hashes and config params.
func McStateExtra(shardHashes *cell.Cell, params map[int32]*cell.Cell) *cell.Cell {
	items := make([]cell.DictItem, 0, len(params))
	for id, p := range params {
		items = append(items, cell.DictItem{
			Key:   cell.Uint32Key(uint32(id)),
			Value: cell.BeginCell().StoreRef(p).MustEndCell(),
		})
	}
	dict, err := cell.BuildDict(32, items)
	if err != nil {
		panic(err)
	}
	var addr [32]byte
	empty := cell.BeginCell().MustEndCell()
	return cell.BeginCell().
		StoreUInt(0xcc26, 16).
		StoreMaybeRef(shardHashes).
		StoreBits(addr[:], 256).
		StoreRef(dict).
		StoreRef(empty).
		StoreCoins(big.NewInt(0)).StoreBit(false).
		MustEndCell()
}

// ShardHashes builds the ShardHashes dictionary root from per-workchain shard heads.
func ShardHashes(shards map[int32][]tl.BlockIDExt) *cell.Cell {
	items := make([]cell.DictItem, 0, len(shards))
	for wc, ids := range shards {
		items = append(items, cell.DictItem{
			Key:   cell.Uint32Key(uint32(wc)),
			Value: cell.BeginCell().StoreRef(binTree(ids)).MustEndCell(),
		})
	}
	root, err := cell.BuildDict(32, items)
	if err != nil {
		panic(err)
	}
	return root
}

// ShardsInfo wraps ShardHashes the way getAllShardsInfo returns them.
func ShardsInfo(shards map[int32][]tl.BlockIDExt) *cell.Cell {
	return cell.BeginCell().StoreMaybeRef(ShardHashes(shards)).MustEndCell()
}

func binTree(ids []tl.BlockIDExt) *cell.Cell {
	if len(ids) == 1 {
		b := cell.BeginCell().StoreBit(false)
		shardDescr(b, ids[0])
		return b.MustEndCell()
	}
	mid := len(ids) / 2
	return cell.BeginCell().StoreBit(true).
		StoreRef(binTree(ids[:mid])).
		StoreRef(binTree(ids[mid:])).
		MustEndCell()
}

func shardDescr(b *cell.Builder, id tl.BlockIDExt) {
	b.StoreUInt(0xb, 4).
		StoreUInt(uint64(uint32(id.Seqno)), 32).
		StoreBits(make([]byte, 20), 32+64+64).
		StoreBits(id.RootHash[:], 256).
		StoreBits(id.FileHash[:], 256).
		StoreUInt(0, 5+3+32).
		StoreUInt(uint64(id.Shard), 64)
}
