package block_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tonlite/internal/block"
	"tonlite/internal/block/blocktest"
	"tonlite/internal/cell"
	"tonlite/internal/tl"
)

func TestParseHeaderProof(t *testing.T) {
	root := blocktest.Header(blocktest.Info{
		GlobalID:  -239,
		Workchain: -1,
		Shard:     1 << 63,
		SeqNo:     41_000_000,
		GenUtime:  1_700_000_123,
		StartLT:   100,
		EndLT:     200,
		KeyBlock:  true,
	})
	info, err := block.ParseHeaderProof(root.ToBOC())
	require.NoError(t, err)
	assert.Equal(t, int32(-239), info.GlobalID)
	assert.Equal(t, int32(-1), info.Workchain)
	assert.Equal(t, uint64(1<<63), info.ShardPrefix)
	assert.Equal(t, uint32(41_000_000), info.SeqNo)
	assert.Equal(t, uint32(1_700_000_123), info.GenUtime)
	assert.Equal(t, uint64(100), info.StartLT)
	assert.Equal(t, uint64(200), info.EndLT)
	assert.True(t, info.KeyBlock)
	assert.False(t, info.NotMaster)
}

func TestParseHeaderProofBadTag(t *testing.T) {
	c := cell.BeginCell().StoreUInt(0xdeadbeef, 32).MustEndCell()
	_, err := block.ParseHeaderProof(c.ToBOC())
	assert.ErrorIs(t, err, block.ErrBadTag)
}

func TestParseTransactions(t *testing.T) {
	var acc [32]byte
	acc[0] = 0x42
	chain := blocktest.TransactionChain(acc, 1000, 10, 3)

	txs, err := block.ParseTransactions(blocktest.BOC(chain...))
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, uint64(1020), txs[0].LT)
	assert.Equal(t, uint64(1000), txs[2].LT)
	for i := 0; i < 2; i++ {
		assert.Equal(t, txs[i+1].Hash, txs[i].PrevTxHash)
		assert.Equal(t, txs[i+1].LT, txs[i].PrevTxLT)
		assert.Equal(t, acc, txs[i].Account)
	}
	assert.Equal(t, chain[0].Hash(), txs[0].Hash)

	txs, err = block.ParseTransactions(nil)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestParseTransactionRejectsOtherCells(t *testing.T) {
	_, err := block.ParseTransaction(cell.BeginCell().StoreUInt(0b0110, 4).MustEndCell())
	assert.ErrorIs(t, err, block.ErrBadTag)

	_, err = block.ParseTransaction(cell.BeginCell().StoreUInt(0b0111, 4).MustEndCell())
	assert.ErrorIs(t, err, cell.ErrUnderflow)
}

func TestParseShardHashes(t *testing.T) {
	left := tl.BlockIDExt{Workchain: 0, Shard: 0x4000000000000000, Seqno: 501}
	left.RootHash[0] = 1
	right := tl.BlockIDExt{Workchain: 0, Shard: -0x4000000000000000, Seqno: 502}
	right.FileHash[31] = 2

	data := blocktest.ShardsInfo(map[int32][]tl.BlockIDExt{0: {left, right}}).ToBOC()
	ids, err := block.ParseShardHashes(data)
	require.NoError(t, err)
	assert.Equal(t, []tl.BlockIDExt{left, right}, ids)
}

func TestParseShardHashesEmpty(t *testing.T) {
	data := cell.BeginCell().StoreBit(false).MustEndCell().ToBOC()
	ids, err := block.ParseShardHashes(data)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestParseConfigProof(t *testing.T) {
	p0 := cell.BeginCell().StoreUInt(0x5555, 16).MustEndCell()
	p34 := cell.BeginCell().StoreUInt(7, 8).MustEndCell()
	extra := blocktest.McStateExtra(nil, map[int32]*cell.Cell{0: p0, 34: p34})
	state := blocktest.ShardState(-1, 10, nil, extra)

	params, err := block.ParseConfigProof(state.ToBOC())
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.Equal(t, p0.Hash(), params[0].Hash())
	assert.Equal(t, p34.Hash(), params[34].Hash())
}

func TestParseConfigProofWithoutExtra(t *testing.T) {
	state := blocktest.ShardState(0, 10, nil, nil)
	_, err := block.ParseConfigProof(state.ToBOC())
	assert.Error(t, err)
}

func accountFixture(t *testing.T, acc *cell.Cell, id [32]byte) *tl.AccountState {
	t.Helper()
	var other [32]byte
	other[0] = 0xff
	var lastHash [32]byte
	lastHash[5] = 9
	accounts := blocktest.Accounts(map[[32]byte]blocktest.ShardAccount{
		id:    {Balance: big.NewInt(1_500_000_000), Account: acc, LastHash: lastHash, LastLT: 777},
		other: {Balance: big.NewInt(1), Account: blocktest.ActiveAccount(1), LastLT: 1},
	})
	header := blocktest.Header(blocktest.Info{Workchain: 0, SeqNo: 3})
	state := blocktest.ShardState(0, 3, accounts, nil)
	return &tl.AccountState{
		ID:    tl.BlockIDExt{Workchain: -1, Seqno: 100},
		State: acc.ToBOC(),
		Proof: blocktest.BOC(header, state),
	}
}

func TestParseAccountState(t *testing.T) {
	var id [32]byte
	id[31] = 1
	acc := blocktest.ActiveAccount(12345)

	st, err := block.ParseAccountState(accountFixture(t, acc, id), id)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, int64(1_500_000_000), st.Balance.Int64())
	assert.Equal(t, uint64(777), st.LastTxLT)
	assert.Equal(t, byte(9), st.LastTxHash[5])
	assert.Equal(t, int32(100), st.Block.Seqno)
	assert.Equal(t, acc.Hash(), st.Raw.Hash())
}

func TestParseAccountStateNone(t *testing.T) {
	var id [32]byte
	res := &tl.AccountState{State: blocktest.NoAccount().ToBOC()}
	st, err := block.ParseAccountState(res, id)
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Zero(t, st.Balance.Sign())

	st, err = block.ParseAccountState(&tl.AccountState{}, id)
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Nil(t, st.Raw)
}

func TestParseAccountStateMismatch(t *testing.T) {
	var id [32]byte
	id[31] = 1
	res := accountFixture(t, blocktest.ActiveAccount(1), id)
	res.State = blocktest.ActiveAccount(2).ToBOC()
	_, err := block.ParseAccountState(res, id)
	assert.Error(t, err)
}

func TestFindShardAccountMissing(t *testing.T) {
	var id, missing [32]byte
	id[31] = 1
	missing[31] = 2
	res := accountFixture(t, blocktest.ActiveAccount(1), id)
	_, err := block.FindShardAccount(res.Proof, missing)
	assert.ErrorIs(t, err, cell.ErrKeyNotFound)
}
