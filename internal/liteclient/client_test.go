package liteclient

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tonlite/internal/adnl/adnltest"
	"tonlite/internal/block"
	"tonlite/internal/block/blocktest"
	"tonlite/internal/config"
	"tonlite/internal/liteerr"
	"tonlite/internal/tl"
)

// history is an account history of n transactions with lt 10, 20, ... n*10, newest first.
func history(n int) []*block.Transaction {
	txs := make([]*block.Transaction, n)
	for i := range txs {
		lt := uint64(n-i) * 10
		tx := &block.Transaction{Account: testAccount.Hash, LT: lt, Hash: [32]byte{byte(lt)}}
		if lt > 10 {
			tx.PrevTxLT, tx.PrevTxHash = lt-10, [32]byte{byte(lt - 10)}
		}
		txs[i] = tx
	}
	return txs
}

// pager serves pages of history and counts the calls.
func pager(txs []*block.Transaction, calls *int) txPage {
	return func(_ context.Context, lt uint64, _ [32]byte, count int) ([]*block.Transaction, error) {
		*calls++
		for i, tx := range txs {
			if tx.LT == lt {
				return txs[i:min(i+count, len(txs))], nil
			}
		}
		return nil, nil
	}
}

func lts(txs []*block.Transaction) []uint64 {
	out := make([]uint64, len(txs))
	for i, tx := range txs {
		out[i] = tx.LT
	}
	return out
}

func TestCollectTransactions(t *testing.T) {
	txs := history(40)
	st := &block.AccountState{Exists: true, LastTxLT: txs[0].LT, LastTxHash: txs[0].Hash}
	ctx := context.Background()

	t.Run("limit spans pages", func(t *testing.T) {
		var calls int
		out, err := collectTransactions(ctx, st, pager(txs, &calls), 20, 0, 0)
		require.NoError(t, err)
		require.Len(t, out, 20)
		assert.Equal(t, uint64(400), out[0].LT)
		assert.Equal(t, uint64(210), out[19].LT)
		assert.Equal(t, 2, calls)
	})

	t.Run("whole history", func(t *testing.T) {
		var calls int
		out, err := collectTransactions(ctx, st, pager(txs, &calls), 100, 0, 0)
		require.NoError(t, err)
		assert.Len(t, out, 40)
		assert.Equal(t, uint64(10), out[39].LT)
		assert.Equal(t, 3, calls)
	})

	t.Run("window", func(t *testing.T) {
		var calls int
		out, err := collectTransactions(ctx, st, pager(txs, &calls), 100, 350, 300)
		require.NoError(t, err)
		assert.Equal(t, []uint64{350, 340, 330, 320, 310}, lts(out))
	})

	t.Run("invalid limit", func(t *testing.T) {
		var calls int
		_, err := collectTransactions(ctx, st, pager(txs, &calls), 0, 0, 0)
		require.ErrorIs(t, err, liteerr.ErrInvalidArgument)
		assert.Zero(t, calls)
	})

	t.Run("no history", func(t *testing.T) {
		var calls int
		out, err := collectTransactions(ctx, &block.AccountState{}, pager(txs, &calls), 10, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Zero(t, calls)
	})
}

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork("Testnet")
	require.NoError(t, err)
	assert.Equal(t, Testnet, n)
	assert.Equal(t, "mainnet", Mainnet.String())
	_, err = ParseNetwork("devnet")
	require.ErrorIs(t, err, liteerr.ErrInvalidArgument)
}

func TestBlockHeaderCache(t *testing.T) {
	defer leaktest.Check(t)()
	id := tl.BlockIDExt{Workchain: -1, Shard: -1 << 63, Seqno: 42}
	srv, node := startNode(t, 42, adnltest.Mux{
		tl.IDGetBlockHeader: func(req adnltest.Request) (tl.Marshaler, error) {
			q := req.Query.(*tl.GetBlockHeader)
			root := blocktest.Header(blocktest.Info{Workchain: -1, SeqNo: uint32(q.ID.Seqno), StartLT: 100, EndLT: 200})
			return &tl.BlockHeader{ID: q.ID, HeaderProof: blocktest.BOC(root)}, nil
		},
	})
	defer srv.Close()

	c, err := NewClient(node, Options{})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	for range 2 {
		h, err := c.GetBlockHeader(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, uint32(42), h.SeqNo)
		assert.Equal(t, uint64(200), h.EndLT)
	}
	assert.Equal(t, 1, srv.Calls(tl.IDGetBlockHeader))
}

func testConfig() *config.GlobalConfig {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	return &config.GlobalConfig{Liteservers: []config.LiteServer{
		{IP: 2130706433, Port: 1, ID: config.ServerID{Key: key}},
		{IP: 2130706433, Port: 2, ID: config.ServerID{Key: key}},
	}}
}

func TestNewFromConfig(t *testing.T) {
	cfg := testConfig()
	_, err := NewFromConfig(cfg, 2, ConfigOptions{})
	require.ErrorIs(t, err, liteerr.ErrInvalidArgument)

	c, err := NewFromConfig(cfg, 1, ConfigOptions{Client: Options{Network: Testnet}, RPSLimit: 10})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2", c.Addr())
	assert.Equal(t, Testnet, c.Network())
	require.NotNil(t, c.Provider().Limiter())
	assert.Equal(t, 10, c.Provider().Limiter().Capacity())
}

func TestNewBalancerFromConfig(t *testing.T) {
	cfg := testConfig()

	b, err := NewBalancerFromConfig(cfg, ConfigOptions{Balancer: BalancerOptions{Network: Testnet, Clock: clock.NewMock()}, RPSLimit: 5})
	require.NoError(t, err)
	clients := b.Clients()
	require.Len(t, clients, 2)
	assert.Equal(t, Testnet, clients[1].Network())
	assert.Same(t, clients[0].Provider().Limiter(), clients[1].Provider().Limiter())

	b, err = NewBalancerFromConfig(cfg, ConfigOptions{RPSLimit: 5, PerClientLimit: true})
	require.NoError(t, err)
	clients = b.Clients()
	assert.NotSame(t, clients[0].Provider().Limiter(), clients[1].Provider().Limiter())

	b, err = NewBalancerFromConfig(cfg, ConfigOptions{})
	require.NoError(t, err)
	assert.Nil(t, b.Clients()[0].Provider().Limiter())
	_, err = b.GetTime(context.Background())
	require.ErrorIs(t, err, liteerr.ErrNotConnected)
}

