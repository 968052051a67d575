package liteclient

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"tonlite/internal/adnl/adnltest"
	"tonlite/internal/address"
	"tonlite/internal/liteerr"
	"tonlite/internal/provider"
	"tonlite/internal/retry"
	"tonlite/internal/tl"
)

var testAccount = address.Address{Hash: [32]byte{7}}

// startNode runs a fake lite-server whose masterchain head stays at seqno.
func startNode(t *testing.T, seqno int32, mux adnltest.Mux) (*adnltest.Server, provider.Node) {
	t.Helper()
	if mux == nil {
		mux = adnltest.Mux{}
	}
	mux[tl.IDGetMasterchainInfo] = func(req adnltest.Request) (tl.Marshaler, error) {
		if req.Wait != nil {
			time.Sleep(min(time.Duration(req.Wait.TimeoutMs)*time.Millisecond, 100*time.Millisecond))
			return nil, &liteerr.ServerError{Code: liteerr.CodeTimeout, Message: "timeout"}
		}
		return &tl.MasterchainInfo{Last: tl.BlockIDExt{Workchain: -1, Shard: -1 << 63, Seqno: seqno}}, nil
	}
	srv := adnltest.NewServer(t, mux.Serve)
	return srv, nodeOf(t, srv.Addr(), srv)
}

func nodeOf(t *testing.T, addr string, srv *adnltest.Server) provider.Node {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	node := provider.Node{Host: host, Port: n}
	if srv != nil {
		node.PublicKey = srv.PublicKey()
	}
	return node
}

func newTestBalancer(t *testing.T, clk clock.Clock, opts BalancerOptions, nodes ...provider.Node) *Balancer {
	t.Helper()
	clients := make([]*Client, 0, len(nodes))
	for _, n := range nodes {
		c, err := NewClient(n, Options{Provider: provider.Options{Retry: retry.NewPolicy()}})
		require.NoError(t, err)
		clients = append(clients, c)
	}
	opts.Clock = clk
	b, err := NewBalancer(clients, opts)
	require.NoError(t, err)
	return b
}

func connectBalancer(t *testing.T, b *Balancer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx))
}

func waitHeights(t *testing.T, b *Balancer) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, h := range b.Health() {
			if h.Seqno == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestChooseByHeight(t *testing.T) {
	cands := []candidate{
		{index: 0, hasHeight: true, seqno: 10},
		{index: 1, hasHeight: true, seqno: 12, hasPing: true, rtt: 50 * time.Millisecond, age: time.Second},
		{index: 2, hasHeight: true, seqno: 12, hasPing: true, rtt: 30 * time.Millisecond, age: time.Second},
	}
	i, ok := chooseByHeight(cands)
	require.True(t, ok)
	assert.Equal(t, 2, i)

	// Equal scores keep registration order.
	tied := []candidate{
		{index: 3, hasHeight: true, seqno: 5, hasPing: true, rtt: time.Millisecond, age: time.Second},
		{index: 4, hasHeight: true, seqno: 5, hasPing: true, rtt: time.Millisecond, age: time.Second},
	}
	i, ok = chooseByHeight(tied)
	require.True(t, ok)
	assert.Equal(t, 3, i)

	// Without pings the first member at the top height wins.
	i, ok = chooseByHeight([]candidate{{index: 0, hasHeight: true, seqno: 1}, {index: 1, hasHeight: true, seqno: 2}, {index: 2, hasHeight: true, seqno: 2}})
	require.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = chooseByHeight([]candidate{{index: 0}, {index: 1}})
	assert.False(t, ok)
}

func TestBackoff(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBalancer(t, mock, BalancerOptions{}, provider.Node{Host: "127.0.0.1", Port: 1}, provider.Node{Host: "127.0.0.1", Port: 2})
	m := b.members[0]
	rateLimited := &liteerr.ServerError{Code: liteerr.CodeRateLimit, Message: "ratelimit"}

	b.markError(m, rateLimited)
	assert.Equal(t, mock.Now().Add(time.Second), m.retryAfter)
	b.markError(m, rateLimited)
	assert.Equal(t, mock.Now().Add(2*time.Second), m.retryAfter)
	for i := 0; i < 10; i++ {
		b.markError(m, rateLimited)
	}
	assert.Equal(t, mock.Now().Add(DefaultMaxBackoff), m.retryAfter)
	assert.Equal(t, 12, m.errorCount)

	b.markSuccess(m)
	assert.Zero(t, m.errorCount)
	assert.True(t, m.retryAfter.IsZero())

	generic := b.members[1]
	b.markError(generic, &liteerr.TransportError{Op: "read", Err: net.ErrClosed})
	assert.Equal(t, mock.Now().Add(DefaultErrorBackoff), generic.retryAfter)
}

func TestNewBalancerRejects(t *testing.T) {
	_, err := NewBalancer(nil, BalancerOptions{})
	var be *liteerr.BalancerError
	require.ErrorAs(t, err, &be)

	c, err := NewClient(provider.Node{Host: "127.0.0.1", Port: 1}, Options{Network: Testnet})
	require.NoError(t, err)
	_, err = NewBalancer([]*Client{c, nil}, BalancerOptions{})
	require.ErrorAs(t, err, &be)

	b, err := NewBalancer([]*Client{c}, BalancerOptions{Network: Testnet})
	require.NoError(t, err)
	assert.Equal(t, Testnet, b.Clients()[0].Network())
}

func TestBalancerNotConnected(t *testing.T) {
	b := newTestBalancer(t, clock.NewMock(), BalancerOptions{}, provider.Node{Host: "127.0.0.1", Port: 1})
	_, err := b.GetTime(context.Background())
	require.ErrorIs(t, err, liteerr.ErrNotConnected)
}

func TestBalancerConnectAllFail(t *testing.T) {
	defer leaktest.Check(t)()
	var nodes []provider.Node
	for range 2 {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		node := nodeOf(t, ln.Addr().String(), nil)
		require.NoError(t, ln.Close())
		node.PublicKey = make([]byte, 32)
		nodes = append(nodes, node)
	}

	b := newTestBalancer(t, clock.NewMock(), BalancerOptions{ConnectTimeout: time.Second}, nodes...)
	err := b.Connect(context.Background())
	var be *liteerr.BalancerError
	require.ErrorAs(t, err, &be)
	assert.False(t, b.Connected())

	// Every member's failure is kept, tagged with its address.
	errs := multierr.Errors(be.Err)
	require.Len(t, errs, 2)
	for i, e := range errs {
		assert.Contains(t, e.Error(), b.Clients()[i].Addr())
	}
}

func TestFailoverToHealthyNode(t *testing.T) {
	defer leaktest.Check(t)()
	var srvA *adnltest.Server
	srvA, nodeA := startNode(t, 20, adnltest.Mux{
		tl.IDGetTime: func(adnltest.Request) (tl.Marshaler, error) {
			srvA.DropConnections()
			return nil, nil
		},
	})
	srvB, nodeB := startNode(t, 10, adnltest.Mux{
		tl.IDGetTime: func(adnltest.Request) (tl.Marshaler, error) { return &tl.CurrentTime{Now: 7}, nil },
	})
	defer srvB.Close()
	defer srvA.Close()

	b := newTestBalancer(t, clock.NewMock(), BalancerOptions{}, nodeA, nodeB)
	defer b.Close()
	connectBalancer(t, b)
	waitHeights(t, b)

	now, err := b.GetTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(7), now)

	health := b.Health()
	assert.Positive(t, health[0].ErrorCount)
	assert.Zero(t, health[1].ErrorCount)
	assert.Equal(t, 1, srvA.Calls(tl.IDGetTime))
}

func TestRateLimitedNodeCoolsDown(t *testing.T) {
	defer leaktest.Check(t)()
	srvA, nodeA := startNode(t, 20, adnltest.Mux{
		tl.IDGetTime: func(adnltest.Request) (tl.Marshaler, error) {
			return nil, &liteerr.ServerError{Code: liteerr.CodeRateLimit, Message: "ratelimit"}
		},
	})
	srvB, nodeB := startNode(t, 10, adnltest.Mux{
		tl.IDGetTime: func(adnltest.Request) (tl.Marshaler, error) { return &tl.CurrentTime{Now: 9}, nil },
	})
	defer srvB.Close()
	defer srvA.Close()

	mock := clock.NewMock()
	b := newTestBalancer(t, mock, BalancerOptions{}, nodeA, nodeB)
	defer b.Close()
	connectBalancer(t, b)
	waitHeights(t, b)

	now, err := b.GetTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(9), now)
	health := b.Health()
	assert.Equal(t, 1, health[0].ErrorCount)
	assert.Equal(t, mock.Now().Add(DefaultRateLimitBackoff), health[0].RetryAfter)
	assert.False(t, health[0].Alive)
	assert.Len(t, b.AliveClients(), 1)

	// Still cooling down, so B serves without A being asked again.
	_, err = b.GetTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, srvA.Calls(tl.IDGetTime))
}

func TestMethodErrorIsNotFailedOver(t *testing.T) {
	defer leaktest.Check(t)()
	srvA, nodeA := startNode(t, 20, adnltest.Mux{
		tl.IDRunSmcMethod: func(adnltest.Request) (tl.Marshaler, error) {
			return &tl.RunMethodResult{Mode: 4, ExitCode: 7}, nil
		},
	})
	srvB, nodeB := startNode(t, 10, nil)
	defer srvB.Close()
	defer srvA.Close()

	b := newTestBalancer(t, clock.NewMock(), BalancerOptions{}, nodeA, nodeB)
	defer b.Close()
	connectBalancer(t, b)
	waitHeights(t, b)

	_, err := b.RunGetMethod(context.Background(), testAccount, "seqno", nil)
	var me *liteerr.MethodError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, int32(7), me.ExitCode)
	assert.Zero(t, b.Health()[0].ErrorCount)
	assert.Zero(t, srvB.Calls(tl.IDRunSmcMethod))
}

func TestNoAliveNode(t *testing.T) {
	defer leaktest.Check(t)()
	srv, node := startNode(t, 3, nil)
	b := newTestBalancer(t, clock.NewMock(), BalancerOptions{}, node)
	defer b.Close()
	connectBalancer(t, b)

	srv.Close()
	require.Eventually(t, func() bool { return !b.Connected() }, 5*time.Second, 10*time.Millisecond)
	_, err := b.GetTime(context.Background())
	var be *liteerr.BalancerError
	require.ErrorAs(t, err, &be)
}

func TestPickRoundRobinWithoutHeight(t *testing.T) {
	defer leaktest.Check(t)()
	mux := adnltest.Mux{
		tl.IDGetMasterchainInfo: func(adnltest.Request) (tl.Marshaler, error) {
			return nil, &liteerr.ServerError{Code: 400, Message: "not ready"}
		},
	}
	var nodes []provider.Node
	for range 3 {
		srv := adnltest.NewServer(t, mux.Serve)
		defer srv.Close()
		nodes = append(nodes, nodeOf(t, srv.Addr(), srv))
	}
	mock := clock.NewMock()
	b := newTestBalancer(t, mock, BalancerOptions{}, nodes...)
	defer b.Close()
	connectBalancer(t, b)

	picks := func(n int) []*member {
		out := make([]*member, n)
		for i := range out {
			m, err := b.pick()
			require.NoError(t, err)
			out[i] = m
		}
		return out
	}
	ms := b.members
	assert.Equal(t, []*member{ms[0], ms[1], ms[2], ms[0]}, picks(4))

	b.mu.Lock()
	ms[1].retryAfter = mock.Now().Add(time.Second)
	b.mu.Unlock()
	assert.Equal(t, []*member{ms[2], ms[0], ms[2], ms[0]}, picks(4))

	mock.Add(time.Second)
	assert.Contains(t, picks(3), ms[1])
	for _, h := range b.Health() {
		assert.Zero(t, h.Seqno, h.Addr)
	}
}

func TestBalancerTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	srv, node := startNode(t, 3, adnltest.Mux{
		tl.IDGetTime: func(adnltest.Request) (tl.Marshaler, error) { return nil, nil },
	})
	defer srv.Close()
	b := newTestBalancer(t, clock.NewMock(), BalancerOptions{RequestTimeout: 200 * time.Millisecond}, node)
	defer b.Close()
	connectBalancer(t, b)

	_, err := b.GetTime(context.Background())
	var te *liteerr.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, liteerr.ScopeBalancer, te.Scope)
}

func TestHealthLoopReconnects(t *testing.T) {
	defer leaktest.Check(t)()
	var getTimes atomic.Int32
	srv, node := startNode(t, 3, adnltest.Mux{
		tl.IDGetTime: func(adnltest.Request) (tl.Marshaler, error) {
			getTimes.Add(1)
			return &tl.CurrentTime{Now: 1}, nil
		},
	})
	defer srv.Close()
	mock := clock.NewMock()
	b := newTestBalancer(t, mock, BalancerOptions{}, node)
	defer b.Close()
	connectBalancer(t, b)

	srv.DropConnections()
	require.Eventually(t, func() bool { return !b.Connected() }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		mock.Add(DefaultHealthInterval)
		return b.Connected()
	}, 5*time.Second, 20*time.Millisecond)

	_, err := b.GetTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), getTimes.Load())
}
