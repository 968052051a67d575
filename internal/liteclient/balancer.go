package liteclient

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"tonlite/internal/address"
	"tonlite/internal/block"
	"tonlite/internal/cell"
	"tonlite/internal/liteerr"
	"tonlite/internal/log"
	"tonlite/internal/metrics"
	"tonlite/internal/provider"
	"tonlite/internal/tl"
)

const (
	DefaultBalancerConnectTimeout = 2 * time.Second
	DefaultBalancerRequestTimeout = 12 * time.Second
	DefaultHealthInterval         = 5500 * time.Millisecond
	DefaultRateLimitBackoff       = time.Second
	DefaultErrorBackoff           = 500 * time.Millisecond
	DefaultMaxBackoff             = 10 * time.Second
)

type BalancerOptions struct {
	Network Network
	// ConnectTimeout bounds one connect or reconnect of a member.
	ConnectTimeout time.Duration
	// RequestTimeout bounds a whole failover call across members.
	RequestTimeout time.Duration
	HealthInterval time.Duration

	RateLimitBackoff time.Duration
	ErrorBackoff     time.Duration
	MaxBackoff       time.Duration

	Logger  log.Logger
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

func (o BalancerOptions) withDefaults() BalancerOptions {
	if o.Network == 0 {
		o.Network = Mainnet
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultBalancerConnectTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultBalancerRequestTimeout
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.RateLimitBackoff <= 0 {
		o.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = DefaultErrorBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// member is the balancer's health record for one client.
type member struct {
	client     *Client
	errorCount int
	retryAfter time.Time
}

// Balancer spreads calls over several clients, preferring the freshest and fastest,
// and fails over to the next one when a node misbehaves.
type Balancer struct {
	opts    BalancerOptions
	logger  log.Logger
	clk     clock.Clock
	members []*member

	mu        sync.Mutex
	rr        int
	connected bool

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func NewBalancer(clients []*Client, opts BalancerOptions) (*Balancer, error) {
	if len(clients) == 0 {
		return nil, &liteerr.BalancerError{Reason: "no clients"}
	}
	opts = opts.withDefaults()
	b := &Balancer{opts: opts, logger: opts.Logger.With("component", "balancer"), clk: opts.Clock}
	for i, c := range clients {
		if c == nil {
			return nil, &liteerr.BalancerError{Reason: "nil client at index " + strconv.Itoa(i)}
		}
		c.network = opts.Network
		b.members = append(b.members, &member{client: c})
	}
	return b, nil
}

func (b *Balancer) Network() Network { return b.opts.Network }

// Connected reports whether any member is connected.
func (b *Balancer) Connected() bool {
	for _, m := range b.members {
		if m.client.Connected() {
			return true
		}
	}
	return false
}

func (b *Balancer) Clients() []*Client {
	out := make([]*Client, len(b.members))
	for i, m := range b.members {
		out[i] = m.client
	}
	return out
}

// AliveClients are the members that may take requests right now.
func (b *Balancer) AliveClients() []*Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clk.Now()
	var out []*Client
	for _, m := range b.members {
		if b.aliveLocked(m, now) {
			out = append(out, m.client)
		}
	}
	return out
}

func (b *Balancer) aliveLocked(m *member, now time.Time) bool {
	return m.client.Connected() && !m.retryAfter.After(now)
}

// MemberHealth is a point-in-time view of one member.
type MemberHealth struct {
	Addr       string
	Connected  bool
	Alive      bool
	ErrorCount int
	RetryAfter time.Time
	Seqno      int32
	PingRTT    time.Duration
}

func (b *Balancer) Health() []MemberHealth {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clk.Now()
	out := make([]MemberHealth, 0, len(b.members))
	for _, m := range b.members {
		h := MemberHealth{
			Addr:       m.client.Addr(),
			Connected:  m.client.Connected(),
			Alive:      b.aliveLocked(m, now),
			ErrorCount: m.errorCount,
			RetryAfter: m.retryAfter,
		}
		if id, ok := m.client.p.LastMasterchain(); ok {
			h.Seqno = id.Seqno
		}
		h.PingRTT, _ = m.client.p.PingRTT()
		out = append(out, h)
	}
	return out
}

// Connect connects every member in parallel and succeeds when at least one is up.
func (b *Balancer) Connect(ctx context.Context) error {
	if !b.Connected() {
		errs := make([]error, len(b.members))
		var g errgroup.Group
		for i, m := range b.members {
			g.Go(func() error {
				cctx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
				defer cancel()
				if err := m.client.Connect(cctx); err != nil {
					errs[i] = fmt.Errorf("%s: %w", m.client.Addr(), err)
					return errs[i]
				}
				return nil
			})
		}
		err := g.Wait()
		if !b.Connected() {
			return &liteerr.BalancerError{Reason: "all lite-servers failed to connect", Err: multierr.Combine(errs...)}
		}
		if err != nil {
			b.logger.Info("connected with members down", "err", err)
		}
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.startHealthLoop()
	return nil
}

// Close stops the health loop and closes every member.
func (b *Balancer) Close() error {
	b.stopHealthLoop()
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	var err error
	for _, m := range b.members {
		err = multierr.Append(err, m.client.Close())
	}
	return err
}

func (b *Balancer) startHealthLoop() {
	b.loopMu.Lock()
	defer b.loopMu.Unlock()
	if b.loopDone != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.loopCancel, b.loopDone = cancel, done
	go b.healthLoop(ctx, done)
}

func (b *Balancer) stopHealthLoop() {
	b.loopMu.Lock()
	cancel, done := b.loopCancel, b.loopDone
	b.loopCancel, b.loopDone = nil, nil
	b.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (b *Balancer) healthLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := b.clk.Ticker(b.opts.HealthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		b.reconnectDead(ctx)
	}
}

// reconnectDead reconnects every disconnected member in parallel. Members only cooling down are left alone.
func (b *Balancer) reconnectDead(ctx context.Context) {
	var g errgroup.Group
	for _, m := range b.members {
		if m.client.Connected() {
			continue
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
			defer cancel()
			err := m.client.Reconnect(cctx)
			b.opts.Metrics.IncReconnect(m.client.Addr(), err)
			if err != nil {
				return fmt.Errorf("%s: %w", m.client.Addr(), err)
			}
			b.logger.Info("member reconnected", "node", m.client.Addr())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.logger.Debug("health reconnect failed", "err", err)
	}
}

// candidate is what selection looks at for one alive member.
type candidate struct {
	index     int
	hasHeight bool
	seqno     int32
	hasPing   bool
	rtt       time.Duration
	age       time.Duration
}

// chooseByHeight picks among the candidates at the highest known seqno, preferring the lowest
// (rtt, age) when pings are known. Ties keep registration order. ok is false when no candidate
// has a height.
func chooseByHeight(cands []candidate) (index int, ok bool) {
	var top []candidate
	for _, c := range cands {
		if !c.hasHeight {
			continue
		}
		switch {
		case len(top) == 0 || c.seqno > top[0].seqno:
			top = append(top[:0], c)
		case c.seqno == top[0].seqno:
			top = append(top, c)
		}
	}
	if len(top) == 0 {
		return 0, false
	}
	var pinged []candidate
	for _, c := range top {
		if c.hasPing {
			pinged = append(pinged, c)
		}
	}
	if len(pinged) == 0 {
		return top[0].index, true
	}
	slices.SortStableFunc(pinged, func(a, b candidate) int {
		if c := cmp.Compare(a.rtt, b.rtt); c != 0 {
			return c
		}
		return cmp.Compare(a.age, b.age)
	})
	return pinged[0].index, true
}

func (b *Balancer) pick() (*member, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, liteerr.ErrNotConnected
	}
	now := b.clk.Now()
	var cands []candidate
	for i, m := range b.members {
		if !b.aliveLocked(m, now) {
			continue
		}
		c := candidate{index: i}
		if id, ok := m.client.p.LastMasterchain(); ok {
			c.hasHeight, c.seqno = true, id.Seqno
		}
		rtt, okRTT := m.client.p.PingRTT()
		age, okAge := m.client.p.PingAge()
		if okRTT && okAge {
			c.hasPing, c.rtt, c.age = true, rtt, age
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		b.opts.Metrics.IncNoAliveNode()
		return nil, &liteerr.BalancerError{Reason: "no alive lite-server clients available"}
	}
	if i, ok := chooseByHeight(cands); ok {
		return b.members[i], nil
	}
	for range b.members {
		m := b.members[b.rr%len(b.members)]
		b.rr++
		if b.aliveLocked(m, now) {
			return m, nil
		}
	}
	return b.members[cands[0].index], nil
}

func (b *Balancer) markSuccess(m *member) {
	b.mu.Lock()
	m.errorCount = 0
	m.retryAfter = time.Time{}
	b.mu.Unlock()
}

// markError puts m into cooldown, doubling with each consecutive error up to MaxBackoff.
func (b *Balancer) markError(m *member, err error) {
	base := b.opts.ErrorBackoff
	if liteerr.IsRateLimit(err) {
		base = b.opts.RateLimitBackoff
	}
	b.mu.Lock()
	m.errorCount++
	cooldown := b.opts.MaxBackoff
	if shift := m.errorCount - 1; shift < 32 {
		cooldown = min(base<<shift, b.opts.MaxBackoff)
	}
	m.retryAfter = b.clk.Now().Add(cooldown)
	count := m.errorCount
	b.mu.Unlock()
	b.logger.Debug("member marked unhealthy", "node", m.client.Addr(), "errors", count, "cooldown", cooldown, "err", err)
}

func failoverReason(err error) string {
	if liteerr.IsRateLimit(err) {
		return "rate_limit"
	}
	return metrics.Result(err)
}

// Do runs fn on the best member, failing over to the others on node failures.
// Errors that are not about the node, such as a failed get-method, are returned at once.
func Do[T any](ctx context.Context, b *Balancer, fn func(ctx context.Context, c *Client) (T, error)) (T, error) {
	var zero T
	rctx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()

	var last error
	for range b.members {
		if rctx.Err() != nil {
			break
		}
		m, err := b.pick()
		if errors.Is(err, liteerr.ErrNotConnected) {
			return zero, err
		}
		if err != nil {
			if last == nil {
				return zero, err
			}
			break
		}
		addr := m.client.Addr()
		if !m.client.Connected() {
			cctx, ccancel := context.WithTimeout(rctx, b.opts.ConnectTimeout)
			err := m.client.Reconnect(cctx)
			ccancel()
			b.opts.Metrics.IncReconnect(addr, err)
			if err != nil {
				b.markError(m, err)
				last = err
				continue
			}
		}
		res, err := fn(rctx, m.client)
		if err == nil {
			b.markSuccess(m)
			return res, nil
		}
		if rctx.Err() != nil {
			last = err
			break
		}
		if !liteerr.IsNodeFailure(err) {
			return zero, err
		}
		b.markError(m, err)
		b.opts.Metrics.IncFailover(addr, failoverReason(err))
		last = err
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if rctx.Err() != nil {
		return zero, &liteerr.TimeoutError{Scope: liteerr.ScopeBalancer, Op: "failover", Timeout: b.opts.RequestTimeout}
	}
	return zero, &liteerr.BalancerError{Reason: "all lite-servers failed to process request", Err: last}
}

func (b *Balancer) SendMessage(ctx context.Context, boc []byte) error {
	_, err := Do(ctx, b, func(ctx context.Context, c *Client) (struct{}, error) {
		return struct{}{}, c.SendMessage(ctx, boc)
	})
	return err
}

func (b *Balancer) RunGetMethod(ctx context.Context, addr address.Address, method string, stack []any) ([]any, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) ([]any, error) {
		return c.RunGetMethod(ctx, addr, method, stack)
	})
}

func (b *Balancer) GetAccountState(ctx context.Context, addr address.Address) (*block.AccountState, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) (*block.AccountState, error) {
		return c.GetAccountState(ctx, addr)
	})
}

// GetTransactions pages like Client.GetTransactions, failing over page by page.
func (b *Balancer) GetTransactions(ctx context.Context, addr address.Address, limit int, fromLT, toLT uint64) ([]*block.Transaction, error) {
	st, err := b.GetAccountState(ctx, addr)
	if err != nil {
		return nil, err
	}
	return collectTransactions(ctx, st, func(ctx context.Context, lt uint64, hash [32]byte, count int) ([]*block.Transaction, error) {
		return Do(ctx, b, func(ctx context.Context, c *Client) ([]*block.Transaction, error) {
			return c.p.GetTransactions(ctx, addr, count, lt, hash)
		})
	}, limit, fromLT, toLT)
}

func (b *Balancer) GetBlockchainConfig(ctx context.Context) (map[int32]*cell.Cell, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) (map[int32]*cell.Cell, error) {
		return c.GetBlockchainConfig(ctx)
	})
}

func (b *Balancer) GetConfigParams(ctx context.Context, params ...int32) (map[int32]*cell.Cell, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) (map[int32]*cell.Cell, error) {
		return c.GetConfigParams(ctx, params...)
	})
}

func (b *Balancer) GetMasterchainInfo(ctx context.Context) (*tl.MasterchainInfo, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) (*tl.MasterchainInfo, error) {
		return c.GetMasterchainInfo(ctx)
	})
}

func (b *Balancer) GetTime(ctx context.Context) (int32, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) (int32, error) {
		return c.GetTime(ctx)
	})
}

func (b *Balancer) GetVersion(ctx context.Context) (*tl.Version, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) (*tl.Version, error) {
		return c.GetVersion(ctx)
	})
}

func (b *Balancer) GetBlockHeader(ctx context.Context, id tl.BlockIDExt) (*provider.BlockHeader, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) (*provider.BlockHeader, error) {
		return c.GetBlockHeader(ctx, id)
	})
}

func (b *Balancer) LookupBlockBySeqno(ctx context.Context, workchain int32, shard int64, seqno int32) (*provider.BlockHeader, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) (*provider.BlockHeader, error) {
		return c.LookupBlockBySeqno(ctx, workchain, shard, seqno)
	})
}

func (b *Balancer) LookupBlockByLT(ctx context.Context, workchain int32, shard int64, lt int64) (*provider.BlockHeader, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) (*provider.BlockHeader, error) {
		return c.LookupBlockByLT(ctx, workchain, shard, lt)
	})
}

func (b *Balancer) LookupBlockByUtime(ctx context.Context, workchain int32, shard int64, utime int32) (*provider.BlockHeader, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) (*provider.BlockHeader, error) {
		return c.LookupBlockByUtime(ctx, workchain, shard, utime)
	})
}

func (b *Balancer) GetAllShardsInfo(ctx context.Context, id *tl.BlockIDExt) ([]tl.BlockIDExt, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) ([]tl.BlockIDExt, error) {
		return c.GetAllShardsInfo(ctx, id)
	})
}

func (b *Balancer) GetBlockTransactions(ctx context.Context, id tl.BlockIDExt) ([]*block.Transaction, error) {
	return Do(ctx, b, func(ctx context.Context, c *Client) ([]*block.Transaction, error) {
		return c.GetBlockTransactions(ctx, id)
	})
}
