// Package provider is a single lite-server RPC client: it correlates concurrent queries
// over one ADNL transport, retries throttled requests and tracks the chain height.
package provider

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"tonlite/internal/adnl"
	"tonlite/internal/liteerr"
	"tonlite/internal/limiter"
	"tonlite/internal/log"
	"tonlite/internal/metrics"
	"tonlite/internal/retry"
	"tonlite/internal/tl"
)

const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultRequestTimeout = 12 * time.Second
	DefaultPingInterval   = 5 * time.Second
	DefaultWaitTimeout    = 10 * time.Second
)

// Node describes one lite-server.
type Node struct {
	Host      string
	Port      int
	PublicKey ed25519.PublicKey
}

func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

type Options struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	PingInterval   time.Duration
	// WaitTimeout is the long-poll budget of the height updater.
	WaitTimeout time.Duration

	// Limiter may be shared between providers for a global quota. Nil means unlimited.
	Limiter *limiter.PriorityLimiter
	// Retry defaults to retry.DefaultADNLPolicy(). Use retry.NewPolicy() to disable retries.
	Retry    *retry.Policy
	Registry *tl.Registry
	Logger   log.Logger
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	Dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.Retry == nil {
		o.Retry = retry.DefaultADNLPolicy()
	}
	if o.Registry == nil {
		o.Registry = tl.DefaultRegistry()
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

type answer struct {
	data []byte
	err  error
}

type pingStat struct {
	rtt time.Duration
	at  time.Time
}

type Provider struct {
	node      Node
	addr      string
	opts      Options
	logger    log.Logger
	dropLog   *log.RateLimited
	reg       *tl.Registry
	clk       clock.Clock
	transport *adnl.Transport

	// connMu serializes Connect, Reconnect and Close.
	connMu  sync.Mutex
	mu      sync.Mutex
	pending map[string]chan answer

	frames  <-chan []byte
	reader  *worker
	pinger  *worker
	updater *worker

	last     atomic.Pointer[tl.MasterchainInfo]
	ping     atomic.Pointer[pingStat]
	heightSF singleflight.Group
}

func New(node Node, opts Options) *Provider {
	opts = opts.withDefaults()
	addr := node.Addr()
	logger := opts.Logger.With("node", addr)
	p := &Provider{
		node:    node,
		addr:    addr,
		opts:    opts,
		logger:  logger,
		dropLog: log.NewRateLimited(logger, 10*time.Second),
		reg:     opts.Registry,
		clk:     opts.Clock,
		transport: adnl.New(addr, node.PublicKey, adnl.Options{
			ConnectTimeout: opts.ConnectTimeout,
			Logger:         opts.Logger,
			Dial:           opts.Dial,
		}),
		pending: make(map[string]chan answer),
	}
	p.reader = newWorker("reader", logger, p.runReader)
	p.pinger = newWorker("pinger", logger, p.runPinger)
	p.updater = newWorker("updater", logger, p.runUpdater)
	return p
}

func (p *Provider) Node() Node                        { return p.node }
func (p *Provider) Limiter() *limiter.PriorityLimiter { return p.opts.Limiter }
func (p *Provider) Addr() string                      { return p.addr }
func (p *Provider) Connected() bool                   { return p.transport.Connected() }

// Connect opens the transport and starts the workers. It is a no-op when connected.
func (p *Provider) Connect(ctx context.Context) error {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	return p.connectLocked(ctx)
}

// Reconnect is Close followed by Connect.
func (p *Provider) Reconnect(ctx context.Context) error {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if err := p.closeLocked(); err != nil {
		p.logger.Debug("close before reconnect", "err", err)
	}
	return p.connectLocked(ctx)
}

// Close stops the workers, fails every pending query and closes the transport.
func (p *Provider) Close() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	return p.closeLocked()
}

func (p *Provider) connectLocked(ctx context.Context) error {
	if p.transport.Connected() {
		return nil
	}
	// A session lost underneath us still has workers to reap.
	p.stopWorkers()
	if err := p.transport.Connect(ctx); err != nil {
		return err
	}
	p.frames = p.transport.Frames()
	p.reader.start()
	p.pinger.start()
	p.updater.start()
	p.logger.Info("provider connected")
	return nil
}

func (p *Provider) closeLocked() error {
	p.stopWorkers()
	p.failPending(liteerr.ErrClosed)
	return p.transport.Close()
}

func (p *Provider) stopWorkers() {
	p.updater.stop()
	p.pinger.stop()
	p.reader.stop()
}

// LastMasterchain is the most recently observed masterchain head.
func (p *Provider) LastMasterchain() (tl.BlockIDExt, bool) {
	info := p.last.Load()
	if info == nil {
		return tl.BlockIDExt{}, false
	}
	return info.Last, true
}

func (p *Provider) setLast(info *tl.MasterchainInfo) {
	for {
		cur := p.last.Load()
		if cur != nil && cur.Last.Seqno > info.Last.Seqno {
			return
		}
		if p.last.CompareAndSwap(cur, info) {
			p.opts.Metrics.SetSeqno(p.addr, info.Last.Seqno)
			return
		}
	}
}

// PingRTT is the round trip of the last successful ping.
func (p *Provider) PingRTT() (time.Duration, bool) {
	s := p.ping.Load()
	if s == nil {
		return 0, false
	}
	return s.rtt, true
}

// PingAge is how long ago the last successful ping completed.
func (p *Provider) PingAge() (time.Duration, bool) {
	s := p.ping.Load()
	if s == nil {
		return 0, false
	}
	return p.clk.Since(s.at), true
}

func queryKey(id [32]byte) string {
	slices.Reverse(id[:])
	return hex.EncodeToString(id[:])
}

func pingKey(id int64) string {
	return "ping:" + strconv.FormatInt(id, 10)
}

// register adds a pending entry. It fails if the key is already live.
func (p *Provider) register(key string) (chan answer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[key]; ok {
		return nil, &liteerr.ProviderError{Op: "register", Err: fmt.Errorf("duplicate query id %s", key)}
	}
	ch := make(chan answer, 1)
	p.pending[key] = ch
	return ch, nil
}

func (p *Provider) unregister(key string) {
	p.mu.Lock()
	delete(p.pending, key)
	p.mu.Unlock()
}

// resolve delivers ans to key exactly once. Unknown or already resolved keys are ignored.
func (p *Provider) resolve(key string, ans answer) bool {
	p.mu.Lock()
	ch, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.mu.Unlock()
	if ok {
		ch <- ans
	}
	return ok
}

func (p *Provider) failPending(err error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]chan answer)
	p.mu.Unlock()
	for _, ch := range pending {
		ch <- answer{err: err}
	}
}

// Pending is the number of queries awaiting an answer.
func (p *Provider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Provider) await(ctx context.Context, op string, key string, ch chan answer, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()
	if err := p.transport.Send(ctx, payload); err != nil {
		return nil, err
	}
	select {
	case ans := <-ch:
		return ans.data, ans.err
	case <-ctx.Done():
		p.unregister(key)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &liteerr.TimeoutError{Scope: liteerr.ScopeProvider, Op: op, Timeout: p.opts.RequestTimeout}
		}
		return nil, ctx.Err()
	}
}

// roundTrip sends one adnl.message.query carrying query and waits for its answer.
func (p *Provider) roundTrip(ctx context.Context, op string, query []byte, priority bool) ([]byte, error) {
	var qid [32]byte
	packet, err := marshal(&tl.AdnlMessageQuery{QueryID: qid, Query: query})
	if err != nil {
		return nil, err
	}
	if !p.Connected() {
		return nil, liteerr.ErrNotConnected
	}
	if err := p.opts.Limiter.Acquire(ctx, priority); err != nil {
		return nil, err
	}
	if _, err := rand.Read(qid[:]); err != nil {
		return nil, err
	}
	// The id sits at a fixed offset right after the constructor.
	copy(packet[4:36], qid[:])
	key := queryKey(qid)
	ch, err := p.register(key)
	if err != nil {
		return nil, err
	}
	defer p.unregister(key)
	return p.await(ctx, op, key, ch, packet)
}

// SendADNLQuery sends an already wrapped liteServer.query and applies the retry policy
// to server errors. A rule that runs out of attempts yields a RetryLimitError.
func (p *Provider) SendADNLQuery(ctx context.Context, op string, query []byte, priority bool) ([]byte, error) {
	attempt := 0
	for {
		ans, err := p.roundTrip(ctx, op, query, priority)
		var se *liteerr.ServerError
		if err == nil || !errors.As(err, &se) {
			return ans, err
		}
		rule, ok := p.opts.Retry.RuleFor(se.Code, se.Message)
		if !ok {
			return nil, err
		}
		attempt++
		if attempt >= rule.MaxAttempts {
			return nil, &liteerr.RetryLimitError{Attempts: attempt, Last: se}
		}
		delay := rule.Delay(attempt - 1)
		p.opts.Metrics.IncRetry(p.addr, se.Code)
		p.logger.Debug("retrying query", "op", op, "code", se.Code, "attempt", attempt, "delay", delay)
		if err := retry.Sleep(ctx, p.clk, delay); err != nil {
			return nil, err
		}
	}
}

// SendLiteQuery wraps serialized requests into liteServer.query and sends them.
// Several requests are concatenated, which is how wait prefixes are attached.
func (p *Provider) SendLiteQuery(ctx context.Context, op string, data []byte, priority bool) ([]byte, error) {
	query, err := marshal(&tl.LiteQuery{Data: data})
	if err != nil {
		return nil, err
	}
	return p.SendADNLQuery(ctx, op, query, priority)
}

// Ping sends tcp.ping and returns the measured round trip.
func (p *Provider) Ping(ctx context.Context) (time.Duration, error) {
	if !p.Connected() {
		return 0, liteerr.ErrNotConnected
	}
	if err := p.opts.Limiter.Acquire(ctx, true); err != nil {
		return 0, err
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	id := int64(binary.LittleEndian.Uint64(b[:]))
	key := pingKey(id)
	ch, err := p.register(key)
	if err != nil {
		return 0, err
	}
	defer p.unregister(key)
	start := p.clk.Now()
	if _, err := p.await(ctx, "tcp.ping", key, ch, tl.Serialize(&tl.TCPPing{RandomID: id})); err != nil {
		return 0, err
	}
	now := p.clk.Now()
	rtt := now.Sub(start)
	p.ping.Store(&pingStat{rtt: rtt, at: now})
	p.opts.Metrics.SetPingRTT(p.addr, rtt)
	return rtt, nil
}
