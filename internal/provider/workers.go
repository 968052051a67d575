package provider

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"tonlite/internal/liteerr"
	"tonlite/internal/log"
	"tonlite/internal/tl"
)

type workerState int32

const (
	workerIdle workerState = iota
	workerRunning
	workerStopping
)

func (s workerState) String() string {
	switch s {
	case workerRunning:
		return "running"
	case workerStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// worker runs one background loop. A loop that returns or panics leaves the worker idle;
// it never takes the provider down with it.
type worker struct {
	name   string
	logger log.Logger
	run    func(ctx context.Context) error

	mu     sync.Mutex
	state  workerState
	cancel context.CancelFunc
	done   chan struct{}
}

func newWorker(name string, logger log.Logger, run func(ctx context.Context) error) *worker {
	return &worker{name: name, logger: logger.With("worker", name), run: run}
}

func (w *worker) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		select {
		case <-w.done:
		default:
			return
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel, w.done, w.state = cancel, done, workerRunning
	go w.loop(ctx, done)
}

func (w *worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panicked", "panic", r)
		}
		w.mu.Lock()
		if w.state == workerRunning {
			w.state = workerIdle
		}
		w.mu.Unlock()
	}()
	w.logger.Debug("worker started")
	if err := w.run(ctx); err != nil && ctx.Err() == nil {
		w.logger.Debug("worker stopped", "err", err)
	}
}

// stop cancels the loop and waits for it to return.
func (w *worker) stop() {
	w.mu.Lock()
	if w.done == nil {
		w.mu.Unlock()
		return
	}
	w.state = workerStopping
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	w.cancel, w.done, w.state = nil, nil, workerIdle
	w.mu.Unlock()
}

func (w *worker) State() workerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// runReader routes frames from the transport to pending queries.
func (p *Provider) runReader(ctx context.Context) error {
	frames := p.frames
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-frames:
			if !ok {
				p.failPending(&liteerr.TransportError{Op: "read", Err: io.ErrUnexpectedEOF})
				return liteerr.ErrNotConnected
			}
			p.dispatch(payload)
		}
	}
}

func (p *Provider) dispatch(payload []byte) {
	obj, err := p.reg.Decode(payload)
	if err != nil {
		p.dropLog.Debugk("undecodable", "dropping undecodable frame", "err", err)
		return
	}
	switch m := obj.(type) {
	case *tl.AdnlMessageAnswer:
		ans := answer{data: m.Answer}
		if len(m.Answer) >= 4 && binary.LittleEndian.Uint32(m.Answer) == tl.IDError {
			if e, err := tl.DecodeAs[*tl.Error](p.reg, m.Answer); err == nil {
				ans = answer{err: &liteerr.ServerError{Code: e.Code, Message: e.Message}}
			}
		}
		if !p.resolve(queryKey(m.QueryID), ans) {
			p.dropLog.Debugk("unrouted", "dropping answer for unknown query")
		}
	case *tl.TCPPong:
		p.resolve(pingKey(m.RandomID), answer{})
	default:
		p.dropLog.Debugk("unexpected", "dropping unexpected frame", "type", tl.Name(obj.TLID()))
	}
}

// runPinger pings right away and then every PingInterval. The first failed ping ends it.
func (p *Provider) runPinger(ctx context.Context) error {
	t := p.clk.Ticker(p.opts.PingInterval)
	defer t.Stop()
	for {
		if _, err := p.Ping(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// runUpdater follows the masterchain head with long-poll queries.
func (p *Provider) runUpdater(ctx context.Context) error {
	for ctx.Err() == nil {
		err := p.waitNextBlock(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case isNoNewBlock(err):
		default:
			return err
		}
	}
	return nil
}

func isNoNewBlock(err error) bool {
	var se *liteerr.ServerError
	return liteerr.IsTimeout(err) || (errors.As(err, &se) && se.Code == liteerr.CodeTimeout)
}

func (p *Provider) waitNextBlock(ctx context.Context) error {
	last, ok := p.LastMasterchain()
	if !ok {
		_, err := p.RefreshHeight(ctx)
		return err
	}
	ans, err := p.WaitMasterchainSeqno(ctx, last.Seqno+1, p.opts.WaitTimeout, tl.GetMasterchainInfo{}, true)
	if err != nil {
		return err
	}
	info, err := decode[*tl.MasterchainInfo](p.reg, ans)
	if err != nil {
		return err
	}
	p.setLast(info)
	return nil
}
