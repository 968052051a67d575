package adnl

import (
	"context"
	"crypto/cipher"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"tonlite/internal/crypto"
	"tonlite/internal/liteerr"
	"tonlite/internal/log"
)

const (
	DefaultConnectTimeout = 2 * time.Second
	defaultQueueSize      = 64
)

type Options struct {
	// ConnectTimeout bounds dial plus handshake. Default 2s.
	ConnectTimeout time.Duration
	// MaxFrameSize is the largest accepted payload. Default 16 MiB.
	MaxFrameSize int
	// QueueSize is the capacity of the received-frame queue.
	QueueSize int
	Logger    log.Logger
	// Dial replaces net.Dialer.DialContext, mostly for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	if o.Dial == nil {
		var d net.Dialer
		o.Dial = d.DialContext
	}
	return o
}

// session is the state of one established connection.
type session struct {
	conn    net.Conn
	dec     cipher.Stream
	writeMu sync.Mutex
	enc     cipher.Stream
	frames  chan []byte
	done    chan struct{}
	once    sync.Once
	loop    sync.WaitGroup
}

func (s *session) shutdown() bool {
	closed := false
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		closed = true
	})
	return closed
}

// Transport is one encrypted duplex channel to one lite-server.
type Transport struct {
	addr      string
	serverKey ed25519.PublicKey
	opts      Options
	logger    log.Logger

	mu        sync.Mutex
	sess      *session
	connected atomic.Bool
}

func New(addr string, serverKey ed25519.PublicKey, opts Options) *Transport {
	opts = opts.withDefaults()
	return &Transport{
		addr:      addr,
		serverKey: serverKey,
		opts:      opts,
		logger:    opts.Logger.With("node", addr),
	}
}

func (t *Transport) Addr() string { return t.addr }

func (t *Transport) Connected() bool { return t.connected.Load() }

// Connect dials the node and completes the handshake. It is a no-op when already connected.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess != nil && t.connected.Load() {
		return nil
	}
	if t.sess != nil {
		t.closeSessionLocked()
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()
	conn, err := t.opts.Dial(ctx, "tcp", t.addr)
	if err != nil {
		return t.connectErr(ctx, "dial", err)
	}
	sess, err := t.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return t.connectErr(ctx, "handshake", err)
	}
	t.sess = sess
	t.connected.Store(true)
	sess.loop.Add(1)
	go t.readLoop(sess)
	t.logger.Debug("adnl connected")
	return nil
}

func (t *Transport) connectErr(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return context.Canceled
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return &liteerr.TimeoutError{Scope: liteerr.ScopeConnect, Op: op + " " + t.addr, Timeout: t.opts.ConnectTimeout}
	}
	return &liteerr.TransportError{Op: op, Err: err}
}

func (t *Transport) handshake(ctx context.Context, conn net.Conn) (*session, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// Unblock the handshake I/O if ctx is cancelled before its deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	client, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	seed, err := crypto.NewSessionSeed()
	if err != nil {
		return nil, err
	}
	keys, err := crypto.ClientSessionKeys(seed)
	if err != nil {
		return nil, err
	}
	packet, err := crypto.BuildHandshake(t.serverKey, client, seed)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(packet); err != nil {
		return nil, err
	}
	// The server acknowledges with an empty frame.
	if _, err := ReadFrame(conn, keys.Decrypt, t.opts.MaxFrameSize); err != nil {
		return nil, fmt.Errorf("%w: %w", crypto.ErrHandshake, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return &session{
		conn:   conn,
		enc:    keys.Encrypt,
		dec:    keys.Decrypt,
		frames: make(chan []byte, t.opts.QueueSize),
		done:   make(chan struct{}),
	}, nil
}

func (t *Transport) readLoop(s *session) {
	defer s.loop.Done()
	defer close(s.frames)
	for {
		payload, err := ReadFrame(s.conn, s.dec, t.opts.MaxFrameSize)
		if err != nil {
			select {
			case <-s.done:
			default:
				t.logger.Debug("adnl read failed", "err", err)
				t.connected.Store(false)
				go t.dropSession(s)
			}
			return
		}
		select {
		case s.frames <- payload:
		case <-s.done:
			return
		}
	}
}

// dropSession closes s if it is still the current session.
func (t *Transport) dropSession(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == s {
		t.closeSessionLocked()
	}
}

func (t *Transport) closeSessionLocked() {
	s := t.sess
	t.sess = nil
	t.connected.Store(false)
	if s.shutdown() {
		t.logger.Debug("adnl closed")
	}
	s.loop.Wait()
}

// Frames returns the queue of received payloads for the current session.
// The channel is closed when the session ends.
func (t *Transport) Frames() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return nil
	}
	return t.sess.frames
}

// Send writes one frame. A write failure tears the session down.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	s := t.sess
	t.mu.Unlock()
	if s == nil || !t.connected.Load() {
		return &liteerr.TransportError{Op: "send", Err: liteerr.ErrNotConnected}
	}
	if len(payload) > t.opts.MaxFrameSize {
		return &liteerr.TransportError{Op: "send", Err: fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrBadFrame, len(payload))}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	if err := WriteFrame(s.conn, s.enc, payload); err != nil {
		t.connected.Store(false)
		go t.dropSession(s)
		if errors.Is(err, net.ErrClosed) {
			err = liteerr.ErrClosed
		}
		return &liteerr.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Close tears down the current session. It is safe to call repeatedly.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess != nil {
		t.closeSessionLocked()
	}
	return nil
}
