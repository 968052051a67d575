// Package adnltest runs an in-process lite-server speaking ADNL over loopback TCP.
package adnltest

import (
	"crypto/ed25519"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"tonlite/internal/adnl"
	"tonlite/internal/crypto"
	"tonlite/internal/liteerr"
	"tonlite/internal/tl"
)

// Request is one lite-server query as the server saw it.
type Request struct {
	QueryID [32]byte
	// Wait is set when the query was prefixed by waitMasterchainSeqno.
	Wait  *tl.WaitMasterchainSeqno
	Query tl.Object
}

// HandlerFunc answers a request. A *liteerr.ServerError becomes a liteServer.error answer;
// a nil answer with a nil error leaves the query unanswered.
type HandlerFunc func(req Request) (tl.Marshaler, error)

// Mux routes requests by constructor id. Unknown requests get a server error.
type Mux map[uint32]HandlerFunc

func (m Mux) Serve(req Request) (tl.Marshaler, error) {
	h, ok := m[req.Query.TLID()]
	if !ok {
		return nil, &liteerr.ServerError{Code: 400, Message: "unsupported query " + tl.Name(req.Query.TLID())}
	}
	return h(req)
}

type Server struct {
	Key crypto.Keypair

	// DuplicateAnswers makes the server send every answer twice.
	DuplicateAnswers atomic.Bool
	// IgnorePings stops the server from answering tcp.ping.
	IgnorePings atomic.Bool

	handler HandlerFunc
	ln      net.Listener
	reg     *tl.Registry

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	calls map[uint32]int

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewServer starts listening on 127.0.0.1 and stops when the test ends.
func NewServer(t testing.TB, h HandlerFunc) *Server {
	t.Helper()
	key, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("adnltest: keypair: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("adnltest: listen: %v", err)
	}
	s := &Server{
		Key:     key,
		handler: h,
		ln:      ln,
		reg:     tl.DefaultRegistry(),
		conns:   make(map[net.Conn]struct{}),
		calls:   make(map[uint32]int),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) PublicKey() ed25519.PublicKey { return s.Key.Public }

// Calls returns how many queries with constructor id were received.
func (s *Server) Calls(id uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

// DropConnections closes every accepted connection but keeps listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

type serverConn struct {
	conn    net.Conn
	writeMu sync.Mutex
	keys    crypto.SessionKeys
}

func (c *serverConn) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return adnl.WriteFrame(c.conn, c.keys.Encrypt, payload)
}

func (s *Server) serve(conn net.Conn) {
	var handlers sync.WaitGroup
	defer func() {
		_ = conn.Close()
		handlers.Wait()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()

	packet := make([]byte, crypto.HandshakeSize)
	if _, err := io.ReadFull(conn, packet); err != nil {
		return
	}
	_, seed, err := crypto.OpenHandshake(s.Key, packet)
	if err != nil {
		return
	}
	keys, err := crypto.ServerSessionKeys(seed)
	if err != nil {
		return
	}
	c := &serverConn{conn: conn, keys: keys}
	if err := c.send(nil); err != nil {
		return
	}
	for {
		payload, err := adnl.ReadFrame(conn, keys.Decrypt, adnl.DefaultMaxFrameSize)
		if err != nil {
			return
		}
		obj, err := s.reg.Decode(payload)
		if err != nil {
			continue
		}
		switch m := obj.(type) {
		case *tl.TCPPing:
			if s.IgnorePings.Load() {
				continue
			}
			_ = c.send(tl.Serialize(&tl.TCPPong{RandomID: m.RandomID}))
		case *tl.AdnlMessageQuery:
			req, err := s.parseQuery(m)
			if err != nil {
				continue
			}
			handlers.Add(1)
			go func() {
				defer handlers.Done()
				s.answer(c, req)
			}()
		}
	}
}

func (s *Server) parseQuery(m *tl.AdnlMessageQuery) (Request, error) {
	lq, err := tl.DecodeAs[*tl.LiteQuery](s.reg, m.Query)
	if err != nil {
		return Request{}, err
	}
	d := tl.NewDecoder(lq.Data)
	obj, err := s.reg.DecodeFrom(d)
	if err != nil {
		return Request{}, err
	}
	req := Request{QueryID: m.QueryID, Query: obj}
	if w, ok := obj.(*tl.WaitMasterchainSeqno); ok {
		req.Wait = w
		if req.Query, err = s.reg.DecodeFrom(d); err != nil {
			return Request{}, err
		}
	}
	s.mu.Lock()
	s.calls[req.Query.TLID()]++
	s.mu.Unlock()
	return req, nil
}

func (s *Server) answer(c *serverConn, req Request) {
	ans, err := s.handler(req)
	if err != nil {
		var se *liteerr.ServerError
		if !errors.As(err, &se) {
			se = &liteerr.ServerError{Code: 500, Message: err.Error()}
		}
		ans = &tl.Error{Code: se.Code, Message: se.Message}
	}
	if ans == nil {
		return
	}
	payload := tl.Serialize(&tl.AdnlMessageAnswer{QueryID: req.QueryID, Answer: tl.Serialize(ans)})
	if c.send(payload) != nil {
		return
	}
	if s.DuplicateAnswers.Load() {
		_ = c.send(payload)
	}
}
