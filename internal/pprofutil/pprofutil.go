// Package pprofutil serves the diagnostics endpoints of the CLI: prometheus metrics and pprof.
package pprofutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"
	"time"

	"tonlite/internal/log"
)

const DefaultAddr = "127.0.0.1:6060"

type Options struct {
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Pprof mounts /debug/pprof/. TONLITE_PPROF=1 turns it on as well.
	Pprof bool
	// AllowPublic permits binding a non-loopback address. TONLITE_PPROF_ALLOW_PUBLIC=1 does the same.
	AllowPublic bool
	Logger      log.Logger
}

type Server struct {
	srv    *http.Server
	ln     net.Listener
	done   chan struct{}
	logger log.Logger
}

// Start listens on addr and serves in the background until Close.
func Start(addr string, opts Options) (*Server, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	allowPublic := opts.AllowPublic || strings.TrimSpace(os.Getenv("TONLITE_PPROF_ALLOW_PUBLIC")) == "1"
	if !allowPublic && !isLoopbackBind(addr) {
		return nil, fmt.Errorf("diagnostics address must be loopback unless public binding is allowed: %s", addr)
	}
	mux := http.NewServeMux()
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.Pprof || strings.TrimSpace(os.Getenv("TONLITE_PPROF")) == "1" {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("diagnostics listen failed: %w", err)
	}
	s := &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		done:   make(chan struct{}),
		logger: opts.Logger,
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("diagnostics server failed", "addr", s.Addr(), "err", err)
		}
	}()
	s.logger.Info("diagnostics enabled", "addr", s.Addr())
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close shuts the server down, giving in-flight scrapes a second to finish.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}

func isLoopbackBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
