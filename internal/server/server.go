// Package server implements keyz's accept loop and per-connection
// state machine, wiring the framing codec and command dispatcher to
// a shared store.
package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"keyz/internal/config"
	"keyz/internal/store"
)

// acceptBackoff is the fixed pause after a failed, non-fatal Accept
// before the loop tries again.
const acceptBackoff = 100 * time.Millisecond

// Server owns the listener, the shared store, and the background
// cleaner. Configuration is held behind an atomic pointer so
// internal/config's live reload can swap in a new set of reply
// strings without any connection observing a torn read.
type Server struct {
	store  *store.Store
	log    zerolog.Logger
	cfgPtr atomic.Pointer[config.Config]
	stats  stats
	addr   atomic.Pointer[string]
}

// New builds a Server around an already-constructed store and initial
// configuration.
func New(s *store.Store, cfg *config.Config, log zerolog.Logger) *Server {
	srv := &Server{store: s, log: log}
	srv.cfgPtr.Store(cfg)
	return srv
}

func (s *Server) config() *config.Config { return s.cfgPtr.Load() }

// SetConfig atomically swaps in a newly reloaded configuration. Called
// from internal/config's Watch callback.
func (s *Server) SetConfig(cfg *config.Config) { s.cfgPtr.Store(cfg) }

// Stats returns a snapshot of the server's operation counters.
func (s *Server) Stats() Snapshot { return s.stats.snapshot() }

// Addr returns the listener's bound address once Run has started it,
// or "" beforehand. Useful for tests that bind to port 0.
func (s *Server) Addr() string {
	if a := s.addr.Load(); a != nil {
		return *a
	}
	return ""
}

// Run binds the listener and blocks, running the accept loop and the
// store's background cleaner together under one errgroup until ctx is
// cancelled. It returns the first error encountered by either task, or
// nil on a clean ctx-driven shutdown.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.config()
	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", address, err)
	}
	boundAddr := listener.Addr().String()
	s.addr.Store(&boundAddr)
	s.log.Info().Str("address", boundAddr).Msg("keyz listening")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return listener.Close()
	})

	g.Go(func() error {
		s.store.RunCleaner(gctx, cfg.Store.CleanupInterval(), s.log)
		return nil
	})

	g.Go(func() error {
		return s.acceptLoop(gctx, listener)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		// Shutdown was requested; a listener-close error is expected noise.
		return nil
	}
	return err
}

// acceptLoop accepts connections until ctx is cancelled. A transient
// accept error never kills the server: it logs, backs off, and
// retries.
func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn().Err(err).Dur("backoff", acceptBackoff).Msg("accept error, backing off")
			select {
			case <-time.After(acceptBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		s.stats.connections.Add(1)
		go s.handleConnection(conn)
	}
}
