// Package peer is a stub IoT telemetry server speaking the query wire
// protocol: each read is one query token and is answered with one non-empty
// UTF-8 reply. It backs local development and the client's tests.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/iotquery/logger"
	"golang.org/x/sync/errgroup"
)

// Config holds settings for a Server.
type Config struct {
	// Name labels log entries.
	Name string
	// Addr is the listen address, e.g. "127.0.0.1:4226" or "127.0.0.1:0".
	Addr string
	// Source resolves replies; nil means DefaultReplies.
	Source ReplySource
	// CloseAfterAccept drops each connection right after accepting it.
	CloseAfterAccept bool
	// ReadBufferSize bounds one query read.
	ReadBufferSize int
}

// Server accepts query connections and answers them. Each connection gets a
// session with its own id; sessions are tracked until they end or Stop is
// called.
type Server struct {
	config Config
	log    logger.Logger

	listener net.Listener
	running  atomic.Bool
	nextID   atomic.Uint32
	group    *errgroup.Group
	cancel   context.CancelFunc

	mu       sync.Mutex
	sessions map[uint32]*session
	received []string
}

// New creates a stopped Server.
//
// Parameters:
//   - config: Listen address and reply source
//   - log: Logger for accept and session events
//
// Returns:
//   - A new *Server; call Start to begin serving
func New(config Config, log logger.Logger) *Server {
	if config.Name == "" {
		config.Name = "telemetry"
	}

	if config.Source == nil {
		config.Source = DefaultReplies()
	}

	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 1024
	}

	return &Server{
		config:   config,
		log:      log.With(logger.Field{Key: "peer", Value: config.Name}),
		sessions: make(map[uint32]*session),
	}
}

// Start binds the listen address and runs the accept loop in the background.
//
// Returns:
//   - An error if the server is already running or listening fails
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("peer %s already running", s.config.Name)
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.log.Error("peer failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("peer %s failed to start: %w", s.config.Name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = ln
	s.cancel = cancel
	s.group, ctx = errgroup.WithContext(ctx)
	s.running.Store(true)

	s.log.Info("peer started", logger.Field{Key: "addr", Value: ln.Addr().String()})
	s.group.Go(func() error {
		return s.acceptLoop(ctx)
	})

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop closes the listener and every open session, then waits for their
// goroutines. Safe to call when not running.
//
// Returns:
//   - The first error raised by a session goroutine, if any
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	_ = s.listener.Close()

	s.mu.Lock()
	for _, sess := range s.sessions {
		_ = sess.Close()
	}
	s.mu.Unlock()

	err := s.group.Wait()
	s.log.Info("peer stopped")
	return err
}

// Wait blocks until the server stops.
func (s *Server) Wait() error {
	if s.group == nil {
		return nil
	}

	return s.group.Wait()
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Received returns every query payload read so far, across sessions, in
// arrival order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			s.log.Error("accept error", logger.Field{Key: "error", Value: err})
			continue
		}

		id := s.nextID.Add(1)
		if s.config.CloseAfterAccept {
			s.log.Debug("dropping connection", logger.Field{Key: "session", Value: id})
			_ = conn.Close()
			continue
		}

		sess := newSession(id, conn, s)
		s.addSession(sess)
		s.group.Go(func() error {
			defer s.removeSession(id)
			sess.Handle(ctx)
			return nil
		})
	}
}

func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID()] = sess

	// Stop may have swept the registry already.
	if !s.running.Load() {
		_ = sess.Close()
	}
}

func (s *Server) removeSession(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) record(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, payload)
}
