// Package session runs one interactive query session: it validates the
// endpoint, connects, alternates validated queries with replies, and releases
// the connection exactly once on every way out.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cyberinferno/iotquery/endpoint"
	"github.com/cyberinferno/iotquery/logger"
	"github.com/cyberinferno/iotquery/perfmonitor"
	"github.com/cyberinferno/iotquery/query"
	"github.com/cyberinferno/iotquery/tcpclient"
)

// State is the session's lifecycle position.
type State int

const (
	Connecting State = iota // Validating the endpoint and dialing
	Active                  // Exchanging queries and replies
	Closing                 // Releasing the connection
	Closed                  // Terminal
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Active:
		return "Active"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Connection is the transport a session drives. *tcpclient.Client implements it.
type Connection interface {
	Connect(ctx context.Context) error
	Send(code query.Code) error
	Receive() (tcpclient.Reply, error)
	Close() error
}

// Connector builds the Connection for a validated endpoint. It must not dial.
type Connector func(ep endpoint.Endpoint) Connection

// TCPConnector returns a Connector producing tcpclient clients configured from
// base, with the address replaced by the endpoint.
func TCPConnector(base tcpclient.Config, log logger.Logger) Connector {
	return func(ep endpoint.Endpoint) Connection {
		cfg := base
		cfg.Address = ep.String()
		return tcpclient.New(cfg, log)
	}
}

// Options configures a Session.
type Options struct {
	// In is the console input.
	In io.Reader
	// Out is the console output.
	Out io.Writer
	// Log receives diagnostics; nil discards them.
	Log logger.Logger
	// Connect builds the transport once the endpoint is valid.
	Connect Connector
	// Address pre-fills the address prompt when non-empty.
	Address string
	// Port pre-fills the port prompt when non-empty.
	Port string
	// NoColor disables colored console output.
	NoColor bool
}

// Session is one client run. It is driven by a single goroutine through Run;
// State and the counters may be read from others.
type Session struct {
	in      *bufio.Scanner
	console *console
	log     logger.Logger
	connect Connector
	address string
	port    string

	mu       sync.Mutex
	state    State
	endpoint endpoint.Endpoint
	opened   bool
	active   bool
	queries  int
	timer    *perfmonitor.PerformanceMonitor
}

// New creates a Session in the Connecting state.
//
// Parameters:
//   - opts: Console streams, logger, connector and optional pre-filled endpoint
//
// Returns:
//   - A new *Session; call Run once
func New(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Session{
		in:      bufio.NewScanner(opts.In),
		console: newConsole(opts.Out, opts.NoColor),
		log:     log,
		connect: opts.Connect,
		address: opts.Address,
		port:    opts.Port,
		state:   Connecting,
		timer:   perfmonitor.NewPerformanceMonitor(),
	}
}

// Run executes the session to completion. Invalid endpoints, refused
// connections, the exit sentinel and a peer disconnect all end the run
// normally with a nil error.
//
// Parameters:
//   - ctx: Cancels the dial; blocking reads are not interrupted
//
// Returns:
//   - nil on every user-facing exit path
//   - A transport or console error raised mid-session
func (s *Session) Run(ctx context.Context) error {
	ep, ok, err := s.resolveEndpoint()
	if err != nil {
		s.setState(Closed)
		return err
	}

	if !ok {
		s.setState(Closed)
		return nil
	}

	log := s.log.With(logger.Field{Key: "endpoint", Value: ep.String()})
	conn := s.connect(ep)
	defer s.release(conn, log)

	if err := conn.Connect(ctx); err != nil {
		log.Info("could not connect", logger.Field{Key: "error", Value: err})
		s.console.problem(fmt.Sprintf(ConnectFailedFmt, ep))
		return nil
	}

	s.mu.Lock()
	s.opened = true
	s.active = true
	s.mu.Unlock()
	s.setState(Active)

	s.console.status(ConnectedMessage)
	s.console.plain(query.Menu())

	return s.exchange(conn, log)
}

// exchange is the Active state: one query and one reply per turn, never two
// queries in flight.
func (s *Session) exchange(conn Connection, log logger.Logger) error {
	prompter := query.NewPrompterFromScanner(s.in, s.console.out, log)

	for {
		code, err := prompter.Next()
		if err != nil {
			return err
		}

		if code.IsExit() {
			log.Info("user ended the session")
			s.console.problem(DisconnectMessage)
			return nil
		}

		s.timer.Start()
		if err := conn.Send(code); err != nil {
			return fmt.Errorf("send query %s: %w", code, err)
		}

		reply, err := conn.Receive()
		s.timer.Stop()
		if errors.Is(err, tcpclient.ErrPeerDisconnected) {
			log.Info("server closed the connection", logger.Field{Key: "query", Value: code.String()})
			s.console.problem(DisconnectMessage)
			return nil
		}

		if err != nil {
			return fmt.Errorf("receive reply to query %s: %w", code, err)
		}

		s.mu.Lock()
		s.queries++
		s.mu.Unlock()

		log.Info("query answered",
			logger.Field{Key: "query", Value: code.String()},
			logger.Field{Key: "bytes", Value: len(reply)},
			logger.Field{Key: "latency_ms", Value: s.timer.ElapsedMilliseconds()},
		)
		s.console.result(reply.String())
	}
}

// release is the single exit point for the connection.
// A connection that never opened goes straight to Closed.
func (s *Session) release(conn Connection, log logger.Logger) {
	s.mu.Lock()
	opened := s.opened
	s.active = false
	s.mu.Unlock()

	if opened {
		s.setState(Closing)
	}

	if err := conn.Close(); err != nil {
		log.Warn("error closing connection", logger.Field{Key: "error", Value: err})
	}

	if opened {
		s.console.status(ClosedMessage)
	}

	s.setState(Closed)
}

// resolveEndpoint reads (or takes pre-filled) address and port and validates
// them. A validation failure is reported on the console and ends the run.
func (s *Session) resolveEndpoint() (endpoint.Endpoint, bool, error) {
	rawAddr, err := s.ask(AddressPrompt, s.address)
	if err != nil {
		return endpoint.Endpoint{}, false, err
	}

	if _, err := endpoint.ParseAddress(rawAddr); err != nil {
		s.log.Info("rejected address", logger.Field{Key: "error", Value: err})
		s.console.problem(endpoint.UserMessage(err))
		return endpoint.Endpoint{}, false, nil
	}

	rawPort, err := s.ask(PortPrompt, s.port)
	if err != nil {
		return endpoint.Endpoint{}, false, err
	}

	ep, err := endpoint.Parse(rawAddr, rawPort)
	if err != nil {
		s.log.Info("rejected endpoint", logger.Field{Key: "error", Value: err})
		s.console.problem(endpoint.UserMessage(err))
		return endpoint.Endpoint{}, false, nil
	}

	s.mu.Lock()
	s.endpoint = ep
	s.mu.Unlock()
	return ep, true, nil
}

// ask returns prefilled when set; otherwise it prompts and reads one line.
// End of input yields an empty answer.
func (s *Session) ask(prompt, prefilled string) (string, error) {
	if strings.TrimSpace(prefilled) != "" {
		return prefilled, nil
	}

	s.console.prompt(prompt)
	if s.in.Scan() {
		return s.in.Text(), nil
	}

	if err := s.in.Err(); err != nil {
		return "", fmt.Errorf("read console: %w", err)
	}

	return "", nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.log.Debug("session state", logger.Field{Key: "from", Value: prev.String()}, logger.Field{Key: "to", Value: state.String()})
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint returns the validated endpoint, or the zero Endpoint if
// validation has not succeeded.
func (s *Session) Endpoint() endpoint.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Active reports whether the connection is open and exchanging queries.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Queries returns the number of queries answered so far.
func (s *Session) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}
