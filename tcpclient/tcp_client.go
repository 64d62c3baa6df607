// Package tcpclient owns the single TCP stream a query session talks over. It
// is a synchronous, half-duplex client: one write per query, one read per
// reply, no framing. A client connects at most once and is released exactly
// once.
package tcpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/iotquery/logger"
	"github.com/cyberinferno/iotquery/query"
)

var (
	// ErrConnectionFailed is returned when the peer refuses or cannot be reached.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrPeerDisconnected is returned by Receive when the peer closed its write
	// side. It marks the end of the session, not a fault.
	ErrPeerDisconnected = errors.New("peer disconnected")
	// ErrNotConnected is returned by Send and Receive outside the Connected state.
	ErrNotConnected = errors.New("not connected")
	// ErrNotProcessable is returned when Send is asked to transmit a code
	// outside the processable set, such as the Exit sentinel.
	ErrNotProcessable = errors.New("query code is not processable")
)

// ConnectionState represents the current state of the TCP connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not yet connected
	Connecting                          // Dial in progress
	Connected                           // Stream open
	Closed                              // Stream released; the client cannot be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is passed to the handler registered with
// OnConnectionState.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address ("host:port")
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// ConnectionStateHandler is called synchronously on every state change.
type ConnectionStateHandler func(event ConnectionStateEvent)

// Reply is the payload of one read from the peer, interpreted as UTF-8 text.
type Reply []byte

// String returns the reply text.
func (r Reply) String() string {
	return string(r)
}

// Config holds configuration for the TCP client.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// ConnectionTimeout bounds the dial; 0 means the OS default.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout bounds a single read; 0 means block until the peer answers.
	ReadTimeout time.Duration
	// ReadBufferSize is the maximum size of one reply.
	ReadBufferSize int
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with ConnectionTimeout 10s, WriteTimeout 10s, ReadTimeout 0
//     and ReadBufferSize 1024.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       0,
		ReadBufferSize:    1024,
	}
}

// Client is the connection manager for one session. Send and Receive are
// meant to be called from a single goroutine in strict alternation; Close
// may be called from anywhere.
type Client struct {
	config Config
	log    logger.Logger
	dialer net.Dialer

	mu       sync.Mutex
	conn     net.Conn
	state    ConnectionState
	releases int
	onState  ConnectionStateHandler

	buf []byte
}

// New creates a client in Disconnected state.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//   - log: Logger for connection events
//
// Returns:
//   - A new *Client; call Close on every exit path
func New(config Config, log logger.Logger) *Client {
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 1024
	}

	return &Client{
		config: config,
		log:    log.With(logger.Field{Key: "remote", Value: config.Address}),
		dialer: net.Dialer{Timeout: config.ConnectionTimeout},
		state:  Disconnected,
		buf:    make([]byte, config.ReadBufferSize),
	}
}

// OnConnectionState registers the handler for state changes. Pass nil to clear.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// Connect opens the TCP stream. It may succeed at most once per client.
//
// Parameters:
//   - ctx: Cancels the dial
//
// Returns:
//   - nil on success
//   - An error wrapping ErrConnectionFailed if the dial fails or the client
//     was already used
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: client is %s", ErrConnectionFailed, state)
	}
	c.mu.Unlock()

	c.setState(Connecting, nil)

	conn, err := c.dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		c.setState(Disconnected, err)
		c.log.Warn("connect failed", logger.Field{Key: "error", Value: err})
		return err
	}

	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: client closed while connecting", ErrConnectionFailed)
	}
	c.conn = conn
	c.mu.Unlock()

	c.setState(Connected, nil)
	c.log.Info("connected", logger.Field{Key: "local", Value: conn.LocalAddr().String()})
	return nil
}

// Send writes the token for code as a single message. Only processable codes
// may be sent; the Exit sentinel never reaches the wire.
//
// Parameters:
//   - code: The query to transmit
//
// Returns:
//   - nil on success; ErrNotProcessable, ErrNotConnected or the write error otherwise
func (c *Client) Send(code query.Code) error {
	if !code.IsProcessable() {
		return fmt.Errorf("%w: %s", ErrNotProcessable, code)
	}

	conn, err := c.current()
	if err != nil {
		return err
	}

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	n, err := conn.Write(code.Bytes())
	if err != nil {
		c.log.Error("send failed", logger.Field{Key: "query", Value: code.String()}, logger.Field{Key: "error", Value: err})
		return fmt.Errorf("send query %s: %w", code, err)
	}

	c.log.Debug("query sent", logger.Field{Key: "query", Value: code.String()}, logger.Field{Key: "bytes", Value: n})
	return nil
}

// Receive blocks for one read and returns its bytes as the reply. Each call
// is treated as one complete reply.
//
// Returns:
//   - The reply bytes (a fresh copy)
//   - ErrPeerDisconnected if the peer closed its side, or a transport error
func (c *Client) Receive() (Reply, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}

	if c.config.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			return nil, err
		}
	}

	n, err := conn.Read(c.buf)
	if n > 0 {
		reply := make(Reply, n)
		copy(reply, c.buf[:n])
		c.log.Debug("reply received", logger.Field{Key: "bytes", Value: n})
		return reply, nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		c.log.Info("peer closed the connection")
		return nil, ErrPeerDisconnected
	}

	c.log.Error("receive failed", logger.Field{Key: "error", Value: err})
	return nil, fmt.Errorf("receive reply: %w", err)
}

// Close releases the socket. Only the first call has an effect; later calls
// return nil.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
		c.releases++
	}
	c.mu.Unlock()

	c.setState(Closed, nil)
	c.log.Debug("connection released")
	return err
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

// Releases returns how many times an open socket was actually closed. It is
// 0 or 1 over the client's lifetime.
func (c *Client) Releases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releases
}

func (c *Client) current() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected || c.conn == nil {
		return nil, fmt.Errorf("%w: client is %s", ErrNotConnected, c.state)
	}

	return c.conn, nil
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onState
	c.mu.Unlock()

	if handler != nil {
		handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}
