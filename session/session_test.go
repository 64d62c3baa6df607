package session

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cyberinferno/iotquery/endpoint"
	"github.com/cyberinferno/iotquery/logger"
	"github.com/cyberinferno/iotquery/peer"
	"github.com/cyberinferno/iotquery/query"
	"github.com/cyberinferno/iotquery/tcpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records every call the session makes on its connection.
type fakeConn struct {
	connectErr error
	replies    []tcpclient.Reply
	recvErrs   []error
	sent       []query.Code
	connects   int
	closes     int
}

func (f *fakeConn) Connect(ctx context.Context) error {
	f.connects++
	return f.connectErr
}

func (f *fakeConn) Send(code query.Code) error {
	f.sent = append(f.sent, code)
	return nil
}

func (f *fakeConn) Receive() (tcpclient.Reply, error) {
	i := len(f.sent) - 1
	if i < len(f.recvErrs) && f.recvErrs[i] != nil {
		return nil, f.recvErrs[i]
	}

	if i < len(f.replies) {
		return f.replies[i], nil
	}

	return nil, tcpclient.ErrPeerDisconnected
}

func (f *fakeConn) Close() error {
	f.closes++
	return nil
}

func runFake(t *testing.T, input string, conn *fakeConn) (*Session, string, error) {
	t.Helper()

	var out bytes.Buffer
	built := 0
	s := New(Options{
		In:      strings.NewReader(input),
		Out:     &out,
		Log:     logger.NewNopLogger(),
		NoColor: true,
		Connect: func(ep endpoint.Endpoint) Connection {
			built++
			return conn
		},
	})

	err := s.Run(context.Background())
	assert.LessOrEqual(t, built, 1)
	return s, out.String(), err
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Active", Active.String())
	assert.Equal(t, "Closing", Closing.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", State(-1).String())
}

func TestSession_InvalidEndpoint(t *testing.T) {
	t.Run("bad address aborts before the port prompt", func(t *testing.T) {
		conn := &fakeConn{}
		s, out, err := runFake(t, "localhost\n4226\n1\n", conn)

		require.NoError(t, err)
		assert.Contains(t, out, endpoint.InvalidAddressMessage)
		assert.NotContains(t, out, PortPrompt)
		assert.NotContains(t, out, ClosedMessage)
		assert.Zero(t, conn.connects)
		assert.Equal(t, Closed, s.State())
		assert.False(t, s.Endpoint().IsValid())
	})

	t.Run("bad port aborts", func(t *testing.T) {
		for _, port := range []string{"0", "65536", "abc", "-1"} {
			conn := &fakeConn{}
			s, out, err := runFake(t, "127.0.0.1\n"+port+"\n1\n", conn)

			require.NoError(t, err)
			assert.Contains(t, out, endpoint.InvalidPortMessage)
			assert.Zero(t, conn.connects)
			assert.Empty(t, conn.sent)
			assert.Equal(t, Closed, s.State())
		}
	})

	t.Run("empty console", func(t *testing.T) {
		conn := &fakeConn{}
		_, out, err := runFake(t, "", conn)

		require.NoError(t, err)
		assert.Contains(t, out, endpoint.InvalidAddressMessage)
		assert.Zero(t, conn.connects)
	})
}

func TestSession_ConnectFailure(t *testing.T) {
	conn := &fakeConn{connectErr: tcpclient.ErrConnectionFailed}
	s, out, err := runFake(t, "127.0.0.1\n4226\n1\n", conn)

	require.NoError(t, err)
	assert.Contains(t, out, "Unable to connect to server at 127.0.0.1:4226.")
	assert.NotContains(t, out, ConnectedMessage)
	assert.Empty(t, conn.sent)
	assert.Equal(t, 1, conn.closes)
	assert.Equal(t, Closed, s.State())
}

func TestSession_Sentinel(t *testing.T) {
	conn := &fakeConn{}
	s, out, err := runFake(t, "127.0.0.1\n4226\n4\n", conn)

	require.NoError(t, err)
	assert.Empty(t, conn.sent)
	assert.Equal(t, 1, conn.closes)
	assert.Contains(t, out, DisconnectMessage)
	assert.True(t, strings.HasSuffix(out, ClosedMessage+"\n"))
	assert.Equal(t, Closed, s.State())
	assert.False(t, s.Active())
}

func TestSession_RejectsBeforeWriting(t *testing.T) {
	conn := &fakeConn{replies: []tcpclient.Reply{tcpclient.Reply("ok")}}
	s, out, err := runFake(t, "127.0.0.1\n4226\nhello\n5\n\n2\n4\n", conn)

	require.NoError(t, err)
	assert.Equal(t, []query.Code{query.DishwasherWater}, conn.sent)
	assert.Equal(t, 3, strings.Count(out, query.InvalidInputMessage))
	assert.Equal(t, 1, s.Queries())
	assert.Equal(t, 1, conn.closes)

	firstReject := strings.Index(out, query.InvalidInputMessage)
	reply := strings.Index(out, ResultsHeader)
	assert.Less(t, firstReject, reply)
}

func TestSession_PeerDisconnect(t *testing.T) {
	conn := &fakeConn{}
	s, out, err := runFake(t, "127.0.0.1\n4226\n1\n2\n", conn)

	require.NoError(t, err)
	assert.Equal(t, []query.Code{query.FridgeMoisture}, conn.sent)
	assert.Contains(t, out, DisconnectMessage)
	assert.Contains(t, out, ClosedMessage)
	assert.Equal(t, 1, conn.closes)
	assert.Zero(t, s.Queries())
}

func TestSession_TransportFault(t *testing.T) {
	conn := &fakeConn{recvErrs: []error{assert.AnError}}
	s, out, err := runFake(t, "127.0.0.1\n4226\n3\n", conn)

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, conn.closes)
	assert.Contains(t, out, ClosedMessage)
	assert.Equal(t, Closed, s.State())
}

func TestSession_Prefilled(t *testing.T) {
	conn := &fakeConn{}
	var out bytes.Buffer
	s := New(Options{
		In:      strings.NewReader("4\n"),
		Out:     &out,
		NoColor: true,
		Address: "10.0.0.7",
		Port:    "4226",
		Connect: func(ep endpoint.Endpoint) Connection { return conn },
	})

	require.NoError(t, s.Run(context.Background()))
	assert.NotContains(t, out.String(), AddressPrompt)
	assert.NotContains(t, out.String(), PortPrompt)
	assert.Equal(t, "10.0.0.7:4226", s.Endpoint().String())
}

func startPeer(t *testing.T, cfg peer.Config) *peer.Server {
	t.Helper()

	cfg.Addr = "127.0.0.1:0"
	p := peer.New(cfg, logger.NewNopLogger())
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func runTCP(t *testing.T, addr, input string) (*Session, *tcpclient.Client, string, error) {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	var out bytes.Buffer
	var client *tcpclient.Client
	base := tcpclient.DefaultConfig("")
	base.ReadTimeout = 5 * time.Second
	connector := TCPConnector(base, logger.NewNopLogger())

	s := New(Options{
		In:      strings.NewReader(host + "\n" + port + "\n" + input),
		Out:     &out,
		NoColor: true,
		Connect: func(ep endpoint.Endpoint) Connection {
			client = connector(ep).(*tcpclient.Client)
			return client
		},
	})

	err = s.Run(context.Background())
	return s, client, out.String(), err
}

func TestSession_OverTCP(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		p := startPeer(t, peer.Config{Source: peer.StaticReplies{"1": "avg_moisture=3.2C"}})

		s, client, out, err := runTCP(t, p.Addr(), "1\n4\n")
		require.NoError(t, err)
		assert.Contains(t, out, ConnectedMessage)
		assert.Contains(t, out, ResultsHeader+"\navg_moisture=3.2C\n")
		assert.Equal(t, []string{"1"}, p.Received())
		assert.Equal(t, 1, s.Queries())
		assert.Equal(t, 1, client.Releases())
		assert.Equal(t, tcpclient.Closed, client.GetState())
	})

	t.Run("junk then a valid query writes once", func(t *testing.T) {
		p := startPeer(t, peer.Config{})

		_, _, out, err := runTCP(t, p.Addr(), "what\n0\n2\n4\n")
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(out, query.InvalidInputMessage))
		assert.Equal(t, []string{"2"}, p.Received())
	})

	t.Run("sentinel writes nothing", func(t *testing.T) {
		p := startPeer(t, peer.Config{})

		_, client, out, err := runTCP(t, p.Addr(), "4\n")
		require.NoError(t, err)
		assert.Empty(t, p.Received())
		assert.Contains(t, out, ClosedMessage)
		assert.Equal(t, 1, client.Releases())
	})

	t.Run("peer closes right after accept", func(t *testing.T) {
		p := startPeer(t, peer.Config{CloseAfterAccept: true})

		s, client, out, err := runTCP(t, p.Addr(), "1\n")
		require.NoError(t, err)
		assert.Contains(t, out, DisconnectMessage)
		assert.Contains(t, out, ClosedMessage)
		assert.Equal(t, 1, client.Releases())
		assert.Equal(t, Closed, s.State())
	})

	t.Run("nothing listening", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		require.NoError(t, ln.Close())

		s, client, out, err := runTCP(t, addr, "1\n")
		require.NoError(t, err)
		assert.Contains(t, out, "Unable to connect")
		assert.Zero(t, client.Releases())
		assert.Equal(t, Closed, s.State())
	})
}

// stateLogger keeps the target of every "session state" debug entry.
type stateLogger struct {
	states *[]string
}

func (l stateLogger) Debug(msg string, fields ...logger.Field) {
	if msg != "session state" {
		return
	}

	for _, f := range fields {
		if f.Key == "to" {
			*l.states = append(*l.states, f.Value.(string))
		}
	}
}

func (l stateLogger) Info(string, ...logger.Field)       {}
func (l stateLogger) Warn(string, ...logger.Field)       {}
func (l stateLogger) Error(string, ...logger.Field)      {}
func (l stateLogger) With(...logger.Field) logger.Logger { return l }
func (l stateLogger) Close() error                       { return nil }

func TestSession_StateTransitions(t *testing.T) {
	run := func(t *testing.T, input string, conn *fakeConn) []string {
		var states []string
		s := New(Options{
			In:      strings.NewReader(input),
			Out:     &bytes.Buffer{},
			Log:     stateLogger{states: &states},
			NoColor: true,
			Connect: func(endpoint.Endpoint) Connection { return conn },
		})

		require.NoError(t, s.Run(context.Background()))
		return states
	}

	t.Run("connect failure goes straight to closed", func(t *testing.T) {
		conn := &fakeConn{connectErr: tcpclient.ErrConnectionFailed}
		states := run(t, "127.0.0.1\n4226\n", conn)

		assert.Equal(t, []string{"Closed"}, states)
		assert.Equal(t, 1, conn.closes)
	})

	t.Run("open connection passes through closing", func(t *testing.T) {
		states := run(t, "127.0.0.1\n4226\n4\n", &fakeConn{})
		assert.Equal(t, []string{"Active", "Closing", "Closed"}, states)
	})

	t.Run("invalid address never connects", func(t *testing.T) {
		conn := &fakeConn{}
		states := run(t, " 127.0.0.1\n", conn)

		assert.Equal(t, []string{"Closed"}, states)
		assert.Zero(t, conn.connects)
	})
}
