package peer

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/cyberinferno/iotquery/logger"
)

// session serves one client connection: read a token, write its reply,
// repeat until the client leaves.
type session struct {
	id     uint32
	conn   net.Conn
	server *Server
	log    logger.Logger

	closeOnce sync.Once
	closeErr  error
}

func newSession(id uint32, conn net.Conn, server *Server) *session {
	return &session{
		id:     id,
		conn:   conn,
		server: server,
		log: server.log.With(
			logger.Field{Key: "session", Value: id},
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
		),
	}
}

// ID returns the session id assigned at accept time.
func (s *session) ID() uint32 {
	return s.id
}

// Handle runs the read/reply loop until the connection ends.
func (s *session) Handle(ctx context.Context) {
	defer s.Close()

	s.log.Debug("session opened")
	buf := make([]byte, s.server.config.ReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n == 0 || err != nil {
			s.log.Debug("session ended", logger.Field{Key: "error", Value: err})
			return
		}

		payload := string(buf[:n])
		s.server.record(payload)

		reply := s.resolve(ctx, strings.TrimSpace(payload))
		if err := s.Send([]byte(reply)); err != nil {
			s.log.Warn("reply write failed", logger.Field{Key: "error", Value: err})
			return
		}
	}
}

// resolve never returns an empty reply: an empty write would look like a
// disconnect to the client.
func (s *session) resolve(ctx context.Context, token string) string {
	reply, err := s.server.config.Source.Reply(ctx, token)
	switch {
	case errors.Is(err, ErrUnknownQuery):
		s.log.Info("unknown query", logger.Field{Key: "token", Value: token})
		return UnknownQueryReply()
	case err != nil:
		s.log.Error("reply lookup failed", logger.Field{Key: "token", Value: token}, logger.Field{Key: "error", Value: err})
		return "Telemetry is unavailable right now, please try again later."
	case reply == "":
		return "no data"
	default:
		s.log.Debug("query answered", logger.Field{Key: "token", Value: token})
		return reply
	}
}

// Send writes one reply.
func (s *session) Send(data []byte) error {
	_, err := s.conn.Write(data)
	return err
}

// Close closes the connection once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}
