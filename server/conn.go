package server

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"tiny-rpc/message"
	"tiny-rpc/protocol"
)

// ConnState is the lifecycle state of one connection.
type ConnState int32

const (
	StateAwaitingData ConnState = iota
	StateProcessing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAwaitingData:
		return "awaiting data"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// SessionInfo describes an open connection.
type SessionInfo struct {
	ID       string
	Remote   string
	State    ConnState
	Requests uint64
	Since    time.Time
}

type sessionKey struct{}

// SessionID returns the id of the connection a request arrived on, or "" outside a request.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// connection holds the per-connection session. It is owned by its handler goroutine; only
// state and requests are read by others.
type connection struct {
	id       string
	conn     net.Conn
	remote   string
	reader   *protocol.Reader
	since    time.Time
	state    atomic.Int32
	requests atomic.Uint64
	once     sync.Once
}

func newConnection(conn net.Conn, maxFrame int) *connection {
	remote := "pipe"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &connection{
		id:     ulid.Make().String(),
		conn:   conn,
		remote: remote,
		reader: protocol.NewReader(conn, maxFrame),
		since:  time.Now(),
	}
}

func (c *connection) setState(st ConnState) {
	c.state.Store(int32(st))
}

func (c *connection) info() SessionInfo {
	return SessionInfo{
		ID:       c.id,
		Remote:   c.remote,
		State:    ConnState(c.state.Load()),
		Requests: c.requests.Load(),
		Since:    c.since,
	}
}

// close closes the socket exactly once.
func (c *connection) close() {
	c.once.Do(func() {
		c.setState(StateClosed)
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debugf("[%s] close: %v", c.id, err)
		}
	})
}

// handleConn serves one connection until the peer closes it or a transport error occurs.
// Requests on a connection are handled strictly one after another, so replies are written in
// request order.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	c := newConnection(conn, s.maxFrame)
	s.conns.Store(c.id, c)
	defer func() {
		s.conns.Delete(c.id)
		c.close()
	}()
	if s.metrics != nil {
		s.metrics.GetOrCreateCounter("tinyrpc_connections_total").Inc()
	}

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), sessionKey{}, c.id))
	defer cancel()

	log.Debugf("[%s] connection from %s", c.id, c.remote)

	for {
		c.setState(StateAwaitingData)
		if s.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
				log.Warningf("[%s] set read deadline: %v", c.id, err)
				return
			}
		}

		frame, err := c.reader.ReadFrame()
		if err != nil {
			s.logReadError(c, err)
			return
		}

		c.setState(StateProcessing)
		c.requests.Add(1)
		body := s.encode(c, s.process(ctx, frame))

		if s.writeTimeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				log.Warningf("[%s] set write deadline: %v", c.id, err)
				return
			}
		}
		if err := protocol.WriteFrame(conn, body); err != nil {
			log.Warningf("[%s] write reply to %s: %v", c.id, c.remote, err)
			return
		}
	}
}

// process decodes one frame and runs it through the middleware chain.
func (s *Server) process(ctx context.Context, frame []byte) *message.Envelope {
	req, err := s.codec.DecodeRequest(frame)
	if err != nil {
		log.Debugf("[%s] invalid request: %v", SessionID(ctx), err)
		if s.metrics != nil {
			s.metrics.GetOrCreateCounter("tinyrpc_invalid_requests_total").Inc()
		}
		return message.EnvelopeFromError(err)
	}
	return s.handler(ctx, req)
}

// encode serializes env. A result that cannot be encoded is replaced by an error envelope.
func (s *Server) encode(c *connection, env *message.Envelope) []byte {
	body, err := s.codec.EncodeEnvelope(env)
	if err == nil {
		return body
	}
	log.Errorf("[%s] encode reply: %v", c.id, err)
	body, err = s.codec.EncodeEnvelope(message.NewErrors(message.ErrorRecord{
		Msg: "result is not serializable: " + errors.Cause(err).Error(),
	}))
	if err != nil {
		return []byte(`{"errors":[{"msg":"result is not serializable"}]}`)
	}
	return body
}

func (s *Server) logReadError(c *connection, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		log.Debugf("[%s] closed by %s after %d request(s)", c.id, c.remote, c.requests.Load())
	case errors.Is(err, protocol.ErrFrameTooLarge):
		log.Warningf("[%s] %s: frame exceeds %d bytes, closing", c.id, c.remote, s.maxFrame)
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Debugf("[%s] idle timeout for %s", c.id, c.remote)
	case errors.Is(err, net.ErrClosed):
		log.Debugf("[%s] connection closed", c.id)
	default:
		log.Warningf("[%s] read from %s: %v", c.id, c.remote, err)
	}
}
