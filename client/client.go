// Package client is a small synchronous client for tiny-rpc servers.
//
// A Client owns one TCP connection and sends one request at a time; concurrent calls on the
// same Client are serialized.
package client

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"tiny-rpc/codec"
	"tiny-rpc/logging"
	"tiny-rpc/message"
	"tiny-rpc/protocol"
	"tiny-rpc/registry"
)

var log = logging.GetLogger("client")

// ErrClosed is returned by calls on a closed client, or after a transport error broke the
// connection.
var ErrClosed = errors.New("client: connection closed")

// RemoteError is a reply that carried an error envelope.
type RemoteError struct {
	Records []message.ErrorRecord
}

func (e *RemoteError) Error() string {
	msgs := make([]string, 0, len(e.Records))
	for _, r := range e.Records {
		switch {
		case len(r.Loc) > 0:
			msgs = append(msgs, strings.Join(r.Loc, ".")+": "+r.Msg)
		case r.Method != "":
			msgs = append(msgs, r.Msg+" ("+r.Method+")")
		default:
			msgs = append(msgs, r.Msg)
		}
	}
	return "remote: " + strings.Join(msgs, "; ")
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each call that has no context deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxFrameBytes bounds the size of one reply.
func WithMaxFrameBytes(n int) Option {
	return func(c *Client) { c.maxFrame = n }
}

// WithCodec replaces the JSON codec.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) { c.codec = cd }
}

// Client is a connection to one tiny-rpc server. Calls are serialized: one request is in
// flight at a time and replies are matched to requests by order.
type Client struct {
	addr     string
	codec    codec.Codec
	timeout  time.Duration
	maxFrame int

	mu     sync.Mutex
	conn   net.Conn
	reader *protocol.Reader
	closed bool
}

// Dial connects to the server at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c := &Client{addr: addr, codec: codec.Default(), timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	c.conn = conn
	c.reader = protocol.NewReader(conn, c.maxFrame)
	return c, nil
}

// DialService looks up serviceName in reg and connects to the first instance that accepts
// the connection.
func DialService(ctx context.Context, reg registry.Registry, serviceName string, opts ...Option) (*Client, error) {
	instances, err := reg.Discover(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, errors.Wrapf(registry.ErrNoInstances, "service %s", serviceName)
	}

	var lastErr error
	for _, inst := range instances {
		c, err := Dial(ctx, inst.Addr, opts...)
		if err == nil {
			return c, nil
		}
		log.Warningf("instance %s of %s unreachable: %v", inst.Addr, serviceName, err)
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "no reachable instance of %s", serviceName)
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// Call sends one request and returns the reply envelope, which may carry errors. The
// returned error is set only for transport or encoding failures; after a transport failure
// the client is closed.
func (c *Client) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (*message.Envelope, error) {
	body, err := c.codec.EncodeRequest(message.NewRequest(method, args, kwargs))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.fail(errors.Wrap(err, "set deadline"))
	}

	// unblock the exchange when ctx is cancelled
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
		close(fired)
	})
	defer func() {
		// a late cancellation must not leave a past deadline for the next call
		if !stop() {
			<-fired
			_ = c.conn.SetDeadline(time.Time{})
		}
	}()

	if err := protocol.WriteFrame(c.conn, body); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, c.fail(errors.Wrapf(err, "send %s", method))
	}
	frame, err := c.reader.ReadFrame()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, c.fail(errors.Wrapf(err, "receive reply to %s", method))
	}
	return c.codec.DecodeEnvelope(frame)
}

// CallResult calls method with positional args and decodes the result into out, which may be
// nil. An error envelope is returned as *RemoteError.
func (c *Client) CallResult(ctx context.Context, method string, out any, args ...any) error {
	env, err := c.Call(ctx, method, args, nil)
	if err != nil {
		return err
	}
	if env.IsError() {
		return &RemoteError{Records: env.Errors}
	}
	if out == nil {
		return nil
	}
	return env.DecodeResult(out)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// fail closes the connection after a transport error; the stream position is unknown.
func (c *Client) fail(err error) error {
	c.closed = true
	_ = c.conn.Close()
	return err
}
