package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny-rpc/builtin"
	"tiny-rpc/message"
	"tiny-rpc/registry"
	"tiny-rpc/server"
)

func startServer(t *testing.T) string {
	t.Helper()
	methods := builtin.NewRegistry()
	methods.MustRegisterFunc("slow", func(ctx context.Context) string {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return "done"
	})

	srv := server.NewServer(methods)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	<-srv.Ready()
	t.Cleanup(func() { _ = srv.Shutdown(3 * time.Second) })
	return srv.Addr().String()
}

func dial(t *testing.T, addr string, opts ...Option) *Client {
	t.Helper()
	c, err := Dial(context.Background(), addr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCallResult(t *testing.T) {
	c := dial(t, startServer(t))
	ctx := context.Background()

	var sum int
	require.NoError(t, c.CallResult(ctx, "add", &sum, 2, 3))
	assert.Equal(t, 5, sum)

	var s string
	require.NoError(t, c.CallResult(ctx, "upper", &s, "hi"))
	assert.Equal(t, "HI", s)

	require.NoError(t, c.CallResult(ctx, "sub", nil, 2, 3))
}

func TestCallKeywordArguments(t *testing.T) {
	c := dial(t, startServer(t))

	env, err := c.Call(context.Background(), "sub", nil, map[string]any{"a": 10, "b": 4})
	require.NoError(t, err)
	require.False(t, env.IsError())

	var diff int
	require.NoError(t, env.DecodeResult(&diff))
	assert.Equal(t, 6, diff)
}

func TestRemoteErrors(t *testing.T) {
	c := dial(t, startServer(t))
	ctx := context.Background()

	err := c.CallResult(ctx, "nope", nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, []message.ErrorRecord{{Method: "nope", Msg: message.UnknownMethodMsg}}, remote.Records)
	assert.Equal(t, "remote: unknown method to call (nope)", err.Error())

	err = c.CallResult(ctx, "fail", nil, "boom")
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "remote: boom", err.Error())

	// the connection survives remote errors
	var sum int
	require.NoError(t, c.CallResult(ctx, "add", &sum, 1, 1))
	assert.Equal(t, 2, sum)
}

func TestConcurrentCallsShareConnection(t *testing.T) {
	c := dial(t, startServer(t))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var sum int
			if assert.NoError(t, c.CallResult(context.Background(), "add", &sum, i, i)) {
				assert.Equal(t, 2*i, sum)
			}
		}(i)
	}
	wg.Wait()
}

func TestContextCancelBreaksClient(t *testing.T) {
	c := dial(t, startServer(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, "slow", nil, nil)
	require.Error(t, err)

	_, err = c.Call(context.Background(), "add", []any{1, 2}, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close())
}

func TestCancelAfterReplyKeepsClientUsable(t *testing.T) {
	addr := startServer(t)
	c := dial(t, addr)

	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(time.Duration(i%50) * 10 * time.Microsecond)
			cancel()
		}()
		_, err := c.Call(ctx, "add", []any{i, 1}, nil)
		cancel()
		if err != nil {
			require.ErrorIs(t, err, context.Canceled, "call %d", i)
			c = dial(t, addr)
			continue
		}

		var sum int
		require.NoError(t, c.CallResult(context.Background(), "add", &sum, i, 2), "call %d", i)
		assert.Equal(t, i+2, sum)
	}
}

func TestDialService(t *testing.T) {
	ctx := context.Background()
	addr := startServer(t)

	reg := registry.NewMemoryRegistry()
	_, err := DialService(ctx, reg, "calc")
	assert.ErrorIs(t, err, registry.ErrNoInstances)

	// an unreachable instance sorts first and is skipped
	require.NoError(t, reg.Register(ctx, "calc", registry.ServiceInstance{Addr: "127.0.0.1:1"}, 10))
	require.NoError(t, reg.Register(ctx, "calc", registry.ServiceInstance{Addr: addr}, 10))

	c, err := DialService(ctx, reg, "calc", WithTimeout(time.Second))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, addr, c.Addr())

	var s string
	require.NoError(t, c.CallResult(ctx, "upper", &s, "ok"))
	assert.Equal(t, "OK", s)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1", WithTimeout(time.Second))
	assert.Error(t, err)
}
