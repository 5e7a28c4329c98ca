package serve

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny-rpc/client"
	"tiny-rpc/config"
	"tiny-rpc/server"
)

func TestProcessConfig(t *testing.T) {
	require.NoError(t, ServeCmd.ParseFlags([]string{
		"--endpoint", "127.0.0.1:9000",
		"--rate-limit", "5",
		"--rate-burst", "3",
		"--idle-timeout", "30",
		"--etcd-endpoints", "a:2379, b:2379",
	}))
	require.NoError(t, processConfig(ServeCmd, nil))

	assert.Equal(t, "127.0.0.1:9000", serveCmdConfig.Endpoint)
	assert.Equal(t, 5.0, serveCmdConfig.RateLimit)
	assert.Equal(t, 3, serveCmdConfig.RateBurst)
	assert.Equal(t, 30*time.Second, serveCmdConfig.IdleTimeout())
	assert.Equal(t, []string{"a:2379", "b:2379"}, serveCmdConfig.EtcdEndpoints)
	assert.Equal(t, "tiny-rpc", serveCmdConfig.ServiceName)
	assert.Equal(t, 1<<20, serveCmdConfig.MaxFrameBytes)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validate(config.DefaultServerConfig()))

	c := config.DefaultServerConfig()
	c.Endpoint = ""
	assert.Error(t, validate(c))

	c = config.DefaultServerConfig()
	c.MaxFrameBytes = 0
	assert.Error(t, validate(c))

	c = config.DefaultServerConfig()
	c.EtcdEndpoints = []string{"a:2379"}
	c.ServiceName = ""
	assert.Error(t, validate(c))
}

func TestNewServer(t *testing.T) {
	c := config.DefaultServerConfig()
	c.RateLimit = 1000
	c.RateBurst = 100
	c.TimeoutSecond = 1
	c.MetricsEndpoint = "127.0.0.1:0"

	srv, cleanup, err := newServer(c)
	require.NoError(t, err)
	defer cleanup()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	<-srv.Ready()
	defer srv.Shutdown(time.Second)

	cl, err := client.Dial(context.Background(), srv.Addr().String())
	require.NoError(t, err)
	defer cl.Close()

	var s string
	require.NoError(t, cl.CallResult(context.Background(), "upper", &s, "serve"))
	assert.Equal(t, "SERVE", s)
}

func TestServeUntilCancelled(t *testing.T) {
	c := config.DefaultServerConfig()
	c.Endpoint = "127.0.0.1:0"
	c.ShutdownTimeoutSecond = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveUntil(ctx, c, func(srv *server.Server) {
			addrs <- srv.Addr().String()
		})
	}()

	var addr string
	select {
	case addr = <-addrs:
	case err := <-done:
		t.Fatalf("serveUntil returned early: %v", err)
	}

	cl, err := client.Dial(context.Background(), addr)
	require.NoError(t, err)
	var sum int
	require.NoError(t, cl.CallResult(context.Background(), "add", &sum, 1, 2))
	assert.Equal(t, 3, sum)
	require.NoError(t, cl.Close())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveUntil did not return after cancellation")
	}

	_, err = net.Dial("tcp", addr)
	assert.Error(t, err, "listener must be closed")
}

func TestServeUntilBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c := config.DefaultServerConfig()
	c.Endpoint = ln.Addr().String()
	assert.Error(t, serveUntil(context.Background(), c, func(*server.Server) {}))
}
