package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tiny-rpc/builtin"
	cmdUtil "tiny-rpc/cmd/util"
	"tiny-rpc/config"
	"tiny-rpc/logging"
	"tiny-rpc/middleware"
	"tiny-rpc/registry"
	"tiny-rpc/server"
)

var (
	serveCmdConfig = config.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the tiny-rpc server",
		Long:    `Start the tiny-rpc server with the builtin methods. The configuration can be set via command line flags or environment variables. The format of the environment variables is TINYRPC_<flag> (e.g. TINYRPC_IDLE_TIMEOUT=30)`,
		PreRunE: processConfig,
		RunE:    run,
	}
	log = logging.GetLogger("serve")
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := config.DefaultServerConfig()
	flags := ServeCmd.PersistentFlags()

	key := "endpoint"
	flags.String(key, defaults.Endpoint, cmdUtil.WrapString("The TCP address the server binds"))

	key = "advertise-addr"
	flags.String(key, "", cmdUtil.WrapString("The address announced to etcd (defaults to the bound address)"))

	key = "timeout"
	flags.Int64(key, defaults.TimeoutSecond, cmdUtil.WrapString("Per-request timeout in seconds (0 disables it)"))

	key = "idle-timeout"
	flags.Int64(key, defaults.IdleTimeoutSecond, cmdUtil.WrapString("Close connections that send nothing for this many seconds (0 disables it)"))

	key = "write-timeout"
	flags.Int64(key, defaults.WriteTimeoutSecond, cmdUtil.WrapString("Timeout in seconds for writing one reply (0 disables it)"))

	key = "shutdown-timeout"
	flags.Int64(key, defaults.ShutdownTimeoutSecond, cmdUtil.WrapString("How long to wait for open connections on shutdown, in seconds"))

	key = "max-frame-bytes"
	flags.Int(key, defaults.MaxFrameBytes, cmdUtil.WrapString("The maximum size of one request in bytes. Larger requests close the connection"))

	key = "rate-limit"
	flags.Float64(key, defaults.RateLimit, cmdUtil.WrapString("Requests per second accepted across all connections (0 disables it)"))

	key = "rate-burst"
	flags.Int(key, defaults.RateBurst, cmdUtil.WrapString("Burst size of the rate limiter"))

	key = "log-level"
	flags.String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "log-file"
	flags.String(key, "", cmdUtil.WrapString("Write logs to this file (rotated at 10 MB) instead of stdout"))

	key = "metrics-endpoint"
	flags.String(key, "", cmdUtil.WrapString("Serve Prometheus metrics over HTTP on this address (e.g. 127.0.0.1:9100)"))

	key = "etcd-endpoints"
	flags.String(key, "", cmdUtil.WrapString("Comma-separated etcd endpoints. When set the server announces itself under the service name"))

	key = "service-name"
	flags.String(key, defaults.ServiceName, cmdUtil.WrapString("The service name announced to etcd"))

	key = "lease-ttl"
	flags.Int64(key, defaults.LeaseTTLSeconds, cmdUtil.WrapString("TTL in seconds of the etcd lease"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.AdvertiseAddr = viper.GetString("advertise-addr")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.IdleTimeoutSecond = viper.GetInt64("idle-timeout")
	serveCmdConfig.WriteTimeoutSecond = viper.GetInt64("write-timeout")
	serveCmdConfig.ShutdownTimeoutSecond = viper.GetInt64("shutdown-timeout")
	serveCmdConfig.MaxFrameBytes = viper.GetInt("max-frame-bytes")
	serveCmdConfig.RateLimit = viper.GetFloat64("rate-limit")
	serveCmdConfig.RateBurst = viper.GetInt("rate-burst")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.LogFile = viper.GetString("log-file")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.EtcdEndpoints = cmdUtil.SplitList(viper.GetString("etcd-endpoints"))
	serveCmdConfig.ServiceName = viper.GetString("service-name")
	serveCmdConfig.LeaseTTLSeconds = viper.GetInt64("lease-ttl")

	return validate(serveCmdConfig)
}

func validate(c *config.ServerConfig) error {
	switch {
	case c.Endpoint == "":
		return errors.Errorf("endpoint must not be empty")
	case c.MaxFrameBytes <= 0:
		return errors.Errorf("max-frame-bytes must be positive, got %d", c.MaxFrameBytes)
	case c.RateLimit < 0:
		return errors.Errorf("rate-limit must not be negative, got %g", c.RateLimit)
	case c.DiscoveryEnabled() && c.ServiceName == "":
		return errors.Errorf("service-name is required when etcd-endpoints is set")
	case c.DiscoveryEnabled() && c.LeaseTTLSeconds <= 0:
		return errors.Errorf("lease-ttl must be positive, got %d", c.LeaseTTLSeconds)
	}
	return nil
}

// run starts the server and blocks until SIGINT or SIGTERM.
func run(_ *cobra.Command, _ []string) error {
	if err := logging.Setup(logging.Options{Level: serveCmdConfig.LogLevel, File: serveCmdConfig.LogFile}); err != nil {
		return err
	}
	defer logging.Close()
	log.Infof("starting tiny-rpc v%s%s", server.Version, serveCmdConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serveUntil(ctx, serveCmdConfig, nil)
}

// serveUntil serves c until ctx is done, then shuts the server down gracefully. onReady, if
// set, is called once the server accepts connections.
func serveUntil(ctx context.Context, c *config.ServerConfig, onReady func(*server.Server)) error {
	srv, cleanup, err := newServer(c)
	if err != nil {
		return err
	}
	defer cleanup()

	served := make(chan error, 1)
	go func() {
		served <- srv.ListenAndServe(c.Endpoint)
	}()

	if onReady != nil {
		select {
		case <-srv.Ready():
			onReady(srv)
		case err := <-served:
			return err
		}
	}

	select {
	case err := <-served:
		// bind failure or fatal accept error
		return err
	case <-ctx.Done():
		log.Infof("received signal, shutting down")
	}

	if err := srv.Shutdown(c.ShutdownTimeout()); err != nil {
		log.Warningf("%v", err)
	}
	return <-served
}

// newServer assembles the server described by c. cleanup releases the metrics endpoint and
// the etcd client.
func newServer(c *config.ServerConfig) (*server.Server, func(), error) {
	methods := builtin.NewRegistry()
	set := metrics.NewSet()

	opts := []server.Option{
		server.WithMaxFrameBytes(c.MaxFrameBytes),
		server.WithIdleTimeout(c.IdleTimeout()),
		server.WithWriteTimeout(c.WriteTimeout()),
		server.WithMetrics(set),
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if c.DiscoveryEnabled() {
		reg, err := registry.NewEtcdRegistry(c.EtcdEndpoints, 0)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = reg.Close() })
		opts = append(opts, server.WithDiscovery(reg, c.ServiceName, c.AdvertiseAddr, c.LeaseTTLSeconds))
	}

	if c.MetricsEndpoint != "" {
		ms, err := server.StartMetricsServer(c.MetricsEndpoint, set)
		if err != nil {
			cleanup()
			return nil, nil, errors.Wrap(err, "start metrics endpoint")
		}
		closers = append(closers, func() { _ = ms.Shutdown(c.ShutdownTimeout()) })
	}

	srv := server.NewServer(methods, opts...)
	srv.Use(middleware.Logging(logging.GetLogger("rpc")))
	srv.Use(middleware.Metrics(set, methods.Has))
	if c.RateLimit > 0 {
		srv.Use(middleware.RateLimit(c.RateLimit, c.RateBurst, methods.Has))
	}
	srv.Use(middleware.Timeout(c.Timeout()))
	return srv, cleanup, nil
}
