// Package config holds the server and client settings of tiny-rpc and their defaults.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the address the server binds when none is configured.
	DefaultEndpoint = "127.0.0.1:8000"
	// DefaultServiceName is the name announced to etcd.
	DefaultServiceName = "tiny-rpc"
	// DefaultMaxFrameBytes bounds a single request frame.
	DefaultMaxFrameBytes = 1 << 20
)

// --------------------------------------------------------------------------
// Server configuration
// --------------------------------------------------------------------------

// ServerConfig holds all parameters of a tiny-rpc server process.
type ServerConfig struct {
	// Endpoint is the TCP address to bind.
	Endpoint string
	// AdvertiseAddr is announced to etcd instead of the bound address when set.
	AdvertiseAddr string

	// TimeoutSecond limits a single request; 0 disables the limit.
	TimeoutSecond int64
	// IdleTimeoutSecond closes connections that send nothing for this long; 0 disables it.
	IdleTimeoutSecond int64
	// WriteTimeoutSecond bounds writing one reply; 0 disables it.
	WriteTimeoutSecond int64
	// ShutdownTimeoutSecond is how long shutdown waits for open connections.
	ShutdownTimeoutSecond int64
	// MaxFrameBytes bounds the size of one request frame.
	MaxFrameBytes int

	// RateLimit is the allowed requests per second across all connections; 0 disables it.
	RateLimit float64
	RateBurst int

	// Logging configuration
	LogLevel string
	LogFile  string

	// MetricsEndpoint serves /metrics over HTTP when set.
	MetricsEndpoint string

	// Service discovery; disabled when EtcdEndpoints is empty.
	EtcdEndpoints   []string
	ServiceName     string
	LeaseTTLSeconds int64
}

// DefaultServerConfig returns the configuration used when nothing is overridden.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Endpoint:              DefaultEndpoint,
		ShutdownTimeoutSecond: 5,
		MaxFrameBytes:         DefaultMaxFrameBytes,
		RateBurst:             1,
		LogLevel:              "info",
		ServiceName:           DefaultServiceName,
		LeaseTTLSeconds:       10,
	}
}

// Timeout returns the per-request limit.
func (c *ServerConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSecond)
}

// IdleTimeout returns the read idle limit.
func (c *ServerConfig) IdleTimeout() time.Duration {
	return seconds(c.IdleTimeoutSecond)
}

// WriteTimeout returns the write limit.
func (c *ServerConfig) WriteTimeout() time.Duration {
	return seconds(c.WriteTimeoutSecond)
}

// ShutdownTimeout returns how long shutdown waits for connections.
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutSecond)
}

// DiscoveryEnabled reports whether the server announces itself to etcd.
func (c *ServerConfig) DiscoveryEnabled() bool {
	return len(c.EtcdEndpoints) > 0
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", secondsOrOff(c.TimeoutSecond))
	addField("Idle Timeout", secondsOrOff(c.IdleTimeoutSecond))
	addField("Write Timeout", secondsOrOff(c.WriteTimeoutSecond))
	addField("Shutdown Timeout", fmt.Sprintf("%d sec", c.ShutdownTimeoutSecond))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameBytes))
	if c.RateLimit > 0 {
		addField("Rate Limit", fmt.Sprintf("%g req/s (burst %d)", c.RateLimit, c.RateBurst))
	} else {
		addField("Rate Limit", "off")
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.LogFile != "" {
		addField("Log File", c.LogFile)
	} else {
		addField("Log File", "stdout")
	}

	if c.MetricsEndpoint != "" {
		addSection("Metrics")
		addField("Endpoint", c.MetricsEndpoint)
	}

	if c.DiscoveryEnabled() {
		addSection("Discovery")
		addField("Service Name", c.ServiceName)
		addField("Lease TTL", fmt.Sprintf("%d sec", c.LeaseTTLSeconds))
		if c.AdvertiseAddr != "" {
			addField("Advertise Address", c.AdvertiseAddr)
		}
		for i, endpoint := range c.EtcdEndpoints {
			addField("etcd "+strconv.Itoa(i), endpoint)
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration
// --------------------------------------------------------------------------

// ClientConfig holds the parameters of the tiny-rpc client.
type ClientConfig struct {
	// Endpoint is the server address. Ignored when EtcdEndpoints is set.
	Endpoint string
	// TimeoutSecond bounds dialing and each call; 0 disables it.
	TimeoutSecond int
	MaxFrameBytes int

	EtcdEndpoints []string
	ServiceName   string
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Endpoint:      DefaultEndpoint,
		TimeoutSecond: 10,
		MaxFrameBytes: DefaultMaxFrameBytes,
		ServiceName:   DefaultServiceName,
	}
}

// Timeout returns the dial and call limit.
func (c *ClientConfig) Timeout() time.Duration {
	return seconds(int64(c.TimeoutSecond))
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", secondsOrOff(int64(c.TimeoutSecond)))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameBytes))

	addSection("Endpoints")
	if len(c.EtcdEndpoints) == 0 {
		addField("0", c.Endpoint)
		return sb.String()
	}
	addField("Service Name", c.ServiceName)
	for i, endpoint := range c.EtcdEndpoints {
		addField("etcd "+strconv.Itoa(i), endpoint)
	}
	return sb.String()
}

func seconds(s int64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

func secondsOrOff(s int64) string {
	if s <= 0 {
		return "off"
	}
	return fmt.Sprintf("%d sec", s)
}
