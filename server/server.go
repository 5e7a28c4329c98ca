// Package server implements the tiny-rpc TCP server.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection, requests handled in order)
//	  → protocol.Reader frame → Codec.DecodeRequest → Middleware Chain → dispatch
//	    → Codec.EncodeEnvelope → protocol.WriteFrame
//
// A decode failure, an unknown method and a failing handler are all answered with an error
// envelope and the connection stays open. Transport errors close the connection.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"tiny-rpc/codec"
	"tiny-rpc/logging"
	"tiny-rpc/method"
	"tiny-rpc/middleware"
	"tiny-rpc/protocol"
	"tiny-rpc/registry"
)

var log = logging.GetLogger("server")

// Version is reported to service discovery and by the CLI.
var Version = "0.1.0"

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown was called on a
// server that had not started yet.
var ErrServerClosed = errors.New("server: closed")

// Option configures a Server.
type Option func(*Server)

// WithCodec replaces the JSON codec.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithMaxFrameBytes bounds the size of one request frame.
func WithMaxFrameBytes(n int) Option {
	return func(s *Server) { s.maxFrame = n }
}

// WithIdleTimeout closes connections that send nothing for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithWriteTimeout bounds writing one reply. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithMetrics records connection and request metrics in set.
func WithMetrics(set *metrics.Set) Option {
	return func(s *Server) { s.metrics = set }
}

// WithDiscovery announces the server under serviceName once it listens. advertiseAddr is
// the address clients should dial; empty means the bound address.
func WithDiscovery(reg registry.Registry, serviceName, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.serviceName = serviceName
		s.advertiseAddr = advertiseAddr
		s.leaseTTL = ttl
	}
}

// Server serves the methods of one registry over TCP.
type Server struct {
	methods      *method.Registry
	codec        codec.Codec
	maxFrame     int
	idleTimeout  time.Duration
	writeTimeout time.Duration

	mu          sync.Mutex
	listener    net.Listener
	ready       chan struct{}           // closed once the listener is set
	wg          sync.WaitGroup          // one count per open connection
	shutdown    atomic.Bool             // set before the listener is closed
	middlewares []middleware.Middleware // applied in the order added
	handler     middleware.HandlerFunc  // middleware chain around dispatch, built by Serve
	conns       *xsync.MapOf[string, *connection]

	metrics *metrics.Set

	registry      registry.Registry
	serviceName   string
	advertiseAddr string
	leaseTTL      int64
	announced     bool
}

// NewServer creates a server for the given methods.
func NewServer(methods *method.Registry, opts ...Option) *Server {
	s := &Server{
		methods:  methods,
		codec:    codec.Default(),
		maxFrame: protocol.DefaultMaxFrameBytes,
		ready:    make(chan struct{}),
		conns:    xsync.NewMapOf[string, *connection](),
		leaseTTL: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.metrics.GetOrCreateGauge("tinyrpc_open_connections", func() float64 {
			return float64(s.conns.Size())
		})
		s.metrics.GetOrCreateGauge("tinyrpc_registered_methods", func() float64 {
			return float64(s.methods.Len())
		})
	}
	return s
}

// Use registers a middleware. Middlewares must be added before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// ListenAndServe binds addr and serves on it. A bind failure is returned immediately.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := Listen(context.Background(), addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve seals the method registry, announces the server if discovery is configured and
// accepts connections on ln until Shutdown. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("server: already serving")
	}
	s.build()
	s.listener = ln
	close(s.ready)
	s.mu.Unlock()

	log.Infof("listening on %s with %d methods", ln.Addr(), s.methods.Len())

	if err := s.announce(); err != nil {
		_ = ln.Close()
		return err
	}

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "accept")
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, time.Second)
			}
			log.Errorf("accept error: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		// Add must not race with the Wait in Shutdown.
		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// build seals the method registry and assembles the middleware chain around dispatch.
func (s *Server) build() {
	s.methods.Seal()
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)
}

// Addr returns the listening address, blocking until Serve has bound one.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr()
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	return s.conns.Size()
}

// Sessions returns a snapshot of the open connections.
func (s *Server) Sessions() []SessionInfo {
	infos := make([]SessionInfo, 0, s.conns.Size())
	s.conns.Range(func(_ string, c *connection) bool {
		infos = append(infos, c.info())
		return true
	})
	return infos
}

// Shutdown performs a graceful shutdown:
//  1. deregister from service discovery so clients stop dialing this server
//  2. set the shutdown flag and close the listener
//  3. wait up to timeout for open connections to finish
//
// Connections are never force-closed. If some are still open when timeout expires an error
// naming how many is returned.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.deregister(timeout)

	s.mu.Lock()
	s.shutdown.Store(true)
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Infof("shutdown complete")
		return nil
	case <-time.After(timeout):
		open := s.Sessions()
		for _, info := range open {
			log.Warningf("connection %s from %s still open (%s)", info.ID, info.Remote, info.State)
		}
		return errors.Errorf("shutdown: %d connection(s) still open after %s", len(open), timeout)
	}
}

func (s *Server) announce() error {
	if s.registry == nil {
		return nil
	}
	addr := s.advertiseAddr
	if addr == "" {
		addr = s.listener.Addr().String()
		s.advertiseAddr = addr
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instance := registry.ServiceInstance{
		Addr:    addr,
		Methods: s.methods.Names(),
		Version: Version,
	}
	if err := s.registry.Register(ctx, s.serviceName, instance, s.leaseTTL); err != nil {
		return errors.Wrapf(err, "announce %s as %s", addr, s.serviceName)
	}
	s.mu.Lock()
	s.announced = true
	s.mu.Unlock()
	return nil
}

func (s *Server) deregister(timeout time.Duration) {
	s.mu.Lock()
	announced := s.announced
	s.announced = false
	s.mu.Unlock()
	if !announced {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.registry.Deregister(ctx, s.serviceName, s.advertiseAddr); err != nil {
		log.Errorf("deregister %s: %v", s.advertiseAddr, err)
	}
}

func (s *Server) String() string {
	select {
	case <-s.ready:
		return fmt.Sprintf("tiny-rpc server on %s", s.Addr())
	default:
		return "tiny-rpc server (not listening)"
	}
}
