package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

// MetricsHandler writes the metrics in set, followed by Go runtime and process metrics, in
// Prometheus text format.
func MetricsHandler(set *metrics.Set) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		set.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
}

// MetricsServer exposes /metrics over HTTP next to the RPC listener.
type MetricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// StartMetricsServer binds addr and serves /metrics in the background.
func StartMetricsServer(addr string, set *metrics.Set) (*MetricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen metrics on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(set))
	ms := &MetricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	log.Infof("serving metrics on http://%s/metrics", ln.Addr())
	return ms, nil
}

// Addr returns the bound address.
func (ms *MetricsServer) Addr() net.Addr {
	return ms.ln.Addr()
}

// Shutdown stops the HTTP server.
func (ms *MetricsServer) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return ms.srv.Shutdown(ctx)
}
