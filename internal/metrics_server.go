package internal

import (
	"chat-sync/errors"
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 2 * time.Second

// MetricsServer exposes a registry on /metrics until its context ends.
type MetricsServer struct {
	log      *slog.Logger
	listener net.Listener
	server   *http.Server
}

func NewMetricsServer(log *slog.Logger, addr string, gatherer prometheus.Gatherer) (*MetricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &MetricsServer{
		log:      log,
		listener: listener,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}, nil
}

func (m *MetricsServer) Addr() string {
	return m.listener.Addr().String()
}

// Run serves until ctx is canceled, then shuts the server down.
func (m *MetricsServer) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		m.log.Info("Serving metrics", "address", m.Addr())
		if err := m.server.Serve(m.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return m.server.Shutdown(shutdownCtx)
}
