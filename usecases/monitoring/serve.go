package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	enterrors "github.com/lexsort/lexsort/entities/errors"
)

// ServeMetrics exposes registry on /metrics until ctx is cancelled. It blocks
// for the lifetime of the server.
func ServeMetrics(ctx context.Context, logger logrus.FieldLogger, registry *prometheus.Registry, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	connections := promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "lexsort",
		Subsystem: "monitoring",
		Name:      "open_connections",
		Help:      "Open connections to the metrics endpoint.",
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux}

	enterrors.GoWrapper(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics server shutdown")
		}
	}, logger)

	logger.WithField("port", port).Info("serving metrics")
	if err := server.Serve(countingListener(listener, connections)); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func countingListener(l net.Listener, g prometheus.Gauge) net.Listener {
	return &meteredListener{Listener: l, count: g}
}

type meteredListener struct {
	net.Listener
	count prometheus.Gauge
}

func (m *meteredListener) Accept() (net.Conn, error) {
	conn, err := m.Listener.Accept()
	if err != nil {
		return nil, err
	}
	m.count.Inc()
	return &meteredConn{Conn: conn, count: m.count}, nil
}

type meteredConn struct {
	net.Conn
	count prometheus.Gauge
	once  sync.Once
}

// Close may be called any number of times on a single connection, the gauge
// must only drop once.
func (m *meteredConn) Close() error {
	err := m.Conn.Close()
	m.once.Do(m.count.Dec)
	return err
}
