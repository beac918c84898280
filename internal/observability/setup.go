package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
)

const DefaultMetricsAddr = ":2112"

// Server exposes /metrics and owns the tracer provider for the process.
type Server struct {
	addr string

	runMutex sync.Mutex
	started  bool
	server   *http.Server
	provider *trace.TracerProvider
	doneCh   chan struct{}
}

func NewServer(addr string) *Server {
	if addr == "" {
		addr = DefaultMetricsAddr
	}
	return &Server{addr: addr}
}

func (s *Server) Start(_ context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started {
		return nil
	}

	s.provider = trace.NewTracerProvider()
	otel.SetTracerProvider(s.provider)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.doneCh = make(chan struct{})

	go func(server *http.Server, done chan struct{}) {
		defer close(done)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("object", "Metrics").WithError(err).Error("metrics server failed")
		}
	}(s.server, s.doneCh)

	s.started = true
	log.WithField("object", "Metrics").WithField("addr", s.addr).Info("metrics server started")
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	server, provider, done := s.server, s.provider, s.doneCh
	s.started = false
	s.runMutex.Unlock()

	err := server.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return errors.Join(err, provider.Shutdown(ctx))
}
