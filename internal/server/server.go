// Package server exposes the hash table fill over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/fxnlabs/hashfill/internal/config"
	"github.com/fxnlabs/hashfill/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	cfg config.ServerConfig
	log *zap.Logger
	srv *http.Server

	listener net.Listener
}

func New(cfg config.ServerConfig, acc Accelerator, log *zap.Logger) *Server {
	log = log.Named("server")
	return &Server{
		cfg: cfg,
		log: log,
		srv: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      NewMux(acc, log),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// NewMux registers every endpoint, each wrapped in the response counter.
func NewMux(acc Accelerator, log *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/v1/transform", metrics.Middleware(TransformHandler(acc, log), "/v1/transform"))
	mux.Handle("/v1/device", metrics.Middleware(DeviceHandler(acc, log), "/v1/device"))
	mux.Handle("/healthz", metrics.Middleware(http.HandlerFunc(HealthHandler), "/healthz"))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("Starting server on", zap.String("address", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop waits for in-flight requests up to the configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	s.log.Info("Stopping server")
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.srv.Addr
	}
	return s.listener.Addr().String()
}
