// Package server runs the HTTP server with production timeouts and graceful
// shutdown.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config holds server configuration.
type Config struct {
	// Address is the server listen address (e.g., ":8080")
	Address string

	Handler http.Handler

	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration

	MaxHeaderBytes int

	// ShutdownTimeout bounds how long in-flight requests may finish.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a configuration with production timeouts.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Server wraps the HTTP server lifecycle.
type Server struct {
	httpServer *http.Server
	config     *Config
	listener   net.Listener
	log        *zap.Logger
}

// New creates a server from a config.
func New(config *Config, log *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              config.Address,
			Handler:           config.Handler,
			ReadTimeout:       config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
			MaxHeaderBytes:    config.MaxHeaderBytes,
		},
		config: config,
		log:    log,
	}
}

// Start listens and serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("server listening", zap.String("address", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	s.log.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address, useful when listening on :0 in tests.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Address
	}
	return s.listener.Addr().String()
}
