// Package grpcutil runs the gRPC side of a service: health checking,
// reflection and the logging and recovery interceptors.
package grpcutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServerConfig holds gRPC server configuration.
type ServerConfig struct {
	Port              int
	ServiceName       string
	EnableReflection  bool
	EnableHealthCheck bool
	ShutdownTimeout   time.Duration
	// RequestTimeout bounds every unary call. Zero disables it.
	RequestTimeout     time.Duration
	MaxRecvMsgSize     int
	MaxSendMsgSize     int
	UnaryInterceptors  []grpc.UnaryServerInterceptor
	StreamInterceptors []grpc.StreamServerInterceptor
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig(port int, serviceName string) ServerConfig {
	return ServerConfig{
		Port:              port,
		ServiceName:       serviceName,
		EnableReflection:  true,
		EnableHealthCheck: true,
		ShutdownTimeout:   30 * time.Second,
		RequestTimeout:    60 * time.Second,
		MaxRecvMsgSize:    16 * 1024 * 1024, // 16MB
		MaxSendMsgSize:    16 * 1024 * 1024, // 16MB
	}
}

// Server wraps a gRPC server with lifecycle management.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	config       ServerConfig
	logger       *slog.Logger
}

// NewServer creates a new gRPC server.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "grpc")

	unary := []grpc.UnaryServerInterceptor{
		TracingUnaryInterceptor(cfg.ServiceName),
		LoggingUnaryInterceptor(logger),
		RecoveryUnaryInterceptor(logger),
	}
	if cfg.RequestTimeout > 0 {
		unary = append(unary, TimeoutUnaryInterceptor(cfg.RequestTimeout))
	}
	unary = append(unary, cfg.UnaryInterceptors...)

	stream := append([]grpc.StreamServerInterceptor{
		RecoveryStreamInterceptor(logger),
	}, cfg.StreamInterceptors...)

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxSendMsgSize),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)

	s := &Server{
		grpcServer: grpcServer,
		config:     cfg,
		logger:     logger,
	}

	if cfg.EnableReflection {
		reflection.Register(grpcServer)
	}

	if cfg.EnableHealthCheck {
		s.healthServer = health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, s.healthServer)
		s.SetServingStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	}

	return s
}

// GRPCServer returns the underlying gRPC server for service registration.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// SetServingStatus sets the health status of the service and of the
// server as a whole ("").
func (s *Server) SetServingStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	if s.healthServer == nil {
		return
	}
	s.healthServer.SetServingStatus(s.config.ServiceName, status)
	s.healthServer.SetServingStatus("", status)
}

// WatchHealth runs check every interval and reports NOT_SERVING while it
// fails. It returns when ctx is done.
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	if s.healthServer == nil || check == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		err := check(checkCtx)
		cancel()

		switch {
		case err != nil && serving:
			s.logger.WarnContext(ctx, "dependency check failed", "error", err)
			s.SetServingStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			serving = false
		case err == nil && !serving:
			s.logger.InfoContext(ctx, "dependencies recovered")
			s.SetServingStatus(grpc_health_v1.HealthCheckResponse_SERVING)
			serving = true
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Run listens on the configured port and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gRPC server starting", "addr", lis.Addr().String(), "service", s.config.ServiceName)
		errCh <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout)
	s.SetServingStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("graceful shutdown completed")
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("graceful shutdown timed out, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}
