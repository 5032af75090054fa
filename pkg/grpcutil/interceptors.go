package grpcutil

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/DhavalThkkar/langfuse/pkg/telemetry"
)

const healthService = "/grpc.health.v1.Health/"

func isHealthProbe(method string) bool {
	return strings.HasPrefix(method, healthService)
}

// TracingUnaryInterceptor starts a server span per RPC. Health probes are
// not traced.
func TracingUnaryInterceptor(tracerName string) grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isHealthProbe(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, span := tracer.Start(ctx, strings.TrimPrefix(info.FullMethod, "/"),
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, status.Code(err).String())
		}
		return resp, err
	}
}

// LoggingUnaryInterceptor logs unary RPC calls with the active trace id.
// Health probes are logged at debug level.
func LoggingUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		attrs := []any{
			"method", info.FullMethod,
			"duration_ms", time.Since(start).Milliseconds(),
			"code", status.Code(err).String(),
		}
		if traceID := telemetry.TraceIDFromContext(ctx); traceID != "" {
			attrs = append(attrs, "trace_id", traceID)
		}

		switch {
		case err != nil:
			attrs = append(attrs, "error", err.Error())
			logger.ErrorContext(ctx, "gRPC call failed", attrs...)
		case isHealthProbe(info.FullMethod):
			logger.DebugContext(ctx, "gRPC call completed", attrs...)
		default:
			logger.InfoContext(ctx, "gRPC call completed", attrs...)
		}
		return resp, err
	}
}

// recoverTo converts a recovered panic into codes.Internal on err.
func recoverTo(ctx context.Context, logger *slog.Logger, method string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	logger.ErrorContext(ctx, "panic recovered",
		"method", method,
		"panic", r,
		"stack", string(debug.Stack()),
	)
	*err = status.Error(codes.Internal, "internal server error")
}

// RecoveryUnaryInterceptor turns handler panics into codes.Internal.
func RecoveryUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer recoverTo(ctx, logger, info.FullMethod, &err)
		return handler(ctx, req)
	}
}

// RecoveryStreamInterceptor turns stream handler panics into codes.Internal.
func RecoveryStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer recoverTo(ss.Context(), logger, info.FullMethod, &err)
		return handler(srv, ss)
	}
}

// TimeoutUnaryInterceptor bounds unary RPCs that arrive without a tighter
// deadline.
func TimeoutUnaryInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return handler(ctx, req)
	}
}
