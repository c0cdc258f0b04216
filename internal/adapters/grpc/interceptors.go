package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/metrics"
)

// UnaryObservability records latency per method and logs every call.
// A nil m disables metrics.
func UnaryObservability(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)
		code := status.Code(err)
		if m != nil {
			m.ObserveGRPC(info.FullMethod, code.String(), elapsed)
		}

		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		fields := []any{
			"module", "grpc",
			"layer", "adapter",
			"operation", info.FullMethod,
			"outcome", outcome,
			"code", code.String(),
			"duration_ms", elapsed.Milliseconds(),
		}
		switch code {
		case codes.OK:
			slog.Default().InfoContext(ctx, "grpc request completed", fields...)
		case codes.Internal, codes.Unknown, codes.Unavailable:
			slog.Default().ErrorContext(ctx, "grpc request completed", append(fields, "error", err)...)
		default:
			slog.Default().WarnContext(ctx, "grpc request completed", append(fields, "error", err)...)
		}
		return resp, err
	}
}
