package grpc

import (
	"context"
	"time"

	"github.com/TomasB/classify/internal/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ResponseTimerInterceptor is the gRPC counterpart of the HTTP response
// timer: ongoing_requests +1 before the call, then a response timer tagged
// by outcome and ongoing_requests -1 on every exit path. A nil sink disables
// it.
func ResponseTimerInterceptor(sink metrics.Sink) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		if sink == nil {
			return handler(ctx, req)
		}

		started := time.Now()
		sink.Incr(metrics.MetricOngoingRequests)

		completed := false
		defer func() {
			result := metrics.StatusError
			if completed && err == nil && ctx.Err() == nil {
				result = metrics.StatusSuccess
			}
			sink.Timing(metrics.MetricResponse, time.Since(started), metrics.Tag{Key: metrics.TagStatus, Value: result})
			sink.Decr(metrics.MetricOngoingRequests)
		}()

		resp, err = handler(ctx, req)
		completed = true
		return resp, err
	}
}

// RecoveryInterceptor converts handler panics into Internal errors.
func RecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = status.Errorf(codes.Internal, "panic: %v", r)
			}
		}()
		return handler(ctx, req)
	}
}
