package server

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"solar-pump-rl/pkg/logger"
)

const healthMethodPrefix = "/grpc.health.v1.Health/"

// LoggingInterceptor logs every unary call with its status code. Health
// probes from orchestrators arrive every few seconds and are logged at
// debug level unless they fail.
func LoggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	entry := logger.GetLogger().WithFields(logrus.Fields{
		"method":   info.FullMethod,
		"code":     status.Code(err).String(),
		"duration": time.Since(start).String(),
	})
	switch {
	case err != nil && status.Code(err) != codes.NotFound:
		entry.Errorf("gRPC call failed: %v", err)
	case strings.HasPrefix(info.FullMethod, healthMethodPrefix):
		entry.Debug("gRPC health probe")
	default:
		entry.Info("gRPC call completed")
	}

	return resp, err
}

// RecoveryInterceptor turns a handler panic into codes.Internal and logs the stack
func RecoveryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().WithFields(logrus.Fields{
				"method": info.FullMethod,
				"stack":  string(debug.Stack()),
			}).Errorf("Panic recovered: %v", r)
			err = status.Errorf(codes.Internal, "internal server error")
		}
	}()

	return handler(ctx, req)
}
