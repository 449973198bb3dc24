package engine

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// HealthServer: gRPC сервер со стандартным grpc.health.v1 сервисом.
// Оркестратор опрашивает его, пока основной цикл жив.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func NewHealthServer(logger *zap.Logger) *HealthServer {
	logger = logger.Named("grpc")
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryTraceInterceptor(logger)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{srv: srv, health: hs, logger: logger}
}

// SetServing переключает общий статус ("": весь сервер).
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
}

// Serve блокирует до остановки сервера.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Info("gRPC health server started", zap.String("addr", lis.Addr().String()))
	if err := h.srv.Serve(lis); err != nil {
		return fmt.Errorf("serve gRPC: %w", err)
	}
	return nil
}

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}

// UnaryTraceInterceptor прокидывает x-trace-id из метаданных в контекст.
func UnaryTraceInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		var traceID string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get("x-trace-id"); len(ids) > 0 {
				traceID = ids[0]
			}
		}
		ctx = WithTraceID(ctx, traceID)

		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debug("grpc call failed",
				zap.String("method", info.FullMethod),
				zap.String("trace_id", TraceID(ctx)),
				zap.Error(err))
		}
		return resp, err
	}
}
