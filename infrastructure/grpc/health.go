package grpc

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"net"

	sdkgrpc "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ChatServiceName is the service name reported by the health endpoint.
const ChatServiceName = "session_chat.Chat"

// HealthServer exposes the standard gRPC health protocol so orchestrators
// can probe the chat process.
type HealthServer struct {
	log    *slog.Logger
	server *grpc.Server
	health *health.Server
}

func NewHealthServer(log *slog.Logger) *HealthServer {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(sdkgrpc.UnaryLoggingInterceptor(log)))
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	hs := &HealthServer{log: log, server: s, health: h}
	hs.SetServing(false)
	return hs
}

// SetServing updates both the chat service and the overall status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ChatServiceName, status)
}

// Serve blocks until ctx is done or the listener fails.
func (h *HealthServer) Serve(ctx context.Context, listener net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		h.log.Info("Starting gRPC health server", "address", listener.Addr().String())
		for serviceName := range h.server.GetServiceInfo() {
			h.log.Debug("gRPC exposed services", "name", serviceName)
		}
		if err := h.server.Serve(listener); err != nil && !goerrors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}
	h.health.Shutdown()
	h.server.GracefulStop()
	return <-errChan
}
