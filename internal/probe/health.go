// Package probe exposes the standard gRPC health service so orchestrators
// can check the relay without going through the HTTP API.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "chatrelay"

// Checker reports whether a dependency is usable.
type Checker interface {
	Ping(ctx context.Context) error
}

// Probe serves grpc.health.v1.Health backed by a dependency check.
type Probe struct {
	checker  Checker
	interval time.Duration
	logger   *slog.Logger
	health   *health.Server
	server   *grpc.Server
}

// New creates a probe that re-checks on every interval.
func New(checker Checker, interval time.Duration, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	hs := health.NewServer()
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              2 * time.Minute,
			Timeout:           10 * time.Second,
		}),
	)
	healthpb.RegisterHealthServer(srv, hs)

	return &Probe{
		checker:  checker,
		interval: interval,
		logger:   logger,
		health:   hs,
		server:   srv,
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (p *Probe) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return p.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done.
func (p *Probe) Serve(ctx context.Context, lis net.Listener) error {
	p.Refresh(ctx)

	errCh := make(chan error, 1)
	go func() {
		p.logger.Info("gRPC health probe listening", "addr", lis.Addr().String())
		errCh <- p.server.Serve(lis)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Refresh(ctx)
		case err := <-errCh:
			if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("serve health probe: %w", err)
			}
			return nil
		case <-ctx.Done():
			p.health.Shutdown()
			p.server.GracefulStop()
			<-errCh
			return nil
		}
	}
}

// Refresh runs the dependency check and updates the reported status.
func (p *Probe) Refresh(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := p.checker.Ping(checkCtx); err != nil {
		p.logger.Warn("Health probe check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	p.health.SetServingStatus("", status)
	p.health.SetServingStatus(ServiceName, status)
}
