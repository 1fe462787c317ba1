// Package grpcapi exposes the standard gRPC health service so orchestrators
// can check the engine and its backing connections.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/Vesta/server/internal/logger"
)

// Check tests one dependency.  A nil error means healthy.
type Check func(ctx context.Context) error

const defaultCheckTimeout = 2 * time.Second

// HealthServer serves grpc.health.v1.Health.  The empty service name
// reports overall health, which is SERVING only while every check passes.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server

	mu     sync.Mutex
	checks map[string]Check
}

func NewHealthServer() *HealthServer {
	s := &HealthServer{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		checks: make(map[string]Check),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// AddCheck registers a named dependency.  It starts as NOT_SERVING until
// the first Refresh.
func (s *HealthServer) AddCheck(name string, c Check) {
	s.mu.Lock()
	s.checks[name] = c
	s.mu.Unlock()
	s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Refresh runs every check once and publishes the results.
func (s *HealthServer) Refresh(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.checks))
	for n := range s.checks {
		names = append(names, n)
	}
	checks := make(map[string]Check, len(s.checks))
	for n, c := range s.checks {
		checks[n] = c
	}
	s.mu.Unlock()
	sort.Strings(names)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)
		err := checks[name](cctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
			logger.WarnKV(ctx, "health check failed", "check", name, "error", err)
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}

// Monitor refreshes on every interval until ctx is cancelled.
func (s *HealthServer) Monitor(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Serve blocks until ctx is cancelled, then stops gracefully.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		// Watchers get NOT_SERVING before the stream closes.
		s.health.Shutdown()
		s.grpc.GracefulStop()
		close(done)
	}()

	logger.InfoKV(ctx, "grpc health server listening", "addr", lis.Addr().String())

	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	return nil
}

// Listen opens addr and serves until ctx is cancelled.
func (s *HealthServer) Listen(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}
