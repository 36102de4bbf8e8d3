package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/erain9/bourse/pkg/logging"
	"github.com/erain9/bourse/pkg/otel"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// DefaultCheckInterval is how often dependencies are checked
const DefaultCheckInterval = 5 * time.Second

// Pinger is a dependency whose reachability decides the serving status,
// such as the redis ledger store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AdminServer is the operational gRPC endpoint of a bourse process. It serves
// the standard health service and reflection; the overall status follows
// the registered dependencies.
type AdminServer struct {
	service string
	grpc    *grpc.Server
	health  *health.Server
	logger  zerolog.Logger
	checks  map[string]Pinger
}

// NewAdminServer creates the server for the named service
func NewAdminServer(service string, logger zerolog.Logger) *AdminServer {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otel.NewGRPCStatsHandler()),
		grpc.ChainUnaryInterceptor(logging.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(logging.StreamServerInterceptor()),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)

	return &AdminServer{
		service: service,
		grpc:    grpcServer,
		health:  hs,
		logger:  logger.With().Str("component", "admin").Logger(),
		checks:  make(map[string]Pinger),
	}
}

// AddCheck registers a dependency checked by Monitor. Call before Monitor.
func (a *AdminServer) AddCheck(name string, p Pinger) {
	a.checks[name] = p
}

// SetServing marks the process as ready or not
func (a *AdminServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(a.service, status)
}

// Check runs every dependency check once and updates the serving status
func (a *AdminServer) Check(ctx context.Context) bool {
	healthy := true
	for name, p := range a.checks {
		status := healthpb.HealthCheckResponse_SERVING
		if err := p.Ping(ctx); err != nil {
			healthy = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
			a.logger.Warn().Err(err).Str("check", name).Msg("Dependency check failed")
		}
		a.health.SetServingStatus(a.service+"/"+name, status)
	}
	a.SetServing(healthy)
	return healthy
}

// Monitor runs Check every interval until ctx ends
func (a *AdminServer) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Check(ctx)
		}
	}
}

// Serve accepts connections on l until Stop
func (a *AdminServer) Serve(l net.Listener) error {
	a.logger.Info().Str("addr", l.Addr().String()).Msg("Starting admin gRPC server")
	if err := a.grpc.Serve(l); err != nil {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves
func (a *AdminServer) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return a.Serve(l)
}

// Stop marks every service not serving and stops gracefully
func (a *AdminServer) Stop() {
	a.health.Shutdown()
	a.grpc.GracefulStop()
}
