// Package admin serves the gRPC health and reflection endpoint of pnrpc.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ozontech/pnrpc/rpc"
)

// ServicePrefix prefixes method names in health checks: "pnrpc.echo".
const ServicePrefix = "pnrpc."

type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server

	listener net.Listener
	log      *zap.Logger
}

// New reports every method of r as a separate health service.
func New(addr string, r *rpc.Registry, log *zap.Logger) *Server {
	s := &Server{
		addr:   addr,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		log:    log.Named("admin"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, d := range r.Descriptors() {
		s.health.SetServingStatus(ServicePrefix+d.Name, healthpb.HealthCheckResponse_SERVING)
	}
	return s
}

func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.addr, err)
	}
	s.listener = l
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run serves until ctx is done, then reports NOT_SERVING and stops gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.log.Info("admin listening", zap.Stringer("addr", s.listener.Addr()))

	stop := context.AfterFunc(ctx, func() {
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
	defer stop()

	err := s.grpc.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}
