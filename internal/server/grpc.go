package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"LoanLedger/internal/observability"
)

// Server hosts the HTTP/JSON API and a gRPC endpoint exposing health
// checking and reflection for operational tooling.
type Server struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
}

func New(grpcAddr, httpAddr string, api *API, hc *observability.HealthChecker) (*Server, error) {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	mux, err := api.Mux()
	if err != nil {
		return nil, fmt.Errorf("build route table: %w", err)
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", hc.LivenessHandler)
	httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		httpServer: &http.Server{
			Addr:    httpAddr,
			Handler: httpMux,
		},
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: hc,
	}, nil
}

// SetServing flips the gRPC health status once the service is wired.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API server (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
