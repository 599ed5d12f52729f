package main

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"hazardwatch/internal/services"
)

// serveGRPC exposes the standard gRPC health service on addr
func serveGRPC(ctx context.Context, addr string, health *services.HealthService, log *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, health.GRPCServer())
	reflection.Register(srv)

	go func() {
		<-ctx.Done()
		log.Info("Shutting down gRPC server", zap.String("addr", addr))
		srv.GracefulStop()
	}()

	log.Info("gRPC health server listening", zap.String("addr", addr))
	if err := srv.Serve(lis); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
