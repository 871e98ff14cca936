// Command smoke checks a running keyward gRPC endpoint: the public health
// check must answer, and when a token is supplied the guarded Watch stream
// must admit it.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"keyward.io/internal/grpcauth"
	"keyward.io/internal/obs"
)

func main() {
	log, err := obs.InitLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	addr := os.Getenv("KEYWARD_GRPC_ADDR")
	if addr == "" {
		addr = "localhost:9090"
	}
	creds := grpcauth.Credentials{
		Token:         os.Getenv("KEYWARD_TOKEN"),
		Company:       os.Getenv("KEYWARD_COMPANY"),
		AllowInsecure: true,
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(creds),
	)
	if err != nil {
		log.Fatal("dial", zap.String("addr", addr), zap.Error(err))
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatal("health check", zap.Error(err))
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatal("service not serving", zap.Stringer("status", resp.GetStatus()))
	}

	if creds.Token == "" {
		log.Info("smoke test passed", zap.String("addr", addr), zap.Bool("guarded", false))
		return
	}
	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatal("watch", zap.Error(grpcauth.FromStatus(err)))
	}
	if _, err := stream.Recv(); err != nil {
		log.Fatal("guarded watch rejected", zap.Error(grpcauth.FromStatus(err)))
	}
	log.Info("smoke test passed", zap.String("addr", addr), zap.Bool("guarded", true))
}
