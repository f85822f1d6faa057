package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	grpcapi "github.com/kennethnrk/echo/internal/api/grpc"
	httpapi "github.com/kennethnrk/echo/internal/api/http"
	"github.com/kennethnrk/echo/internal/config"
	"github.com/kennethnrk/echo/internal/controller/maintenance"
	"github.com/kennethnrk/echo/internal/controller/runs"
	"github.com/kennethnrk/echo/internal/controller/training"
	"github.com/kennethnrk/echo/internal/embedding"
	"github.com/kennethnrk/echo/internal/engine"
	"github.com/kennethnrk/echo/internal/monitor"
	"github.com/kennethnrk/echo/internal/registry"
	"github.com/kennethnrk/echo/internal/response"
	"github.com/kennethnrk/echo/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("ECHO_CONFIG"), "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Initializing run ledger at", cfg.DataDir)
	ledger, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer ledger.Close()

	if n, err := runs.RecoverInterrupted(ledger); err != nil {
		log.Printf("Failed to recover interrupted runs: %v", err)
	} else if n > 0 {
		log.Printf("Marked %d interrupted training runs as failed", n)
		if err := ledger.Compact(); err != nil {
			log.Printf("Failed to compact run ledger: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go maintenance.StartLedgerMaintenance(ctx, ledger, cfg.LedgerInterval(), cfg.KeepRuns)

	eng := engine.New(engine.Config{Seed: cfg.Seed})
	defer eng.Close()

	// The provider loads in the background; text requests fail with
	// ErrProviderNotReady until it is ready.
	go func() {
		ec := cfg.EmbeddingConfig()
		log.Printf("Loading %s embedding provider", ec.Kind)
		if err := eng.Init(ctx, embedding.Opener(ec)); err != nil {
			log.Printf("Failed to load embedding provider: %v", err)
		}
	}()

	ctrl := training.New(
		eng,
		registry.New(),
		training.NewFSSource(cfg.ProjectsDir),
		response.New(nil),
		ledger,
		monitor.New(cfg.MinFreeMemoryMB),
	)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", cfg.GRPCAddr, err)
	}
	s := grpc.NewServer()
	grpcapi.RegisterServices(s, ctrl)

	go func() {
		log.Printf("Echo gRPC server listening on %s", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("gRPC server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		s.GracefulStop()
	}()

	if err := httpapi.Serve(ctx, cfg.HTTPAddr, ctrl); err != nil {
		log.Fatalf("Failed to serve HTTP: %v", err)
	}
}
