// Command stub-service serves an in-process stand-in for the processing
// service, for developing blockview without the real backend.
//
// Usage:
//
//	go run ./cmd/tools/stub-service [flags]
//
// Flags:
//
//	-addr      Listen address (default: localhost:8000)
//	-lifespan  How long session files are kept (default: 24h)
//	-max-mb    Upload size limit in MB (default: 10)
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/blockview/internal/remote"
)

func main() {
	addr := flag.String("addr", "localhost:8000", "Listen address")
	lifespan := flag.Duration("lifespan", 24*time.Hour, "How long session files are kept")
	maxMB := flag.Int("max-mb", 10, "Upload size limit in MB")
	flag.Parse()

	cfg := remote.DefaultStubConfig()
	cfg.SessionLifespan = *lifespan
	cfg.MaxUploadBytes = int64(*maxMB) << 20
	stub := remote.NewStubService(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go stub.RunCleanup(ctx, time.Hour)

	server := &http.Server{
		Addr:              *addr,
		Handler:           stub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("stub processing service listening on %s", *addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
