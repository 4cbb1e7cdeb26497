package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thanhnp/chain-bridge/internal/api"
	"github.com/thanhnp/chain-bridge/internal/bootstrap"
	"github.com/thanhnp/chain-bridge/internal/checkpoint"
	"github.com/thanhnp/chain-bridge/internal/config"
	"github.com/thanhnp/chain-bridge/internal/storage"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Println("Starting chain bridge server...")

	// Open the store
	log.Printf("Opening %s storage", cfg.Storage.Driver)
	db, err := storage.Open(storage.Options{
		Driver:         cfg.Storage.Driver,
		Path:           cfg.Storage.Path,
		RedisHost:      cfg.Storage.RedisHost,
		RedisPort:      cfg.Storage.RedisPort,
		RedisNamespace: cfg.Storage.RedisNamespace,
	})
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	stores := storage.NewNetworkStores(db)

	version, err := stores.Meta.EnsureSchema()
	if err != nil {
		log.Fatalf("Storage schema check failed: %v", err)
	}
	log.Printf("Storage schema version %s", version)

	// Build the network and restore it, or deploy genesis on an empty store
	network, err := bootstrap.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build network: %v", err)
	}
	cp := checkpoint.New(network, stores, cfg.Checkpoint.Interval)

	restored, err := cp.Restore()
	if err != nil {
		log.Fatalf("Failed to restore state: %v", err)
	}
	if !restored {
		log.Println("No saved state, deploying genesis network...")
		if err := bootstrap.Deploy(network, cfg.Genesis); err != nil {
			log.Fatalf("Failed to deploy network: %v", err)
		}
		if err := cp.Save(); err != nil {
			log.Fatalf("Failed to save genesis state: %v", err)
		}
	}
	log.Printf("Network ready with %d chains", len(network.Ledgers))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cp.Start(ctx)

	router := api.NewRouter(network, stores.Meta, cfg.Server.Mode)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start HTTP server in goroutine
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	// Stop accepting requests before the final checkpoint
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	cancel()

	if err := cp.Stop(); err != nil {
		log.Printf("Error saving final checkpoint: %v", err)
	}

	if err := stores.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	log.Println("Server stopped")
}
