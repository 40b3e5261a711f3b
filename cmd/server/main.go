package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fundbridge/merchant-staging/internal/api"
	"github.com/fundbridge/merchant-staging/internal/app"
	"github.com/fundbridge/merchant-staging/internal/config"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Merchant Staging Console (cmd/server/main.go)             ║")
	log.Println("║  CSV intake, dedup batches, reconciliation, exports        ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize staging pipeline: %v", err)
	}
	defer a.Close()

	sc := cfg.Staging
	log.Printf("[staging] pre-staging=%s.%s staging=%s.%s quarantine=%s batch=%d max=%d",
		sc.PreStagingTable, sc.PreStagingPKColumn, sc.StagingTable, sc.StagingPKColumn,
		sc.QuarantineTable, sc.BatchSize, sc.MaxBatchSize)
	if sc.OtherEnabled() {
		log.Printf("[staging] other pre-staging table: %s.%s", sc.OtherPreStagingTable, sc.OtherPreStagingPKColumn)
	}

	handlers := api.NewHandlers(api.Deps{
		Batches:     a.Processor,
		Jobs:        a.Ledger,
		Uploads:     a.Ingestor,
		Counts:      a.Reporter,
		Quarantine:  a.Exporter,
		DB:          a.DB,
		MaxUploadMB: cfg.Server.MaxUploadMB,
	})
	router := api.SetupRoutes(handlers, cfg.Server.AllowedOrigins)

	addr := fmt.Sprintf("%s:%d", host, port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Batches over large staging tables can run for minutes.
		WriteTimeout: 15 * time.Minute,
	}

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized, server is ready")

	<-done
	log.Println("Shutting down...")
	cancel()

	// Shutdown waits for in-flight batch requests up to the deadline.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
