/**
 * Document Verification Worker - Main Entry Point
 *
 * Go worker for the onboarding document pipeline.
 *
 * Architecture:
 * - Redis list consumer compatible with the onboarding app's queue
 * - Tesseract recognition pipeline (preprocess -> recognize -> extract)
 * - Fuzzy validation of extracted fields against user-supplied data
 * - PostgreSQL persistence for job status and verification records
 */

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onboardly/docverify-worker/internal/config"
	"github.com/onboardly/docverify-worker/internal/processor"
	"github.com/onboardly/docverify-worker/internal/queue"
	"github.com/onboardly/docverify-worker/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.onboardly"); err != nil {
		log.Printf("Warning: .env.onboardly not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Document verification worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Queue=%s, Workers=%d",
		cfg.RedisURL, cfg.QueueName, cfg.WorkerConcurrency)

	// Initialize PostgreSQL storage
	log.Printf("Connecting to PostgreSQL...")
	store, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()
	log.Printf("PostgreSQL connection established")

	// Initialize document processor
	log.Printf("Initializing document processor...")
	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Languages:      strings.Split(cfg.OCRLanguages, "+"),
		MaxImageWidth:  cfg.MaxImageWidth,
		MaxImageHeight: cfg.MaxImageHeight,
		JPEGQuality:    cfg.JPEGQuality,
	})
	if err != nil {
		log.Fatalf("Failed to initialize document processor: %v", err)
	}

	// Warm up the OCR engine so the first job does not pay the init cost
	warmupCtx, cancelWarmup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := proc.Initialize(warmupCtx, nil); err != nil {
		cancelWarmup()
		log.Fatalf("Failed to initialize OCR engine: %v", err)
	}
	cancelWarmup()
	log.Printf("Document processor initialized (languages=%s)", cfg.OCRLanguages)

	// Initialize queue consumer for the configured driver
	log.Printf("Connecting to Redis queue (driver=%s)...", cfg.QueueDriver)
	var consumer interface {
		Start() error
		Stop() error
	}
	switch cfg.QueueDriver {
	case "asynq":
		consumer, err = queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Verifier:          proc,
			Storage:           store,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
	default:
		consumer, err = queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Verifier:          proc,
			Storage:           store,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
	}
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}
	log.Printf("Queue consumer initialized with concurrency=%d", cfg.WorkerConcurrency)

	// Start queue consumer
	if err := consumer.Start(); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	if err := healthCheck(store); err != nil {
		log.Fatalf("Startup health check failed: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("Document verification worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Languages: %s", cfg.OCRLanguages)
	log.Printf("Document types: rg, rg_cnh, cpf, comprovante_residencia")
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	log.Printf("Stopping queue consumer...")
	if err := consumer.Stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped successfully")
	}

	log.Printf("Releasing OCR engine...")
	if err := proc.Terminate(); err != nil {
		log.Printf("Error releasing OCR engine: %v", err)
	}

	log.Printf("Closing PostgreSQL connection...")
	if err := store.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	log.Printf("Shutdown complete")
}

// healthCheck verifies worker dependencies are reachable
func healthCheck(db *storage.PostgresClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
