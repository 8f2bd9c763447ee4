/**
 * Asynq queue consumer for the document verification worker
 *
 * Consumes document:verify tasks from the Redis-backed Asynq queue.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/onboardly/docverify-worker/internal/errors"
	"github.com/onboardly/docverify-worker/internal/logging"
	"github.com/onboardly/docverify-worker/internal/processor"
	"github.com/onboardly/docverify-worker/internal/storage"
)

// TypeDocumentVerify is the asynq task type for verification jobs
const TypeDocumentVerify = "document:verify"

// Consumer handles verification task consumption via asynq
type Consumer struct {
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler *jobHandler
	store   *storage.PostgresClient
	config  *ConsumerConfig
	logger  *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Verifier          processor.DocumentVerifier
	Storage           *storage.PostgresClient
	ProcessingTimeout int64 // milliseconds
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Verifier == nil {
		return nil, fmt.Errorf("Verifier is required")
	}

	if cfg.Storage == nil {
		return nil, fmt.Errorf("Storage is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // main verification queue
				"default":     1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s, capped at 60s
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, error=%v", task.Type(), err)
			}),
		},
	)

	logger := logging.NewLogger("asynq-consumer")

	consumer := &Consumer{
		client:  client,
		server:  server,
		mux:     asynq.NewServeMux(),
		handler: newJobHandler(cfg.Verifier, cfg.Storage, cfg.ProcessingTimeout, logger),
		store:   cfg.Storage,
		config:  cfg,
		logger:  logger,
	}

	consumer.mux.HandleFunc(TypeDocumentVerify, consumer.handleVerifyDocument)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start() error {
	c.logger.Info("Starting asynq consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			c.logger.Error("Queue consumer error", "error", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping asynq consumer")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	c.logger.Info("Asynq consumer stopped")
	return nil
}

// handleVerifyDocument processes one verification task
func (c *Consumer) handleVerifyDocument(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	c.logger.Info("Processing verification task",
		"job_id", payload.JobID,
		"document_type", payload.DocumentType,
		"image_bytes", len(payload.FileBuffer),
		"user_id", payload.UserID)

	if err := c.store.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID:  payload.JobID,
		Status: "processing",
	}); err != nil {
		c.logger.Warn("Failed to update status to processing",
			"job_id", payload.JobID, "error", err)
	}

	result, err := c.handler.Handle(ctx, &payload, nil)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Verification task failed",
			"job_id", payload.JobID, "duration", duration, "error", err)

		update := &storage.JobUpdate{
			JobID:            payload.JobID,
			Status:           "failed",
			Progress:         100,
			ProcessingTimeMs: duration.Milliseconds(),
			ErrorMessage:     err.Error(),
		}
		if code, ok := errors.CodeOf(err); ok {
			update.ErrorCode = string(code)
		}
		if updateErr := c.store.UpdateJobStatus(ctx, update); updateErr != nil {
			c.logger.Warn("Failed to update status to failed",
				"job_id", payload.JobID, "error", updateErr)
		}

		return fmt.Errorf("document verification failed: %w", err)
	}

	c.logger.Info("Verification task completed",
		"job_id", payload.JobID,
		"duration", duration,
		"confidence", result.Confidence,
		"verification_id", result.VerificationID)

	if err := c.store.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID:            payload.JobID,
		Status:           "completed",
		Progress:         100,
		DocumentType:     result.DocumentType,
		Confidence:       result.Confidence,
		ProcessingTimeMs: result.ProcessingMs,
		VerificationID:   result.VerificationID,
	}); err != nil {
		c.logger.Warn("Failed to update status to completed",
			"job_id", payload.JobID, "error", err)
	}

	return nil
}
