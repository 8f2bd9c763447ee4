/**
 * Direct Redis queue consumer for the document verification worker
 *
 * Compatible with the TypeScript onboarding application's RedisQueue:
 * plain Redis LIST operations with job data in a companion hash, status
 * membership sets and pub/sub progress events.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onboardly/docverify-worker/internal/errors"
	"github.com/onboardly/docverify-worker/internal/logging"
	"github.com/onboardly/docverify-worker/internal/processor"
	"github.com/onboardly/docverify-worker/internal/storage"
)

// RedisJobData represents a job envelope from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// RedisConsumer handles job consumption from the raw Redis queue
type RedisConsumer struct {
	client  *redis.Client
	handler *jobHandler
	store   *storage.PostgresClient
	config  *RedisConsumerConfig
	logger  *logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Verifier          processor.DocumentVerifier
	Storage           *storage.PostgresClient
	ProcessingTimeout int64 // milliseconds
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "docverify:jobs"
	}

	if cfg.Verifier == nil {
		return nil, fmt.Errorf("Verifier is required")
	}

	if cfg.Storage == nil {
		return nil, fmt.Errorf("Storage is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	logger := logging.NewLogger("redis-consumer")

	return &RedisConsumer{
		client:  client,
		handler: newJobHandler(cfg.Verifier, cfg.Storage, cfg.ProcessingTimeout, logger),
		store:   cfg.Storage,
		config:  cfg,
		logger:  logger,
		ctx:     consumerCtx,
		cancel:  cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping Redis queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Info("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err != errNoJobs {
					c.logger.Error("Worker error", "worker", id, "error", err)
				}
				time.Sleep(1 * time.Second)
			}
		}
	}
}

var errNoJobs = fmt.Errorf("no jobs available")

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	jobID := result[1]

	jobData, err := c.client.HGet(c.ctx, fmt.Sprintf("%s:data", c.config.QueueName), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	// Ensure the job row exists and is marked processing. Idempotent: the
	// API may or may not have created the record already.
	if err := c.store.UpdateJobStatus(c.ctx, &storage.JobUpdate{
		JobID:        job.Payload.JobID,
		Status:       "processing",
		DocumentType: job.Payload.DocumentType,
		Metadata:     job.Payload.Metadata,
	}); err != nil {
		c.logger.Warn("Could not update job status to processing",
			"job_id", job.Payload.JobID, "error", err)
	}

	c.markStatus(job.Payload.JobID, "processing", nil)

	c.logger.Info("Processing job",
		"job_id", job.Payload.JobID,
		"document_type", job.Payload.DocumentType,
		"attempt", job.Attempts+1)

	startTime := time.Now()

	// Forward pipeline progress as pub/sub events for the web UI
	onProgress := func(p processor.Progress) {
		c.publishProgress(job.Payload.JobID, p)
	}

	jobResult, err := c.handler.Handle(c.ctx, &job.Payload, onProgress)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Job failed",
			"job_id", job.Payload.JobID, "duration", duration, "error", err)

		// Unsupported document types never succeed; do not retry them.
		code, _ := errors.CodeOf(err)
		retryable := code != errors.ErrorUnsupportedDocument

		job.Attempts++
		if retryable && job.Attempts < job.MaxRetries {
			updatedData, _ := json.Marshal(job)
			c.client.HSet(c.ctx, fmt.Sprintf("%s:data", c.config.QueueName), job.ID, updatedData)
			c.client.LPush(c.ctx, c.config.QueueName, job.ID)
			c.logger.Info("Job re-queued for retry",
				"job_id", job.Payload.JobID,
				"attempt", job.Attempts,
				"max_retries", job.MaxRetries)
			return nil
		}

		c.markStatus(job.Payload.JobID, "failed", map[string]interface{}{
			"error":    err.Error(),
			"attempts": job.Attempts,
		})

		update := &storage.JobUpdate{
			JobID:            job.Payload.JobID,
			Status:           "failed",
			Progress:         100,
			ProcessingTimeMs: duration.Milliseconds(),
			ErrorMessage:     err.Error(),
		}
		if code != "" {
			update.ErrorCode = string(code)
		}
		if updateErr := c.store.UpdateJobStatus(c.ctx, update); updateErr != nil {
			c.logger.Warn("Failed to persist failed status",
				"job_id", job.Payload.JobID, "error", updateErr)
		}
		return nil
	}

	c.markStatus(job.Payload.JobID, "completed", jobResult)

	if err := c.store.UpdateJobStatus(c.ctx, &storage.JobUpdate{
		JobID:            job.Payload.JobID,
		Status:           "completed",
		Progress:         100,
		DocumentType:     jobResult.DocumentType,
		Confidence:       jobResult.Confidence,
		ProcessingTimeMs: jobResult.ProcessingMs,
		VerificationID:   jobResult.VerificationID,
	}); err != nil {
		c.logger.Warn("Failed to persist completed status",
			"job_id", job.Payload.JobID, "error", err)
	}

	c.logger.Info("Job completed",
		"job_id", job.Payload.JobID,
		"duration", duration,
		"confidence", jobResult.Confidence,
		"verification_id", jobResult.VerificationID)

	return nil
}

// markStatus updates queue membership sets and publishes a status event
func (c *RedisConsumer) markStatus(jobID string, status string, result interface{}) {
	queue := c.config.QueueName

	switch status {
	case "processing":
		c.client.SAdd(c.ctx, fmt.Sprintf("%s:processing", queue), jobID)
	case "completed":
		c.client.SRem(c.ctx, fmt.Sprintf("%s:processing", queue), jobID)
		c.client.SAdd(c.ctx, fmt.Sprintf("%s:completed", queue), jobID)
		if result != nil {
			resultData, _ := json.Marshal(result)
			c.client.HSet(c.ctx, fmt.Sprintf("%s:results", queue), jobID, resultData)
		}
	case "failed":
		c.client.SRem(c.ctx, fmt.Sprintf("%s:processing", queue), jobID)
		c.client.SAdd(c.ctx, fmt.Sprintf("%s:failed", queue), jobID)
		if result != nil {
			errorData, _ := json.Marshal(result)
			c.client.HSet(c.ctx, fmt.Sprintf("%s:errors", queue), jobID, errorData)
		}
	}

	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	c.client.Publish(c.ctx, fmt.Sprintf("%s:events", queue), eventData)
}

// publishProgress forwards a pipeline progress update as a pub/sub event
func (c *RedisConsumer) publishProgress(jobID string, p processor.Progress) {
	event := map[string]interface{}{
		"event":     "job:progress",
		"jobId":     jobID,
		"status":    p.Status,
		"progress":  p.Progress,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	c.client.Publish(c.ctx, fmt.Sprintf("%s:events", c.config.QueueName), eventData)
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats() (map[string]int64, error) {
	ctx := context.Background()

	waiting, _ := c.client.LLen(ctx, c.config.QueueName).Result()
	processing, _ := c.client.SCard(ctx, fmt.Sprintf("%s:processing", c.config.QueueName)).Result()
	completed, _ := c.client.SCard(ctx, fmt.Sprintf("%s:completed", c.config.QueueName)).Result()
	failed, _ := c.client.SCard(ctx, fmt.Sprintf("%s:failed", c.config.QueueName)).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}
