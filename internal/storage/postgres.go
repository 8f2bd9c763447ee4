/**
 * PostgreSQL client for the document verification worker
 *
 * Handles job persistence and verification result storage.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Progress         int
	DocumentType     string
	Confidence       float64
	ProcessingTimeMs int64
	VerificationID   string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// VerificationRecord is one persisted recognition + validation outcome
type VerificationRecord struct {
	ID             string
	JobID          string
	DocumentType   string
	Confidence     float64
	ExtractedData  map[string]string
	IsValid        bool
	Errors         []string
	Warnings       []string
	CreatedAt      time.Time
}

// sanitizeConfidence rounds confidence to 2 decimal places and clamps it to
// [0, 100]. Raw float64 values such as 96.32000000000001 trip the NUMERIC
// column's precision checks.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 100.0 {
		return 100.0
	}
	return float64(int(confidence*100+0.5)) / 100
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// UpdateJobStatus upserts a job row. The worker may observe a job before the
// API created its record, so the first status update creates it.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	sanitizedConfidence := sanitizeConfidence(update.Confidence)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO onboarding.document_jobs (
			id, status, progress, document_type,
			confidence, processing_time_ms, verification_id,
			error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, $2, COALESCE($3, 0), NULLIF($4, ''),
			NULLIF($5::NUMERIC(5,2), 0), NULLIF($6, 0),
			CASE WHEN $7 = '' THEN NULL ELSE $7::uuid END,
			NULLIF($8, ''), NULLIF($9, ''),
			COALESCE($10::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = GREATEST(EXCLUDED.progress, onboarding.document_jobs.progress),
			document_type = COALESCE(EXCLUDED.document_type, onboarding.document_jobs.document_type),
			confidence = COALESCE(EXCLUDED.confidence, onboarding.document_jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, onboarding.document_jobs.processing_time_ms),
			verification_id = COALESCE(EXCLUDED.verification_id, onboarding.document_jobs.verification_id),
			error_code = NULLIF(EXCLUDED.error_code, ''),
			error_message = NULLIF(EXCLUDED.error_message, ''),
			metadata = COALESCE(EXCLUDED.metadata, onboarding.document_jobs.metadata),
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Status,           // $2
		update.Progress,         // $3
		update.DocumentType,     // $4
		sanitizedConfidence,     // $5
		update.ProcessingTimeMs, // $6
		update.VerificationID,   // $7
		update.ErrorCode,        // $8
		update.ErrorMessage,     // $9
		metadataJSON,            // $10
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// StoreVerification persists one recognition + validation outcome and
// returns the verification id.
func (p *PostgresClient) StoreVerification(ctx context.Context, record *VerificationRecord) (string, error) {
	if record.JobID == "" {
		return "", fmt.Errorf("job ID is required")
	}

	if record.DocumentType == "" {
		return "", fmt.Errorf("document type is required")
	}

	extractedJSON, err := json.Marshal(record.ExtractedData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal extracted data: %w", err)
	}

	validationJSON, err := json.Marshal(map[string]interface{}{
		"isValid":  record.IsValid,
		"errors":   record.Errors,
		"warnings": record.Warnings,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal validation: %w", err)
	}

	verificationID := uuid.New().String()

	query := `
		INSERT INTO onboarding.document_verifications (
			id, job_id, document_type, confidence,
			extracted_data, validation, created_at
		) VALUES ($1::uuid, $2::uuid, $3, $4::NUMERIC(5,2), $5::jsonb, $6::jsonb, NOW())
		RETURNING id
	`

	err = p.db.QueryRowContext(
		ctx,
		query,
		verificationID,
		record.JobID,
		record.DocumentType,
		sanitizeConfidence(record.Confidence),
		extractedJSON,
		validationJSON,
	).Scan(&verificationID)

	if err != nil {
		return "", fmt.Errorf("failed to store verification: %w", err)
	}

	return verificationID, nil
}

// GetVerification retrieves a verification record by ID
func (p *PostgresClient) GetVerification(ctx context.Context, verificationID string) (*VerificationRecord, error) {
	if verificationID == "" {
		return nil, fmt.Errorf("verification ID is required")
	}

	query := `
		SELECT id, job_id, document_type, confidence,
			extracted_data, validation, created_at
		FROM onboarding.document_verifications
		WHERE id = $1::uuid
	`

	var record VerificationRecord
	var extractedJSON, validationJSON []byte

	err := p.db.QueryRowContext(ctx, query, verificationID).Scan(
		&record.ID,
		&record.JobID,
		&record.DocumentType,
		&record.Confidence,
		&extractedJSON,
		&validationJSON,
		&record.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("verification not found: %s", verificationID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	if err := json.Unmarshal(extractedJSON, &record.ExtractedData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extracted data: %w", err)
	}

	var validation struct {
		IsValid  bool     `json:"isValid"`
		Errors   []string `json:"errors"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(validationJSON, &validation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal validation: %w", err)
	}
	record.IsValid = validation.IsValid
	record.Errors = validation.Errors
	record.Warnings = validation.Warnings

	return &record, nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT id, status, progress, document_type,
			confidence, processing_time_ms, verification_id,
			error_code, error_message, metadata,
			created_at, updated_at
		FROM onboarding.document_jobs
		WHERE id = $1::uuid
	`

	var (
		id, status                     string
		progress                       int
		documentType                   sql.NullString
		confidence                     sql.NullFloat64
		processingTimeMs               sql.NullInt64
		verificationID                 sql.NullString
		errorCode, errorMessage        sql.NullString
		metadataJSON                   []byte
		createdAt, updatedAt           time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &status, &progress, &documentType,
		&confidence, &processingTimeMs, &verificationID,
		&errorCode, &errorMessage, &metadataJSON,
		&createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"status":    status,
		"progress":  progress,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	if documentType.Valid {
		result["documentType"] = documentType.String
	}
	if confidence.Valid {
		result["confidence"] = confidence.Float64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if verificationID.Valid {
		result["verificationId"] = verificationID.String
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
