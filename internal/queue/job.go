/**
 * Verification job payload and shared job handling
 *
 * Jobs are enqueued by the TypeScript onboarding application. The payload
 * carries the uploaded image either as a base64 string or as a serialized
 * Node.js Buffer object, so unmarshaling supports both formats.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/onboardly/docverify-worker/internal/errors"
	"github.com/onboardly/docverify-worker/internal/logging"
	"github.com/onboardly/docverify-worker/internal/processor"
	"github.com/onboardly/docverify-worker/internal/storage"
)

// JobPayload contains one document verification request
type JobPayload struct {
	JobID          string                 `json:"jobId"`
	UserID         string                 `json:"userId"`
	DocumentType   string                 `json:"documentType"`
	Filename       string                 `json:"filename,omitempty"`
	FileBuffer     []byte                 // set by custom UnmarshalJSON
	ExpectedFields map[string]string      `json:"expectedFields,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON handles the two fileBuffer encodings produced by the
// onboarding app: base64 string (current) and Node.js Buffer object
// {"type":"Buffer","data":[...]} (legacy).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.FileBuffer == nil {
		return nil
	}

	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		bufferType, ok := v["type"].(string)
		if !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// JobResult summarizes a completed verification job
type JobResult struct {
	VerificationID string                        `json:"verificationId"`
	DocumentType   string                        `json:"documentType"`
	Confidence     float64                       `json:"confidence"`
	ExtractedData  map[string]string             `json:"extractedData"`
	Validation     *processor.DocumentValidation `json:"validation,omitempty"`
	ProcessingMs   int64                         `json:"processingTimeMs"`
}

// jobHandler runs the verification pipeline for queue consumers and
// persists the outcome. Status bookkeeping stays with each consumer.
type jobHandler struct {
	verifier processor.DocumentVerifier
	store    *storage.PostgresClient
	timeout  time.Duration
	logger   *logging.Logger
}

func newJobHandler(verifier processor.DocumentVerifier, store *storage.PostgresClient, timeoutMs int64, logger *logging.Logger) *jobHandler {
	timeout := 120 * time.Second
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewLogger("queue")
	}
	return &jobHandler{
		verifier: verifier,
		store:    store,
		timeout:  timeout,
		logger:   logger,
	}
}

// Handle verifies one document: recognize + extract, validate when expected
// fields are supplied, and persist the verification record.
func (h *jobHandler) Handle(ctx context.Context, payload *JobPayload, onProgress processor.ProgressFunc) (*JobResult, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	if len(payload.FileBuffer) == 0 {
		return nil, fmt.Errorf("fileBuffer is required")
	}

	documentType, ok := processor.ParseDocumentType(payload.DocumentType)
	if !ok {
		return nil, errors.NewUnsupportedDocumentError(payload.JobID, payload.DocumentType)
	}

	start := time.Now()

	handleCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result, err := h.verifier.RecognizeText(handleCtx, payload.FileBuffer, documentType, onProgress)
	if err != nil {
		if handleCtx.Err() == context.DeadlineExceeded {
			return nil, errors.NewProcessingTimeoutError(payload.JobID, h.timeout, err)
		}
		return nil, err
	}

	var validation *processor.DocumentValidation
	if len(payload.ExpectedFields) > 0 {
		validation = h.verifier.ValidateDocument(result, payload.ExpectedFields)
		h.logger.Info("Document validated",
			"job_id", payload.JobID,
			"is_valid", validation.IsValid,
			"errors", len(validation.Errors),
			"warnings", len(validation.Warnings))
	}

	record := &storage.VerificationRecord{
		JobID:         payload.JobID,
		DocumentType:  string(documentType),
		Confidence:    result.Confidence,
		ExtractedData: result.Data,
	}
	if validation != nil {
		record.IsValid = validation.IsValid
		record.Errors = validation.Errors
		record.Warnings = validation.Warnings
	} else {
		// No expectations supplied; recognition alone does not invalidate.
		record.IsValid = true
		record.Errors = []string{}
		record.Warnings = []string{}
	}

	verificationID, err := h.store.StoreVerification(handleCtx, record)
	if err != nil {
		return nil, errors.NewDatabaseError(payload.JobID, err)
	}

	return &JobResult{
		VerificationID: verificationID,
		DocumentType:   string(documentType),
		Confidence:     result.Confidence,
		ExtractedData:  result.Data,
		Validation:     validation,
		ProcessingMs:   time.Since(start).Milliseconds(),
	}, nil
}
