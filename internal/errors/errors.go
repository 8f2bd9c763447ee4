package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the document verification worker
 *
 * Design Pattern: Factory Pattern for error creation
 * Only engine-adjacent operations raise: initialization, recognition,
 * preprocessing and batch processing. Extraction and validation report
 * their findings structurally and never produce errors.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Pipeline errors
	ErrorEngineInitFailed    ErrorCode = "ENGINE_INIT_FAILED"
	ErrorRecognitionFailed   ErrorCode = "RECOGNITION_FAILED"
	ErrorPreprocessingFailed ErrorCode = "PREPROCESSING_FAILED"
	ErrorBatchItemFailed     ErrorCode = "BATCH_ITEM_FAILED"

	// Job errors
	ErrorUnsupportedDocument ErrorCode = "UNSUPPORTED_DOCUMENT_TYPE"
	ErrorProcessingTimeout   ErrorCode = "PROCESSING_TIMEOUT"

	// Storage errors
	ErrorDatabaseFailed ErrorCode = "DATABASE_FAILED"
)

// PipelineError represents a structured pipeline error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewEngineInitError(cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorEngineInitFailed,
		Message:   "OCR engine could not be initialized",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewRecognitionError(cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorRecognitionFailed,
		Message:   "text recognition failed",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewPreprocessingError(cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorPreprocessingFailed,
		Message:   "image preprocessing failed",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewBatchItemError(index int, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorBatchItemFailed,
		Message:   fmt.Sprintf("batch item %d failed", index),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"item_index": index,
		},
		Cause: cause,
	}
}

func NewUnsupportedDocumentError(jobID string, documentType string) *PipelineError {
	return &PipelineError{
		Code:      ErrorUnsupportedDocument,
		Message:   fmt.Sprintf("unsupported document type: %s", documentType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"document_type": documentType,
		},
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewDatabaseError(jobID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorDatabaseFailed,
		Message:   "failed to persist verification results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// CodeOf returns the structured error code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

// BatchItemIndex returns the zero-based index of the failing batch item
// when err is (or wraps) a BATCH_ITEM_FAILED error.
func BatchItemIndex(err error) (int, bool) {
	var pe *PipelineError
	if stderrors.As(err, &pe) && pe.Code == ErrorBatchItemFailed {
		if idx, ok := pe.Details["item_index"].(int); ok {
			return idx, true
		}
	}
	return 0, false
}

// ToMap converts error to map for database storage
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
