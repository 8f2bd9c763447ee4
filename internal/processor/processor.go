/**
 * Document processor for the verification worker
 *
 * Orchestrates the per-document pipeline:
 * - preprocess (decode, bounded resize, JPEG re-encode)
 * - recognize (single shared Tesseract engine, serialized access)
 * - extract (per-document-type rule table)
 * - validate (confidence gating + fuzzy field matching), on demand
 *
 * Batches run strictly in input order against the shared engine and fail
 * fast: one bad item aborts the batch with the failing index attached.
 */

package processor

import (
	"context"
	"fmt"

	apperrors "github.com/onboardly/docverify-worker/internal/errors"
	"github.com/onboardly/docverify-worker/internal/logging"
)

// DocumentVerifier defines the caller-facing pipeline interface
type DocumentVerifier interface {
	Initialize(ctx context.Context, onProgress ProgressFunc) error
	RecognizeText(ctx context.Context, image []byte, documentType DocumentType, onProgress ProgressFunc) (*RecognitionResult, error)
	ProcessBatch(ctx context.Context, items []BatchItem, onProgress BatchProgressFunc) ([]*RecognitionResult, error)
	ValidateDocument(result *RecognitionResult, expected map[string]string) *DocumentValidation
	Terminate() error
}

// defaultWhitelist restricts recognition to the characters that appear on
// Brazilian identity and residency documents: Latin letters with Portuguese
// diacritics, digits and the separators the extraction rules rely on.
const defaultWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz" +
	"ÁÂÃÀÇÉÊÍÓÔÕÚÜáâãàçéêíóôõúü" +
	"0123456789" +
	" .,:;()/-ºª°"

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	// ClientFactory overrides the engine client construction (tests).
	ClientFactory ClientFactory

	// Languages for the OCR engine, e.g. ["por", "eng"].
	Languages []string

	// Whitelist overrides the default domain character whitelist.
	Whitelist string

	// Preprocessing bounds.
	MaxImageWidth  int
	MaxImageHeight int
	JPEGQuality    int

	Logger *logging.Logger
}

// DocumentProcessor runs the recognition pipeline
type DocumentProcessor struct {
	engine       *Engine
	preprocessor *Preprocessor
	extractor    *Extractor
	validator    *Validator
	logger       *logging.Logger
}

// NewDocumentProcessor creates a document processor. The OCR engine is not
// constructed here; it initializes lazily on first recognition (or via an
// explicit Initialize call).
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("processor")
	}

	whitelist := cfg.Whitelist
	if whitelist == "" {
		whitelist = defaultWhitelist
	}

	engine := NewEngine(&EngineConfig{
		ClientFactory: cfg.ClientFactory,
		Languages:     cfg.Languages,
		Whitelist:     whitelist,
		Logger:        logger,
	})

	return &DocumentProcessor{
		engine:       engine,
		preprocessor: NewPreprocessor(cfg.MaxImageWidth, cfg.MaxImageHeight, cfg.JPEGQuality),
		extractor:    NewExtractor(),
		validator:    NewValidator(logger),
		logger:       logger,
	}, nil
}

// Initialize warms up the OCR engine ahead of the first recognition
func (p *DocumentProcessor) Initialize(ctx context.Context, onProgress ProgressFunc) error {
	return p.engine.Initialize(ctx, onProgress)
}

// RecognizeText runs preprocess -> recognize -> extract for one document
// and returns the recognition result with extracted fields attached.
func (p *DocumentProcessor) RecognizeText(ctx context.Context, image []byte, documentType DocumentType, onProgress ProgressFunc) (*RecognitionResult, error) {
	report(onProgress, "preprocessing", 0.0)

	compressed, err := p.preprocessor.Compress(image)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Image preprocessed",
		"original_bytes", len(image), "compressed_bytes", len(compressed))

	result, err := p.engine.Recognize(ctx, compressed, documentType, onProgress)
	if err != nil {
		return nil, err
	}

	result.DocumentType = documentType
	result.Data = p.extractor.Extract(result.Text, documentType)

	p.logger.Info("Document recognized",
		"document_type", string(documentType),
		"confidence", result.Confidence,
		"fields", len(result.Data))

	return result, nil
}

// ProcessBatch runs the pipeline across an ordered list of items,
// preserving order. Items are processed strictly in sequence against the
// single shared engine. If any item fails, the whole batch fails with a
// BATCH_ITEM_FAILED error carrying the zero-based failing index; no
// partial result sequence is returned.
func (p *DocumentProcessor) ProcessBatch(ctx context.Context, items []BatchItem, onProgress BatchProgressFunc) ([]*RecognitionResult, error) {
	results := make([]*RecognitionResult, 0, len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewBatchItemError(i, err)
		}

		index := i
		stage := func(pr Progress) {
			if onProgress != nil {
				onProgress(BatchProgress{Index: index, Total: len(items), Stage: pr})
			}
		}

		result, err := p.RecognizeText(ctx, item.Image, item.DocumentType, stage)
		if err != nil {
			p.logger.Error("Batch item failed", "index", i, "error", err)
			return nil, apperrors.NewBatchItemError(i, err)
		}

		results = append(results, result)
	}

	return results, nil
}

// ValidateDocument scores a recognition result against expected field values
func (p *DocumentProcessor) ValidateDocument(result *RecognitionResult, expected map[string]string) *DocumentValidation {
	return p.validator.Validate(result, expected)
}

// Terminate releases the OCR engine. The processor remains usable: the next
// recognition re-initializes the engine.
func (p *DocumentProcessor) Terminate() error {
	return p.engine.Terminate()
}
