/**
 * Shared data structures for document recognition and validation
 *
 * Common types exchanged between the engine adapter, the extractor,
 * the validator and the surrounding worker.
 */

package processor

import (
	"time"
)

// DocumentType selects which extraction rule set and expected-field set applies.
type DocumentType string

const (
	DocumentRG          DocumentType = "rg"
	DocumentRGCNH       DocumentType = "rg_cnh"
	DocumentCPF         DocumentType = "cpf"
	DocumentResidencia  DocumentType = "comprovante_residencia"
)

// ParseDocumentType maps a raw job payload value onto a known document type.
func ParseDocumentType(s string) (DocumentType, bool) {
	switch DocumentType(s) {
	case DocumentRG, DocumentRGCNH, DocumentCPF, DocumentResidencia:
		return DocumentType(s), true
	}
	return "", false
}

// BoundingBox represents pixel coordinates of a recognized region (x1>=x0, y1>=y0)
type BoundingBox struct {
	X0 int
	Y0 int
	X1 int
	Y1 int
}

// TextBlock represents a recognized line of text with its position
type TextBlock struct {
	Text        string
	Confidence  float64
	BoundingBox BoundingBox
}

// DocumentData maps extracted field names (rg, cpf, name, birthDate, cep,
// street, city) to their values. Every field of the document type's rule set
// is present; a field whose pattern did not match holds an empty string.
type DocumentData map[string]string

// RecognitionResult represents the result of a single recognition call
type RecognitionResult struct {
	Text         string
	Confidence   float64 // 0-100, mean line confidence reported by the engine
	Blocks       []TextBlock
	Lines        []string
	DocumentType DocumentType
	Data         DocumentData // extracted fields, attached by the processor
	Duration     time.Duration
}

// DocumentValidation is the verdict for one recognition result against
// caller-supplied expectations. It is created once per validation call and
// never mutated afterwards; IsValid is false exactly when Errors is non-empty.
type DocumentValidation struct {
	IsValid    bool     `json:"isValid"`
	Confidence float64  `json:"confidence"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
}

// Progress is the uniform progress shape reported to callers
type Progress struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"` // 0..1
}

// ProgressFunc receives progress updates. Callbacks are invoked synchronously
// from within the pipeline and must not block for long periods.
type ProgressFunc func(Progress)

// BatchItem is one (image, document type) pair of a batch request
type BatchItem struct {
	Image        []byte
	DocumentType DocumentType
}

// BatchProgress reports per-item progress during batch processing
type BatchProgress struct {
	Index int
	Total int
	Stage Progress
}

// BatchProgressFunc receives batch progress updates
type BatchProgressFunc func(BatchProgress)

func report(onProgress ProgressFunc, status string, progress float64) {
	if onProgress != nil {
		onProgress(Progress{Status: status, Progress: progress})
	}
}
