/**
 * Recognition engine adapter
 *
 * Owns the single long-lived OCR engine instance and its
 * Uninitialized -> Initializing -> Ready -> Terminated state machine.
 * Initialization is lazy and idempotent: concurrent callers await the
 * same in-flight initialization instead of constructing a second engine.
 * Recognition calls are serialized because the underlying engine is not
 * reentrant.
 */

package processor

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/onboardly/docverify-worker/internal/errors"
	"github.com/onboardly/docverify-worker/internal/logging"
)

// EngineState describes the adapter lifecycle
type EngineState int32

const (
	EngineUninitialized EngineState = iota
	EngineInitializing
	EngineReady
	EngineTerminated
)

func (s EngineState) String() string {
	switch s {
	case EngineUninitialized:
		return "uninitialized"
	case EngineInitializing:
		return "initializing"
	case EngineReady:
		return "ready"
	case EngineTerminated:
		return "terminated"
	}
	return "unknown"
}

// initAttempt tracks one in-flight initialization. err is written before
// done is closed, so waiters may read it without further locking.
type initAttempt struct {
	done chan struct{}
	err  error
}

// EngineConfig holds engine adapter configuration
type EngineConfig struct {
	// ClientFactory constructs the underlying engine client.
	// Defaults to NewTesseractClient.
	ClientFactory ClientFactory

	// Languages passed to the engine (e.g. "por", "eng").
	Languages []string

	// Whitelist restricts recognition to the domain character set.
	Whitelist string

	Logger *logging.Logger
}

// Engine is the recognition engine adapter. It mediates all access to the
// engine handle; no other component holds a reference to it.
type Engine struct {
	newClient ClientFactory
	languages []string
	whitelist string
	logger    *logging.Logger

	mu      sync.Mutex // guards state, attempt and client
	state   EngineState
	attempt *initAttempt
	client  Client

	opMu sync.Mutex // serializes calls into the non-reentrant engine
}

// NewEngine creates an engine adapter in the Uninitialized state.
// The underlying engine is constructed lazily on first use.
func NewEngine(cfg *EngineConfig) *Engine {
	factory := cfg.ClientFactory
	if factory == nil {
		factory = NewTesseractClient
	}

	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{"por", "eng"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("engine")
	}

	return &Engine{
		newClient: factory,
		languages: languages,
		whitelist: cfg.Whitelist,
		logger:    logger,
		state:     EngineUninitialized,
	}
}

// State returns the current lifecycle state
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Initialize configures the engine for the required language set and
// character whitelist. Safe to call concurrently: only one initialization
// runs at a time and every caller observes its outcome. A failed attempt
// leaves the adapter Uninitialized so initialization can be retried.
func (e *Engine) Initialize(ctx context.Context, onProgress ProgressFunc) error {
	e.mu.Lock()
	switch e.state {
	case EngineReady:
		e.mu.Unlock()
		return nil

	case EngineInitializing:
		attempt := e.attempt
		e.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Uninitialized or Terminated: start a fresh initialization
	attempt := &initAttempt{done: make(chan struct{})}
	e.state = EngineInitializing
	e.attempt = attempt
	e.mu.Unlock()

	e.logger.Info("Initializing OCR engine",
		"languages", strings.Join(e.languages, "+"))
	report(onProgress, "initializing", 0.0)

	start := time.Now()
	client, err := e.buildClient()

	e.mu.Lock()
	if err != nil {
		e.state = EngineUninitialized
		e.attempt = nil
		attempt.err = err
		close(attempt.done)
		e.mu.Unlock()
		e.logger.Error("Engine initialization failed", "error", err)
		return err
	}

	e.client = client
	e.state = EngineReady
	e.attempt = nil
	close(attempt.done)
	e.mu.Unlock()

	report(onProgress, "initializing", 1.0)
	e.logger.Info("OCR engine ready", "duration", time.Since(start))
	return nil
}

// buildClient constructs and configures the underlying engine client
func (e *Engine) buildClient() (Client, error) {
	client, err := e.newClient()
	if err != nil {
		return nil, apperrors.NewEngineInitError(err)
	}

	if err := client.SetLanguage(e.languages...); err != nil {
		client.Close()
		return nil, apperrors.NewEngineInitError(err)
	}

	if e.whitelist != "" {
		if err := client.SetWhitelist(e.whitelist); err != nil {
			client.Close()
			return nil, apperrors.NewEngineInitError(err)
		}
	}

	return client, nil
}

// Recognize runs one recognition pass over the image bytes. The adapter
// auto-initializes when Uninitialized or Terminated. Concurrent callers
// queue; recognitions never overlap on the shared engine handle.
func (e *Engine) Recognize(ctx context.Context, image []byte, documentType DocumentType, onProgress ProgressFunc) (*RecognitionResult, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.Initialize(ctx, onProgress); err != nil {
		return nil, err
	}

	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	start := time.Now()
	e.logger.Debug("Recognition started",
		"document_type", string(documentType), "image_bytes", len(image))
	report(onProgress, "recognizing", 0.1)

	if err := client.SetImage(image); err != nil {
		return nil, apperrors.NewRecognitionError(err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, apperrors.NewRecognitionError(err)
	}
	report(onProgress, "recognizing", 0.7)

	boxes, err := client.Boxes()
	if err != nil {
		return nil, apperrors.NewRecognitionError(err)
	}

	result := buildResult(text, boxes)
	result.Duration = time.Since(start)

	report(onProgress, "done", 1.0)
	e.logger.Info("Recognition complete",
		"document_type", string(documentType),
		"confidence", result.Confidence,
		"blocks", len(result.Blocks),
		"duration", result.Duration)

	return result, nil
}

// Terminate releases engine resources. Safe to call from any state; a later
// Recognize re-initializes the engine. Queues behind an in-flight recognition
// so the engine handle is never closed mid-call.
func (e *Engine) Terminate() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	// Let an in-flight initialization settle so its client is not leaked.
	for e.state == EngineInitializing {
		attempt := e.attempt
		e.mu.Unlock()
		<-attempt.done
		e.mu.Lock()
	}

	var err error
	if e.client != nil {
		err = e.client.Close()
		e.client = nil
	}
	e.state = EngineTerminated
	e.mu.Unlock()

	e.logger.Info("OCR engine terminated")
	return err
}

// buildResult converts raw engine output into a RecognitionResult.
// The overall confidence is the mean of line-box confidences (0-100);
// a result with no recognized lines scores zero.
func buildResult(text string, boxes []Box) *RecognitionResult {
	trimmed := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))

	blocks := make([]TextBlock, 0, len(boxes))
	var confidenceSum float64
	for _, b := range boxes {
		confidenceSum += b.Confidence
		blocks = append(blocks, TextBlock{
			Text:       b.Text,
			Confidence: b.Confidence,
			BoundingBox: BoundingBox{
				X0: b.X0, Y0: b.Y0,
				X1: b.X1, Y1: b.Y1,
			},
		})
	}

	confidence := 0.0
	if len(blocks) > 0 {
		confidence = confidenceSum / float64(len(blocks))
	}

	var lines []string
	for _, line := range strings.Split(trimmed, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	return &RecognitionResult{
		Text:       trimmed,
		Confidence: confidence,
		Blocks:     blocks,
		Lines:      lines,
	}
}
