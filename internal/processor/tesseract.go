/**
 * Tesseract binding - gosseract-backed implementation of the engine boundary
 *
 * The adapter in engine.go drives the narrow Client interface so that tests
 * can substitute a double; this file is the only place that touches the
 * Tesseract C API.
 */

package processor

import (
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Client is the narrow surface of the underlying OCR engine. The engine is
// stateful and not safe for concurrent calls on one instance; the adapter
// serializes access.
type Client interface {
	SetLanguage(languages ...string) error
	SetWhitelist(chars string) error
	SetImage(data []byte) error
	Text() (string, error)
	Boxes() ([]Box, error)
	Close() error
}

// Box is one recognized text line with its pixel bounding box and a
// 0-100 confidence score.
type Box struct {
	Text       string
	Confidence float64
	X0, Y0     int
	X1, Y1     int
}

// ClientFactory constructs a fresh engine client. Construction is cheap;
// the expensive part is language data loading on first use, which is why
// the adapter keeps one client alive across recognitions.
type ClientFactory func() (Client, error)

// tesseractClient wraps gosseract.Client behind the Client interface
type tesseractClient struct {
	client *gosseract.Client
}

// NewTesseractClient creates a Tesseract-backed engine client
func NewTesseractClient() (Client, error) {
	client := gosseract.NewClient()
	if client == nil {
		return nil, fmt.Errorf("failed to construct tesseract client")
	}
	return &tesseractClient{client: client}, nil
}

func (t *tesseractClient) SetLanguage(languages ...string) error {
	if err := t.client.SetLanguage(languages...); err != nil {
		return fmt.Errorf("failed to set languages %v: %w", languages, err)
	}
	return nil
}

func (t *tesseractClient) SetWhitelist(chars string) error {
	if err := t.client.SetWhitelist(chars); err != nil {
		return fmt.Errorf("failed to set character whitelist: %w", err)
	}
	return nil
}

func (t *tesseractClient) SetImage(data []byte) error {
	if err := t.client.SetImageFromBytes(data); err != nil {
		return fmt.Errorf("failed to set image: %w", err)
	}
	return nil
}

func (t *tesseractClient) Text() (string, error) {
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract recognition failed: %w", err)
	}
	return text, nil
}

// Boxes returns line-level bounding boxes with per-line confidence.
func (t *tesseractClient) Boxes() ([]Box, error) {
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("failed to read bounding boxes: %w", err)
	}

	out := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		out = append(out, Box{
			Text:       text,
			Confidence: b.Confidence,
			X0:         b.Box.Min.X,
			Y0:         b.Box.Min.Y,
			X1:         b.Box.Max.X,
			Y1:         b.Box.Max.Y,
		})
	}
	return out, nil
}

func (t *tesseractClient) Close() error {
	return t.client.Close()
}
