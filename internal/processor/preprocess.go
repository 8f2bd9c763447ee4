/**
 * Image preprocessor
 *
 * Normalizes uploaded document photos before recognition: decodes the
 * image, downscales it into the configured bounds and re-encodes it as
 * JPEG. Preprocessing failures are reported as PREPROCESSING_FAILED and
 * recognition is never attempted on the input.
 */

package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"

	apperrors "github.com/onboardly/docverify-worker/internal/errors"
)

// Preprocessor compresses and resizes input images
type Preprocessor struct {
	MaxWidth  int
	MaxHeight int
	Quality   int // JPEG quality 1-100
}

// NewPreprocessor creates a preprocessor; zero values fall back to defaults
func NewPreprocessor(maxWidth, maxHeight, quality int) *Preprocessor {
	if maxWidth <= 0 {
		maxWidth = 1600
	}
	if maxHeight <= 0 {
		maxHeight = 1600
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Preprocessor{
		MaxWidth:  maxWidth,
		MaxHeight: maxHeight,
		Quality:   quality,
	}
}

// Compress decodes the image, scales it down to fit MaxWidth x MaxHeight
// (never up) and re-encodes it as JPEG at the configured quality. JPEG
// inputs already inside the bounds pass through untouched.
func (p *Preprocessor) Compress(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewPreprocessingError(fmt.Errorf("failed to decode image: %w", err))
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, apperrors.NewPreprocessingError(fmt.Errorf("empty image: %dx%d", width, height))
	}

	if width <= p.MaxWidth && height <= p.MaxHeight {
		if format == "jpeg" {
			return data, nil
		}
		return p.encode(img)
	}

	scale := float64(p.MaxWidth) / float64(width)
	if s := float64(p.MaxHeight) / float64(height); s < scale {
		scale = s
	}

	dst := image.NewRGBA(image.Rect(0, 0,
		int(float64(width)*scale+0.5),
		int(float64(height)*scale+0.5)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)

	return p.encode(dst)
}

func (p *Preprocessor) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.Quality}); err != nil {
		return nil, apperrors.NewPreprocessingError(fmt.Errorf("failed to encode image: %w", err))
	}
	return buf.Bytes(), nil
}
