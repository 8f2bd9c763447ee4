/**
 * Similarity validator
 *
 * Decides whether extracted document data matches caller-supplied
 * expectations. Quality concerns are expressed as errors/warnings inside
 * the returned DocumentValidation; validation itself never fails.
 *
 * Similarity is Levenshtein distance over Unicode code points normalized
 * into a 0-100 percentage:
 *   similarity = ((max(len1,len2) - distance) / max(len1,len2)) * 100
 * with 100 defined for two empty strings.
 */

package processor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/onboardly/docverify-worker/internal/logging"
)

// Policy thresholds. Confidence below minConfidence fails validation
// outright; below lowConfidence it only warns. Field similarity below
// matchThreshold fails; below warnThreshold it warns; at or above
// warnThreshold the field is silently accepted.
const (
	minConfidence  = 50.0
	lowConfidence  = 70.0
	matchThreshold = 70.0
	warnThreshold  = 85.0
)

// numericFields are identifier fields whose separators (dots, dashes,
// slashes, spaces) carry no information; both sides are stripped of them
// before the distance computation so "123.456.789-00" matches "12345678900".
var numericFields = map[string]bool{
	FieldRG:  true,
	FieldCPF: true,
	FieldCEP: true,
}

// Validator scores extracted data against expected field values
type Validator struct {
	logger *logging.Logger
}

// NewValidator creates a similarity validator
func NewValidator(logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.NewLogger("validator")
	}
	return &Validator{logger: logger}
}

// Validate checks the recognition result against expected field values.
// Expected fields are checked in lexical order so the error/warning
// sequence is reproducible. A missing extracted field only warns; a
// low-similarity field fails. IsValid is false exactly when Errors is
// non-empty; warnings never affect it.
func (v *Validator) Validate(result *RecognitionResult, expected map[string]string) *DocumentValidation {
	validation := &DocumentValidation{
		Confidence: result.Confidence,
		Errors:     []string{},
		Warnings:   []string{},
	}

	if result.Confidence < minConfidence {
		validation.Errors = append(validation.Errors,
			fmt.Sprintf("image quality too low: confidence %.1f below minimum %.0f",
				result.Confidence, minConfidence))
	} else if result.Confidence < lowConfidence {
		validation.Warnings = append(validation.Warnings,
			fmt.Sprintf("low recognition confidence: %.1f", result.Confidence))
	}

	fields := make([]string, 0, len(expected))
	for field := range expected {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		extracted := strings.TrimSpace(result.Data[field])
		if extracted == "" {
			validation.Warnings = append(validation.Warnings,
				fmt.Sprintf("field %q not found in document", field))
			continue
		}

		similarity := Similarity(
			normalizeField(field, extracted),
			normalizeField(field, expected[field]),
		)
		v.logger.Debug("Field compared", "field", field, "similarity", similarity)

		switch {
		case similarity < matchThreshold:
			validation.Errors = append(validation.Errors,
				fmt.Sprintf("field %q does not match expected value (similarity %.1f%%)",
					field, similarity))
		case similarity < warnThreshold:
			validation.Warnings = append(validation.Warnings,
				fmt.Sprintf("field %q has minor differences (similarity %.1f%%)",
					field, similarity))
		}
	}

	validation.IsValid = len(validation.Errors) == 0
	return validation
}

// Similarity scores two normalized strings as a 0-100 percentage based on
// their Levenshtein distance over code points. Two empty strings score 100.
func Similarity(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if lb := utf8.RuneCountInString(b); lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100.0
	}

	distance := levenshtein.ComputeDistance(a, b)
	return (float64(longest-distance) / float64(longest)) * 100.0
}

var (
	// NFD-decompose, drop combining marks, recompose
	diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	whitespaceRun = regexp.MustCompile(`\s+`)

	separatorStripper = strings.NewReplacer(".", "", "-", "", "/", "", " ", "")
)

// normalizeText strips diacritics, lower-cases, collapses internal
// whitespace and trims.
func normalizeText(s string) string {
	stripped, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ToLower(stripped)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(stripped, " "))
}

// normalizeField applies text normalization, plus separator stripping for
// numeric identifier fields.
func normalizeField(field, value string) string {
	v := normalizeText(value)
	if numericFields[field] {
		v = separatorStripper.Replace(v)
	}
	return v
}
