/**
 * Structured field extractor
 *
 * Turns raw OCR text into a DocumentData mapping using a declarative rule
 * table keyed by document type. Extraction never fails: OCR noise makes
 * failure-on-no-match too brittle, so an unmatched pattern yields an empty
 * string and downstream validation surfaces the absence as a warning.
 */

package processor

import (
	"regexp"
	"strings"
)

// Extracted field names
const (
	FieldRG        = "rg"
	FieldCPF       = "cpf"
	FieldName      = "name"
	FieldBirthDate = "birthDate"
	FieldCEP       = "cep"
	FieldStreet    = "street"
	FieldCity      = "city"
)

// fieldRule binds one field name to the pattern that captures its value.
// group selects the capture group holding the value (0 = whole match).
type fieldRule struct {
	field   string
	pattern *regexp.Regexp
	group   int
}

var (
	// 7-9 digit register number, separators optional (12.345.678-9)
	rgPattern = regexp.MustCompile(`\d{1,2}\.?\d{3}\.?\d{3}-?\d?`)

	// Brazilian CPF shape: 3-3-3-2 digits, separators optional
	cpfPattern = regexp.MustCompile(`\d{3}\.?\d{3}\.?\d{3}-?\d{2}`)

	// Holder name after a standalone NOME label (SOBRENOME must not match):
	// uppercase Latin letters with Portuguese diacritics, up to line end
	namePattern = regexp.MustCompile(`\b(?i:NOME)\b[:.\s]*([A-ZÀ-Ú][A-ZÀ-Ú ]*)`)

	birthDatePattern = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)

	// Postal code: 5 digits, optional dash, 3 digits
	cepPattern = regexp.MustCompile(`\d{5}-?\d{3}`)

	// Street after a street-type label, up to the next comma or line break
	streetPattern = regexp.MustCompile(`(?i)\b(?:RUA|AVENIDA|AV|ALAMEDA)\b\.?\s*([^,\r\n]+)`)

	cityPattern = regexp.MustCompile(`(?i:CIDADE|MUNIC[ÍI]PIO)[:.\s]*([A-ZÀ-Ú][A-ZÀ-Ú ]*)`)
)

// extractionRules is the fixed rule table: document type -> field rules.
// Rules are order-independent (each field has its own pattern); the slice
// order only fixes the set of keys present in the output.
var extractionRules = map[DocumentType][]fieldRule{
	DocumentRG: {
		{field: FieldRG, pattern: rgPattern},
		{field: FieldName, pattern: namePattern, group: 1},
		{field: FieldBirthDate, pattern: birthDatePattern},
	},
	DocumentRGCNH: {
		{field: FieldRG, pattern: rgPattern},
		{field: FieldName, pattern: namePattern, group: 1},
		{field: FieldBirthDate, pattern: birthDatePattern},
	},
	DocumentCPF: {
		{field: FieldCPF, pattern: cpfPattern},
		{field: FieldName, pattern: namePattern, group: 1},
	},
	DocumentResidencia: {
		{field: FieldCEP, pattern: cepPattern},
		{field: FieldStreet, pattern: streetPattern, group: 1},
		{field: FieldCity, pattern: cityPattern, group: 1},
	},
}

// Extractor applies the rule table to raw recognized text
type Extractor struct{}

// NewExtractor creates a structured field extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract produces the field mapping for the document type. Each field takes
// the first match of its pattern, trimmed; no match yields an empty string
// (not an omitted key) so the mapping shape is stable per document type.
// Unknown document types produce an empty mapping.
func (e *Extractor) Extract(rawText string, documentType DocumentType) DocumentData {
	data := DocumentData{}

	rules, ok := extractionRules[documentType]
	if !ok {
		return data
	}

	for _, rule := range rules {
		value := ""
		if m := rule.pattern.FindStringSubmatch(rawText); m != nil {
			value = strings.TrimSpace(m[rule.group])
		}
		data[rule.field] = value
	}

	return data
}

// Fields returns the field names the rule table defines for a document type
func (e *Extractor) Fields(documentType DocumentType) []string {
	rules := extractionRules[documentType]
	fields := make([]string, 0, len(rules))
	for _, rule := range rules {
		fields = append(fields, rule.field)
	}
	return fields
}
