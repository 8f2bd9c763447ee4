package processor

import (
	"bytes"
	"context"
	stderrors "errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/onboardly/docverify-worker/internal/errors"
)

// pngImage produces a small valid PNG for pipeline tests
func pngImage(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.White)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestProcessor(t *testing.T, factory *fakeFactory) *DocumentProcessor {
	t.Helper()

	proc, err := NewDocumentProcessor(&ProcessorConfig{
		ClientFactory: factory.new,
		Languages:     []string{"por"},
	})
	require.NoError(t, err)
	return proc
}

func TestNewDocumentProcessorRequiresConfig(t *testing.T) {
	_, err := NewDocumentProcessor(nil)
	require.Error(t, err)
}

func TestRecognizeTextExtractsFields(t *testing.T) {
	factory := &fakeFactory{client: &fakeClient{
		texts: []string{"NOME: MARIA DA SILVA\n123.456.789-00\n"},
		boxes: []Box{{Text: "NOME: MARIA DA SILVA", Confidence: 91}},
	}}
	proc := newTestProcessor(t, factory)

	result, err := proc.RecognizeText(context.Background(), pngImage(t, 40, 30), DocumentCPF, nil)
	require.NoError(t, err)

	assert.Equal(t, DocumentCPF, result.DocumentType)
	assert.Equal(t, "MARIA DA SILVA", result.Data[FieldName])
	assert.Equal(t, "123.456.789-00", result.Data[FieldCPF])
}

func TestRecognizeTextRejectsInvalidImage(t *testing.T) {
	factory := &fakeFactory{}
	proc := newTestProcessor(t, factory)

	_, err := proc.RecognizeText(context.Background(), []byte("not an image"), DocumentRG, nil)
	require.Error(t, err)

	code, ok := apperrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorPreprocessingFailed, code)

	// Preprocessing failures never reach the engine
	assert.Zero(t, factory.constructions())
}

func TestProcessBatchPreservesOrder(t *testing.T) {
	factory := &fakeFactory{client: &fakeClient{
		texts: []string{"PRIMEIRO DOCUMENTO", "SEGUNDO DOCUMENTO", "TERCEIRO DOCUMENTO"},
		boxes: []Box{{Text: "linha", Confidence: 88}},
	}}
	proc := newTestProcessor(t, factory)

	items := []BatchItem{
		{Image: pngImage(t, 40, 30), DocumentType: DocumentRG},
		{Image: pngImage(t, 40, 30), DocumentType: DocumentCPF},
		{Image: pngImage(t, 40, 30), DocumentType: DocumentResidencia},
	}

	results, err := proc.ProcessBatch(context.Background(), items, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "PRIMEIRO DOCUMENTO", results[0].Text)
	assert.Equal(t, "SEGUNDO DOCUMENTO", results[1].Text)
	assert.Equal(t, "TERCEIRO DOCUMENTO", results[2].Text)

	assert.Equal(t, DocumentRG, results[0].DocumentType)
	assert.Equal(t, DocumentCPF, results[1].DocumentType)
	assert.Equal(t, DocumentResidencia, results[2].DocumentType)

	// One shared engine across the whole batch
	assert.Equal(t, 1, factory.constructions())
}

func TestProcessBatchFailsFastWithItemIndex(t *testing.T) {
	cause := stderrors.New("empty page")
	factory := &fakeFactory{client: &fakeClient{
		texts:    []string{"PRIMEIRO DOCUMENTO", "", "TERCEIRO DOCUMENTO"},
		textErrs: []error{nil, cause},
		boxes:    []Box{{Text: "linha", Confidence: 88}},
	}}
	proc := newTestProcessor(t, factory)

	items := []BatchItem{
		{Image: pngImage(t, 40, 30), DocumentType: DocumentRG},
		{Image: pngImage(t, 40, 30), DocumentType: DocumentRG},
		{Image: pngImage(t, 40, 30), DocumentType: DocumentRG},
	}

	results, err := proc.ProcessBatch(context.Background(), items, nil)
	require.Error(t, err)
	assert.Nil(t, results)

	code, ok := apperrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorBatchItemFailed, code)

	index, ok := apperrors.BatchItemIndex(err)
	require.True(t, ok)
	assert.Equal(t, 1, index)

	assert.True(t, stderrors.Is(err, cause))

	// Item 2 was never attempted
	client := factory.last()
	require.NotNil(t, client)
	assert.Len(t, client.images, 2)
}

func TestProcessBatchHonorsCancelledContext(t *testing.T) {
	factory := &fakeFactory{}
	proc := newTestProcessor(t, factory)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []BatchItem{{Image: pngImage(t, 40, 30), DocumentType: DocumentRG}}
	results, err := proc.ProcessBatch(ctx, items, nil)
	require.Error(t, err)
	assert.Nil(t, results)

	index, ok := apperrors.BatchItemIndex(err)
	require.True(t, ok)
	assert.Equal(t, 0, index)
	assert.True(t, stderrors.Is(err, context.Canceled))
}

func TestProcessBatchReportsPerItemProgress(t *testing.T) {
	factory := &fakeFactory{client: &fakeClient{
		texts: []string{"UM", "DOIS"},
		boxes: []Box{{Text: "linha", Confidence: 88}},
	}}
	proc := newTestProcessor(t, factory)

	items := []BatchItem{
		{Image: pngImage(t, 40, 30), DocumentType: DocumentRG},
		{Image: pngImage(t, 40, 30), DocumentType: DocumentRG},
	}

	var events []BatchProgress
	_, err := proc.ProcessBatch(context.Background(), items, func(bp BatchProgress) {
		events = append(events, bp)
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	lastIndex := 0
	seen := map[int]bool{}
	for _, e := range events {
		assert.Equal(t, 2, e.Total)
		assert.GreaterOrEqual(t, e.Index, lastIndex)
		lastIndex = e.Index
		seen[e.Index] = true
	}
	assert.True(t, seen[0])
	assert.True(t, seen[1])
}

func TestValidateDocumentUsesExtractedData(t *testing.T) {
	factory := &fakeFactory{client: &fakeClient{
		texts: []string{"NOME: MARIA DA SILVA\n123.456.789-00\n"},
		boxes: []Box{{Text: "NOME: MARIA DA SILVA", Confidence: 91}},
	}}
	proc := newTestProcessor(t, factory)

	result, err := proc.RecognizeText(context.Background(), pngImage(t, 40, 30), DocumentCPF, nil)
	require.NoError(t, err)

	validation := proc.ValidateDocument(result, map[string]string{
		FieldName: "Maria da Silva",
		FieldCPF:  "12345678900",
	})

	assert.True(t, validation.IsValid)
	assert.Empty(t, validation.Errors)
	assert.Empty(t, validation.Warnings)
}

func TestTerminateLeavesProcessorReusable(t *testing.T) {
	factory := &fakeFactory{}
	proc := newTestProcessor(t, factory)

	_, err := proc.RecognizeText(context.Background(), pngImage(t, 40, 30), DocumentRG, nil)
	require.NoError(t, err)

	require.NoError(t, proc.Terminate())

	_, err = proc.RecognizeText(context.Background(), pngImage(t, 40, 30), DocumentRG, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, factory.constructions())
}
