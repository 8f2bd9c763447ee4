package processor

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/onboardly/docverify-worker/internal/errors"
)

// fakeClient is a scriptable engine double. Text() returns texts in call
// order (the last entry repeats); textErrs, when set, is consulted per call.
type fakeClient struct {
	mu sync.Mutex

	texts    []string
	textErrs []error
	boxes    []Box

	setLanguageErr  error
	setWhitelistErr error
	setImageErr     error
	boxesErr        error

	languages []string
	whitelist string
	images    [][]byte
	textCalls int
	closed    bool
}

func (f *fakeClient) SetLanguage(languages ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages = languages
	return f.setLanguageErr
}

func (f *fakeClient) SetWhitelist(chars string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.whitelist = chars
	return f.setWhitelistErr
}

func (f *fakeClient) SetImage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, data)
	return f.setImageErr
}

func (f *fakeClient) Text() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.textCalls
	f.textCalls++

	if n < len(f.textErrs) && f.textErrs[n] != nil {
		return "", f.textErrs[n]
	}

	if len(f.texts) == 0 {
		return "", nil
	}
	if n >= len(f.texts) {
		n = len(f.texts) - 1
	}
	return f.texts[n], nil
}

func (f *fakeClient) Boxes() ([]Box, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.boxesErr != nil {
		return nil, f.boxesErr
	}
	return f.boxes, nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeFactory counts constructions and optionally fails the first n of them.
type fakeFactory struct {
	mu       sync.Mutex
	client   *fakeClient
	built    []*fakeClient
	failures []error
}

func (f *fakeFactory) new() (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}

	client := f.client
	if client == nil {
		client = &fakeClient{boxes: []Box{{Text: "linha", Confidence: 90}}}
	}
	f.client = nil
	f.built = append(f.built, client)
	return client, nil
}

func (f *fakeFactory) constructions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeFactory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

func newTestEngine(factory *fakeFactory) *Engine {
	return NewEngine(&EngineConfig{
		ClientFactory: factory.new,
		Languages:     []string{"por", "eng"},
		Whitelist:     "ABC123",
	})
}

func TestEngineStateTransitions(t *testing.T) {
	factory := &fakeFactory{}
	engine := newTestEngine(factory)

	assert.Equal(t, EngineUninitialized, engine.State())

	require.NoError(t, engine.Initialize(context.Background(), nil))
	assert.Equal(t, EngineReady, engine.State())

	require.NoError(t, engine.Terminate())
	assert.Equal(t, EngineTerminated, engine.State())
}

func TestEngineInitializeIdempotent(t *testing.T) {
	factory := &fakeFactory{}
	engine := newTestEngine(factory)

	require.NoError(t, engine.Initialize(context.Background(), nil))
	require.NoError(t, engine.Initialize(context.Background(), nil))

	assert.Equal(t, 1, factory.constructions())
}

func TestEngineConcurrentInitializeSharesOneAttempt(t *testing.T) {
	factory := &fakeFactory{}
	engine := newTestEngine(factory)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = engine.Initialize(context.Background(), nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, factory.constructions())
	assert.Equal(t, EngineReady, engine.State())
}

func TestEngineInitFailureIsRetryable(t *testing.T) {
	cause := stderrors.New("missing language data")
	factory := &fakeFactory{failures: []error{cause}}
	engine := newTestEngine(factory)

	err := engine.Initialize(context.Background(), nil)
	require.Error(t, err)

	code, ok := apperrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorEngineInitFailed, code)
	assert.True(t, stderrors.Is(err, cause))

	// Failed initialization leaves the adapter retryable
	assert.Equal(t, EngineUninitialized, engine.State())

	require.NoError(t, engine.Initialize(context.Background(), nil))
	assert.Equal(t, EngineReady, engine.State())
}

func TestEngineConfiguresLanguagesAndWhitelist(t *testing.T) {
	factory := &fakeFactory{}
	engine := newTestEngine(factory)

	require.NoError(t, engine.Initialize(context.Background(), nil))

	client := factory.last()
	require.NotNil(t, client)
	assert.Equal(t, []string{"por", "eng"}, client.languages)
	assert.Equal(t, "ABC123", client.whitelist)
}

func TestEngineRecognizeAutoInitializes(t *testing.T) {
	factory := &fakeFactory{client: &fakeClient{
		texts: []string{"NOME: MARIA\n"},
		boxes: []Box{{Text: "NOME: MARIA", Confidence: 92, X0: 10, Y0: 20, X1: 200, Y1: 40}},
	}}
	engine := newTestEngine(factory)

	result, err := engine.Recognize(context.Background(), []byte("img"), DocumentRG, nil)
	require.NoError(t, err)

	assert.Equal(t, EngineReady, engine.State())
	assert.Equal(t, "NOME: MARIA", result.Text)
	require.Len(t, result.Blocks, 1)
	assert.Equal(t, BoundingBox{X0: 10, Y0: 20, X1: 200, Y1: 40}, result.Blocks[0].BoundingBox)
}

func TestEngineRecognizeConfidenceIsMeanOfLines(t *testing.T) {
	factory := &fakeFactory{client: &fakeClient{
		texts: []string{"LINHA UM\n\nLINHA DOIS\n"},
		boxes: []Box{
			{Text: "LINHA UM", Confidence: 80},
			{Text: "LINHA DOIS", Confidence: 90},
		},
	}}
	engine := newTestEngine(factory)

	result, err := engine.Recognize(context.Background(), []byte("img"), DocumentRG, nil)
	require.NoError(t, err)

	assert.InDelta(t, 85.0, result.Confidence, 0.001)
	assert.Equal(t, []string{"LINHA UM", "LINHA DOIS"}, result.Lines)
}

func TestEngineRecognizeNoLinesScoresZero(t *testing.T) {
	factory := &fakeFactory{client: &fakeClient{texts: []string{""}}}
	engine := newTestEngine(factory)

	result, err := engine.Recognize(context.Background(), []byte("img"), DocumentRG, nil)
	require.NoError(t, err)

	assert.Zero(t, result.Confidence)
	assert.Empty(t, result.Blocks)
	assert.Empty(t, result.Lines)
}

func TestEngineRecognizeWrapsEngineFailure(t *testing.T) {
	cause := stderrors.New("empty page")
	factory := &fakeFactory{client: &fakeClient{textErrs: []error{cause}}}
	engine := newTestEngine(factory)

	_, err := engine.Recognize(context.Background(), []byte("img"), DocumentRG, nil)
	require.Error(t, err)

	code, ok := apperrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorRecognitionFailed, code)
	assert.True(t, stderrors.Is(err, cause))
}

func TestEngineTerminateThenRecognizeReinitializes(t *testing.T) {
	factory := &fakeFactory{}
	engine := newTestEngine(factory)

	_, err := engine.Recognize(context.Background(), []byte("img"), DocumentRG, nil)
	require.NoError(t, err)

	first := factory.last()
	require.NoError(t, engine.Terminate())
	assert.True(t, first.closed)

	_, err = engine.Recognize(context.Background(), []byte("img"), DocumentRG, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, factory.constructions())
	assert.Equal(t, EngineReady, engine.State())
}

func TestEngineRecognizeReportsProgressStages(t *testing.T) {
	factory := &fakeFactory{}
	engine := newTestEngine(factory)

	var events []Progress
	_, err := engine.Recognize(context.Background(), []byte("img"), DocumentRG, func(p Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, Progress{Status: "initializing", Progress: 0.0}, events[0])
	assert.Equal(t, Progress{Status: "done", Progress: 1.0}, events[len(events)-1])

	last := -1.0
	for _, e := range events {
		if e.Status == "recognizing" || e.Status == "done" {
			assert.GreaterOrEqual(t, e.Progress, last)
			last = e.Progress
		}
	}
}
