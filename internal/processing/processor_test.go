package processing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
	"github.com/vietddude/aiprocessor/internal/infra/storage/memory"
	"github.com/vietddude/aiprocessor/internal/prompt"
	"github.com/vietddude/aiprocessor/internal/validation"
)

const matchSchema = `{
  "type": "object",
  "required": ["matches", "confidence"],
  "properties": {
    "matches": {"type": "boolean"},
    "confidence": {"type": "number"},
    "reason": {"type": "string"}
  }
}`

type analyzeCall struct {
	system, user, schema, correlationID, ref string
}

type reply struct {
	text string
	err  error
}

// fakeAnalyzer returns the scripted replies in order, then fallback.
type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    []analyzeCall
	script   []reply
	fallback reply
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, system, user, schema, correlationID, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, analyzeCall{system, user, schema, correlationID, ref})
	r := f.fallback
	if len(f.script) > 0 {
		r = f.script[0]
		f.script = f.script[1:]
	}
	return r.text, r.err
}

func (f *fakeAnalyzer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newPrompts() *prompt.Service {
	repo := memory.NewPromptRepo(memory.NewMemoryStorage(), domain.PromptSpec{
		Ref:        "cv-match",
		Template:   "Decide whether the CV matches. CV: {{payload}}",
		SchemaJSON: matchSchema,
	})
	return prompt.NewService(repo, prompt.Config{StoreBaseDelay: time.Millisecond})
}

func newTestProcessor(a *fakeAnalyzer) *Processor {
	return NewProcessor(newPrompts(), a, validation.NewResultValidator())
}

func TestProcess_Success(t *testing.T) {
	a := &fakeAnalyzer{fallback: reply{text: `Sure: {"matches":true,"confidence":0.9}`}}
	p := newTestProcessor(a)

	res, err := p.Process(context.Background(), domain.WorkItem{Type: "cv", Ref: "cv-match", Payload: "Go developer"}, "src-1")
	require.NoError(t, err)

	assert.Equal(t, "cv-match", res.Ref)
	assert.Equal(t, "src-1", res.SourceID)
	assert.True(t, res.Result.Matches)
	assert.Equal(t, 0.9, res.Result.Confidence)
	assert.Equal(t, domain.DefaultReason, res.Result.Reason)

	require.Len(t, a.calls, 1)
	call := a.calls[0]
	assert.Equal(t, "Decide whether the CV matches. CV: Go developer", call.system)
	assert.Equal(t, "Go developer", call.user)
	assert.Equal(t, matchSchema, call.schema)
	assert.Equal(t, "src-1", call.correlationID)
	assert.Equal(t, "cv-match", call.ref)
}

func TestProcess_InvalidItemNeverCallsAI(t *testing.T) {
	items := map[string]domain.WorkItem{
		"blank ref":         {Type: "cv", Ref: " ", Payload: "x"},
		"blank payload":     {Type: "cv", Ref: "cv-match", Payload: ""},
		"oversized payload": {Type: "cv", Ref: "cv-match", Payload: strings.Repeat("a", domain.MaxPayloadChars+1)},
	}
	for name, item := range items {
		t.Run(name, func(t *testing.T) {
			a := &fakeAnalyzer{}
			_, err := newTestProcessor(a).Process(context.Background(), item, "src-1")
			require.Error(t, err)
			assert.Equal(t, failure.KindValidation, failure.KindOf(err))
			assert.Zero(t, a.count())
		})
	}
}

func TestProcess_PromptNotFoundNeverCallsAI(t *testing.T) {
	a := &fakeAnalyzer{}
	_, err := newTestProcessor(a).Process(context.Background(), domain.WorkItem{Type: "cv", Ref: "unknown", Payload: "x"}, "src-1")
	require.Error(t, err)
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err))
	assert.Equal(t, "unknown", failure.RefOf(err))
	assert.Equal(t, failure.ActionDeadLetter, failure.Classify(err))
	assert.Zero(t, a.count())
}

func TestProcess_AIFailurePassesThrough(t *testing.T) {
	transient := failure.Transient("ai endpoint unavailable", errors.New("503"))
	a := &fakeAnalyzer{fallback: reply{err: transient}}

	_, err := newTestProcessor(a).Process(context.Background(), domain.WorkItem{Type: "cv", Ref: "cv-match", Payload: "x"}, "src-1")
	assert.Same(t, transient, err)
	assert.Equal(t, 1, a.count(), "the processor never loops the AI call")
}

func TestProcess_InvalidResult(t *testing.T) {
	tests := map[string]string{
		"malformed":        `{"matches": tru`,
		"schema violation": `{"matches":true}`,
		"out of range":     `{"matches":true,"confidence":1.5}`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			a := &fakeAnalyzer{fallback: reply{text: text}}
			_, err := newTestProcessor(a).Process(context.Background(), domain.WorkItem{Type: "cv", Ref: "cv-match", Payload: "x"}, "src-1")
			require.Error(t, err)
			assert.Equal(t, failure.KindValidation, failure.KindOf(err))
			assert.Equal(t, 1, a.count())
		})
	}
}

func TestDecodeWorkItem(t *testing.T) {
	item, err := DecodeWorkItem([]byte(`{"type":"cv","ref":"cv-match","payload":"x","extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItem{Type: "cv", Ref: "cv-match", Payload: "x"}, item)

	for _, raw := range []string{"", "  ", "null", "{not json", `["a"]`, `{"ref": 5}`} {
		_, err := DecodeWorkItem([]byte(raw))
		require.Error(t, err, raw)
		assert.Equal(t, failure.KindDeserialization, failure.KindOf(err), raw)
		assert.Equal(t, failure.ActionPersistCorrupt, failure.Classify(err), raw)
	}
}
