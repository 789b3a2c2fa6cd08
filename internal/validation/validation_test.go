package validation

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
)

const nameSchema = `{
  "type": "object",
  "required": ["name", "confidence"],
  "properties": {
    "name": {"type": "string"},
    "confidence": {"type": "number"}
  }
}`

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"wrapped", `Here is the result {"a":1} hope it helps`, `{"a":1}`},
		{"nested", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`},
		{"no braces", "  plain text \n", "plain text"},
		{"reversed braces", " } oops { ", "} oops {"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestCleanAndValidate_ExtractsEmbeddedObject(t *testing.T) {
	v := NewResultValidator()

	out, err := v.CleanAndValidate(`Here is the result {"name":"Ivan","confidence":0.85}`, nameSchema, "cv-match")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Ivan","confidence":0.85}`, out)

	again, err := v.CleanAndValidate(out, nameSchema, "cv-match")
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestCleanAndValidate_ConfidenceOutOfRange(t *testing.T) {
	v := NewResultValidator()

	for _, raw := range []string{
		`{"name":"Ivan","confidence":1.5}`,
		`{"name":"Ivan","confidence":-0.1}`,
	} {
		_, err := v.CleanAndValidate(raw, nameSchema, "cv-match")
		require.Error(t, err)
		assert.Equal(t, failure.KindValidation, failure.KindOf(err))
		assert.Contains(t, err.Error(), "Confidence out of range")
	}

	// Out of range is reported even when the schema knows nothing about confidence.
	_, err := v.CleanAndValidate(`{"confidence":1.5}`, `{"type":"object"}`, "loose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Confidence out of range")
}

func TestCleanAndValidate_ConfidenceOptional(t *testing.T) {
	v := NewResultValidator()
	out, err := v.CleanAndValidate(`{"matches":true}`, `{"type":"object"}`, "loose")
	require.NoError(t, err)
	assert.Equal(t, `{"matches":true}`, out)
}

func TestCleanAndValidate_MalformedJSON(t *testing.T) {
	v := NewResultValidator()
	_, err := v.CleanAndValidate(`sure! {"name": "Ivan", }`, nameSchema, "cv-match")
	require.Error(t, err)
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
	assert.Contains(t, err.Error(), "malformed JSON")
	assert.Equal(t, "cv-match", failure.RefOf(err))
}

func TestCleanAndValidate_AggregatesViolations(t *testing.T) {
	v := NewResultValidator()
	_, err := v.CleanAndValidate(`{"name": 7}`, nameSchema, "cv-match")
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "schema violation")
	assert.Contains(t, msg, "confidence")
	assert.Contains(t, msg, "name")
}

func TestCleanAndValidate_InvalidSchema(t *testing.T) {
	v := NewResultValidator()
	_, err := v.CleanAndValidate(`{"a":1}`, `{"type": 12`, "broken")
	require.Error(t, err)
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
	assert.Contains(t, err.Error(), "invalid JSON schema configuration")
}

func TestCleanAndValidate_ConcurrentFirstUse(t *testing.T) {
	v := NewResultValidator()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.CleanAndValidate(`{"name":"a","confidence":0.5}`, nameSchema, "cv-match")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, v.schemas, 1)
}

func TestItemValidator(t *testing.T) {
	v := NewItemValidator()

	valid := domain.WorkItem{Type: "cv", Ref: "cv-match", Payload: "text"}
	require.NoError(t, v.Validate(valid))

	tests := []struct {
		name string
		item domain.WorkItem
		want string
	}{
		{"blank ref", domain.WorkItem{Type: "cv", Ref: "  ", Payload: "x"}, "ref must not be blank"},
		{"blank payload", domain.WorkItem{Type: "cv", Ref: "r", Payload: "\n\t"}, "payload must not be blank"},
		{"blank type", domain.WorkItem{Ref: "r", Payload: "x"}, "type must not be blank"},
		{"oversized payload", domain.WorkItem{Type: "cv", Ref: "r", Payload: strings.Repeat("я", domain.MaxPayloadChars+1)}, "payload exceeds 100000 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.item)
			require.Error(t, err)
			assert.Equal(t, failure.KindValidation, failure.KindOf(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	// Exactly at the bound counts characters, not bytes.
	atBound := domain.WorkItem{Type: "cv", Ref: "r", Payload: strings.Repeat("я", domain.MaxPayloadChars)}
	assert.NoError(t, v.Validate(atBound))
}
