// Package processing turns inbound work items into published results.
package processing

import (
	"context"
	"encoding/json"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
	"github.com/vietddude/aiprocessor/internal/prompt"
	"github.com/vietddude/aiprocessor/internal/validation"
)

// PromptResolver looks up the prompt and schema for a ref.
type PromptResolver interface {
	Get(ctx context.Context, ref string) (*domain.PromptSpec, error)
}

// Analyzer calls the AI endpoint.
type Analyzer interface {
	Analyze(ctx context.Context, systemInstruction, userContent, responseSchema, correlationID, ref string) (string, error)
}

// ResultChecker cleans and validates the raw AI answer.
type ResultChecker interface {
	CleanAndValidate(rawText, schemaJSON, ref string) (string, error)
}

// Processor runs one work item through validation, prompt resolution, the AI
// call and result validation. Each step stops the item on failure and the
// AI call is the only step that retries.
type Processor struct {
	items   *validation.ItemValidator
	prompts PromptResolver
	ai      Analyzer
	results ResultChecker
}

// NewProcessor creates the processor.
func NewProcessor(prompts PromptResolver, ai Analyzer, results ResultChecker) *Processor {
	return &Processor{
		items:   validation.NewItemValidator(),
		prompts: prompts,
		ai:      ai,
		results: results,
	}
}

// Process returns the result to publish for item.
func (p *Processor) Process(ctx context.Context, item domain.WorkItem, correlationID string) (*domain.OutgoingResult, error) {
	if err := p.items.Validate(item); err != nil {
		return nil, err
	}

	spec, err := p.prompts.Get(ctx, item.Ref)
	if err != nil {
		return nil, err
	}

	raw, err := p.ai.Analyze(ctx,
		prompt.Render(spec.Template, item.Payload),
		item.Payload,
		spec.SchemaJSON,
		correlationID,
		item.Ref,
	)
	if err != nil {
		return nil, err
	}

	cleaned, err := p.results.CleanAndValidate(raw, spec.SchemaJSON, item.Ref)
	if err != nil {
		return nil, err
	}

	var result domain.ValidatedResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, failure.Validation(item.Ref, "result does not match the expected shape", err)
	}

	return &domain.OutgoingResult{
		Ref:      item.Ref,
		SourceID: correlationID,
		Result:   &result,
	}, nil
}
