// Package ai calls the inference endpoint that enriches work items.
package ai

import (
	"context"
	"encoding/json"

	"github.com/vietddude/aiprocessor/internal/core/domain"
)

// Request is one structured completion call.
type Request struct {
	Ref               string
	CorrelationID     string
	SystemInstruction string
	UserContent       string
	// Schema is the decoded JSON schema the answer must follow.
	Schema     json.RawMessage
	SchemaName string
}

// Provider performs a single completion attempt. Implementations report
// failure.Transient for retryable errors and failure.FatalProvider otherwise.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (domain.AiOutcome, error)
}
