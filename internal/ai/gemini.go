package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
)

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float64
}

var _ Provider = (*Gemini)(nil)

// NewGemini creates the provider.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("ai.api_key is required for the gemini provider")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.Endpoint) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.Endpoint)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.temperature(),
	}, nil
}

func (g *Gemini) Name() string { return ProviderGemini }

// Complete sends one GenerateContent request with a JSON response schema.
func (g *Gemini) Complete(ctx context.Context, req Request) (domain.AiOutcome, error) {
	var schema any
	if err := json.Unmarshal(req.Schema, &schema); err != nil {
		return domain.AiOutcome{}, failure.Validation(req.Ref, "invalid JSON schema configuration", err)
	}

	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(req.UserContent),
		&genai.GenerateContentConfig{
			SystemInstruction:  genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
			Temperature:        genai.Ptr(float32(g.temperature)),
			CandidateCount:     1,
			ResponseMIMEType:   "application/json",
			ResponseJsonSchema: schema,
		},
	)
	if err != nil {
		return domain.AiOutcome{}, classifyGeminiErr(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return domain.AiOutcome{}, failure.FatalProvider("gemini response has no candidates", nil)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return domain.AiOutcome{}, failure.FatalProvider("gemini response has no text", nil)
	}

	out := domain.AiOutcome{Text: text}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = domain.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func classifyGeminiErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return failure.Transient("gemini unavailable", err)
		}
		return failure.FatalProvider("gemini rejected request", err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return failure.Transient("gemini unreachable", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.Transient("gemini timed out", err)
	}
	return failure.FatalProvider("gemini call failed", err)
}
