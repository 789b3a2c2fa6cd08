package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
)

const maxErrorSnippet = 256

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// HTTPError is a non-2xx answer of the chat completions endpoint.
type HTTPError struct {
	StatusCode int
	Status     string
	// Snippet is the truncated start of the response body.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("ai endpoint returned %s", e.Status)
	}
	return fmt.Sprintf("ai endpoint returned %s: %s", e.Status, e.Snippet)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// OpenAI talks to an OpenAI compatible chat completions endpoint.
type OpenAI struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float64
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates the provider. A nil httpClient uses http.DefaultClient.
func NewOpenAI(cfg Config, httpClient *http.Client) *OpenAI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAI{
		httpClient:  httpClient,
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.temperature(),
	}
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

// Complete sends one chat completion request.
func (o *OpenAI) Complete(ctx context.Context, req Request) (domain.AiOutcome, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemInstruction},
			{Role: "user", Content: req.UserContent},
		},
		Temperature: o.temperature,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaFormat{
				Name:   req.SchemaName,
				Strict: true,
				Schema: req.Schema,
			},
		},
	})
	if err != nil {
		return domain.AiOutcome{}, failure.Validation(req.Ref, "invalid JSON schema configuration", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.AiOutcome{}, failure.FatalProvider("build ai request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-Id", req.CorrelationID)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return domain.AiOutcome{}, failure.Transient("ai endpoint unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.AiOutcome{}, failure.Transient("read ai response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Snippet:    snippet(raw),
		}
		if httpErr.Retryable() {
			return domain.AiOutcome{}, failure.Transient("ai endpoint unavailable", httpErr)
		}
		return domain.AiOutcome{}, failure.FatalProvider("ai endpoint rejected request", httpErr)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.AiOutcome{}, failure.FatalProvider("undecodable ai response", err)
	}
	if len(parsed.Choices) == 0 {
		return domain.AiOutcome{}, failure.FatalProvider("ai response has no choices", nil)
	}

	return domain.AiOutcome{
		Text: parsed.Choices[0].Message.Content,
		Usage: domain.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet] + "..."
	}
	return s
}
