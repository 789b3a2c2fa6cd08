package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
	"github.com/vietddude/aiprocessor/internal/core/retry"
	"github.com/vietddude/aiprocessor/internal/metrics"
)

// Client wraps a Provider with per-attempt timeouts, bounded retries on
// transient failures, an optional rate limit and metrics.
type Client struct {
	provider Provider
	policy   retry.Policy
	timeout  time.Duration
	limiter  *rate.Limiter
	log      *slog.Logger
}

// New builds the client for the provider named in cfg.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()

	var p Provider
	switch cfg.Provider {
	case ProviderOpenAI:
		p = NewOpenAI(cfg, nil)
	case ProviderGemini:
		g, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p = g
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
	return NewClient(p, cfg), nil
}

// NewClient wraps provider using the retry, timeout and rate settings of cfg.
func NewClient(provider Provider, cfg Config) *Client {
	cfg = cfg.WithDefaults()
	log := slog.Default().With("component", "ai", "provider", provider.Name())

	c := &Client{
		provider: provider,
		timeout:  cfg.RequestTimeout,
		log:      log,
		policy: retry.Policy{
			MaxAttempts: 1 + cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			Multiplier:  2,
			Retryable:   failure.IsTransient,
		},
	}
	if cfg.RateLimitRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}
	return c
}

// Analyze asks the provider for an answer to userContent under
// systemInstruction, constrained by responseSchema, and returns the raw text.
func (c *Client) Analyze(ctx context.Context, systemInstruction, userContent, responseSchema, correlationID, ref string) (string, error) {
	schema, err := decodeSchema(responseSchema)
	if err != nil {
		return "", failure.Validation(ref, "invalid JSON schema configuration", err)
	}

	req := Request{
		Ref:               ref,
		CorrelationID:     correlationID,
		SystemInstruction: systemInstruction,
		UserContent:       userContent,
		Schema:            schema,
		SchemaName:        SchemaName(ref),
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.log.Warn("AI call failed, retrying",
			"sourceId", correlationID,
			"ref", ref,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	outcome, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (domain.AiOutcome, error) {
		return c.attempt(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return outcome.Text, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (domain.AiOutcome, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.AiOutcome{}, err
		}
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	start := time.Now()
	out, err := c.provider.Complete(reqCtx, req)
	if cancel != nil {
		cancel()
	}

	status := statusLabel(err)
	metrics.AIRequestsTotal.WithLabelValues(req.Ref, status).Inc()
	metrics.AIRequestDuration.WithLabelValues(req.Ref, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return out, err
	}

	metrics.AITokensTotal.WithLabelValues(req.Ref, "prompt").Add(float64(out.Usage.PromptTokens))
	metrics.AITokensTotal.WithLabelValues(req.Ref, "completion").Add(float64(out.Usage.CompletionTokens))
	c.log.Debug("AI call succeeded",
		"sourceId", req.CorrelationID,
		"ref", req.Ref,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"duration", time.Since(start),
	)
	return out, nil
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	switch failure.KindOf(err) {
	case failure.KindTransient:
		return "transient"
	case failure.KindValidation:
		return "invalid"
	default:
		return "fatal"
	}
}

// decodeSchema checks that s is a JSON object and returns it compacted.
func decodeSchema(s string) (json.RawMessage, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty schema")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
