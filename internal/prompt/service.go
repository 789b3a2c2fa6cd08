// Package prompt resolves prompt templates and result schemas by ref.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
	"github.com/vietddude/aiprocessor/internal/core/retry"
	"github.com/vietddude/aiprocessor/internal/infra/storage"
)

// PayloadPlaceholder is replaced by the item payload when rendering a template.
const PayloadPlaceholder = "{{payload}}"

// Config tunes store lookups.
type Config struct {
	StoreAttempts  int
	StoreBaseDelay time.Duration
}

// Service is a read-through cache in front of a PromptRepository. Entries live
// for the whole process; a missing ref is looked up again next time.
type Service struct {
	repo   storage.PromptRepository
	policy retry.Policy
	log    *slog.Logger

	mu    sync.RWMutex
	cache map[string]*domain.PromptSpec
	group singleflight.Group
}

// NewService creates the prompt service.
func NewService(repo storage.PromptRepository, cfg Config) *Service {
	if cfg.StoreAttempts <= 0 {
		cfg.StoreAttempts = 3
	}
	if cfg.StoreBaseDelay <= 0 {
		cfg.StoreBaseDelay = 2 * time.Second
	}
	s := &Service{
		repo:  repo,
		log:   slog.Default().With("component", "prompt"),
		cache: make(map[string]*domain.PromptSpec),
	}
	s.policy = retry.Policy{
		MaxAttempts: cfg.StoreAttempts,
		BaseDelay:   cfg.StoreBaseDelay,
		Multiplier:  2,
		Retryable:   failure.IsTransient,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			s.log.Warn("Prompt lookup failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	return s
}

// Get returns the prompt for ref or a NotFound failure.
func (s *Service) Get(ctx context.Context, ref string) (*domain.PromptSpec, error) {
	if spec, ok := s.cached(ref); ok {
		return spec, nil
	}

	v, err, _ := s.group.Do(ref, func() (any, error) {
		if spec, ok := s.cached(ref); ok {
			return spec, nil
		}

		spec, err := retry.Do(ctx, s.policy, func(ctx context.Context, _ int) (*domain.PromptSpec, error) {
			return s.repo.GetByRef(ctx, ref)
		})
		if errors.Is(err, storage.ErrPromptNotFound) {
			return nil, failure.NotFound(ref)
		}
		if err != nil {
			return nil, fmt.Errorf("load prompt %s: %w", ref, err)
		}

		s.mu.Lock()
		s.cache[ref] = spec
		s.mu.Unlock()
		return spec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.PromptSpec), nil
}

// Warm loads every active prompt into the cache.
func (s *Service) Warm(ctx context.Context) (int, error) {
	specs, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list prompts: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, spec := range specs {
		s.cache[spec.Ref] = spec
	}
	return len(specs), nil
}

func (s *Service) cached(ref string) (*domain.PromptSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.cache[ref]
	return spec, ok
}

// Render substitutes the payload into the template.
func Render(template, payload string) string {
	return strings.ReplaceAll(template, PayloadPlaceholder, payload)
}
