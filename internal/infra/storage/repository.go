package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/aiprocessor/internal/core/domain"
)

// ErrPromptNotFound is returned when no active prompt exists for a ref.
var ErrPromptNotFound = errors.New("prompt not found")

// PromptRepository reads prompt templates and their result schemas.
type PromptRepository interface {
	// GetByRef returns the active prompt for ref or ErrPromptNotFound.
	GetByRef(ctx context.Context, ref string) (*domain.PromptSpec, error)

	// Save creates or replaces the prompt for spec.Ref and marks it active.
	Save(ctx context.Context, spec *domain.PromptSpec) error

	// List returns every active prompt ordered by ref.
	List(ctx context.Context) ([]*domain.PromptSpec, error)
}

// RecoveryRecordRepository stores inbound payloads that could not be decoded.
type RecoveryRecordRepository interface {
	// Save persists rec, assigning ID and CreatedAt when empty.
	Save(ctx context.Context, rec *domain.RecoveryRecord) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.RecoveryRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// DeleteOlderThan removes records created before the given time.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
