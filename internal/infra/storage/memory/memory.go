package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/infra/storage"
)

type MemoryStorage struct {
	prompts map[string]domain.PromptSpec
	records []*domain.RecoveryRecord
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		prompts: make(map[string]domain.PromptSpec),
	}
}

// -----------------------------------------------------------------------------
// Prompt Repository
// -----------------------------------------------------------------------------

type PromptRepo struct {
	store *MemoryStorage
}

var _ storage.PromptRepository = (*PromptRepo)(nil)

func NewPromptRepo(store *MemoryStorage, seed ...domain.PromptSpec) *PromptRepo {
	r := &PromptRepo{store: store}
	for i := range seed {
		_ = r.Save(context.Background(), &seed[i])
	}
	return r
}

func (r *PromptRepo) GetByRef(ctx context.Context, ref string) (*domain.PromptSpec, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	spec, ok := r.store.prompts[ref]
	if !ok {
		return nil, storage.ErrPromptNotFound
	}
	return &spec, nil
}

func (r *PromptRepo) Save(ctx context.Context, spec *domain.PromptSpec) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.prompts[spec.Ref] = *spec
	return nil
}

func (r *PromptRepo) List(ctx context.Context) ([]*domain.PromptSpec, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.PromptSpec, 0, len(r.store.prompts))
	for _, spec := range r.store.prompts {
		s := spec
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

// -----------------------------------------------------------------------------
// Recovery Record Repository
// -----------------------------------------------------------------------------

type RecoveryRecordRepo struct {
	store *MemoryStorage
}

var _ storage.RecoveryRecordRepository = (*RecoveryRecordRepo)(nil)

func NewRecoveryRecordRepo(store *MemoryStorage) *RecoveryRecordRepo {
	return &RecoveryRecordRepo{store: store}
}

func (r *RecoveryRecordRepo) Save(ctx context.Context, rec *domain.RecoveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *rec
	r.store.records = append(r.store.records, &cp)
	return nil
}

func (r *RecoveryRecordRepo) Recent(ctx context.Context, limit int) ([]*domain.RecoveryRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if limit <= 0 || limit > len(r.store.records) {
		limit = len(r.store.records)
	}
	out := make([]*domain.RecoveryRecord, 0, limit)
	for i := len(r.store.records) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *r.store.records[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (r *RecoveryRecordRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.records), nil
}

func (r *RecoveryRecordRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept := r.store.records[:0]
	var deleted int64
	for _, rec := range r.store.records {
		if rec.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.store.records = kept
	return deleted, nil
}
