package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/infra/storage"
)

// PromptRepo implements storage.PromptRepository using the ai_prompt table.
type PromptRepo struct {
	db *DB
}

var _ storage.PromptRepository = (*PromptRepo)(nil)

// NewPromptRepo creates a new PostgreSQL prompt repository.
func NewPromptRepo(db *DB) *PromptRepo {
	return &PromptRepo{db: db}
}

// GetByRef returns the active prompt for ref.
func (r *PromptRepo) GetByRef(ctx context.Context, ref string) (*domain.PromptSpec, error) {
	query := `
		SELECT ref, prompt_template, schema_json
		FROM ai_prompt
		WHERE ref = $1 AND active
		LIMIT 1
	`

	var spec domain.PromptSpec
	err := r.db.GetContext(ctx, &spec, query, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrPromptNotFound
	}
	if err != nil {
		return nil, wrapErr("failed to get prompt", err)
	}
	return &spec, nil
}

// Save deactivates the current prompt for the ref and inserts spec as active.
func (r *PromptRepo) Save(ctx context.Context, spec *domain.PromptSpec) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE ai_prompt SET active = FALSE, updated_at = NOW() WHERE ref = $1 AND active`,
		spec.Ref,
	); err != nil {
		return wrapErr("failed to deactivate prompt", err)
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO ai_prompt (ref, prompt_template, schema_json, active, created_at, updated_at)
		VALUES (:ref, :prompt_template, :schema_json, TRUE, NOW(), NOW())
	`, spec); err != nil {
		return wrapErr("failed to insert prompt", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("failed to commit prompt", err)
	}
	return nil
}

// List returns all active prompts.
func (r *PromptRepo) List(ctx context.Context) ([]*domain.PromptSpec, error) {
	var specs []*domain.PromptSpec
	err := r.db.SelectContext(ctx, &specs, `
		SELECT ref, prompt_template, schema_json
		FROM ai_prompt
		WHERE active
		ORDER BY ref
	`)
	if err != nil {
		return nil, wrapErr("failed to list prompts", err)
	}
	return specs, nil
}
