package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/infra/storage"
)

// RecoveryRecordRepo implements storage.RecoveryRecordRepository using the
// deserialization_errors table.
type RecoveryRecordRepo struct {
	db *DB
}

var _ storage.RecoveryRecordRepository = (*RecoveryRecordRepo)(nil)

// NewRecoveryRecordRepo creates a new PostgreSQL recovery record repository.
func NewRecoveryRecordRepo(db *DB) *RecoveryRecordRepo {
	return &RecoveryRecordRepo{db: db}
}

// Save inserts rec.
func (r *RecoveryRecordRepo) Save(ctx context.Context, rec *domain.RecoveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO deserialization_errors (id, payload, error_message, topic, message_id, created_at)
		VALUES (:id, :payload, :error_message, :topic, :message_id, :created_at)
	`, rec)
	if err != nil {
		return wrapErr("failed to save recovery record", err)
	}
	return nil
}

// Recent returns the newest records.
func (r *RecoveryRecordRepo) Recent(ctx context.Context, limit int) ([]*domain.RecoveryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []*domain.RecoveryRecord
	err := r.db.SelectContext(ctx, &recs, `
		SELECT id, payload, error_message, topic, message_id, created_at
		FROM deserialization_errors
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrapErr("failed to list recovery records", err)
	}
	return recs, nil
}

// Count returns the number of stored records.
func (r *RecoveryRecordRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM deserialization_errors`); err != nil {
		return 0, wrapErr("failed to count recovery records", err)
	}
	return n, nil
}

// DeleteOlderThan removes records created before the given time.
func (r *RecoveryRecordRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deserialization_errors WHERE created_at < $1`, before)
	if err != nil {
		return 0, wrapErr("failed to prune recovery records", err)
	}
	return res.RowsAffected()
}
