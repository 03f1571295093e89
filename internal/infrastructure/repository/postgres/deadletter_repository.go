package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akarpov/archivarius/internal/core/domain"
)

type DeadLetterRepository struct {
	db *sql.DB
}

func NewDeadLetterRepository(db *sql.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// Push upserts: a re-dead-lettered document replaces its previous entry.
func (r *DeadLetterRepository) Push(ctx context.Context, dl domain.DeadLetter) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO dead_letters (document_id, stage, last_error, attempts, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (document_id) DO UPDATE
SET stage = EXCLUDED.stage, last_error = EXCLUDED.last_error,
	attempts = EXCLUDED.attempts, created_at = EXCLUDED.created_at
`, dl.DocumentID, string(dl.Stage), dl.LastError, dl.Attempts, dl.CreatedAt)
	if err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) List(ctx context.Context) ([]domain.DeadLetter, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, stage, last_error, attempts, created_at
FROM dead_letters
ORDER BY created_at ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DeadLetter, 0)
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

func (r *DeadLetterRepository) Get(ctx context.Context, documentID string) (*domain.DeadLetter, error) {
	dl, err := scanDeadLetter(r.db.QueryRowContext(ctx, `
SELECT document_id, stage, last_error, attempts, created_at
FROM dead_letters
WHERE document_id = $1
`, documentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get dead letter", fmt.Errorf("document_id=%s", documentID))
		}
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return &dl, nil
}

func (r *DeadLetterRepository) Remove(ctx context.Context, documentID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("remove dead letter: %w", err)
	}
	return nil
}

type deadLetterScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeadLetter(row deadLetterScanner) (domain.DeadLetter, error) {
	var dl domain.DeadLetter
	var stage string
	err := row.Scan(&dl.DocumentID, &stage, &dl.LastError, &dl.Attempts, &dl.CreatedAt)
	if err != nil {
		return domain.DeadLetter{}, err
	}
	dl.Stage = domain.Stage(stage)
	return dl, nil
}
