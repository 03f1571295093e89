package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/akarpov/archivarius/internal/core/domain"
)

const pgUniqueViolation = "23505"

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	seqJSON, attemptsJSON, scoresJSON, err := marshalJobFields(job)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO jobs (
	document_id, content_ref, stage_sequence, current_stage, status, attempts, confidence_scores,
	last_error, extracted_text, translated_text, translation_skipped, category, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
		job.DocumentID, job.ContentRef, seqJSON, string(job.CurrentStage), string(job.Status),
		attemptsJSON, scoresJSON, job.LastError, job.ExtractedText, job.TranslatedText,
		job.TranslationSkipped, job.Category, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		// A live job already exists for the document: the one-live-job
		// invariant maps this onto a lease conflict.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.WrapError(domain.ErrLeaseConflict, "create job", err)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, documentID string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT document_id, content_ref, stage_sequence, current_stage, status, attempts, confidence_scores,
	last_error, extracted_text, translated_text, translation_skipped, category, created_at, updated_at
FROM jobs
WHERE document_id = $1
`, documentID)

	var job domain.Job
	var seqRaw, attemptsRaw, scoresRaw []byte
	var currentStage, status string

	err := row.Scan(
		&job.DocumentID, &job.ContentRef, &seqRaw, &currentStage, &status, &attemptsRaw, &scoresRaw,
		&job.LastError, &job.ExtractedText, &job.TranslatedText, &job.TranslationSkipped, &job.Category,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("document_id=%s", documentID))
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(seqRaw, &job.StageSequence); err != nil {
		return nil, fmt.Errorf("unmarshal stage sequence: %w", err)
	}
	if err := json.Unmarshal(attemptsRaw, &job.Attempts); err != nil {
		return nil, fmt.Errorf("unmarshal attempts: %w", err)
	}
	if err := json.Unmarshal(scoresRaw, &job.ConfidenceScores); err != nil {
		return nil, fmt.Errorf("unmarshal confidence scores: %w", err)
	}
	job.CurrentStage = domain.Stage(currentStage)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func (r *JobRepository) Update(ctx context.Context, job *domain.Job) error {
	seqJSON, attemptsJSON, scoresJSON, err := marshalJobFields(job)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET stage_sequence = $2, current_stage = $3, status = $4, attempts = $5, confidence_scores = $6,
	last_error = $7, extracted_text = $8, translated_text = $9, translation_skipped = $10,
	category = $11, updated_at = $12
WHERE document_id = $1
`,
		job.DocumentID, seqJSON, string(job.CurrentStage), string(job.Status), attemptsJSON, scoresJSON,
		job.LastError, job.ExtractedText, job.TranslatedText, job.TranslationSkipped, job.Category,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrJobNotFound, "update job", fmt.Errorf("document_id=%s", job.DocumentID))
	}
	return nil
}

// UpdateOwned persists the job only while owner still holds an unexpired
// lease. An administrative abort clears the lease first, so the in-flight
// worker's next write lands here with zero rows and stops instead of
// overwriting the aborted state.
func (r *JobRepository) UpdateOwned(ctx context.Context, job *domain.Job, owner string) error {
	seqJSON, attemptsJSON, scoresJSON, err := marshalJobFields(job)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET stage_sequence = $2, current_stage = $3, status = $4, attempts = $5, confidence_scores = $6,
	last_error = $7, extracted_text = $8, translated_text = $9, translation_skipped = $10,
	category = $11, updated_at = $12
WHERE document_id = $1 AND lease_owner = $13 AND lease_expires_at > NOW()
`,
		job.DocumentID, seqJSON, string(job.CurrentStage), string(job.Status), attemptsJSON, scoresJSON,
		job.LastError, job.ExtractedText, job.TranslatedText, job.TranslationSkipped, job.Category,
		job.UpdatedAt, owner,
	)
	if err != nil {
		return fmt.Errorf("update owned job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update owned job rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM jobs WHERE document_id = $1)`, job.DocumentID).Scan(&exists); err != nil {
			return fmt.Errorf("check job exists: %w", err)
		}
		if !exists {
			return domain.WrapError(domain.ErrJobNotFound, "update owned job", fmt.Errorf("document_id=%s", job.DocumentID))
		}
		return domain.WrapError(domain.ErrLeaseConflict, "update owned job",
			fmt.Errorf("worker %s no longer holds the lease on %s", owner, job.DocumentID))
	}
	return nil
}

// AcquireLease takes the document's lease when it is free, expired, or already
// held by the same owner (re-entrant pickup after a crash of the same worker).
func (r *JobRepository) AcquireLease(ctx context.Context, documentID, owner string, ttl time.Duration) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET lease_owner = $2, lease_expires_at = NOW() + $3::interval
WHERE document_id = $1
	AND (lease_owner IS NULL OR lease_owner = $2 OR lease_expires_at < NOW())
`, documentID, owner, ttl.String())
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire lease rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM jobs WHERE document_id = $1)`, documentID).Scan(&exists); err != nil {
			return fmt.Errorf("check job exists: %w", err)
		}
		if !exists {
			return domain.WrapError(domain.ErrJobNotFound, "acquire lease", fmt.Errorf("document_id=%s", documentID))
		}
		return domain.WrapError(domain.ErrLeaseConflict, "acquire lease",
			fmt.Errorf("document %s is held by another worker", documentID))
	}
	return nil
}

func (r *JobRepository) ReleaseLease(ctx context.Context, documentID, owner string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET lease_owner = NULL, lease_expires_at = NULL
WHERE document_id = $1 AND lease_owner = $2
`, documentID, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (r *JobRepository) ClearLease(ctx context.Context, documentID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET lease_owner = NULL, lease_expires_at = NULL
WHERE document_id = $1
`, documentID)
	if err != nil {
		return fmt.Errorf("clear lease: %w", err)
	}
	return nil
}

func (r *JobRepository) ArchiveSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
WITH moved AS (
	DELETE FROM jobs
	WHERE status = $1 AND updated_at < $2
	RETURNING *
)
INSERT INTO jobs_archive SELECT * FROM moved
`, string(domain.StatusCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive settled jobs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive settled jobs rows affected: %w", err)
	}
	return rows, nil
}

func marshalJobFields(job *domain.Job) (seq, attempts, scores []byte, err error) {
	seq, err = json.Marshal(job.StageSequence)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal stage sequence: %w", err)
	}
	attempts, err = json.Marshal(job.Attempts)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal attempts: %w", err)
	}
	scores, err = json.Marshal(job.ConfidenceScores)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal confidence scores: %w", err)
	}
	return seq, attempts, scores, nil
}
