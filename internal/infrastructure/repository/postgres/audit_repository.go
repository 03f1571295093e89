package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/akarpov/archivarius/internal/core/domain"
)

// ledgerLockKey serializes appends: the chain head must be read and extended
// atomically or two writers would both link to the same predecessor.
const ledgerLockKey = int64(2026082302)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append links ev onto the chain head inside one transaction. The advisory
// lock makes the read-head-then-insert atomic; the primary key on seq backs
// it up, surfacing any race as ErrAppendConflict for the caller to retry.
func (r *AuditRepository) Append(ctx context.Context, ev domain.AuditEvent) (domain.AuditEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("acquire ledger lock: %w", err)
	}

	prev, err := scanHead(tx.QueryRowContext(ctx, `
SELECT seq, document_id, stage, event_type, ts, actor, payload_digest, prev_hash, entry_hash
FROM audit_entries
ORDER BY seq DESC
LIMIT 1
`))
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("read chain head: %w", err)
	}

	entry := domain.NextEntry(prev, ev, time.Now())

	_, err = tx.ExecContext(ctx, `
INSERT INTO audit_entries (seq, document_id, stage, event_type, ts, actor, payload_digest, prev_hash, entry_hash)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		int64(entry.Seq), entry.DocumentID, string(entry.Stage), string(entry.EventType),
		entry.Timestamp, entry.Actor, entry.PayloadDigest, entry.PrevHash, entry.EntryHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.AuditEntry{}, domain.WrapError(domain.ErrAppendConflict, "append audit entry", err)
		}
		return domain.AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("commit append tx: %w", err)
	}
	return entry, nil
}

func (r *AuditRepository) Head(ctx context.Context) (*domain.AuditEntry, error) {
	head, err := scanHead(r.db.QueryRowContext(ctx, `
SELECT seq, document_id, stage, event_type, ts, actor, payload_digest, prev_hash, entry_hash
FROM audit_entries
ORDER BY seq DESC
LIMIT 1
`))
	if err != nil {
		return nil, fmt.Errorf("read chain head: %w", err)
	}
	return head, nil
}

func (r *AuditRepository) LastForDocument(ctx context.Context, documentID string) (*domain.AuditEntry, error) {
	last, err := scanHead(r.db.QueryRowContext(ctx, `
SELECT seq, document_id, stage, event_type, ts, actor, payload_digest, prev_hash, entry_hash
FROM audit_entries
WHERE document_id = $1
ORDER BY seq DESC
LIMIT 1
`, documentID))
	if err != nil {
		return nil, fmt.Errorf("read last entry for %s: %w", documentID, err)
	}
	return last, nil
}

// VerifyRange recomputes the chain over [from, to]. The anchor hash comes from
// the entry before the range, or the genesis hash when the range starts at 1.
// An entry missing from the live table because it was archived breaks the
// anchor lookup, not the chain: callers verify archives separately.
func (r *AuditRepository) VerifyRange(ctx context.Context, from, to uint64) (domain.VerifyResult, error) {
	if from == 0 {
		from = 1
	}

	prevHash := domain.GenesisHash
	if from > 1 {
		err := r.db.QueryRowContext(ctx,
			`SELECT entry_hash FROM audit_entries WHERE seq = $1`, int64(from-1)).Scan(&prevHash)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.VerifyResult{}, domain.WrapError(domain.ErrChainIntegrity, "verify range",
					fmt.Errorf("anchor entry seq %d is missing", from-1))
			}
			return domain.VerifyResult{}, fmt.Errorf("read anchor entry: %w", err)
		}
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT seq, document_id, stage, event_type, ts, actor, payload_digest, prev_hash, entry_hash
FROM audit_entries
WHERE seq >= $1 AND seq <= $2
ORDER BY seq ASC
`, int64(from), int64(to))
	if err != nil {
		return domain.VerifyResult{}, fmt.Errorf("query audit range: %w", err)
	}
	defer rows.Close()

	checked := 0
	expectSeq := from
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return domain.VerifyResult{}, err
		}
		if entry.Seq != expectSeq || entry.PrevHash != prevHash || entry.ComputeHash() != entry.EntryHash {
			return domain.VerifyResult{OK: false, FirstBadSeq: entry.Seq, Checked: checked}, nil
		}
		prevHash = entry.EntryHash
		expectSeq = entry.Seq + 1
		checked++
	}
	if err := rows.Err(); err != nil {
		return domain.VerifyResult{}, fmt.Errorf("iterate audit range: %w", err)
	}
	return domain.VerifyResult{OK: true, Checked: checked}, nil
}

// ExportRange streams entries in sequence order through fn. Filters narrow
// the result server-side; the sequence number doubles as a resume cursor.
func (r *AuditRepository) ExportRange(ctx context.Context, from, to uint64, filter domain.AuditFilter, fn func(domain.AuditEntry) error) error {
	query := `
SELECT seq, document_id, stage, event_type, ts, actor, payload_digest, prev_hash, entry_hash
FROM audit_entries
WHERE seq >= $1 AND seq <= $2
`
	args := []any{int64(from), int64(to)}
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		query += "AND document_id = $" + strconv.Itoa(len(args)) + "\n"
	}
	if filter.Actor != "" {
		args = append(args, filter.Actor)
		query += "AND actor = $" + strconv.Itoa(len(args)) + "\n"
	}
	if filter.EventType != "" {
		args = append(args, string(filter.EventType))
		query += "AND event_type = $" + strconv.Itoa(len(args)) + "\n"
	}
	query += "ORDER BY seq ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query audit export: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate audit export: %w", err)
	}
	return nil
}

func (r *AuditRepository) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
WITH moved AS (
	DELETE FROM audit_entries
	WHERE ts < $1
	RETURNING *
)
INSERT INTO audit_entries_archive SELECT * FROM moved
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive audit entries: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive audit entries rows affected: %w", err)
	}
	return rows, nil
}

type entryScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row entryScanner) (domain.AuditEntry, error) {
	var entry domain.AuditEntry
	var seq int64
	var stage, eventType string
	err := row.Scan(
		&seq,
		&entry.DocumentID,
		&stage,
		&eventType,
		&entry.Timestamp,
		&entry.Actor,
		&entry.PayloadDigest,
		&entry.PrevHash,
		&entry.EntryHash,
	)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry.Seq = uint64(seq)
	entry.Stage = domain.Stage(stage)
	entry.EventType = domain.EventType(eventType)
	return entry, nil
}

func scanHead(row entryScanner) (*domain.AuditEntry, error) {
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}
