package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// chainLockKey serializes appenders on the transaction-scoped advisory lock
const chainLockKey int64 = 0x746f72767573

// ErrChainBroken is returned by Verify when a record does not link or hash correctly
var ErrChainBroken = errors.New("audit chain broken")

// Appender persists records
type Appender interface {
	Append(ctx context.Context, rec *Record) error
}

// Store handles audit record persistence to database
type Store struct {
	db *sql.DB
}

var _ Appender = (*Store)(nil)

// NewStore creates a store over an open audit database handle.
// Tests pass a sqlmock handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append links rec to the previous record and inserts it. The advisory lock
// keeps concurrent appenders from forking the chain.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return fmt.Errorf("lock audit chain: %w", err)
	}

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT record_hash FROM audit_events ORDER BY id DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read chain head: %w", err)
	}
	rec.PrevHash = prev

	rec.RecordHash, err = computeRecordHash(rec)
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO audit_events (occurred_at, actor_id, actor_email, actor_roles, action, target_type, target_id, resource, source_ip, user_agent, metadata, prev_hash, record_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`,
		rec.OccurredAt,
		rec.ActorID,
		rec.ActorEmail,
		pq.Array(rec.ActorRoles),
		rec.Action,
		rec.TargetType,
		rec.TargetID,
		rec.Resource,
		rec.SourceIP,
		rec.UserAgent,
		rec.Metadata,
		rec.PrevHash,
		rec.RecordHash,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	return tx.Commit()
}

// VerifyResult summarises a chain check
type VerifyResult struct {
	Checked int
	HeadID  int64
	Head    string
}

// Verify walks the chain in id order and recomputes every hash
func (s *Store) Verify(ctx context.Context) (VerifyResult, error) {
	var result VerifyResult

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, actor_id, actor_email, actor_roles, action, target_type, target_id, resource, source_ip, user_agent, metadata, prev_hash, record_hash
		FROM audit_events
		ORDER BY id
	`)
	if err != nil {
		return result, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	prev := ""
	for rows.Next() {
		var (
			rec        Record
			actorID    sql.NullString
			actorEmail sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.OccurredAt,
			&actorID,
			&actorEmail,
			pq.Array(&rec.ActorRoles),
			&rec.Action,
			&rec.TargetType,
			&rec.TargetID,
			&rec.Resource,
			&rec.SourceIP,
			&rec.UserAgent,
			&rec.Metadata,
			&rec.PrevHash,
			&rec.RecordHash,
		); err != nil {
			return result, fmt.Errorf("scan audit record: %w", err)
		}
		if actorID.Valid {
			rec.ActorID = &actorID.String
		}
		if actorEmail.Valid {
			rec.ActorEmail = &actorEmail.String
		}

		if rec.PrevHash != prev {
			return result, fmt.Errorf("%w: record %d does not link to its predecessor", ErrChainBroken, rec.ID)
		}
		want, err := computeRecordHash(&rec)
		if err != nil {
			return result, err
		}
		if want != rec.RecordHash {
			return result, fmt.Errorf("%w: record %d hash mismatch", ErrChainBroken, rec.ID)
		}

		prev = rec.RecordHash
		result.Checked++
		result.HeadID = rec.ID
		result.Head = rec.RecordHash
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate audit records: %w", err)
	}
	return result, nil
}

// DB returns the underlying database connection (for testing)
func (s *Store) DB() *sql.DB {
	return s.db
}
