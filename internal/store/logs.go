package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// ErrNotFound is returned by single-row reads that match nothing.
var ErrNotFound = errors.New("not found")

// NullifierRecord is one entry of the nullifier set.
type NullifierRecord struct {
	Nullifier ids.Nullifier
	Register  ids.RegisterID
	TxID      string
}

// InsertNullifier records n as spent by register in transaction txID.
// Returns false, without error, when n was already present.
func (s *Store) InsertNullifier(ctx context.Context, n ids.Nullifier, register ids.RegisterID, txID string) (bool, error) {
	return s.InsertNullifiers(ctx, []NullifierRecord{{Nullifier: n, Register: register, TxID: txID}})
}

// InsertNullifiers records every entry in one transaction. If any nullifier
// is already present (or repeats within recs) nothing is written and it
// returns false without error.
func (s *Store) InsertNullifiers(ctx context.Context, recs []NullifierRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write nullifiers: begin: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO nullifiers (nullifier, register_id, tx_id, seq)
			VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM nullifiers))
			ON CONFLICT(nullifier) DO NOTHING
		`, rec.Nullifier.Hex(), rec.Register.Hex(), rec.TxID)
		if err != nil {
			return false, fmt.Errorf("write nullifier: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("write nullifier: %w", err)
		}
		if affected != 1 {
			return false, nil
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write nullifiers: %w", err)
	}
	return true, nil
}

// HasNullifier reports whether n has been recorded.
func (s *Store) HasNullifier(ctx context.Context, n ids.Nullifier) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM nullifiers WHERE nullifier = ?`, n.Hex()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read nullifier: %w", err)
	}
	return true, nil
}

// Nullifiers returns every recorded nullifier in insertion order.
func (s *Store) Nullifiers(ctx context.Context) ([]ids.Nullifier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nullifier FROM nullifiers
		ORDER BY seq ASC, nullifier COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query nullifiers: %w", err)
	}
	defer rows.Close()

	out := []ids.Nullifier{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan nullifier: %w", err)
		}
		n, err := ids.Parse[ids.NullifierKind](raw)
		if err != nil {
			return nil, fmt.Errorf("scan nullifier: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nullifiers: %w", err)
	}
	return out, nil
}

// OperationRecord is one entry of the register operation log.
type OperationRecord struct {
	ID       ids.OperationID
	Register ids.RegisterID
	Kind     string
	Payload  []byte
	TraceID  string
	Seq      int64
}

// AppendOperation writes an operation log entry. Duplicate IDs are ignored.
func (s *Store) AppendOperation(ctx context.Context, rec OperationRecord) error {
	return s.AppendOperations(ctx, []OperationRecord{rec})
}

// AppendOperations writes every entry in one transaction. Duplicate IDs
// are ignored.
func (s *Store) AppendOperations(ctx context.Context, recs []OperationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write operations: begin: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		payload := rec.Payload
		if payload == nil {
			payload = []byte{}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO operations (id, register_id, kind, payload, trace_id, seq)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, rec.ID.Hex(), rec.Register.Hex(), rec.Kind, payload, rec.TraceID, rec.Seq)
		if err != nil {
			return fmt.Errorf("write operation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write operations: %w", err)
	}
	return nil
}

// DiscardOperation removes the entries of an operation that failed to
// commit after its log entries were written.
func (s *Store) DiscardOperation(ctx context.Context, id ids.OperationID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id.Hex()); err != nil {
		return fmt.Errorf("discard operation: %w", err)
	}
	return nil
}

// LastSeq returns the highest logged seq, or 0 for an empty log.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM operations`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}

// Operations returns the log entries for register, ordered by seq.
// Returns an empty slice (not nil) if there are none.
func (s *Store) Operations(ctx context.Context, register ids.RegisterID) ([]OperationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, register_id, kind, payload, trace_id, seq
		FROM operations
		WHERE register_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, register.Hex())
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	out := []OperationRecord{}
	for rows.Next() {
		var (
			rec         OperationRecord
			id, regHex string
		)
		if err := rows.Scan(&id, &regHex, &rec.Kind, &rec.Payload, &rec.TraceID, &rec.Seq); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		if rec.ID, err = ids.Parse[ids.OperationKind](id); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		if rec.Register, err = ids.Parse[ids.RegisterKind](regHex); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return out, nil
}

// TaskRecord is the persisted view of one sync task.
type TaskRecord struct {
	ID             string
	RelationshipID ids.RelationshipID
	SourceDomain   ids.DomainID
	TargetDomain   ids.DomainID
	Status         string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SaveTask inserts a task or updates its mutable columns.
func (s *Store) SaveTask(ctx context.Context, rec TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_tasks
		(id, relationship_id, source_domain, target_domain, status, attempts, last_error, created_at, updated_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM sync_tasks))
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`,
		rec.ID,
		rec.RelationshipID.Hex(),
		rec.SourceDomain.Hex(),
		rec.TargetDomain.Hex(),
		rec.Status,
		rec.Attempts,
		rec.LastError,
		rec.CreatedAt.UnixNano(),
		rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write sync task: %w", err)
	}
	return nil
}

// Task returns one task by ID, or ErrNotFound.
func (s *Store) Task(ctx context.Context, id string) (TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, relationship_id, source_domain, target_domain, status, attempts, last_error, created_at, updated_at
		FROM sync_tasks
		WHERE id = ?
	`, id)
	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskRecord{}, fmt.Errorf("read sync task %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// Tasks returns tasks in creation order. An empty status returns all tasks.
func (s *Store) Tasks(ctx context.Context, status string) ([]TaskRecord, error) {
	query := `
		SELECT id, relationship_id, source_domain, target_domain, status, attempts, last_error, created_at, updated_at
		FROM sync_tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync tasks: %w", err)
	}
	defer rows.Close()

	out := []TaskRecord{}
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync tasks: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (TaskRecord, error) {
	var (
		rec                   TaskRecord
		relHex, srcHex, tgtHex string
		created, updated      int64
	)
	if err := row.Scan(&rec.ID, &relHex, &srcHex, &tgtHex, &rec.Status, &rec.Attempts, &rec.LastError, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan sync task: %w", err)
	}
	var err error
	if rec.RelationshipID, err = ids.Parse[ids.RelationshipKind](relHex); err != nil {
		return rec, fmt.Errorf("scan sync task: %w", err)
	}
	if rec.SourceDomain, err = ids.Parse[ids.DomainKind](srcHex); err != nil {
		return rec, fmt.Errorf("scan sync task: %w", err)
	}
	if rec.TargetDomain, err = ids.Parse[ids.DomainKind](tgtHex); err != nil {
		return rec, fmt.Errorf("scan sync task: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, nil
}
