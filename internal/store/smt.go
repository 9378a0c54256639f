package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/timewave-computer/causality-sub006/internal/smt"
)

// SMTBackend persists sparse Merkle tree leaves and the root log.
// It implements smt.Backend.
type SMTBackend struct {
	db *sql.DB
}

// SMTBackend returns the tree backend over this database.
func (s *Store) SMTBackend() *SMTBackend {
	return &SMTBackend{db: s.db}
}

// OpenTree loads the persisted tree and returns a ready smt.Store.
func (s *Store) OpenTree(ctx context.Context) (*smt.Store, error) {
	return smt.Open(ctx, s.SMTBackend())
}

// Load returns every persisted leaf in commit order.
func (b *SMTBackend) Load(ctx context.Context) ([]smt.Leaf, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT key, value
		FROM smt_leaves
		ORDER BY seq ASC, key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query smt leaves: %w", err)
	}
	defer rows.Close()

	leaves := []smt.Leaf{}
	for rows.Next() {
		var l smt.Leaf
		if err := rows.Scan(&l.Key, &l.Value); err != nil {
			return nil, fmt.Errorf("scan smt leaf: %w", err)
		}
		if l.Value == nil {
			l.Value = []byte{}
		}
		leaves = append(leaves, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate smt leaves: %w", err)
	}
	return leaves, nil
}

// Commit upserts or deletes leaves and appends root to the root log in one
// transaction.
func (b *SMTBackend) Commit(ctx context.Context, leaves []smt.Leaf, root smt.Hash) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit smt: begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM smt_roots`).Scan(&seq); err != nil {
		return fmt.Errorf("commit smt: next seq: %w", err)
	}

	for _, l := range leaves {
		if l.Deleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM smt_leaves WHERE key = ?`, l.Key); err != nil {
				return fmt.Errorf("commit smt: delete leaf %q: %w", l.Key, err)
			}
			continue
		}
		path := smt.PathOf(l.Key)
		value := l.Value
		if value == nil {
			value = []byte{}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO smt_leaves (key, path, value, seq)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, seq = excluded.seq
		`, l.Key, path[:], value, seq)
		if err != nil {
			return fmt.Errorf("commit smt: write leaf %q: %w", l.Key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO smt_roots (seq, root) VALUES (?, ?)`, seq, root[:]); err != nil {
		return fmt.Errorf("commit smt: write root: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit smt: %w", err)
	}
	return nil
}

// Roots returns the root log in commit order.
func (b *SMTBackend) Roots(ctx context.Context) ([]smt.Hash, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT root FROM smt_roots ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query smt roots: %w", err)
	}
	defer rows.Close()

	roots := []smt.Hash{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan smt root: %w", err)
		}
		if len(raw) != len(smt.Hash{}) {
			return nil, fmt.Errorf("scan smt root: got %d bytes", len(raw))
		}
		var h smt.Hash
		copy(h[:], raw)
		roots = append(roots, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate smt roots: %w", err)
	}
	return roots, nil
}
