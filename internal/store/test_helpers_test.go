package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTask builds a pending task between two named domains.
func createTestTask(id string, created time.Time) TaskRecord {
	src := ids.DomainFromName("D1")
	tgt := ids.DomainFromName("D2")
	return TaskRecord{
		ID:             id,
		RelationshipID: ids.Derive[ids.RelationshipKind]("test", []byte(id)),
		SourceDomain:   src,
		TargetDomain:   tgt,
		Status:         "pending",
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}
