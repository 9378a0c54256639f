package cli

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/timewave-computer/causality-sub006/internal/config"
	"github.com/timewave-computer/causality-sub006/internal/lifecycle"
	"github.com/timewave-computer/causality-sub006/internal/smt"
	"github.com/timewave-computer/causality-sub006/internal/store"
)

// workspace is an opened causality workspace. Close releases the database.
type workspace struct {
	dir       string
	cfg       *config.Config
	store     *store.Store
	tree      *smt.Store
	registers *lifecycle.Manager
}

// openWorkspace reads causality.yml (or the defaults), opens the SQLite
// database it names, and rebuilds the register manager from the persisted
// state tree. A relative store path resolves against the workspace.
func openWorkspace(ctx context.Context, dir string) (*workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	gc, err := cfg.GC()
	if err != nil {
		return nil, err
	}

	path := cfg.Store.Path
	if path != ":memory:" && !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	tree, err := st.OpenTree(ctx)
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}
	last, err := st.LastSeq(ctx)
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}

	mgr := lifecycle.NewManager(
		lifecycle.WithStateStore(tree),
		lifecycle.WithOperationLog(st),
		lifecycle.WithNullifierSet(st),
		lifecycle.WithGCConfig(gc),
		lifecycle.WithSequenceStart(last),
	)
	n, err := mgr.Restore(tree)
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}
	slog.Debug("workspace opened", "path", path, "registers", n, "seq", last, "root", tree.StateRoot().Hex())

	return &workspace{dir: dir, cfg: cfg, store: st, tree: tree, registers: mgr}, nil
}

// Close closes the database.
func (w *workspace) Close() error {
	return w.store.Close()
}

// signer derives the signing key of addr from secret and registers its
// public half with the manager's verifier.
func (w *workspace) signer(secret string, addr lifecycle.Address) ed25519.PrivateKey {
	priv := deriveKey(secret, addr)
	w.registers.Verifier().RegisterKey(addr, priv.Public().(ed25519.PublicKey))
	return priv
}

// deriveKey is deterministic in (secret, addr), so a workspace reopened
// with the same secret verifies the same principals.
func deriveKey(secret string, addr lifecycle.Address) ed25519.PrivateKey {
	seed := sha256.Sum256([]byte(fmt.Sprintf("causality-key:%s:%s", secret, addr)))
	return ed25519.NewKeyFromSeed(seed[:])
}
