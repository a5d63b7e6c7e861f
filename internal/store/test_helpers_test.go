package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/constraint"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/document"
	"github.com/roach88/concord/internal/escrow"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestDocument builds a document of actor with one field per strategy
// and an escrow ledger of 100 split between A and B. Every emitted
// operation is appended to ops.
func createTestDocument(t *testing.T, actor clock.ActorID, ops *[]crdt.Operation) *document.Document {
	t.Helper()
	ledger, err := escrow.NewLedger(100, "A", "B")
	require.NoError(t, err)

	emit := document.EmitterFunc(func(_, _ string, op crdt.Operation) {
		if ops != nil {
			*ops = append(*ops, op)
		}
	})
	d, err := document.New("doc-1", actor, document.WithEmitter(emit), document.WithLedger(ledger))
	require.NoError(t, err)
	for _, s := range crdt.Strategies() {
		require.NoError(t, d.RegisterField(string(s), s, ""))
	}
	require.NoError(t, d.RegisterConstraint(constraint.NonNegative("pn_counter")))
	return d
}

func mustApply(t *testing.T, d *document.Document, field string, intent crdt.Intent) {
	t.Helper()
	_, err := d.ApplyLocal(context.Background(), field, intent)
	require.NoError(t, err)
}
