package store

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/document"
)

// SaveDocument replaces the stored snapshot of document id in a single
// transaction. Fields and escrow rows missing from snap are removed; the
// operation log is left alone.
func (s *Store) SaveDocument(ctx context.Context, id string, snap document.Snapshot) error {
	if id == "" {
		return fmt.Errorf("save document: id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save document %s: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	hasEscrow := 0
	if snap.Escrow != nil {
		hasEscrow = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, schema_version, clock, has_escrow, confirmed_total)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			clock = excluded.clock,
			has_escrow = excluded.has_escrow,
			confirmed_total = excluded.confirmed_total
	`, id, snap.SchemaVersion, snap.Clock, hasEscrow, snap.ConfirmedTotal)
	if err != nil {
		return fmt.Errorf("save document %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("save document %s: clear fields: %w", id, err)
	}
	for _, name := range slices.Sorted(maps.Keys(snap.Fields)) {
		fs := snap.Fields[name]
		if fs.State == nil {
			return fmt.Errorf("save document %s: field %q has no state", id, name)
		}
		state, err := marshalState(fs.State)
		if err != nil {
			return fmt.Errorf("save document %s: field %q: %w", id, name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fields (document_id, name, strategy, type, state, lineage)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, name, string(fs.Strategy), fs.Type, state, marshalLineage(fs.Lineage))
		if err != nil {
			return fmt.Errorf("save document %s: field %q: %w", id, name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM escrow WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("save document %s: clear escrow: %w", id, err)
	}
	for _, actor := range slices.Sorted(maps.Keys(snap.Escrow)) {
		b := snap.Escrow[actor]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO escrow (document_id, actor, allocated, consumed)
			VALUES (?, ?, ?, ?)
		`, id, string(actor), b.Allocated, b.Consumed)
		if err != nil {
			return fmt.Errorf("save document %s: escrow %s: %w", id, actor, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save document %s: commit: %w", id, err)
	}
	return nil
}

// WriteOperation appends op to the log of documentID.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: a re-delivered operation
// returns its id with inserted=false.
func (s *Store) WriteOperation(ctx context.Context, documentID string, op crdt.Operation) (id string, inserted bool, err error) {
	id, payload, err := marshalOperation(op)
	if err != nil {
		return "", false, fmt.Errorf("write operation: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (id, document_id, field, actor, time, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, documentID, op.Field, string(op.Actor), op.Stamp.Time, payload)
	if err != nil {
		return "", false, fmt.Errorf("write operation %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("write operation %s: rows affected: %w", id, err)
	}
	return id, n > 0, nil
}

// DeleteDocument removes the snapshot and operation log of id.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete document %s: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	// fields and escrow cascade
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete document %s: commit: %w", id, err)
	}
	return nil
}
