package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/document"
	"github.com/roach88/concord/internal/escrow"
)

// LoadDocument reads the stored snapshot of document id.
// Returns ErrNotFound if the document was never saved.
func (s *Store) LoadDocument(ctx context.Context, id string) (document.Snapshot, error) {
	var (
		snap      document.Snapshot
		hasEscrow int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT schema_version, clock, has_escrow, confirmed_total
		FROM documents
		WHERE id = ?
	`, id).Scan(&snap.SchemaVersion, &snap.Clock, &hasEscrow, &snap.ConfirmedTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Snapshot{}, fmt.Errorf("load document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return document.Snapshot{}, fmt.Errorf("load document %s: %w", id, err)
	}

	snap.Fields, err = s.readFields(ctx, id)
	if err != nil {
		return document.Snapshot{}, fmt.Errorf("load document %s: %w", id, err)
	}
	if hasEscrow != 0 {
		snap.Escrow, err = s.readEscrow(ctx, id)
		if err != nil {
			return document.Snapshot{}, fmt.Errorf("load document %s: %w", id, err)
		}
	}
	return snap, nil
}

func (s *Store) readFields(ctx context.Context, id string) (map[string]document.FieldSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, strategy, type, state, lineage
		FROM fields
		WHERE document_id = ?
		ORDER BY name COLLATE BINARY ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()

	fields := map[string]document.FieldSnapshot{}
	for rows.Next() {
		var name, strategy, typ, data, lineage string
		if err := rows.Scan(&name, &strategy, &typ, &data, &lineage); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		st, err := unmarshalState(crdt.Strategy(strategy), data)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		past, err := unmarshalLineage(lineage)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields[name] = document.FieldSnapshot{Strategy: crdt.Strategy(strategy), Type: typ, State: st, Lineage: past}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return fields, nil
}

func (s *Store) readEscrow(ctx context.Context, id string) (map[clock.ActorID]escrow.Budget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor, allocated, consumed
		FROM escrow
		WHERE document_id = ?
		ORDER BY actor COLLATE BINARY ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query escrow: %w", err)
	}
	defer rows.Close()

	budgets := map[clock.ActorID]escrow.Budget{}
	for rows.Next() {
		var b escrow.Budget
		var actor string
		if err := rows.Scan(&actor, &b.Allocated, &b.Consumed); err != nil {
			return nil, fmt.Errorf("scan escrow: %w", err)
		}
		b.Actor = clock.ActorID(actor)
		budgets[b.Actor] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrow: %w", err)
	}
	return budgets, nil
}

// ListDocuments returns the ids of every saved document in byte order.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListDocuments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return ids, nil
}

// ReadOperations returns the operation log of documentID.
// Results are ordered deterministically: ORDER BY time, actor, id.
//
// Returns an empty slice (not nil) if no operations exist.
func (s *Store) ReadOperations(ctx context.Context, documentID string) ([]crdt.Operation, error) {
	return s.ReadOperationsSince(ctx, documentID, 0)
}

// ReadOperationsSince returns the operations of documentID whose Lamport
// time is greater than after, in the same order as ReadOperations.
func (s *Store) ReadOperationsSince(ctx context.Context, documentID string, after int64) ([]crdt.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM operations
		WHERE document_id = ? AND time > ?
		ORDER BY time ASC, actor COLLATE BINARY ASC, id COLLATE BINARY ASC
	`, documentID, after)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	ops := []crdt.Operation{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op, err := unmarshalOperation(payload)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

// CountOperations returns the number of logged operations for documentID.
func (s *Store) CountOperations(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations WHERE document_id = ?`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return n, nil
}
