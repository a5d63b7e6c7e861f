package document

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/escrow"
	"github.com/roach88/concord/internal/evolution"
	"github.com/roach88/concord/internal/ir"
)

// FieldSnapshot is one field of a Snapshot.
type FieldSnapshot struct {
	Strategy crdt.Strategy
	Type     string
	State    crdt.State
	// Lineage lists the strategies the field ran before each migration.
	Lineage []crdt.Strategy
}

// Revision is the number of migrations the field went through.
func (fs FieldSnapshot) Revision() int { return len(fs.Lineage) }

// Snapshot is the persisted layout of a document:
//
//	{schema_version, clock, fields: {name: {strategy, type, state, lineage}},
//	 escrow: {actor: {allocated, consumed}}, confirmed_total}
//
// Escrow is nil when the document has no ledger. States are owned by the
// snapshot; Snapshot and Restore copy them.
type Snapshot struct {
	SchemaVersion  int
	Clock          int64
	Fields         map[string]FieldSnapshot
	Escrow         map[clock.ActorID]escrow.Budget
	ConfirmedTotal int64
}

// Snapshot captures the document's fields, clock and escrow ledger.
func (d *Document) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := Snapshot{
		SchemaVersion: d.version,
		Clock:         d.clock.Value(),
		Fields:        make(map[string]FieldSnapshot, len(d.fields)),
	}
	for name, f := range d.fields {
		snap.Fields[name] = FieldSnapshot{
			Strategy: f.Strategy,
			Type:     f.Type,
			State:    crdt.Clone(f.state),
			Lineage:  slices.Clone(f.lineage),
		}
	}
	if l := d.constraints.Ledger(); l != nil {
		snap.ConfirmedTotal = l.ConfirmedTotal()
		snap.Escrow = map[clock.ActorID]escrow.Budget{}
		for _, b := range l.Budgets() {
			snap.Escrow[b.Actor] = b
		}
	}
	return snap
}

// Restore replaces the document's fields, schema version and escrow ledger
// with the snapshot's. Registered constraints are kept. The clock only
// moves forward.
func (d *Document) Restore(snap Snapshot) error {
	fields := make(map[string]*field, len(snap.Fields))
	for name, fs := range snap.Fields {
		if fs.State == nil || fs.State.Strategy() != fs.Strategy {
			return fmt.Errorf("restore field %q: state does not match %s: %w", name, fs.Strategy, crdt.ErrTypeMismatch)
		}
		fields[name] = &field{
			Field:   Field{Name: name, Strategy: fs.Strategy, Type: fs.Type},
			state:   crdt.Clone(fs.State),
			lineage: slices.Clone(fs.Lineage),
		}
	}

	var ledger *escrow.Ledger
	if snap.Escrow != nil {
		budgets := make([]escrow.Budget, 0, len(snap.Escrow))
		for _, a := range slices.Sorted(maps.Keys(snap.Escrow)) {
			b := snap.Escrow[a]
			b.Actor = a
			budgets = append(budgets, b)
		}
		var err error
		if ledger, err = escrow.Restore(snap.ConfirmedTotal, budgets); err != nil {
			return fmt.Errorf("restore escrow: %w", err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields = fields
	d.version = snap.SchemaVersion
	d.clock.Observe(snap.Clock)
	for _, f := range fields {
		d.clock.Observe(crdt.LatestTime(f.state))
	}
	if ledger != nil {
		d.constraints.SetLedger(ledger)
	}
	d.logger.Debug("document restored", "document", d.id, "fields", len(fields), "schema_version", snap.SchemaVersion)
	return nil
}

// Merge joins a remote snapshot into the document field by field. Fields
// the document does not have yet are adopted. A remote field from before a
// migration this document applied is migrated first. A remote field at a
// later revision fails with ErrRevisionAhead, and any other strategy
// difference is a *evolution.LockedError; either way nothing is merged.
// Escrow is not merged: budgets only move through reconciliation.
func (d *Document) Merge(snap Snapshot) (MergeOutcome, error) {
	outcome, err := d.merge(snap)
	if err != nil {
		return outcome, err
	}
	d.report(outcome.Violations)
	return outcome, nil
}

func (d *Document) merge(snap Snapshot) (MergeOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := slices.Sorted(maps.Keys(snap.Fields))
	remote := make(map[string]crdt.State, len(names))
	for _, name := range names {
		fs := snap.Fields[name]
		if fs.State == nil || fs.State.Strategy() != fs.Strategy {
			return MergeOutcome{}, fmt.Errorf("merge field %q: %w", name, crdt.ErrTypeMismatch)
		}
		f, ok := d.fields[name]
		if !ok {
			remote[name] = fs.State
			continue
		}
		if fs.Revision() > f.revision() {
			return MergeOutcome{}, fmt.Errorf("merge field %q: %w: snapshot at revision %d, field at %d", name, ErrRevisionAhead, fs.Revision(), f.revision())
		}
		if f.strategyAt(fs.Revision()) != fs.Strategy {
			return MergeOutcome{}, &evolution.LockedError{Field: name, From: f.Strategy, To: fs.Strategy}
		}
		lifted, err := f.lift(fs.State, fs.Revision())
		if err != nil {
			return MergeOutcome{}, fmt.Errorf("merge field %q: %w", name, err)
		}
		remote[name] = lifted
	}

	var changed []string
	for _, name := range names {
		fs := snap.Fields[name]
		f, ok := d.fields[name]
		if !ok {
			f = &field{
				Field:   Field{Name: name, Strategy: fs.Strategy, Type: fs.Type},
				state:   crdt.MustNew(fs.Strategy),
				lineage: slices.Clone(fs.Lineage),
			}
			d.fields[name] = f
		}
		merged, err := crdt.Merge(f.state, remote[name])
		if err != nil {
			return MergeOutcome{}, fmt.Errorf("merge field %q: %w", name, err)
		}
		if !crdt.Equal(merged, f.state) {
			f.state = merged
			changed = append(changed, name)
		}
		d.clock.Observe(crdt.LatestTime(fs.State))
	}
	d.clock.Observe(snap.Clock)

	if len(changed) == 0 {
		return MergeOutcome{}, nil
	}
	out := MergeOutcome{Changed: true, Violations: d.constraints.Validate(lockedReader{d}, changed...)}
	d.logger.Debug("snapshot merged", "document", d.id, "changed", changed, "violations", len(out.Violations))
	return out, nil
}

// Value renders the snapshot in its canonical persisted layout.
func (s Snapshot) Value() (ir.Value, error) {
	fields := make(ir.Object, len(s.Fields))
	for name, fs := range s.Fields {
		data, err := crdt.Encode(fs.State)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		state, err := ir.UnmarshalValue(data)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fv := ir.Object{"strategy": ir.String(fs.Strategy), "state": state}
		if fs.Type != "" {
			fv["type"] = ir.String(fs.Type)
		}
		if len(fs.Lineage) > 0 {
			lineage := make(ir.Array, len(fs.Lineage))
			for i, s := range fs.Lineage {
				lineage[i] = ir.String(s)
			}
			fv["lineage"] = lineage
		}
		fields[name] = fv
	}

	out := ir.Object{
		"schema_version": ir.Int(s.SchemaVersion),
		"clock":          ir.Int(s.Clock),
		"fields":         fields,
	}
	if s.Escrow != nil {
		budgets := make(ir.Object, len(s.Escrow))
		for a, b := range s.Escrow {
			budgets[string(a)] = ir.Object{"allocated": ir.Int(b.Allocated), "consumed": ir.Int(b.Consumed)}
		}
		out["escrow"] = budgets
		out["confirmed_total"] = ir.Int(s.ConfirmedTotal)
	}
	return out, nil
}

// MarshalJSON encodes the snapshot as canonical JSON.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	v, err := s.Value()
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(v)
}

// UnmarshalJSON decodes the persisted layout.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	v, err := ir.UnmarshalValue(data)
	if err != nil {
		return err
	}
	snap, err := SnapshotFromValue(v)
	if err != nil {
		return err
	}
	*s = snap
	return nil
}

// SnapshotFromValue decodes the persisted layout from a Value.
func SnapshotFromValue(v ir.Value) (Snapshot, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return Snapshot{}, fmt.Errorf("snapshot: expected object, got %T", v)
	}
	snap := Snapshot{Fields: map[string]FieldSnapshot{}}

	var err error
	if snap.Clock, err = intField(obj, "clock", false); err != nil {
		return Snapshot{}, err
	}
	version, err := intField(obj, "schema_version", false)
	if err != nil {
		return Snapshot{}, err
	}
	snap.SchemaVersion = int(version)

	fields, _ := obj["fields"].(ir.Object)
	for name, raw := range fields {
		fo, ok := raw.(ir.Object)
		if !ok {
			return Snapshot{}, fmt.Errorf("snapshot field %q: expected object", name)
		}
		tag, _ := fo["strategy"].(ir.String)
		strategy, err := crdt.ParseStrategy(string(tag))
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot field %q: %w", name, err)
		}
		data, err := ir.MarshalCanonical(fo["state"])
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot field %q: %w", name, err)
		}
		state, err := crdt.Decode(strategy, data)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot field %q: %w", name, err)
		}
		typ, _ := fo["type"].(ir.String)
		lineage, err := lineageFromValue(fo["lineage"])
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot field %q: %w", name, err)
		}
		snap.Fields[name] = FieldSnapshot{Strategy: strategy, Type: string(typ), State: state, Lineage: lineage}
	}

	if raw, ok := obj["escrow"]; ok {
		budgets, ok := raw.(ir.Object)
		if !ok {
			return Snapshot{}, fmt.Errorf("snapshot escrow: expected object")
		}
		if snap.ConfirmedTotal, err = intField(obj, "confirmed_total", true); err != nil {
			return Snapshot{}, err
		}
		snap.Escrow = make(map[clock.ActorID]escrow.Budget, len(budgets))
		for actor, rb := range budgets {
			bo, ok := rb.(ir.Object)
			if !ok {
				return Snapshot{}, fmt.Errorf("snapshot escrow %q: expected object", actor)
			}
			allocated, err := intField(bo, "allocated", true)
			if err != nil {
				return Snapshot{}, err
			}
			consumed, err := intField(bo, "consumed", true)
			if err != nil {
				return Snapshot{}, err
			}
			a := clock.ActorID(actor)
			snap.Escrow[a] = escrow.Budget{Actor: a, Allocated: allocated, Consumed: consumed}
		}
	}
	return snap, nil
}

func lineageFromValue(v ir.Value) ([]crdt.Strategy, error) {
	if ir.IsNull(v) {
		return nil, nil
	}
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("lineage: expected array, got %T", v)
	}
	out := make([]crdt.Strategy, len(arr))
	for i, e := range arr {
		tag, _ := e.(ir.String)
		s, err := crdt.ParseStrategy(string(tag))
		if err != nil {
			return nil, fmt.Errorf("lineage[%d]: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

func intField(obj ir.Object, name string, required bool) (int64, error) {
	v, ok := obj[name]
	if !ok {
		if required {
			return 0, fmt.Errorf("snapshot: missing %q", name)
		}
		return 0, nil
	}
	n, ok := v.(ir.Int)
	if !ok {
		return 0, fmt.Errorf("snapshot: %q must be an integer, got %T", name, v)
	}
	return int64(n), nil
}
