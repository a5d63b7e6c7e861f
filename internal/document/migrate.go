package document

import (
	"fmt"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/evolution"
)

// Migrate changes field strategies according to plans. Plans are validated
// first and applied all-or-nothing; registered constraints must still
// classify against the migrated strategies.
func (d *Document) Migrate(plans []evolution.Plan) error {
	if err := evolution.Validate(plans); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	migrated := make(map[string]crdt.State, len(plans))
	strategies := make(map[string]crdt.Strategy, len(d.fields))
	for name, f := range d.fields {
		strategies[name] = f.Strategy
	}
	for _, p := range plans {
		f, ok := d.fields[p.Field]
		if !ok {
			return fmt.Errorf("migrate: %w: %q", ErrUnknownField, p.Field)
		}
		st, err := p.Apply(f.state)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		migrated[p.Field] = st
		strategies[p.Field] = p.To
	}
	if err := d.constraints.Reclassify(strategies); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	for _, p := range plans {
		f := d.fields[p.Field]
		f.state = migrated[p.Field]
		if p.From != p.To {
			f.lineage = append(f.lineage, p.From)
		}
		f.Strategy = p.To
		d.logger.Info("field migrated", "document", d.id, "field", p.Field, "from", p.From, "to", p.To)
	}
	return nil
}

// revision is the number of strategy migrations the field went through.
func (f *field) revision() int { return len(f.lineage) }

// strategyAt returns the strategy the field ran at revision r.
func (f *field) strategyAt(r int) crdt.Strategy {
	if r < len(f.lineage) {
		return f.lineage[r]
	}
	return f.Strategy
}

// adopt maps op onto the field's current strategy, translating it through
// every migration applied since the revision it was prepared at.
func (f *field) adopt(op crdt.Operation) (crdt.Operation, error) {
	rev := f.revision()
	switch {
	case op.Revision < 0:
		return crdt.Operation{}, fmt.Errorf("%w: negative revision %d", crdt.ErrInvalidOperation, op.Revision)
	case op.Revision > rev:
		return crdt.Operation{}, fmt.Errorf("%w: operation at revision %d, field at %d", ErrRevisionAhead, op.Revision, rev)
	}
	for r := op.Revision; r < rev; r++ {
		next, err := evolution.Translate(op, f.strategyAt(r), f.strategyAt(r+1))
		if err != nil {
			return crdt.Operation{}, err
		}
		op = next
	}
	return op, nil
}

// lift migrates st, a state of the field at revision r, to the current
// strategy.
func (f *field) lift(st crdt.State, r int) (crdt.State, error) {
	for ; r < f.revision(); r++ {
		next, err := evolution.Migrate(st, f.strategyAt(r+1))
		if err != nil {
			return nil, err
		}
		st = next
	}
	return st, nil
}

// Collect garbage-collects tombstones older than epoch in every field and
// returns how many were removed. The epoch must be causally stable: every
// replica has delivered every operation stamped below its horizon.
func (d *Document) Collect(epoch clock.Epoch) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int
	for _, f := range d.fields {
		n += crdt.Collect(f.state, epoch)
	}
	if n > 0 {
		d.logger.Debug("tombstones collected", "document", d.id, "horizon", epoch.Horizon, "removed", n)
	}
	return n
}
