package document

import (
	"context"
	"fmt"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/constraint"
	"github.com/roach88/concord/internal/crdt"
)

// Ack acknowledges an accepted local mutation.
type Ack struct {
	// ID is the content-addressed operation id, empty for no-ops.
	ID string
	Op crdt.Operation
	// Emitted is false when the mutation changed nothing, such as a second
	// write to an immutable field. No-ops are not emitted.
	Emitted bool
}

// MergeOutcome reports the effect of a remote operation or snapshot.
type MergeOutcome struct {
	Changed    bool
	Violations []constraint.Violation
}

// ApplyLocal prepares intent against field, asks the constraint engine to
// admit it, applies it and emits the resulting operation. A refused
// mutation returns a *Rejected and leaves the document and the escrow
// ledger untouched.
func (d *Document) ApplyLocal(ctx context.Context, name string, intent crdt.Intent) (Ack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.fields[name]
	if !ok {
		return Ack{}, reject(name, fmt.Errorf("%w: %q", ErrUnknownField, name))
	}

	stamp := clock.Stamp{Time: d.clock.Tick(), Actor: d.actor}
	payload, err := crdt.Prepare(f.state, d.actor, stamp, intent)
	if err != nil {
		return Ack{}, reject(name, err)
	}
	op := crdt.Operation{Actor: d.actor, Stamp: stamp, Field: name, Payload: payload, Revision: f.revision()}

	adm, err := d.constraints.Admit(ctx, d.actor, name, intent)
	if err != nil {
		if ctx.Err() != nil {
			return Ack{}, err
		}
		return Ack{}, reject(name, err)
	}

	changed, err := crdt.Apply(f.state, op)
	if err != nil {
		d.release(adm)
		return Ack{}, reject(name, err)
	}
	if !changed {
		d.release(adm)
		d.logger.Debug("local no-op", "document", d.id, "field", name, "intent", intent.Name())
		return Ack{Op: op}, nil
	}

	id, err := crdt.OperationID(op)
	if err != nil {
		return Ack{}, fmt.Errorf("operation id: %w", err)
	}
	d.logger.Debug("local operation applied",
		"document", d.id,
		"field", name,
		"intent", intent.Name(),
		"stamp", op.Stamp.String(),
		"charged", adm.Charged,
	)
	if d.emitter != nil {
		d.emitter.OperationEmitted(d.id, name, op)
	}
	return Ack{ID: id, Op: op, Emitted: true}, nil
}

func (d *Document) release(adm constraint.Admission) {
	if err := d.constraints.Release(adm); err != nil {
		d.logger.Warn("escrow refund failed", "document", d.id, "actor", adm.Actor, "amount", adm.Charged, "error", err)
	}
}

// ApplyRemote merges an operation from another replica. It is never
// rejected for violating constraints; eventual constraints on the touched
// field are evaluated afterwards and reported. Re-delivery is idempotent
// and reports Changed=false.
//
// Errors are returned only for operations that cannot be routed at all:
// unknown fields, payloads of the wrong strategy and operations from a
// field revision this document has not migrated to (ErrRevisionAhead).
// Operations prepared before a migration the document has applied are
// translated through it first.
func (d *Document) ApplyRemote(op crdt.Operation) (MergeOutcome, error) {
	outcome, err := d.applyRemote(op, true)
	if err != nil {
		return outcome, err
	}
	d.report(outcome.Violations)
	return outcome, nil
}

// Replay merges an operation from the document's own history, such as the
// stored log on load. It behaves like ApplyRemote but neither evaluates nor
// reports constraints: any violation was reported when the operation first
// arrived.
func (d *Document) Replay(op crdt.Operation) (bool, error) {
	out, err := d.applyRemote(op, false)
	return out.Changed, err
}

func (d *Document) applyRemote(op crdt.Operation, validate bool) (MergeOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.fields[op.Field]
	if !ok {
		return MergeOutcome{}, fmt.Errorf("remote operation: %w: %q", ErrUnknownField, op.Field)
	}
	adopted, err := f.adopt(op)
	if err != nil {
		return MergeOutcome{}, fmt.Errorf("remote operation on %q: %w", op.Field, err)
	}
	changed, err := crdt.Apply(f.state, adopted)
	if err != nil {
		return MergeOutcome{}, fmt.Errorf("remote operation on %q: %w", op.Field, err)
	}
	d.clock.Observe(op.Stamp.Time)
	if !changed {
		return MergeOutcome{}, nil
	}

	out := MergeOutcome{Changed: true}
	if validate {
		out.Violations = d.constraints.Validate(lockedReader{d}, op.Field)
	}
	d.logger.Debug("remote operation merged",
		"document", d.id,
		"field", op.Field,
		"actor", op.Actor,
		"stamp", op.Stamp.String(),
		"revision", op.Revision,
		"violations", len(out.Violations),
	)
	return out, nil
}

func (d *Document) report(violations []constraint.Violation) {
	for _, v := range violations {
		d.logger.Info("constraint violation", "document", d.id, "constraint", v.Constraint, "field", v.Field, "description", v.Description)
		if d.onViolation != nil {
			d.onViolation(d.id, v)
		}
	}
}
