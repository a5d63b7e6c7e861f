package constraint

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/escrow"
)

// Engine holds the constraints of one document.
//
// Thread-safety: safe for concurrent use. Registration is expected at load
// time; Admit and Validate may run concurrently with each other.
type Engine struct {
	mu     sync.RWMutex
	decls  []Declaration
	ledger *escrow.Ledger
	// escrowField is the single pn_counter field the ledger guards.
	escrowField string
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLedger sets the document's escrow ledger.
func WithLedger(l *escrow.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an empty constraint engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register classifies decl against the document's field strategies and adds
// it. Declarations are evaluated in registration order.
//
// A document has one escrow ledger, so every strong constraint must guard
// the same field.
func (e *Engine) Register(decl Declaration, strategies map[string]crdt.Strategy) error {
	if err := classify(decl, strategies); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, d := range e.decls {
		if d.Name == decl.Name {
			return &ClassificationError{Constraint: decl.Name, Reason: "already registered"}
		}
	}
	if decl.Category == Strong {
		for _, f := range decl.Fields {
			if e.escrowField != "" && e.escrowField != f {
				return &ClassificationError{
					Constraint: decl.Name,
					Reason:     fmt.Sprintf("document escrow already guards field %q", e.escrowField),
				}
			}
			e.escrowField = f
		}
	}

	decl.Fields = slices.Clone(decl.Fields)
	e.decls = append(e.decls, decl)
	e.logger.Debug("constraint registered", "name", decl.Name, "category", decl.Category, "fields", decl.Fields)
	return nil
}

// Declarations returns the registered declarations in order.
func (e *Engine) Declarations() []Declaration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.decls)
}

// SetLedger replaces the escrow ledger.
func (e *Engine) SetLedger(l *escrow.Ledger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger = l
}

// Ledger returns the escrow ledger, or nil if none is attached.
func (e *Engine) Ledger() *escrow.Ledger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger
}

// EscrowField returns the field guarded by strong constraints, if any.
func (e *Engine) EscrowField() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.escrowField
}

// Admit decides whether a local intent may proceed. Strong constraints on
// field charge their cost to actor's budget; the largest cost among them
// is charged once since they guard the same quantity. A rejection is an
// *escrow.ExceededError and nothing is charged. Admission never waits;
// ctx is only checked for cancellation.
func (e *Engine) Admit(ctx context.Context, actor clock.ActorID, field string, intent crdt.Intent) (Admission, error) {
	if err := ctx.Err(); err != nil {
		return Admission{Actor: actor}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	adm := Admission{Actor: actor}
	var cost int64
	guarded := false
	for _, d := range e.decls {
		if d.Category != Strong || !slices.Contains(d.Fields, field) {
			continue
		}
		guarded = true
		cost = max(cost, d.Cost(intent))
	}
	if !guarded || cost == 0 {
		return adm, nil
	}
	if e.ledger == nil {
		return adm, &escrow.ExceededError{Actor: actor, Requested: cost}
	}
	if err := e.ledger.Consume(actor, cost); err != nil {
		e.logger.Debug("escrow rejected local operation", "actor", actor, "field", field, "cost", cost, "error", err)
		return adm, err
	}
	adm.Charged = cost
	return adm, nil
}

// Release refunds what an admission charged.
func (e *Engine) Release(adm Admission) error {
	if adm.Charged == 0 {
		return nil
	}
	l := e.Ledger()
	if l == nil {
		return nil
	}
	return l.Refund(adm.Actor, adm.Charged)
}

// Validate evaluates eventual constraints touching any of fields (all
// eventual constraints if fields is empty) and returns the violations in
// declaration order. It never blocks or fails.
func (e *Engine) Validate(r Reader, fields ...string) []Violation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Violation
	for _, d := range e.decls {
		if d.Category != Eventual || !touches(d, fields) {
			continue
		}
		holds, desc := d.Predicate(r)
		if holds {
			continue
		}
		field := d.Fields[0]
		for _, f := range fields {
			if slices.Contains(d.Fields, f) {
				field = f
				break
			}
		}
		out = append(out, Violation{Category: Eventual, Constraint: d.Name, Field: field, Description: desc})
	}
	return out
}

func touches(d Declaration, fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if slices.Contains(d.Fields, f) {
			return true
		}
	}
	return false
}

// Reclassify checks every registered declaration against new field
// strategies, as after a schema migration.
func (e *Engine) Reclassify(strategies map[string]crdt.Strategy) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, d := range e.decls {
		if err := classify(d, strategies); err != nil {
			return err
		}
	}
	return nil
}
