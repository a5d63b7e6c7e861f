package document

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/constraint"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/escrow"
	"github.com/roach88/concord/internal/evolution"
	"github.com/roach88/concord/internal/ir"
)

// Emitter receives every operation a document produces locally. It is the
// hand-off point to transport.
type Emitter interface {
	OperationEmitted(documentID, field string, op crdt.Operation)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(documentID, field string, op crdt.Operation)

// OperationEmitted calls f.
func (f EmitterFunc) OperationEmitted(documentID, field string, op crdt.Operation) {
	f(documentID, field, op)
}

// ViolationHandler receives eventual-constraint violations found after
// remote merges. Called without the document lock held.
type ViolationHandler func(documentID string, v constraint.Violation)

// Field describes one registered field.
type Field struct {
	Name     string
	Strategy crdt.Strategy
	// Type is the declared value type from the schema, informational only.
	Type string
}

type field struct {
	Field
	state crdt.State
	// lineage lists the strategies the field ran before each migration,
	// oldest first. Its length is the field's revision.
	lineage []crdt.Strategy
}

// Document is one replicated record held by one actor.
type Document struct {
	mu sync.RWMutex

	id      string
	actor   clock.ActorID
	clock   *clock.Lamport
	version int
	fields  map[string]*field

	constraints *constraint.Engine
	emitter     Emitter
	onViolation ViolationHandler
	logger      *slog.Logger
}

// Option configures a Document.
type Option func(*Document)

// WithEmitter sets the operation emitter.
func WithEmitter(e Emitter) Option {
	return func(d *Document) { d.emitter = e }
}

// WithViolationHandler sets the handler for eventual violations.
func WithViolationHandler(h ViolationHandler) Option {
	return func(d *Document) { d.onViolation = h }
}

// WithLedger attaches an escrow ledger for strong constraints.
func WithLedger(l *escrow.Ledger) Option {
	return func(d *Document) { d.constraints.SetLedger(l) }
}

// WithClock shares a Lamport clock, typically one per replica.
func WithClock(c *clock.Lamport) Option {
	return func(d *Document) { d.clock = c }
}

// WithSchemaVersion sets the initial schema version.
func WithSchemaVersion(v int) Option {
	return func(d *Document) { d.version = v }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// New creates an empty document owned by actor.
func New(id string, actor clock.ActorID, opts ...Option) (*Document, error) {
	if id == "" {
		return nil, fmt.Errorf("document id is required")
	}
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	d := &Document{
		id:          id,
		actor:       actor,
		clock:       clock.NewLamport(),
		fields:      map[string]*field{},
		constraints: constraint.NewEngine(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ID returns the document id.
func (d *Document) ID() string { return d.id }

// Actor returns the owning actor.
func (d *Document) Actor() clock.ActorID { return d.actor }

// Clock returns the document's Lamport clock.
func (d *Document) Clock() *clock.Lamport { return d.clock }

// Constraints returns the document's constraint engine.
func (d *Document) Constraints() *constraint.Engine { return d.constraints }

// Ledger returns the escrow ledger, or nil.
func (d *Document) Ledger() *escrow.Ledger { return d.constraints.Ledger() }

// SetLedger attaches or replaces the escrow ledger.
func (d *Document) SetLedger(l *escrow.Ledger) { d.constraints.SetLedger(l) }

// SchemaVersion returns the schema version the document runs.
func (d *Document) SchemaVersion() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// SetSchemaVersion records the schema version the document runs.
func (d *Document) SetSchemaVersion(v int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = v
}

// RegisterField adds a field with the bottom state of strategy.
// Registering an existing field with the same strategy is a no-op; with a
// different strategy it is a *evolution.LockedError.
func (d *Document) RegisterField(name string, strategy crdt.Strategy, typ string) error {
	if name == "" {
		return fmt.Errorf("field name is required")
	}
	state, err := crdt.New(strategy)
	if err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := d.fields[name]; ok {
		if f.Strategy != strategy {
			return &evolution.LockedError{Field: name, From: f.Strategy, To: strategy}
		}
		return nil
	}
	d.fields[name] = &field{Field: Field{Name: name, Strategy: strategy, Type: typ}, state: state}
	d.logger.Debug("field registered", "document", d.id, "field", name, "strategy", strategy)
	return nil
}

// RegisterConstraint classifies and adds a constraint over registered
// fields.
func (d *Document) RegisterConstraint(decl constraint.Declaration) error {
	return d.constraints.Register(decl, d.strategies())
}

func (d *Document) strategies() map[string]crdt.Strategy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]crdt.Strategy, len(d.fields))
	for name, f := range d.fields {
		out[name] = f.Strategy
	}
	return out
}

// Fields returns the registered fields ordered by name.
func (d *Document) Fields() []Field {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Field, 0, len(d.fields))
	for _, name := range slices.Sorted(maps.Keys(d.fields)) {
		out = append(out, d.fields[name].Field)
	}
	return out
}

// Read returns a copy of a field's state.
func (d *Document) Read(name string) (crdt.State, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return crdt.Clone(f.state), nil
}

// State implements constraint.Reader.
func (d *Document) State(name string) (crdt.State, bool) {
	st, err := d.Read(name)
	return st, err == nil
}

// Value returns the materialized value of a field.
func (d *Document) Value(name string) (ir.Value, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return crdt.Read(f.state), nil
}

// Values returns every field's materialized value.
func (d *Document) Values() ir.Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(ir.Object, len(d.fields))
	for name, f := range d.fields {
		out[name] = crdt.Read(f.state)
	}
	return out
}

// lockedReader reads field states while the caller holds d.mu.
type lockedReader struct{ d *Document }

func (r lockedReader) State(name string) (crdt.State, bool) {
	f, ok := r.d.fields[name]
	if !ok {
		return nil, false
	}
	return f.state, true
}
