package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/compiler"
	"github.com/roach88/concord/internal/constraint"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/document"
	"github.com/roach88/concord/internal/engine"
	"github.com/roach88/concord/internal/escrow"
	"github.com/roach88/concord/internal/ir"
	"github.com/roach88/concord/internal/store"
)

// DocumentID is the id every replica uses for the scenario document.
const DocumentID = "doc"

// Harness holds the replicas of one scenario run.
type Harness struct {
	scenario *Scenario
	order    []string
	replicas map[string]*replica
	result   *Result
	logger   *slog.Logger
}

// replica is one engine plus the operations it has emitted so far.
type replica struct {
	name   string
	engine *engine.Engine
	store  *store.Store

	mu   sync.Mutex
	sent []crdt.Operation
}

func (r *replica) OperationEmitted(_, _ string, op crdt.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, op)
}

func (r *replica) emitted() []crdt.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]crdt.Operation(nil), r.sent...)
}

func (r *replica) document() *document.Document {
	d, err := r.engine.Document(DocumentID)
	if err != nil {
		// Created in addReplica and never closed.
		panic(err)
	}
	return d
}

// quorum confirms whatever the requester reports: the new confirmed total
// is the old one minus everything consumed.
var quorum = escrow.QuorumFunc(func(_ context.Context, req escrow.Request) (int64, error) {
	total := req.ConfirmedTotal
	for _, c := range req.Consumed {
		total -= c
	}
	return max(total, 0), nil
})

// Run executes a scenario and returns the result.
//
// Each replica runs in a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Compile the schema (file or inline fields)
//  2. Create one engine per replica and bind the schema
//  3. Execute steps in order, recording the trace
//  4. Evaluate assertions against the final state
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	schema, err := scenarioSchema(scenario)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario: scenario,
		replicas: make(map[string]*replica, len(scenario.Replicas)),
		result:   NewResult(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	defer h.close()

	for _, name := range scenario.Replicas {
		if err := h.addReplica(name, schema); err != nil {
			return nil, fmt.Errorf("replica %s: %w", name, err)
		}
	}

	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, name := range h.order {
		h.result.Final[name] = h.replicas[name].document().Values()
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func scenarioSchema(s *Scenario) (*compiler.Schema, error) {
	if s.Schema == "" {
		return &compiler.Schema{
			Name:        "Scenario",
			Version:     1,
			Fields:      s.Fields,
			Constraints: s.Constraints,
		}, nil
	}

	src, err := os.ReadFile(s.Schema)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	schemas, err := compiler.CompileSource(s.Schema, src)
	if err != nil {
		return nil, err
	}
	for _, sc := range schemas {
		if sc.Name == s.Document {
			return sc, nil
		}
	}
	return nil, fmt.Errorf("schema %s has no document %q", s.Schema, s.Document)
}

func (h *Harness) addReplica(name string, schema *compiler.Schema) error {
	st, err := store.Open(":memory:")
	if err != nil {
		return fmt.Errorf("failed to create in-memory store: %w", err)
	}
	r := &replica{name: name, store: st}
	h.order = append(h.order, name)
	h.replicas[name] = r

	r.engine, err = engine.New(clock.ActorID(name),
		engine.WithStore(st),
		engine.WithEmitter(r),
		engine.WithViolationHandler(h.violationHandler(name)),
		engine.WithQuorum(quorum, escrow.WithRetryIntervals(time.Millisecond, 10*time.Millisecond)),
		engine.WithIDGenerator(engine.NewFixedGenerator()),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		return err
	}
	if _, err := r.engine.CreateDocument(DocumentID); err != nil {
		return err
	}
	if err := r.engine.BindSchema(DocumentID, schema); err != nil {
		return err
	}
	if e := h.scenario.Escrow; e != nil {
		actors := make([]clock.ActorID, len(e.Actors))
		for i, a := range e.Actors {
			actors[i] = clock.ActorID(a)
		}
		if err := r.engine.SetEscrow(DocumentID, e.Total, actors...); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) violationHandler(name string) document.ViolationHandler {
	return func(_ string, v constraint.Violation) {
		h.result.Violations = append(h.result.Violations, ViolationEvent{
			Replica:     name,
			Constraint:  v.Constraint,
			Field:       v.Field,
			Description: v.Description,
		})
	}
}

func (h *Harness) close() {
	for _, name := range h.order {
		h.replicas[name].store.Close()
	}
}

func (h *Harness) runStep(ctx context.Context, i int, step Step) error {
	switch {
	case step.Op != "":
		return h.runOp(ctx, i, step)
	case step.Sync != nil:
		return h.runSync(i, *step.Sync)
	default:
		return h.runReconcile(ctx, i, step.Reconcile)
	}
}

func (h *Harness) runOp(ctx context.Context, i int, step Step) error {
	r := h.replicas[step.Replica]
	intent, err := BuildIntent(step)
	if err != nil {
		return err
	}
	if step.At > 0 {
		// Tick runs before the stamp is taken, so the op lands at At.
		r.engine.Clock().Set(step.At - 1)
	}

	ev := TraceEvent{Step: i, Kind: KindOp, Replica: step.Replica, Field: step.Field, Intent: intent.Name()}
	ack, err := r.engine.ApplyLocal(ctx, DocumentID, step.Field, intent)
	var rejected *document.Rejected
	switch {
	case errors.As(err, &rejected):
		ev.Outcome = "rejected:" + string(rejected.Reason)
	case err != nil:
		return err
	case ack.Emitted:
		ev.Outcome = OutcomeEmitted
		ev.Stamp = ack.Op.Stamp.String()
	default:
		ev.Outcome = OutcomeNoop
	}
	h.result.addTrace(ev)

	if step.Expect != "" && !outcomeMatches(step.Expect, ev.Outcome) {
		h.result.AddError(fmt.Sprintf("step %d: %s %s on %s: expected %s, got %s",
			i, step.Replica, step.Op, step.Field, step.Expect, ev.Outcome))
	}
	return nil
}

// outcomeMatches accepts either the full outcome or a bare rejection reason.
func outcomeMatches(expect, outcome string) bool {
	return expect == outcome || "rejected:"+expect == outcome
}

// BuildIntent maps an op step to the intent it applies.
func BuildIntent(step Step) (crdt.Intent, error) {
	value, err := ir.FromAny(step.Value)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	switch step.Op {
	case "set":
		return crdt.Set{Value: value}, nil
	case "add":
		return crdt.Add{Value: value}, nil
	case "remove":
		return crdt.Remove{Value: value}, nil
	case "increment":
		return crdt.Increment{Amount: step.Amount}, nil
	case "decrement":
		return crdt.Decrement{Amount: step.Amount}, nil
	case "insert":
		return crdt.InsertAt{Index: step.Index, Value: value}, nil
	case "delete":
		return crdt.DeleteAt{Index: step.Index}, nil
	case "format":
		return crdt.Format{
			Start:  step.Index,
			End:    step.End,
			Mark:   step.Mark,
			Value:  value,
			Expand: crdt.Expand(step.Expand),
		}, nil
	}
	return nil, fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) runSync(i int, s SyncStep) error {
	ev := TraceEvent{Step: i, Kind: KindSync, From: s.From, To: s.To}
	if s.From != "" {
		n, err := h.deliver(s.From, s.To)
		if err != nil {
			return err
		}
		ev.Changed = n
	} else {
		ev.From, ev.To = "*", "*"
		for _, from := range h.order {
			for _, to := range h.order {
				if from == to {
					continue
				}
				n, err := h.deliver(from, to)
				if err != nil {
					return err
				}
				ev.Changed += n
			}
		}
	}
	h.result.addTrace(ev)
	return nil
}

// deliver sends every operation from has emitted to to and returns how
// many changed to's state. Redelivery is harmless.
func (h *Harness) deliver(from, to string) (int, error) {
	dst := h.replicas[to].engine
	changed := 0
	for _, op := range h.replicas[from].emitted() {
		out, err := dst.ReceiveOperation(DocumentID, op)
		if err != nil {
			return changed, fmt.Errorf("deliver %s to %s: %w", from, to, err)
		}
		if out.Changed {
			changed++
		}
	}
	return changed, nil
}

func (h *Harness) runReconcile(ctx context.Context, i int, name string) error {
	res, err := h.replicas[name].engine.Reconcile(ctx, DocumentID)
	if err != nil {
		return err
	}
	h.result.addTrace(TraceEvent{Step: i, Kind: KindReconcile, Replica: name, ConfirmedTotal: res.ConfirmedTotal})
	return nil
}
