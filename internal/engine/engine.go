package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/compiler"
	"github.com/roach88/concord/internal/constraint"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/document"
	"github.com/roach88/concord/internal/escrow"
	"github.com/roach88/concord/internal/evolution"
	"github.com/roach88/concord/internal/store"
)

// Engine hosts the documents of one replica (one actor).
//
// Local mutations go straight to the document through ApplyLocal. Inbound
// transport either calls ReceiveOperation directly or submits events with
// Enqueue for the Run loop to merge.
//
// Thread-safety model:
//   - ApplyLocal, ReceiveOperation and the document accessors: safe from any
//     goroutine; each document serializes its own mutations
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//
// INVARIANTS:
//   - All documents share the engine's Lamport clock, so stamps issued by
//     one replica are unique across its documents
//   - Every operation the engine accepts is appended to the store log (when
//     a store is configured) after the document has applied it
type Engine struct {
	actor clock.ActorID
	clock *clock.Lamport

	mu   sync.RWMutex
	docs map[string]*document.Document

	store      *store.Store
	queue      *eventQueue
	ids        IDGenerator
	emitter    document.Emitter
	onViolate  document.ViolationHandler
	quorum     escrow.Quorum
	reconciler *escrow.Reconciler
	reconOpts  []escrow.ReconcilerOption
	registerer prometheus.Registerer
	metrics    *metrics
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore enables Save, Load and the operation log.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithIDGenerator sets the document id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithEmitter sets the outbound transport for locally produced operations.
func WithEmitter(em document.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithViolationHandler sets the application handler for eventual
// constraint violations found after merges.
func WithViolationHandler(h document.ViolationHandler) Option {
	return func(e *Engine) { e.onViolate = h }
}

// WithQuorum enables Reconcile against q.
func WithQuorum(q escrow.Quorum, opts ...escrow.ReconcilerOption) Option {
	return func(e *Engine) {
		e.quorum = q
		e.reconOpts = opts
	}
}

// WithRegisterer registers the engine's metrics with reg.
// Default: metrics are collected but not registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registerer = reg }
}

// WithClock shares an existing Lamport clock.
func WithClock(c *clock.Lamport) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine for actor.
func New(actor clock.ActorID, opts ...Option) (*Engine, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		actor:  actor,
		clock:  clock.NewLamport(),
		docs:   make(map[string]*document.Document),
		queue:  newEventQueue(),
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.metrics = newMetrics(e.registerer)
	if e.quorum != nil {
		ropts := append([]escrow.ReconcilerOption{escrow.WithLogger(e.logger)}, e.reconOpts...)
		e.reconciler = escrow.NewReconciler(e.quorum, actor, ropts...)
	}
	return e, nil
}

// Actor returns the replica's actor id.
func (e *Engine) Actor() clock.ActorID { return e.actor }

// Clock returns the replica's shared Lamport clock.
func (e *Engine) Clock() *clock.Lamport { return e.clock }

// CreateDocument opens a new empty document. An empty id is replaced by one
// from the id generator; replicas joining an existing document pass its id.
func (e *Engine) CreateDocument(id string) (*document.Document, error) {
	if id == "" {
		id = e.ids.Generate()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.docs[id]; ok {
		return nil, newDuplicateDocumentError(id)
	}
	d, err := e.newDocument(id)
	if err != nil {
		return nil, err
	}
	e.docs[id] = d
	e.metrics.documents.Set(float64(len(e.docs)))
	e.logger.Info("document created", "document", id, "actor", e.actor)
	return d, nil
}

func (e *Engine) newDocument(id string) (*document.Document, error) {
	opts := []document.Option{
		document.WithClock(e.clock),
		document.WithLogger(e.logger),
		document.WithViolationHandler(e.violation),
	}
	if e.emitter != nil {
		opts = append(opts, document.WithEmitter(e.emitter))
	}
	return document.New(id, e.actor, opts...)
}

// violation counts and forwards eventual violations.
func (e *Engine) violation(documentID string, v constraint.Violation) {
	e.metrics.violations.WithLabelValues(v.Constraint).Inc()
	if e.onViolate != nil {
		e.onViolate(documentID, v)
	}
}

// Document returns the open document id.
func (e *Engine) Document(id string) (*document.Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.docs[id]
	if !ok {
		return nil, newUnknownDocumentError(id)
	}
	return d, nil
}

// Documents returns the ids of open documents in byte order.
func (e *Engine) Documents() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.docs))
}

// CloseDocument drops an open document from memory. Stored data is kept.
func (e *Engine) CloseDocument(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.docs[id]; !ok {
		return newUnknownDocumentError(id)
	}
	delete(e.docs, id)
	e.metrics.documents.Set(float64(len(e.docs)))
	return nil
}

// RegisterField declares a field of documentID.
func (e *Engine) RegisterField(documentID, field string, strategy crdt.Strategy, typ string) error {
	d, err := e.Document(documentID)
	if err != nil {
		return err
	}
	return d.RegisterField(field, strategy, typ)
}

// RegisterConstraint declares a constraint on documentID.
func (e *Engine) RegisterConstraint(documentID string, decl constraint.Declaration) error {
	d, err := e.Document(documentID)
	if err != nil {
		return err
	}
	return d.RegisterConstraint(decl)
}

// BindSchema registers every field and constraint of a compiled schema.
func (e *Engine) BindSchema(documentID string, s *compiler.Schema) error {
	d, err := e.Document(documentID)
	if err != nil {
		return err
	}
	return compiler.Bind(d, s)
}

// SetEscrow attaches a new ledger splitting total across actors.
func (e *Engine) SetEscrow(documentID string, total int64, actors ...clock.ActorID) error {
	d, err := e.Document(documentID)
	if err != nil {
		return err
	}
	l, err := escrow.NewLedger(total, actors...)
	if err != nil {
		return fmt.Errorf("set escrow on %s: %w", documentID, err)
	}
	d.SetLedger(l)
	return nil
}

// ApplyLocal applies a local mutation and, when it changed the document,
// emits it and appends it to the operation log.
func (e *Engine) ApplyLocal(ctx context.Context, documentID, field string, intent crdt.Intent) (document.Ack, error) {
	d, err := e.Document(documentID)
	if err != nil {
		return document.Ack{}, err
	}

	ack, err := d.ApplyLocal(ctx, field, intent)
	if err != nil {
		e.metrics.localOps.WithLabelValues("rejected").Inc()
		for _, reason := range []document.Reason{
			document.ReasonEscrowExceeded,
			document.ReasonTypeMismatch,
			document.ReasonSchemaLocked,
			document.ReasonInvalidIntent,
		} {
			if document.IsRejected(err, reason) {
				e.metrics.rejections.WithLabelValues(string(reason)).Inc()
				break
			}
		}
		return ack, err
	}
	if !ack.Emitted {
		e.metrics.localOps.WithLabelValues("noop").Inc()
		return ack, nil
	}
	e.metrics.localOps.WithLabelValues("emitted").Inc()

	if err := e.logOperation(ctx, documentID, ack.Op); err != nil {
		return ack, err
	}
	return ack, nil
}

// ReceiveOperation merges a remote operation into documentID. It is never
// rejected for violating constraints; violations are reported in the
// outcome and through the violation handler.
func (e *Engine) ReceiveOperation(documentID string, op crdt.Operation) (document.MergeOutcome, error) {
	return e.receive(context.Background(), documentID, op)
}

func (e *Engine) receive(ctx context.Context, documentID string, op crdt.Operation) (document.MergeOutcome, error) {
	d, err := e.Document(documentID)
	if err != nil {
		e.metrics.remoteOps.WithLabelValues("error").Inc()
		return document.MergeOutcome{}, err
	}

	out, err := d.ApplyRemote(op)
	if err != nil {
		e.metrics.remoteOps.WithLabelValues("error").Inc()
		return out, err
	}
	if !out.Changed {
		e.metrics.remoteOps.WithLabelValues("duplicate").Inc()
		return out, nil
	}
	e.metrics.remoteOps.WithLabelValues("changed").Inc()

	if err := e.logOperation(ctx, documentID, op); err != nil {
		return out, err
	}
	return out, nil
}

// MergeSnapshot joins a remote snapshot into documentID.
func (e *Engine) MergeSnapshot(documentID string, snap document.Snapshot) (document.MergeOutcome, error) {
	d, err := e.Document(documentID)
	if err != nil {
		return document.MergeOutcome{}, err
	}
	return d.Merge(snap)
}

func (e *Engine) logOperation(ctx context.Context, documentID string, op crdt.Operation) error {
	if e.store == nil {
		return nil
	}
	if _, _, err := e.store.WriteOperation(ctx, documentID, op); err != nil {
		return fmt.Errorf("log operation on %s: %w", documentID, err)
	}
	return nil
}

// ApplyReconciliation installs a confirmed total received from the quorum
// for actor's round on documentID.
func (e *Engine) ApplyReconciliation(documentID string, actor clock.ActorID, total int64) (escrow.Result, error) {
	d, err := e.Document(documentID)
	if err != nil {
		return escrow.Result{}, err
	}
	l := d.Ledger()
	if l == nil {
		return escrow.Result{}, newNoLedgerError(documentID)
	}
	res, err := l.ApplyReconciliation(actor, total)
	if err != nil {
		return res, fmt.Errorf("apply reconciliation on %s: %w", documentID, err)
	}
	e.logReconciled(documentID, res)
	return res, nil
}

// Reconcile runs one reconciliation round for documentID against the
// configured quorum. It blocks only the caller; local mutations continue
// against the current budgets while it waits.
func (e *Engine) Reconcile(ctx context.Context, documentID string) (escrow.Result, error) {
	if e.reconciler == nil {
		return escrow.Result{}, newNoQuorumError(documentID)
	}
	d, err := e.Document(documentID)
	if err != nil {
		return escrow.Result{}, err
	}
	l := d.Ledger()
	if l == nil {
		return escrow.Result{}, newNoLedgerError(documentID)
	}

	start := time.Now()
	res, err := e.reconciler.Reconcile(ctx, documentID, l)
	e.metrics.reconcileTime.Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.reconciliations.WithLabelValues("error").Inc()
		return res, err
	}
	e.metrics.reconciliations.WithLabelValues("ok").Inc()
	e.logReconciled(documentID, res)
	return res, nil
}

func (e *Engine) logReconciled(documentID string, res escrow.Result) {
	e.logger.Info("escrow reconciled",
		"document", documentID,
		"generation", res.Generation,
		"confirmed_total", res.ConfirmedTotal,
		"overdraft", res.Overdraft != nil,
	)
}

// Migrate applies a validated set of strategy migrations to documentID.
func (e *Engine) Migrate(documentID string, plans []evolution.Plan) error {
	d, err := e.Document(documentID)
	if err != nil {
		return err
	}
	return d.Migrate(plans)
}

// Collect drops tombstones of documentID that epoch covers.
func (e *Engine) Collect(documentID string, epoch clock.Epoch) (int, error) {
	d, err := e.Document(documentID)
	if err != nil {
		return 0, err
	}
	return d.Collect(epoch), nil
}

// Save writes the snapshot of documentID to the store.
func (e *Engine) Save(ctx context.Context, documentID string) error {
	if e.store == nil {
		return newNoStoreError(documentID)
	}
	d, err := e.Document(documentID)
	if err != nil {
		return err
	}
	if err := e.store.SaveDocument(ctx, documentID, d.Snapshot()); err != nil {
		return err
	}
	e.logger.Debug("document saved", "document", documentID)
	return nil
}

// Load restores documentID from the store: the saved snapshot, then every
// logged operation on top of it. A document that is already open keeps its
// registered constraints; otherwise it is opened without any.
//
// Operations are idempotent, so replaying the whole log over the snapshot
// is safe. Operations logged before a migration are translated through it.
// Replay does not report constraint violations again. Local escrow
// consumption made after the last Save is not in the snapshot and is not
// recovered by replay.
func (e *Engine) Load(ctx context.Context, documentID string) (*document.Document, error) {
	if e.store == nil {
		return nil, newNoStoreError(documentID)
	}
	snap, err := e.store.LoadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	d, ok := e.docs[documentID]
	if !ok {
		if d, err = e.newDocument(documentID); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.docs[documentID] = d
		e.metrics.documents.Set(float64(len(e.docs)))
	}
	e.mu.Unlock()

	if err := d.Restore(snap); err != nil {
		return nil, fmt.Errorf("load %s: %w", documentID, err)
	}
	res, err := e.store.Replay(ctx, documentID, 0, func(op crdt.Operation) (bool, error) {
		return d.Replay(op)
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", documentID, err)
	}
	e.logger.Info("document loaded",
		"document", documentID,
		"fields", len(snap.Fields),
		"replayed", res.Total,
		"changed", res.Changed,
	)
	return d, nil
}

// Enqueue submits an inbound event for the Run loop. Safe for concurrent
// use. Returns false once the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	ok := e.queue.push(ev)
	e.metrics.queueDepth.Set(float64(e.queue.len()))
	return ok
}

// QueueLen returns the number of events waiting for the Run loop.
func (e *Engine) QueueLen() int {
	return e.queue.len()
}

// Run merges inbound events until ctx is cancelled or Stop is called.
// Events queued before Stop are still merged. Must be called from exactly
// one goroutine.
//
// A failed event is logged and skipped. Remote operations are never
// retried here: a failed merge means the operation cannot be routed, and
// redelivery is the transport's job.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "actor", e.actor)

	for {
		if batch := e.queue.drain(); len(batch) > 0 {
			e.metrics.queueDepth.Set(float64(e.queue.len()))
			for _, ev := range batch {
				if err := e.processEvent(ctx, ev); err != nil {
					e.logEventError(ev, err)
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.close()
			return ctx.Err()
		case <-e.queue.wait():
			// A closed queue keeps this case ready, so check for the end.
			if e.queue.finished() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the inbound queue; Run returns once it has drained.
func (e *Engine) Stop() {
	e.queue.close()
}

// processEvent routes an event to its handler. Called only from Run.
func (e *Engine) processEvent(ctx context.Context, ev Event) error {
	if err := ev.validate(); err != nil {
		return err
	}
	if ev.Type == EventTypeSnapshot {
		_, err := e.MergeSnapshot(ev.DocumentID, *ev.Snapshot)
		return err
	}
	_, err := e.receive(ctx, ev.DocumentID, *ev.Operation)
	return err
}

func (e *Engine) logEventError(event Event, err error) {
	attrs := []any{
		"type", event.Type.String(),
		"document", event.DocumentID,
		"error", err,
	}
	if event.Operation != nil {
		attrs = append(attrs,
			"field", event.Operation.Field,
			"actor", event.Operation.Actor,
			"stamp", event.Operation.Stamp.String(),
		)
	}
	e.logger.Error("event processing failed", attrs...)
}
