package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/engine"
	"github.com/roach88/concord/internal/store"
)

// ReplicaOptions are the flags shared by commands that open a stored
// document on behalf of an actor.
type ReplicaOptions struct {
	Database string
	Schema   string // CUE file or directory
	Document string // schema document name
	ID       string // document id in the store
	Actor    string
}

// replica is an engine hosting one stored document.
type replica struct {
	engine *engine.Engine
	store  *store.Store
	id     string
	// created is true when the store had no snapshot for id.
	created bool
}

// openReplica opens the store, binds the schema to the document and
// restores whatever the store holds for it.
func openReplica(ctx context.Context, opts ReplicaOptions, logger *slog.Logger, extra ...engine.Option) (*replica, error) {
	if err := clock.ActorID(opts.Actor).Validate(); err != nil {
		return nil, err
	}
	loaded, err := loadAll(opts.Schema)
	if err != nil {
		return nil, err
	}
	schema, ok := loaded.Schema(opts.Document)
	if !ok {
		return nil, fmt.Errorf("schema %s has no document %q", opts.Schema, opts.Document)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	id := opts.ID
	if id == "" {
		id = opts.Document
	}
	eopts := append([]engine.Option{engine.WithStore(st), engine.WithLogger(logger)}, extra...)
	eng, err := engine.New(clock.ActorID(opts.Actor), eopts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	if _, err := eng.CreateDocument(id); err != nil {
		st.Close()
		return nil, err
	}
	if err := eng.BindSchema(id, schema); err != nil {
		st.Close()
		return nil, err
	}

	r := &replica{engine: eng, store: st, id: id}
	if _, err := eng.Load(ctx, id); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			st.Close()
			return nil, err
		}
		r.created = true
	}
	return r, nil
}

// close saves the document and closes the store.
func (r *replica) close(ctx context.Context) error {
	saveErr := r.engine.Save(ctx, r.id)
	closeErr := r.store.Close()
	return errors.Join(saveErr, closeErr)
}
