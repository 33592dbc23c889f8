// Package mutate implements the optimistic mutation pipeline.
//
// Every local edit is routed through Pipeline.Apply in one of two modes.
// LocalOnly writes touch the entity store and nothing else: they are
// terminal and never transmitted (ephemeral editing state such as draft
// text). Sync writes apply locally first for immediate feedback, then
// the corresponding remote call is issued asynchronously.
//
// A failed sync call is surfaced to the caller through the returned
// Pending; the optimistic local state is deliberately not rolled back.
// Callers needing strict consistency re-fetch or revert explicitly.
package mutate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/remote"
)

// Mode selects how far a mutation travels.
type Mode string

const (
	// LocalOnly applies to the entity store only. Terminal.
	LocalOnly Mode = "localOnly"
	// Sync applies locally, then issues the remote call.
	Sync Mode = "sync"
)

// Op is the remote operation a Sync mutation maps to.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Mutation describes one local edit.
type Mutation struct {
	Mode     Mode
	Op       Op
	Type     entity.Type
	EntityID string

	// Apply performs the optimistic write against the entity store.
	// It runs synchronously in the caller's goroutine, so per-id call
	// order is the order writes land locally.
	Apply func() error

	// Payload is the wire payload for Sync create/update. Ignored for
	// deletes and LocalOnly mutations.
	Payload any
}

// Pending tracks the remote leg of a Sync mutation. LocalOnly mutations
// return an already-resolved Pending.
type Pending struct {
	done chan struct{}
	env  remote.Envelope
	err  error
}

// Done is closed when the remote call has resolved (success or failure).
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the remote call resolves or ctx is cancelled.
func (p *Pending) Wait(ctx context.Context) (remote.Envelope, error) {
	select {
	case <-p.done:
		return p.env, p.err
	case <-ctx.Done():
		return remote.Envelope{}, ctx.Err()
	}
}

// Resolved returns an already-resolved Pending. Wrappers whose local-only
// path never has a remote leg return it so callers can Wait uniformly.
func Resolved() *Pending {
	p := &Pending{done: make(chan struct{})}
	close(p.done)
	return p
}

// Pipeline routes local edits to the entity store and, for Sync
// mutations, to the remote store.
type Pipeline struct {
	client  remote.Client
	scopeID string
	logger  *slog.Logger

	// confirm receives the envelope of a successful remote call. The
	// scope wires this to its version-checked merge, so a confirmation
	// can only overwrite local state the same way a polled delta can.
	confirm func(remote.Envelope)
}

// New creates a pipeline for one scope.
func New(client remote.Client, scopeID string, logger *slog.Logger, confirm func(remote.Envelope)) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		client:  client,
		scopeID: scopeID,
		logger:  logger,
		confirm: confirm,
	}
}

// Apply performs the optimistic write, then (for Sync mode) issues the
// remote call in the background.
//
// The returned error covers only the local write: a local NotFound or
// Conflict means nothing was applied and nothing will be sent. Remote
// failures arrive through the returned Pending and leave the optimistic
// state in place.
func (p *Pipeline) Apply(ctx context.Context, m Mutation) (*Pending, error) {
	if m.Apply == nil {
		return nil, fmt.Errorf("mutation %s %s %q: no local apply", m.Op, m.Type, m.EntityID)
	}
	if err := m.Apply(); err != nil {
		return nil, err
	}
	if m.Mode == LocalOnly {
		return Resolved(), nil
	}

	pend := &Pending{done: make(chan struct{})}
	go func() {
		env, err := p.send(ctx, m)
		if err != nil {
			p.logger.Warn("sync mutation failed; optimistic state kept",
				"scope", p.scopeID,
				"op", string(m.Op),
				"type", string(m.Type),
				"id", m.EntityID,
				"error", err,
			)
		} else if m.Op != OpDelete && p.confirm != nil {
			p.confirm(env)
		}
		pend.env = env
		pend.err = err
		close(pend.done)
	}()
	return pend, nil
}

// send issues the remote call for one Sync mutation.
func (p *Pipeline) send(ctx context.Context, m Mutation) (remote.Envelope, error) {
	switch m.Op {
	case OpCreate:
		return p.client.Create(ctx, p.scopeID, m.Type, m.Payload)
	case OpUpdate:
		return p.client.Update(ctx, p.scopeID, m.Type, m.EntityID, m.Payload)
	case OpDelete:
		return remote.Envelope{}, p.client.Delete(ctx, p.scopeID, m.Type, m.EntityID)
	default:
		return remote.Envelope{}, fmt.Errorf("unknown mutation op %q", m.Op)
	}
}
