// Package poller implements the fixed-interval delta sync loop.
//
// One Poller serves one synchronized scope. Each tick asks the remote
// store for everything changed since the scope's cursor, hands the delta
// to the scope's version-checked merge, and advances the cursor only
// after the merge completes fully. A failed tick is logged and counted,
// never propagated: the cursor stays put, so the same delta window is
// retried on the next tick. The version check makes re-application
// idempotent, giving at-least-once delivery without backoff machinery;
// staleness is bounded by the interval.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gridstone/tidewater/internal/remote"
)

// DefaultInterval is the default gap between poll ticks.
const DefaultInterval = 3 * time.Second

// Merger consumes one delta batch. Implementations wrap all per-entity
// applications in a single store write batch per touched store.
// Implemented by scope.Scope (production) and test fakes.
type Merger interface {
	// MergeDelta applies every changed entity, returning how many were
	// applied and how many were dropped as stale. A non-nil error means
	// the batch did not fully apply and the cursor must not advance.
	MergeDelta(delta remote.Delta) (applied, stale int, err error)
}

// Poller drives the delta sync loop for one scope.
type Poller struct {
	client   remote.Client
	scopeID  string
	merger   Merger
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cursor remote.Cursor
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides the tick interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithCursor sets the starting cursor, typically the one returned by the
// initial hydration snapshot so the first tick does not refetch it all.
func WithCursor(c remote.Cursor) Option {
	return func(p *Poller) { p.cursor = c }
}

// New creates a poller for one scope. It does not start polling; call
// Run.
func New(client remote.Client, scopeID string, merger Merger, opts ...Option) *Poller {
	p := &Poller{
		client:   client,
		scopeID:  scopeID,
		merger:   merger,
		interval: DefaultInterval,
		logger:   slog.Default(),
		cursor:   remote.CursorStart,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cursor returns the current cursor. Monotonically non-decreasing: it
// only moves when a tick fully merges.
func (p *Poller) Cursor() remote.Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Run polls until ctx is cancelled. Tick failures are swallowed here,
// logged and counted, and the loop continues indefinitely.
//
// Cancellation stops future ticks. An in-flight request is not aborted
// mid-merge; whatever its late response applies is still safe because
// every application goes through the per-id version check.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				p.logger.Warn("poll tick failed; will retry at next interval",
					"scope", p.scopeID,
					"cursor", string(p.Cursor()),
					"error", err,
				)
			}
		}
	}
}

// Tick performs one poll cycle: fetch, merge, advance. Exported so the
// scenario harness and tests can drive the loop deterministically.
func (p *Poller) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	since := p.Cursor()
	delta, err := p.client.ChangesSince(ctx, p.scopeID, since)
	if err != nil {
		ticksTotal.WithLabelValues(outcomeError).Inc()
		return err
	}

	applied, stale, err := p.merger.MergeDelta(delta)
	entitiesMergedTotal.Add(float64(applied))
	staleDropsTotal.Add(float64(stale))
	if err != nil {
		ticksTotal.WithLabelValues(outcomeError).Inc()
		return err
	}

	// Advance only after the batch fully merged. A tick returning an
	// older cursor (shouldn't happen; servers are monotonic) is ignored
	// rather than rewinding.
	p.mu.Lock()
	if p.cursor.Less(delta.Cursor) {
		p.cursor = delta.Cursor
	}
	p.mu.Unlock()

	ticksTotal.WithLabelValues(outcomeOK).Inc()
	return nil
}
