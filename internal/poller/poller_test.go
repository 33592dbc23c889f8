package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/remote"
)

// recordingMerger counts merged envelopes and can be scripted to fail.
// Guarded by a mutex because Run ticks on its own goroutine.
type recordingMerger struct {
	mu     sync.Mutex
	deltas []remote.Delta
	fail   error
}

func (m *recordingMerger) MergeDelta(delta remote.Delta) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, 0, m.fail
	}
	m.deltas = append(m.deltas, delta)
	return len(delta.Changed), 0, nil
}

func (m *recordingMerger) snapshot() []remote.Delta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]remote.Delta(nil), m.deltas...)
}

func seedColumn(t *testing.T, mem *remote.Memory, id, name string) {
	t.Helper()
	_, err := mem.Create(context.Background(), "t1", entity.TypeColumn, entity.Column{
		Meta: entity.Meta{ID: id}, TableID: "t1", Name: name,
	})
	require.NoError(t, err)
}

func TestTick_MergesAndAdvancesCursor(t *testing.T) {
	mem := remote.NewMemory()
	mem.CreateScope("t1")
	seedColumn(t, mem, "c1", "Name")

	merger := &recordingMerger{}
	p := New(mem, "t1", merger)

	require.NoError(t, p.Tick(context.Background()))
	require.Len(t, merger.deltas, 1)
	assert.Len(t, merger.deltas[0].Changed, 1)
	assert.NotEqual(t, remote.CursorStart, p.Cursor())

	// No changes: next tick merges an empty delta, cursor unchanged.
	before := p.Cursor()
	require.NoError(t, p.Tick(context.Background()))
	assert.Empty(t, merger.deltas[1].Changed)
	assert.Equal(t, before, p.Cursor())
}

func TestTick_CursorMonotonic(t *testing.T) {
	mem := remote.NewMemory()
	mem.CreateScope("t1")

	merger := &recordingMerger{}
	p := New(mem, "t1", merger)

	var cursors []remote.Cursor
	for i := 0; i < 12; i++ {
		seedColumn(t, mem, entity.UUIDv7Generator{}.NewID(), "col")
		require.NoError(t, p.Tick(context.Background()))
		cursors = append(cursors, p.Cursor())
	}
	for i := 1; i < len(cursors); i++ {
		assert.False(t, cursors[i].Less(cursors[i-1]),
			"cursor rewound: %s then %s", cursors[i-1], cursors[i])
	}
}

func TestTick_FetchFailureLeavesCursor(t *testing.T) {
	mem := remote.NewMemory()
	mem.CreateScope("t1")
	seedColumn(t, mem, "c1", "Name")

	merger := &recordingMerger{}
	p := New(mem, "t1", merger)
	require.NoError(t, p.Tick(context.Background()))
	before := p.Cursor()

	seedColumn(t, mem, "c2", "Email")
	mem.SetFailure(errors.New("wire down"))

	err := p.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, p.Cursor(), "failed tick must not advance the cursor")

	// Recovery: the same delta window is retried and c2 arrives.
	mem.SetFailure(nil)
	require.NoError(t, p.Tick(context.Background()))
	last := merger.deltas[len(merger.deltas)-1]
	require.Len(t, last.Changed, 1)
	assert.Equal(t, "c2", last.Changed[0].ID)
}

func TestTick_MergeFailureLeavesCursor(t *testing.T) {
	mem := remote.NewMemory()
	mem.CreateScope("t1")
	seedColumn(t, mem, "c1", "Name")

	merger := &recordingMerger{fail: errors.New("bad payload")}
	p := New(mem, "t1", merger)

	err := p.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, remote.CursorStart, p.Cursor())

	// Once the merge succeeds the same window lands (at-least-once).
	merger.fail = nil
	require.NoError(t, p.Tick(context.Background()))
	require.Len(t, merger.deltas, 1)
	assert.Len(t, merger.deltas[0].Changed, 1)
}

func TestRun_StopsOnCancel(t *testing.T) {
	mem := remote.NewMemory()
	mem.CreateScope("t1")

	merger := &recordingMerger{}
	p := New(mem, "t1", merger, WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// Let a few ticks happen, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRun_TickFailuresDoNotStopLoop(t *testing.T) {
	mem := remote.NewMemory()
	mem.CreateScope("t1")
	mem.SetFailure(errors.New("wire down"))

	merger := &recordingMerger{}
	p := New(mem, "t1", merger, WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	mem.SetFailure(nil)
	seedColumn(t, mem, "c1", "Name")

	// The loop must survive the failures and pick up the new change.
	assert.Eventually(t, func() bool {
		for _, d := range merger.snapshot() {
			if len(d.Changed) > 0 {
				return true
			}
		}
		return false
	}, time.Second, 2*time.Millisecond, "loop never recovered after failures")

	cancel()
	<-done
}

func TestWithCursor_StartsFromSnapshot(t *testing.T) {
	mem := remote.NewMemory()
	mem.CreateScope("t1")
	seedColumn(t, mem, "c1", "Name")

	snap, err := mem.Get(context.Background(), "t1")
	require.NoError(t, err)

	merger := &recordingMerger{}
	p := New(mem, "t1", merger, WithCursor(snap.Cursor))

	require.NoError(t, p.Tick(context.Background()))
	assert.Empty(t, merger.deltas[0].Changed, "hydrated state must not be refetched")
}
