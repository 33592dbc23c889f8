package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridstone/tidewater/internal/entity"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory(WithNow(fixedNow))
	m.CreateScope("t1")
	return m
}

func TestMemory_CreateAssignsVersionOne(t *testing.T) {
	m := newTestMemory(t)

	env, err := m.Create(context.Background(), "t1", entity.TypeColumn, entity.Column{
		Meta:    entity.Meta{ID: "c1"},
		TableID: "t1",
		Name:    "Name",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", env.ID)
	assert.Equal(t, int64(1), env.Version)

	// Payload metadata must agree with the envelope.
	decoded, err := env.Decode()
	require.NoError(t, err)
	col := decoded.(entity.Column)
	assert.Equal(t, int64(1), col.Version)
	assert.Equal(t, fixedNow(), col.UpdatedAt)
}

func TestMemory_CreateDuplicateConflicts(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "t1", entity.TypeColumn, entity.Column{Meta: entity.Meta{ID: "c1"}})
	require.NoError(t, err)

	_, err = m.Create(ctx, "t1", entity.TypeColumn, entity.Column{Meta: entity.Meta{ID: "c1"}})
	assert.True(t, IsConflict(err), "want CONFLICT, got %v", err)
}

func TestMemory_CreateMissingScope(t *testing.T) {
	m := NewMemory()
	_, err := m.Create(context.Background(), "nope", entity.TypeColumn, entity.Column{Meta: entity.Meta{ID: "c1"}})
	assert.True(t, IsNotFound(err), "want NOT_FOUND, got %v", err)
}

func TestMemory_CreateMissingIDRejected(t *testing.T) {
	m := newTestMemory(t)
	_, err := m.Create(context.Background(), "t1", entity.TypeColumn, entity.Column{})
	assert.True(t, IsValidation(err), "want VALIDATION_FAILURE, got %v", err)
}

func TestMemory_UpdateIncrementsVersion(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "t1", entity.TypeColumn, entity.Column{Meta: entity.Meta{ID: "c1"}, Name: "Name"})
	require.NoError(t, err)

	env, err := m.Update(ctx, "t1", entity.TypeColumn, "c1", entity.Column{Meta: entity.Meta{ID: "c1"}, Name: "Email"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), env.Version)

	env, err = m.Update(ctx, "t1", entity.TypeColumn, "c1", entity.Column{Meta: entity.Meta{ID: "c1"}, Name: "Phone"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), env.Version)
}

func TestMemory_UpdateAbsentFails(t *testing.T) {
	m := newTestMemory(t)
	_, err := m.Update(context.Background(), "t1", entity.TypeColumn, "ghost", entity.Column{Meta: entity.Meta{ID: "ghost"}})
	assert.True(t, IsNotFound(err), "want NOT_FOUND, got %v", err)
}

func TestMemory_DeleteIdempotent(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "t1", entity.TypeColumn, entity.Column{Meta: entity.Meta{ID: "c1"}})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "t1", entity.TypeColumn, "c1"))
	require.NoError(t, m.Delete(ctx, "t1", entity.TypeColumn, "c1"), "second delete must succeed")
	require.NoError(t, m.Delete(ctx, "t1", entity.TypeColumn, "never-existed"))
}

func TestMemory_CreateAfterTombstoneContinuesVersions(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "t1", entity.TypeColumn, entity.Column{Meta: entity.Meta{ID: "c1"}, Name: "a"})
	require.NoError(t, err)
	_, err = m.Update(ctx, "t1", entity.TypeColumn, "c1", entity.Column{Meta: entity.Meta{ID: "c1"}, Name: "b"})
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "t1", entity.TypeColumn, "c1"))

	// v1 create, v2 update, v3 tombstone. The revival must continue at
	// v4: a replica holding the v2 copy (missed the tombstone) would
	// otherwise drop a version-1 revival as stale forever.
	env, err := m.Create(ctx, "t1", entity.TypeColumn, entity.Column{Meta: entity.Meta{ID: "c1"}, Name: "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), env.Version)

	decoded, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, int64(4), decoded.(entity.Column).Version)
}

func TestMemory_ChangesSinceReportsDelta(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "t1", entity.TypeColumn, entity.Column{Meta: entity.Meta{ID: "c1"}})
	require.NoError(t, err)

	first, err := m.ChangesSince(ctx, "t1", CursorStart)
	require.NoError(t, err)
	require.Len(t, first.Changed, 1)

	// Nothing changed since: empty delta, same cursor.
	second, err := m.ChangesSince(ctx, "t1", first.Cursor)
	require.NoError(t, err)
	assert.Empty(t, second.Changed)
	assert.Equal(t, first.Cursor, second.Cursor)

	// A later write shows up from the advanced cursor.
	_, err = m.Update(ctx, "t1", entity.TypeColumn, "c1", entity.Column{Meta: entity.Meta{ID: "c1"}, Name: "x"})
	require.NoError(t, err)
	third, err := m.ChangesSince(ctx, "t1", first.Cursor)
	require.NoError(t, err)
	require.Len(t, third.Changed, 1)
	assert.Equal(t, int64(2), third.Changed[0].Version)
}

func TestMemory_DeleteAppearsAsTombstone(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "t1", entity.TypeColumn, entity.Column{Meta: entity.Meta{ID: "c1"}})
	require.NoError(t, err)
	first, err := m.ChangesSince(ctx, "t1", CursorStart)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "t1", entity.TypeColumn, "c1"))

	delta, err := m.ChangesSince(ctx, "t1", first.Cursor)
	require.NoError(t, err)
	require.Len(t, delta.Changed, 1)
	assert.True(t, delta.Changed[0].Deleted)

	// Snapshots never include tombstones.
	snap, err := m.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
}

func TestMemory_MalformedCursorRejected(t *testing.T) {
	m := newTestMemory(t)
	_, err := m.ChangesSince(context.Background(), "t1", Cursor("not-a-number"))
	assert.True(t, IsValidation(err), "want VALIDATION_FAILURE, got %v", err)
}

func TestMemory_SetFailure(t *testing.T) {
	m := newTestMemory(t)
	boom := errors.New("boom")
	m.SetFailure(boom)

	_, err := m.ChangesSince(context.Background(), "t1", CursorStart)
	assert.True(t, IsNetworkFailure(err), "want NETWORK_FAILURE, got %v", err)
	assert.ErrorIs(t, err, boom)

	m.SetFailure(nil)
	_, err = m.ChangesSince(context.Background(), "t1", CursorStart)
	assert.NoError(t, err)
}
