package mutate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/remote"
	"github.com/gridstone/tidewater/internal/store"
)

func newPipeline(t *testing.T, confirm func(remote.Envelope)) (*Pipeline, *remote.Memory) {
	t.Helper()
	m := remote.NewMemory()
	m.CreateScope("t1")
	return New(m, "t1", nil, confirm), m
}

func TestApply_LocalOnlyNeverTransmits(t *testing.T) {
	p, mem := newPipeline(t, nil)
	s := store.New[entity.Column]()

	pend, err := p.Apply(context.Background(), Mutation{
		Mode:     LocalOnly,
		Op:       OpCreate,
		Type:     entity.TypeColumn,
		EntityID: "c1",
		Apply: func() error {
			return s.Insert(entity.Column{Meta: entity.Meta{ID: "c1"}, Name: "draft"})
		},
	})
	require.NoError(t, err)

	// Resolved immediately.
	env, err := pend.Wait(context.Background())
	require.NoError(t, err)
	assert.Empty(t, env.ID)

	// Locally visible, remotely absent.
	_, ok := s.Get("c1")
	assert.True(t, ok, "local write not applied")
	delta, err := mem.ChangesSince(context.Background(), "t1", remote.CursorStart)
	require.NoError(t, err)
	assert.Empty(t, delta.Changed, "localOnly mutation reached the remote store")
}

func TestApply_SyncCreateReachesRemote(t *testing.T) {
	s := store.New[entity.Column]()
	p, mem := newPipeline(t, nil)

	col := entity.Column{Meta: entity.Meta{ID: "c1"}, TableID: "t1", Name: "Name"}
	pend, err := p.Apply(context.Background(), Mutation{
		Mode:     Sync,
		Op:       OpCreate,
		Type:     entity.TypeColumn,
		EntityID: "c1",
		Apply:    func() error { return s.Insert(col) },
		Payload:  col,
	})
	require.NoError(t, err)

	env, err := pend.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), env.Version)

	snap, err := mem.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, "c1", snap.Entities[0].ID)
}

func TestApply_LocalFailureShortCircuits(t *testing.T) {
	s := store.New[entity.Column]()
	require.NoError(t, s.Insert(entity.Column{Meta: entity.Meta{ID: "c1"}}))
	p, mem := newPipeline(t, nil)

	_, err := p.Apply(context.Background(), Mutation{
		Mode:     Sync,
		Op:       OpCreate,
		Type:     entity.TypeColumn,
		EntityID: "c1",
		Apply:    func() error { return s.Insert(entity.Column{Meta: entity.Meta{ID: "c1"}}) },
		Payload:  entity.Column{Meta: entity.Meta{ID: "c1"}},
	})
	require.ErrorIs(t, err, store.ErrExists)

	// Nothing must have been sent.
	delta, err := mem.ChangesSince(context.Background(), "t1", remote.CursorStart)
	require.NoError(t, err)
	assert.Empty(t, delta.Changed)
}

func TestApply_RemoteFailureKeepsOptimisticState(t *testing.T) {
	s := store.New[entity.Column]()
	p, mem := newPipeline(t, nil)
	mem.SetFailure(errors.New("wire down"))

	col := entity.Column{Meta: entity.Meta{ID: "c1"}, Name: "Name"}
	pend, err := p.Apply(context.Background(), Mutation{
		Mode:     Sync,
		Op:       OpCreate,
		Type:     entity.TypeColumn,
		EntityID: "c1",
		Apply:    func() error { return s.Insert(col) },
		Payload:  col,
	})
	require.NoError(t, err, "local leg must succeed")

	_, err = pend.Wait(context.Background())
	assert.True(t, remote.IsNetworkFailure(err), "want NETWORK_FAILURE, got %v", err)

	// No rollback: the optimistic write stays.
	got, ok := s.Get("c1")
	require.True(t, ok, "optimistic state was rolled back")
	assert.Equal(t, "Name", got.Name)
}

func TestApply_ConfirmationLandsViaVersionCheck(t *testing.T) {
	s := store.New[entity.Column]()
	confirm := func(env remote.Envelope) {
		v, err := env.Decode()
		if err != nil {
			t.Errorf("decode confirmation: %v", err)
			return
		}
		s.ApplyRemote(v.(entity.Column))
	}
	p, _ := newPipeline(t, confirm)

	col := entity.Column{Meta: entity.Meta{ID: "c1"}, Name: "Name"}
	pend, err := p.Apply(context.Background(), Mutation{
		Mode:     Sync,
		Op:       OpCreate,
		Type:     entity.TypeColumn,
		EntityID: "c1",
		Apply:    func() error { return s.Insert(col) },
		Payload:  col,
	})
	require.NoError(t, err)
	_, err = pend.Wait(context.Background())
	require.NoError(t, err)

	// The confirmed write carries the server version.
	got, ok := s.Get("c1")
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Version)
}

func TestApply_SyncDeleteIdempotentRemotely(t *testing.T) {
	s := store.New[entity.Column]()
	p, _ := newPipeline(t, nil)

	del := Mutation{
		Mode:     Sync,
		Op:       OpDelete,
		Type:     entity.TypeColumn,
		EntityID: "ghost",
		Apply:    func() error { s.Delete("ghost"); return nil },
	}
	pend, err := p.Apply(context.Background(), del)
	require.NoError(t, err)
	_, err = pend.Wait(context.Background())
	assert.NoError(t, err, "deleting an absent id is not a remote error")
}
