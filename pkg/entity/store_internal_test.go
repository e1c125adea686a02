package entity

import (
	"testing"

	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/argus-labs/entitystore/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestStore_CreateEntityID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for want := ID(1); want <= 3; want++ {
		id, err := env.store.CreateEntityID()
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	assert.True(t, env.store.issued(3))
	assert.False(t, env.store.issued(4))
	assert.False(t, env.store.issued(0))
}

func TestStore_EntityLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnvWithOptions(t, StoreOptions{MaxEntities: 2})

	_, err := env.store.CreateEntityID()
	require.NoError(t, err)
	_, err = env.store.createEntityIDs(2)
	require.ErrorIs(t, err, ErrEntityLimitExceeded)
	_, err = env.store.CreateEntityID()
	require.NoError(t, err)
	_, err = env.store.CreateEntityID()
	require.ErrorIs(t, err, ErrEntityLimitExceeded)
}

func TestStore_Mutations(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	s := env.store
	hp := env.health.ID()

	id, err := s.CreateEntityID()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), s.Revision(id))

	tests := []struct {
		name     string
		op       func() bool
		wantOK   bool
		revision uint64
	}{
		{name: "update missing component", op: func() bool { return s.Update(id, hp, &testutils.Health{}) }},
		{name: "remove missing component", op: func() bool { return s.Remove(id, hp) }},
		{name: "add", op: func() bool { return s.Add(id, hp, &testutils.Health{HP: 1}) }, wantOK: true, revision: 1},
		{name: "add twice", op: func() bool { return s.Add(id, hp, &testutils.Health{HP: 2}) }, revision: 1},
		{name: "update", op: func() bool { return s.Update(id, hp, &testutils.Health{HP: 3}) }, wantOK: true, revision: 2},
		{name: "remove", op: func() bool { return s.Remove(id, hp) }, wantOK: true, revision: 3},
		{name: "remove twice", op: func() bool { return s.Remove(id, hp) }, revision: 3},
	}

	// Cases run in order against the same entity.
	for _, tt := range tests {
		assert.Equal(t, tt.wantOK, tt.op(), tt.name)
		assert.Equal(t, tt.revision, s.Revision(id), tt.name)
	}

	// The deleted entity keeps its revision record.
	assert.Empty(t, s.Components(id))
	assert.Equal(t, 0, s.Len())
}

func TestStore_ValuesAreCopied(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	s := env.store
	tid := env.position.ID()

	id, err := s.CreateEntityID()
	require.NoError(t, err)

	in := &testutils.Tags{Values: []string{"a"}}
	tags, err := component.TypeFor[testutils.Tags](s.ComponentManager())
	require.NoError(t, err)
	require.True(t, s.Add(id, tags.ID(), in))
	in.Values[0] = "changed"

	out, ok := s.Components(id)[tags.ID()].(*testutils.Tags)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, out.Values)

	out.Values[0] = "changed again"
	again, ok := s.Components(id)[tags.ID()].(*testutils.Tags)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, again.Values)

	require.True(t, s.Add(id, tid, &testutils.Position{X: 1}))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.unchanged(id, tid, &testutils.Position{X: 1}))
	assert.False(t, s.unchanged(id, tid, &testutils.Position{X: 2}))
}

func TestStore_UnchangedComparesRefsByEntity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	s := env.store
	friend, group := env.friend.ID(), env.group.ID()

	id, err := s.CreateEntityID()
	require.NoError(t, err)

	// Stored refs in placeholder form compare equal to their settled form.
	created := &placeholder{serial: 1}
	created.resolveTo(7)
	abandoned := &placeholder{serial: 2}
	abandoned.discard()
	require.True(t, s.Add(id, friend, &Friend{Target: Ref{kind: refPending, pending: created}, Note: "n"}))
	require.True(t, s.Add(id, group, &Group{Members: []Ref{
		{kind: refPending, pending: created},
		{kind: refPending, pending: abandoned},
	}}))

	assert.True(t, s.unchanged(id, friend, &Friend{Target: RefFor(7), Note: "n"}))
	assert.False(t, s.unchanged(id, friend, &Friend{Target: RefFor(8), Note: "n"}))
	assert.False(t, s.unchanged(id, friend, &Friend{Target: RefFor(7), Note: "m"}))
	assert.True(t, s.unchanged(id, group, &Group{Members: []Ref{RefFor(7), Null()}}))
	assert.False(t, s.unchanged(id, group, &Group{Members: []Ref{RefFor(7)}}))

	// A transaction that only reads the entity leaves its revision alone.
	revision := s.Revision(id)
	tx := s.NewTransaction()
	tx.Begin()
	got, ok, err := Get[Friend](tx, RefFor(id))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Target.Equal(RefFor(7)))
	_, ok, err = Get[Group](tx, RefFor(id))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tx.Commit())
	assert.Equal(t, revision, s.Revision(id))
}

func TestStore_Lock(t *testing.T) {
	t.Parallel()
	env := newTestEnvWithOptions(t, StoreOptions{LockStripes: 4})
	s := env.store
	r := testutils.NewRand(t)

	const workers = 8
	const rounds = 200

	// Each worker locks a random overlapping id set in random order. Ordered acquisition means this
	// finishes, and the shared counter shows the critical sections never overlapped on id 1.
	counter := 0
	sets := make([][][]ID, workers)
	for w := range sets {
		sets[w] = make([][]ID, rounds)
		for i := range sets[w] {
			ids := []ID{1}
			for range r.IntN(6) {
				ids = append(ids, ID(r.IntN(16)+1))
			}
			r.Shuffle(len(ids), func(a, b int) { ids[a], ids[b] = ids[b], ids[a] })
			sets[w][i] = ids
		}
	}

	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			for _, ids := range sets[w] {
				unlock := s.Lock(ids)
				counter++
				unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, workers*rounds, counter)
}

func TestStore_Config(t *testing.T) { //nolint:paralleltest // uses t.Setenv
	t.Run("invalid stripes from env", func(t *testing.T) {
		t.Setenv("ENTITYSTORE_LOCK_STRIPES", "3")
		_, err := NewStore(StoreOptions{})
		require.Error(t, err)
	})

	t.Run("options override env", func(t *testing.T) {
		t.Setenv("ENTITYSTORE_LOCK_STRIPES", "16")
		s, err := NewStore(StoreOptions{LockStripes: 8})
		require.NoError(t, err)
		assert.Len(t, s.stripes, 8)
	})

	t.Run("env limit", func(t *testing.T) {
		t.Setenv("ENTITYSTORE_MAX_ENTITIES", "1")
		s, err := NewStore(StoreOptions{})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), s.maxEntities)
		assert.Len(t, s.stripes, 64)
	})

	t.Run("manager must track refs", func(t *testing.T) {
		_, err := NewStore(StoreOptions{Components: component.NewManager()})
		require.Error(t, err)

		s, err := NewStore(StoreOptions{Components: NewComponentManager()})
		require.NoError(t, err)
		assert.NotNil(t, s.ComponentManager())
	})
}
