package entity

import (
	"slices"
	"testing"

	"github.com/argus-labs/entitystore/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentIndex_TracksCommits(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ix := NewComponentIndex(env.store, env.health)
	assert.Equal(t, env.health, ix.Type())
	assert.Equal(t, 0, ix.Len())

	a := env.spawn(t, "a")
	assert.False(t, ix.Contains(a))

	tx := env.store.NewTransaction()
	tx.Begin()
	_, err := Add[testutils.Health](tx, a)
	require.NoError(t, err)
	b, err := tx.CreateEntity()
	require.NoError(t, err)
	_, err = Add[testutils.Health](tx, b)
	require.NoError(t, err)

	// Uncommitted changes are not indexed.
	assert.False(t, ix.Contains(a))
	assert.False(t, ix.Contains(b))
	require.NoError(t, tx.Commit())

	assert.True(t, ix.Contains(a))
	assert.True(t, ix.Contains(b))
	assert.Equal(t, []Ref{RefFor(mustID(t, a)), RefFor(mustID(t, b))}, ix.Refs())
	assert.Equal(t, ix.Refs(), slices.Collect(ix.Iter()))

	tx.Begin()
	require.NoError(t, Remove[testutils.Health](tx, a))
	require.NoError(t, tx.Commit())
	assert.False(t, ix.Contains(a))
	assert.Equal(t, 1, ix.Len())

	// Removing and re-adding in one frame keeps the entity indexed.
	tx.Begin()
	require.NoError(t, Remove[testutils.Health](tx, b))
	_, err = Add[testutils.Health](tx, b)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.True(t, ix.Contains(b))

	tx.Begin()
	require.NoError(t, tx.DeleteEntity(b))
	require.NoError(t, tx.Commit())
	assert.Equal(t, 0, ix.Len())
	assert.False(t, ix.Contains(Null()))
}

func TestComponentIndex_IgnoresFailedCommits(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ix := NewComponentIndex(env.store, env.health)
	a := env.spawn(t, "a")

	tx := env.store.NewTransaction()
	tx.Begin()
	_, err := Add[testutils.Health](tx, a)
	require.NoError(t, err)
	created, err := tx.CreateEntity()
	require.NoError(t, err)
	_, err = Add[testutils.Health](tx, created)
	require.NoError(t, err)

	other := env.store.NewTransaction()
	other.Begin()
	l, _, err := Get[testutils.Label](other, a)
	require.NoError(t, err)
	l.Value = "b"
	require.NoError(t, other.Commit())

	require.ErrorIs(t, tx.Commit(), ErrConcurrentModification)
	assert.Equal(t, 0, ix.Len())

	tx.Begin()
	require.NoError(t, tx.Rollback())
	assert.Equal(t, 0, ix.Len())
}

func TestComponentIndex_SeedsFromStore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	a := env.spawn(t, "a")
	b := env.spawn(t, "b")
	tx := env.store.NewTransaction()
	tx.Begin()
	require.NoError(t, Remove[testutils.Label](tx, b))
	require.NoError(t, tx.Commit())

	ix := NewComponentIndex(env.store, env.label)
	assert.True(t, ix.Contains(a))
	assert.False(t, ix.Contains(b))
	assert.Equal(t, 1, ix.Len())
}

func TestComponentIndex_Where(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ix := NewComponentIndex(env.store, env.health)

	tx := env.store.NewTransaction()
	tx.Begin()
	refs := make([]Ref, 4)
	for i := range refs {
		ref, err := tx.CreateEntity()
		require.NoError(t, err)
		h, err := Add[testutils.Health](tx, ref)
		require.NoError(t, err)
		h.HP, h.Max = i*10, 30
		if i%2 == 0 {
			l, err := Add[testutils.Label](tx, ref)
			require.NoError(t, err)
			l.Value = "even"
		}
		refs[i] = ref
	}
	require.NoError(t, tx.Commit())
	resolved := make([]Ref, len(refs))
	for i, ref := range refs {
		resolved[i] = RefFor(mustID(t, ref))
	}

	tx.Begin()
	defer func() { require.NoError(t, tx.Rollback()) }()

	tests := []struct {
		name    string
		filter  string
		want    []Ref
		wantErr bool
	}{
		{name: "field comparison", filter: "health.HP < health.Max / 2", want: resolved[:2]},
		{name: "entity id", filter: "_id > 2", want: resolved[2:]},
		{name: "other component", filter: `label?.Value == "even"`, want: []Ref{resolved[0], resolved[2]}},
		{name: "match all", filter: "true", want: resolved},
		{name: "match none", filter: "false", want: []Ref{}},
		{name: "invalid expression", filter: "health.HP <", wantErr: true},
		{name: "non boolean", filter: "health.HP", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ix.Where(tx, tt.filter)
		if tt.wantErr {
			require.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	// The filter sees the transaction's view, and entities losing the component locally drop out.
	h, _, err := Get[testutils.Health](tx, resolved[3])
	require.NoError(t, err)
	h.HP = 0
	require.NoError(t, Remove[testutils.Health](tx, resolved[0]))

	got, err := ix.Where(tx, "health.HP < 15")
	require.NoError(t, err)
	assert.Equal(t, []Ref{resolved[1], resolved[3]}, got)
}
