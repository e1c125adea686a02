package entity

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRef_Equal(t *testing.T) {
	t.Parallel()

	pendingA := Ref{kind: refPending, pending: &placeholder{serial: 1}}
	pendingB := Ref{kind: refPending, pending: &placeholder{serial: 2}}
	resolved := Ref{kind: refPending, pending: &placeholder{serial: 3}}
	resolved.pending.resolveTo(7)
	abandoned := Ref{kind: refPending, pending: &placeholder{serial: 4}}
	abandoned.pending.discard()

	tests := []struct {
		name  string
		a, b  Ref
		equal bool
	}{
		{name: "null equals null", a: Null(), b: Ref{}, equal: true},
		{name: "id zero is null", a: RefFor(0), b: Null(), equal: true},
		{name: "same id", a: RefFor(3), b: RefFor(3), equal: true},
		{name: "different id", a: RefFor(3), b: RefFor(4), equal: false},
		{name: "same placeholder", a: pendingA, b: pendingA, equal: true},
		{name: "different placeholders", a: pendingA, b: pendingB, equal: false},
		{name: "resolved placeholder equals its entity", a: resolved, b: RefFor(7), equal: true},
		{name: "abandoned placeholder equals null", a: abandoned, b: Null(), equal: true},
		{name: "pending is not null", a: pendingA, b: Null(), equal: false},
		{name: "same recipe", a: RecipeRef("door"), b: RecipeRef("door"), equal: true},
		{name: "recipe is not prefab", a: RecipeRef("door"), b: PrefabRef("door"), equal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.equal, tt.a.Equal(tt.b))
			assert.Equal(t, tt.equal, tt.b.Equal(tt.a))
		})
	}
}

func TestRef_Queries(t *testing.T) {
	t.Parallel()

	p := &placeholder{serial: 9}
	pending := Ref{kind: refPending, pending: p}
	assert.True(t, pending.IsPending())
	assert.False(t, pending.IsNull())
	_, ok := pending.ID()
	assert.False(t, ok)
	assert.Equal(t, "EntityRef{pending=9}", pending.String())

	p.resolveTo(12)
	assert.False(t, pending.IsPending())
	id, ok := pending.ID()
	assert.True(t, ok)
	assert.Equal(t, ID(12), id)
	assert.Equal(t, "EntityRef{id=12}", pending.String())
	assert.Panics(t, func() { p.resolveTo(13) })

	name, ok := RecipeRef("door").RecipeName()
	assert.True(t, ok)
	assert.Equal(t, "door", name)
	_, ok = RecipeRef("door").PrefabName()
	assert.False(t, ok)
	assert.True(t, Null().IsNull())
	assert.Equal(t, "EntityRef{null}", Null().String())
	assert.Equal(t, "EntityRef{prefab=lamp}", PrefabRef("lamp").String())
}

func TestRef_JSON(t *testing.T) {
	t.Parallel()

	bz, err := json.Marshal(Friend{Target: RefFor(5), Note: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Target":5,"Note":"x"}`, string(bz))

	bz, err = json.Marshal(Group{Members: []Ref{Null(), RecipeRef("a"), PrefabRef("b")}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Members":[null,"a","prefab:b"]}`, string(bz))

	var g Group
	require.NoError(t, json.Unmarshal([]byte(`{"Members":[null,3,"a","prefab:b"]}`), &g))
	require.Len(t, g.Members, 4)
	assert.True(t, g.Members[0].IsNull())
	assert.True(t, g.Members[1].Equal(RefFor(3)))
	assert.True(t, g.Members[2].Equal(RecipeRef("a")))
	assert.True(t, g.Members[3].Equal(PrefabRef("b")))

	var r Ref
	require.Error(t, json.Unmarshal([]byte(`-1`), &r))
	require.Error(t, json.Unmarshal([]byte(`{}`), &r))
}

func TestRef_YAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Ref
		wantErr bool
	}{
		{name: "recipe name", input: "target: door", want: RecipeRef("door")},
		{name: "prefixed prefab", input: "target: prefab:lamp", want: PrefabRef("lamp")},
		{name: "prefab mapping", input: "target: {prefab: lamp}", want: PrefabRef("lamp")},
		{name: "recipe mapping", input: "target: {recipe: door}", want: RecipeRef("door")},
		{name: "entity id", input: "target: 12", want: RefFor(12)},
		{name: "null", input: "target: ~", want: Null()},
		{name: "empty mapping", input: "target: {}", wantErr: true},
		{name: "both names", input: "target: {prefab: a, recipe: b}", wantErr: true},
		{name: "sequence", input: "target: [a]", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out struct {
				Target Ref `yaml:"target"`
			}
			err := yaml.Unmarshal([]byte(tt.input), &out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(out.Target), "got %s", out.Target)
		})
	}
}
