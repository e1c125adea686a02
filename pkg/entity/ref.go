package entity

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/argus-labs/entitystore/pkg/assert"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ID is a unique identifier for an entity. Ids are issued by the store starting at 1; 0 is never
// a live entity.
type ID uint64

// refKind tags the variant held by a Ref.
type refKind uint8

const (
	refNull     refKind = iota // No entity; the zero value
	refResolved                // A committed entity id
	refPending                 // An entity created by an open transaction
	refRecipe                  // A recipe name inside a prefab, only meaningful before instantiation
	refPrefab                  // Another prefab by name, only meaningful before instantiation
)

// refType is the reflected Ref type. Component managers track it as a reference kind.
var refType = reflect.TypeFor[Ref]() //nolint:gochecknoglobals // immutable

// Ref is a reference to an entity. The zero value is the null reference.
//
// A pending reference wraps an entity created inside an open transaction. When that
// transaction commits or rolls back, every copy of the pending reference observes the outcome:
// it behaves as the resolved entity from then on, or as the null reference.
//
// Refs are plain values and can be stored in component fields. Reads and writes go through a
// Transaction, e.g. tx.Component(ref, t).
type Ref struct {
	kind    refKind
	id      ID
	pending *placeholder
	name    string
}

// placeholderState tracks a created entity. PENDING moves to RESOLVED or NULL exactly once.
type placeholderState uint32

const (
	placeholderPending placeholderState = iota
	placeholderResolved
	placeholderNull
)

// placeholder is an entity being created by a transaction frame. Its components live here until
// the frame commits and are only reachable through the owning transaction. The state is atomic
// so a reference handed to another goroutine after the commit observes the outcome.
type placeholder struct {
	serial     uint64
	owner      *Transaction
	frame      uuid.UUID
	state      atomic.Uint32
	target     ID // Written before state moves to RESOLVED
	components map[uint32]any
}

func (p *placeholder) load() placeholderState {
	return placeholderState(p.state.Load())
}

func (p *placeholder) resolveTo(id ID) {
	assert.That(p.load() == placeholderPending, "placeholder %d already settled", p.serial)
	p.target = id
	p.state.Store(uint32(placeholderResolved))
}

func (p *placeholder) discard() {
	if p.load() != placeholderPending {
		return
	}
	p.components = nil
	p.state.Store(uint32(placeholderNull))
}

// Null returns the null reference.
func Null() Ref {
	return Ref{}
}

// RefFor returns a reference to a committed entity. Id 0 yields the null reference.
func RefFor(id ID) Ref {
	if id == 0 {
		return Ref{}
	}
	return Ref{kind: refResolved, id: id}
}

// RecipeRef returns a reference to the recipe with the given name in the enclosing prefab.
func RecipeRef(name string) Ref {
	return Ref{kind: refRecipe, name: name}
}

// PrefabRef returns a reference to the root entity of the named prefab, instantiated on demand.
func PrefabRef(name string) Ref {
	return Ref{kind: refPrefab, name: name}
}

// resolve follows a settled placeholder to its outcome. The result is never a settled pending ref.
func (r Ref) resolve() Ref {
	switch r.kind {
	case refPending:
		switch state := r.pending.load(); state {
		case placeholderPending:
			return r
		case placeholderResolved:
			return Ref{kind: refResolved, id: r.pending.target}
		case placeholderNull:
			return Ref{}
		default:
			assert.Unreachable("placeholder state %d", state)
			return r
		}
	case refNull, refResolved, refRecipe, refPrefab:
		return r
	}
	assert.Unreachable("ref kind %d", r.kind)
	return r
}

// ID returns the entity id if the reference points at a committed entity.
func (r Ref) ID() (ID, bool) {
	r = r.resolve()
	return r.id, r.kind == refResolved
}

// IsNull reports whether the reference points at nothing, including pending references whose
// transaction did not create the entity.
func (r Ref) IsNull() bool {
	return r.resolve().kind == refNull
}

// IsPending reports whether the reference points at an entity whose creation is still in flight.
func (r Ref) IsPending() bool {
	return r.resolve().kind == refPending
}

// RecipeName returns the recipe name of a recipe reference.
func (r Ref) RecipeName() (string, bool) {
	return r.name, r.kind == refRecipe
}

// PrefabName returns the prefab name of a prefab reference.
func (r Ref) PrefabName() (string, bool) {
	return r.name, r.kind == refPrefab
}

// Equal compares references by the entity they currently identify. A pending reference whose
// creation was abandoned equals the null reference.
func (r Ref) Equal(other Ref) bool {
	a, b := r.resolve(), other.resolve()
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case refNull:
		return true
	case refResolved:
		return a.id == b.id
	case refPending:
		return a.pending == b.pending
	case refRecipe, refPrefab:
		return a.name == b.name
	}
	assert.Unreachable("ref kind %d", a.kind)
	return false
}

func (r Ref) String() string {
	r = r.resolve()
	switch r.kind {
	case refNull:
		return "EntityRef{null}"
	case refResolved:
		return fmt.Sprintf("EntityRef{id=%d}", r.id)
	case refPending:
		return fmt.Sprintf("EntityRef{pending=%d}", r.pending.serial)
	case refRecipe:
		return fmt.Sprintf("EntityRef{recipe=%s}", r.name)
	case refPrefab:
		return fmt.Sprintf("EntityRef{prefab=%s}", r.name)
	}
	assert.Unreachable("ref kind %d", r.kind)
	return ""
}

// settle returns the outcome of a settled pending reference and leaves every other reference,
// including still-pending ones owned by other frames, unchanged.
func (r Ref) settle() Ref {
	if r.kind == refPending && r.pending.load() != placeholderPending {
		return r.resolve()
	}
	return r
}

const prefabPrefix = "prefab:"

// MarshalJSON encodes committed entities as their id and the null reference as null. Template
// references keep their name; pending references encode as "pending".
func (r Ref) MarshalJSON() ([]byte, error) {
	r = r.resolve()
	switch r.kind {
	case refNull:
		return []byte("null"), nil
	case refResolved:
		return []byte(strconv.FormatUint(uint64(r.id), 10)), nil
	case refPending:
		return json.Marshal("pending")
	case refRecipe:
		return json.Marshal(r.name)
	case refPrefab:
		return json.Marshal(prefabPrefix + r.name)
	}
	assert.Unreachable("ref kind %d", r.kind)
	return nil, nil
}

// UnmarshalJSON is the inverse of MarshalJSON. Strings decode as recipe names, or prefab names
// when prefixed with "prefab:".
func (r *Ref) UnmarshalJSON(bz []byte) error {
	s := strings.TrimSpace(string(bz))
	switch {
	case s == "null":
		*r = Null()
	case strings.HasPrefix(s, `"`):
		var name string
		if err := json.Unmarshal(bz, &name); err != nil {
			return eris.Wrap(err, "failed to decode entity reference")
		}
		*r = parseRefName(name)
	default:
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return eris.Wrapf(err, "cannot decode entity reference from %s", s)
		}
		*r = RefFor(ID(id))
	}
	return nil
}

// UnmarshalYAML decodes references written in prefab files:
//
//	target: door            # recipe in the same prefab
//	target: prefab:lamp     # root of another prefab
//	target: {prefab: lamp}
//	target: {recipe: door}
//	target: 12              # committed entity
//	target: ~               # null
func (r *Ref) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind { //nolint:exhaustive // other node kinds are rejected below
	case yaml.ScalarNode:
		switch {
		case node.Tag == "!!null" || node.Value == "":
			*r = Null()
		case node.Tag == "!!int":
			id, err := strconv.ParseUint(node.Value, 0, 64)
			if err != nil {
				return eris.Wrapf(err, "line %d: invalid entity id", node.Line)
			}
			*r = RefFor(ID(id))
		default:
			*r = parseRefName(node.Value)
		}
		return nil
	case yaml.MappingNode:
		var named struct {
			Recipe string `yaml:"recipe"`
			Prefab string `yaml:"prefab"`
		}
		if err := node.Decode(&named); err != nil {
			return eris.Wrapf(err, "line %d: invalid entity reference", node.Line)
		}
		switch {
		case named.Recipe != "" && named.Prefab == "":
			*r = RecipeRef(named.Recipe)
		case named.Prefab != "" && named.Recipe == "":
			*r = PrefabRef(named.Prefab)
		default:
			return eris.Errorf("line %d: entity reference needs exactly one of recipe or prefab", node.Line)
		}
		return nil
	}
	return eris.Errorf("line %d: cannot decode entity reference", node.Line)
}

func parseRefName(s string) Ref {
	if name, ok := strings.CutPrefix(s, prefabPrefix); ok {
		return PrefabRef(name)
	}
	return RecipeRef(s)
}
