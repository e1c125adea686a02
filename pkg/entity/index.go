package entity

import (
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/expr-lang/expr"
	"github.com/rotisserie/eris"
)

// ComponentIndex tracks the set of committed entities that have one component kind. It is
// maintained purely from commit notifications and is safe for concurrent use.
type ComponentIndex struct {
	typ *component.Type

	mu  sync.RWMutex
	ids map[ID]struct{}
}

var _ CommitObserver = (*ComponentIndex)(nil)

// NewComponentIndex creates an index of the entities that have kind t and registers it with
// the store. Entities committed before the call are included.
func NewComponentIndex(s *Store, t *component.Type) *ComponentIndex {
	ix := &ComponentIndex{
		typ: t,
		ids: make(map[ID]struct{}),
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	s.addSeededObserver(ix, func(id ID, comps map[component.TypeID]any) {
		if _, ok := comps[t.ID()]; ok {
			ix.ids[id] = struct{}{}
		}
	})
	return ix
}

// Type returns the indexed component kind.
func (ix *ComponentIndex) Type() *component.Type {
	return ix.typ
}

// ObserveCommit updates the index from one commit.
func (ix *ComponentIndex) ObserveCommit(ctx *CommitContext) {
	tid := ix.typ.ID()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for id, kinds := range ctx.Created {
		if kinds.Contains(tid) {
			ix.ids[id] = struct{}{}
		}
	}
	for id, kinds := range ctx.Added {
		if kinds.Contains(tid) {
			ix.ids[id] = struct{}{}
		}
	}
	for id, kinds := range ctx.Removed {
		if kinds.Contains(tid) {
			delete(ix.ids, id)
		}
	}
}

// Contains reports whether the referenced entity has the indexed component in committed state.
func (ix *ComponentIndex) Contains(ref Ref) bool {
	id, ok := ref.ID()
	if !ok {
		return false
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, exists := ix.ids[id]
	return exists
}

// Len returns the number of indexed entities.
func (ix *ComponentIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

// Refs returns references to the indexed entities in ascending id order.
func (ix *ComponentIndex) Refs() []Ref {
	ix.mu.RLock()
	ids := slices.Sorted(maps.Keys(ix.ids))
	ix.mu.RUnlock()

	refs := make([]Ref, len(ids))
	for i, id := range ids {
		refs[i] = RefFor(id)
	}
	return refs
}

// Iter iterates over the indexed entities in ascending id order, as of the call.
func (ix *ComponentIndex) Iter() iter.Seq[Ref] {
	refs := ix.Refs()
	return func(yield func(Ref) bool) {
		for _, ref := range refs {
			if !yield(ref) {
				return
			}
		}
	}
}

// Where returns the indexed entities for which filter evaluates to true. The filter is an
// expr-lang expression evaluated against the entity's components as seen by tx, keyed by
// component name, plus "_id" holding the entity id. Entities whose indexed component is absent
// in tx are skipped.
//
// We use expr lang for the filter, please refer to its documentation for more details:
// https://expr-lang.org/docs/getting-started.
//
// Example:
//
//	wounded, err := healthIndex.Where(tx, "health.HP < health.Max / 2")
func (ix *ComponentIndex) Where(tx *Transaction, filter string) ([]Ref, error) {
	program, err := expr.Compile(filter, expr.AsBool())
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse filter")
	}

	results := make([]Ref, 0)
	for _, ref := range ix.Refs() {
		if _, ok, err := tx.Component(ref, ix.typ); err != nil {
			return nil, err
		} else if !ok {
			continue
		}

		comps, err := tx.Components(ref)
		if err != nil {
			return nil, err
		}

		// Exposed as int, the type expr uses for integer literals.
		id, _ := ref.ID()
		env := make(map[string]any, len(comps)+1)
		env["_id"] = int(id) //nolint:gosec // ids stay far below MaxInt
		for _, v := range comps {
			t, err := tx.store.components.TypeOf(v)
			if err != nil {
				return nil, err
			}
			env[t.Name()] = v
		}

		output, err := expr.Run(program, env)
		if err != nil {
			return nil, eris.Wrap(err, "failed to run filter expression")
		}

		// The program is compiled without an environment, so expr cannot check field types and the
		// result type is only known here.
		isMatch, ok := output.(bool)
		if !ok {
			return nil, eris.New("filter must evaluate to a boolean")
		}
		if isMatch {
			results = append(results, ref)
		}
	}
	return results, nil
}
