package prefab

import (
	"reflect"

	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/argus-labs/entitystore/pkg/entity"
	"github.com/rotisserie/eris"
)

var refType = reflect.TypeFor[entity.Ref]() //nolint:gochecknoglobals // immutable

// Instantiate creates the entities of the named prefab in the transaction's current frame and
// returns a reference to its root entity. The entities are pending until the frame commits.
func (l *Library) Instantiate(tx *entity.Transaction, name string) (entity.Ref, error) {
	p, err := l.Get(name)
	if err != nil {
		return entity.Null(), err
	}
	return l.InstantiatePrefab(tx, p)
}

// InstantiatePrefab creates the entities of p and returns a reference to its root entity. p does
// not have to be registered, but the prefabs it references do.
func (l *Library) InstantiatePrefab(tx *entity.Transaction, p *Prefab) (entity.Ref, error) {
	refs, err := l.InstantiateAll(tx, p)
	if err != nil {
		return entity.Null(), err
	}
	return refs[p.RootName()], nil
}

// InstantiateAll creates the entities of p and returns them by recipe name.
//
// Ref fields of the copied components are rewritten: recipe refs point at the entity created for
// that recipe, prefab refs at the root of a fresh instance of that prefab, and committed entity
// refs are kept. References that cannot be honored are data errors. They are logged and replaced
// with the null reference, and instantiation carries on.
func (l *Library) InstantiateAll(tx *entity.Transaction, p *Prefab) (map[string]entity.Ref, error) {
	if err := p.validate(l.components, l.provenance); err != nil {
		return nil, err
	}
	inst := &instantiation{library: l, tx: tx, active: make(map[string]struct{})}
	return inst.run(p)
}

// instantiation tracks the prefabs being instantiated on the current path, so a prefab that
// references itself through its recipes is detected rather than expanded forever.
type instantiation struct {
	library *Library
	tx      *entity.Transaction
	active  map[string]struct{}
}

func (inst *instantiation) run(p *Prefab) (map[string]entity.Ref, error) {
	inst.active[p.Name] = struct{}{}
	defer delete(inst.active, p.Name)

	// Every recipe gets its entity first, so recipe refs can point forward.
	refs := make(map[string]entity.Ref, len(p.Recipes))
	for _, r := range p.Recipes {
		ref, err := inst.tx.CreateEntity()
		if err != nil {
			return nil, eris.Wrapf(err, "failed to create entity for recipe %s", r.Name)
		}
		refs[r.Name] = ref
	}

	for _, r := range p.Recipes {
		if err := inst.populate(p, r, refs); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

func (inst *instantiation) populate(p *Prefab, r Recipe, refs map[string]entity.Ref) error {
	l := inst.library
	ref := refs[r.Name]

	v, err := inst.tx.AddComponent(ref, l.provenance)
	if err != nil {
		return eris.Wrapf(err, "failed to add %s to recipe %s", l.provenance.Name(), r.Name)
	}
	provenance := v.(*GeneratedFromRecipe) //nolint:errcheck // created from the registered type
	provenance.Prefab = p.Name
	provenance.Recipe = r.Name

	for _, src := range r.Components {
		t, err := l.components.TypeOf(src)
		if err != nil {
			return eris.Wrapf(err, "recipe %s", r.Name)
		}
		dst, err := inst.tx.AddComponent(ref, t)
		if err != nil {
			return eris.Wrapf(err, "failed to add %s to recipe %s", t.Name(), r.Name)
		}
		if err := l.components.Copy(src, dst); err != nil {
			return eris.Wrapf(err, "failed to copy %s of recipe %s", t.Name(), r.Name)
		}
		if err := inst.processReferences(p, r, t, dst, refs); err != nil {
			return err
		}
	}
	return nil
}

func (inst *instantiation) processReferences(
	p *Prefab, r Recipe, t *component.Type, comp any, refs map[string]entity.Ref,
) error {
	var failure error
	for _, a := range t.PropertiesOfType(refType) {
		a.Rewrite(comp, func(path string, value any) any {
			ref, _ := value.(entity.Ref)
			if failure != nil {
				return ref
			}
			rewritten, err := inst.rewrite(p, r, t, path, ref, refs)
			if err != nil {
				failure = err
				return ref
			}
			return rewritten
		})
		if failure != nil {
			return failure
		}
	}
	return nil
}

// rewrite maps one template reference to the entity it denotes in this instantiation. Only
// transaction failures are returned as errors.
func (inst *instantiation) rewrite(
	p *Prefab, r Recipe, t *component.Type, field string, ref entity.Ref, refs map[string]entity.Ref,
) (entity.Ref, error) {
	l := inst.library
	dataError := func(msg string) (entity.Ref, error) {
		l.log.Error().
			Str("prefab", p.Name).
			Str("recipe", r.Name).
			Str("component", t.Name()).
			Str("field", field).
			Stringer("ref", ref).
			Msg(msg)
		return entity.Null(), nil
	}

	if name, ok := ref.RecipeName(); ok {
		target, found := refs[name]
		if !found {
			return dataError("reference to unknown recipe")
		}
		return target, nil
	}

	if name, ok := ref.PrefabName(); ok {
		if _, cyclic := inst.active[name]; cyclic {
			return dataError("cyclic prefab reference")
		}
		target, err := l.Get(name)
		if err != nil {
			return dataError("reference to unknown prefab")
		}
		nested, err := inst.run(target)
		if err != nil {
			return entity.Null(), eris.Wrapf(err, "failed to instantiate prefab %s", name)
		}
		return nested[target.RootName()], nil
	}

	if ref.IsPending() {
		return dataError("template holds a reference to an uncommitted entity")
	}
	return ref, nil
}
