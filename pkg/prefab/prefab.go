package prefab

import (
	"reflect"

	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/rotisserie/eris"
)

// Recipe describes one entity of a prefab. Components are pointers to registered component
// values; instantiation copies them into a new entity. Ref fields may hold entity.RecipeRef to
// point at another recipe of the same prefab, or entity.PrefabRef to instantiate another prefab.
type Recipe struct {
	Name       string
	Components []any
}

// Prefab is a named group of recipes instantiated together. Root names the recipe whose entity
// represents the prefab; it defaults to the first recipe.
type Prefab struct {
	Name    string
	Root    string
	Recipes []Recipe
}

// RootName returns the name of the root recipe.
func (p *Prefab) RootName() string {
	if p.Root != "" || len(p.Recipes) == 0 {
		return p.Root
	}
	return p.Recipes[0].Name
}

// Recipe returns the recipe with the given name.
func (p *Prefab) Recipe(name string) (*Recipe, bool) {
	for i := range p.Recipes {
		if p.Recipes[i].Name == name {
			return &p.Recipes[i], true
		}
	}
	return nil, false
}

// GeneratedFromRecipe records which prefab recipe an entity was instantiated from.
type GeneratedFromRecipe struct {
	Prefab string
	Recipe string
}

func (GeneratedFromRecipe) Name() string {
	return "generated_from_recipe"
}

func (p *Prefab) validate(m *component.Manager, provenance *component.Type) error {
	if p.Name == "" {
		return eris.Wrap(ErrInvalidPrefab, "prefab name cannot be empty")
	}
	if len(p.Recipes) == 0 {
		return eris.Wrapf(ErrInvalidPrefab, "prefab %s has no recipes", p.Name)
	}

	names := make(map[string]struct{}, len(p.Recipes))
	for _, r := range p.Recipes {
		if r.Name == "" {
			return eris.Wrapf(ErrInvalidPrefab, "prefab %s has a recipe without a name", p.Name)
		}
		if _, ok := names[r.Name]; ok {
			return eris.Wrapf(ErrInvalidPrefab, "prefab %s has duplicate recipe %s", p.Name, r.Name)
		}
		names[r.Name] = struct{}{}

		kinds := make(map[component.TypeID]struct{}, len(r.Components))
		for _, c := range r.Components {
			t, err := m.TypeOf(c)
			if err != nil {
				return eris.Wrapf(err, "prefab %s recipe %s", p.Name, r.Name)
			}
			if rv := reflect.ValueOf(c); rv.Kind() != reflect.Pointer || rv.IsNil() {
				return eris.Wrapf(ErrInvalidPrefab, "prefab %s recipe %s: %s must be a non-nil pointer",
					p.Name, r.Name, t.Name())
			}
			if t.ID() == provenance.ID() {
				return eris.Wrapf(ErrInvalidPrefab, "prefab %s recipe %s: %s is added on instantiation",
					p.Name, r.Name, t.Name())
			}
			if _, ok := kinds[t.ID()]; ok {
				return eris.Wrapf(ErrInvalidPrefab, "prefab %s recipe %s has duplicate component %s",
					p.Name, r.Name, t.Name())
			}
			kinds[t.ID()] = struct{}{}
		}
	}

	if _, ok := names[p.RootName()]; !ok {
		return eris.Wrapf(ErrInvalidPrefab, "prefab %s root %s is not a recipe", p.Name, p.RootName())
	}
	return nil
}
