package prefab

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"maps"
	"slices"
	"sync"

	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/argus-labs/entitystore/pkg/telemetry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Library is a registry of prefabs by name. It is safe for concurrent use.
type Library struct {
	components *component.Manager
	provenance *component.Type
	log        zerolog.Logger

	mu      sync.RWMutex
	prefabs map[string]*Prefab
}

// NewLibrary creates an empty library over the component manager of a store and registers the
// GeneratedFromRecipe component with it.
func NewLibrary(m *component.Manager, opts ...Option) (*Library, error) {
	provenance, err := component.Register[GeneratedFromRecipe](m)
	if err != nil {
		return nil, eris.Wrap(err, "failed to register prefab provenance component")
	}

	l := &Library{
		components: m,
		provenance: provenance,
		log:        telemetry.GetGlobalLogger("prefab"),
		prefabs:    make(map[string]*Prefab),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Register adds prefabs to the library. Either all of them are registered or none is.
func (l *Library) Register(prefabs ...*Prefab) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(prefabs))
	for _, p := range prefabs {
		if err := p.validate(l.components, l.provenance); err != nil {
			return err
		}
		if _, ok := l.prefabs[p.Name]; ok {
			return eris.Wrapf(ErrPrefabExists, "prefab %s", p.Name)
		}
		if _, ok := seen[p.Name]; ok {
			return eris.Wrapf(ErrPrefabExists, "prefab %s", p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	for _, p := range prefabs {
		l.prefabs[p.Name] = p
	}
	return nil
}

// Get returns the prefab registered under name.
func (l *Library) Get(name string) (*Prefab, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.prefabs[name]
	if !ok {
		return nil, eris.Wrapf(ErrPrefabNotFound, "prefab %s", name)
	}
	return p, nil
}

// Names returns the names of the registered prefabs in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Sorted(maps.Keys(l.prefabs))
}

// prefabDoc is the YAML form of a prefab:
//
//	name: house
//	root: building
//	recipes:
//	  - name: building
//	    components:
//	      label: {value: house}
//	      friend: {target: {recipe: door}}
//	  - name: door
//	    components:
//	      label: {value: door}
//
// Components are keyed by registered component name and decoded into the registered Go type, so
// fields use yaml.v3 naming (lowercased field names unless tagged).
type prefabDoc struct {
	Name    string      `yaml:"name"`
	Root    string      `yaml:"root"`
	Recipes []recipeDoc `yaml:"recipes"`
}

type recipeDoc struct {
	Name       string    `yaml:"name"`
	Components yaml.Node `yaml:"components"`
}

// LoadYAML parses every prefab document in data and registers them. A stream may hold several
// documents separated by "---".
func (l *Library) LoadYAML(data []byte) ([]*Prefab, error) {
	prefabs, err := l.parseYAML(data)
	if err != nil {
		return nil, err
	}
	if err := l.Register(prefabs...); err != nil {
		return nil, err
	}

	l.log.Debug().Int("count", len(prefabs)).Msg("prefabs loaded")
	return prefabs, nil
}

// LoadFS loads every file in fsys matching pattern, in lexical order. Files are parsed before
// anything is registered.
func (l *Library) LoadFS(fsys fs.FS, pattern string) ([]*Prefab, error) {
	paths, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid prefab pattern %q", pattern)
	}

	var prefabs []*Prefab
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read prefab file %s", path)
		}
		parsed, err := l.parseYAML(data)
		if err != nil {
			return nil, eris.Wrapf(err, "prefab file %s", path)
		}
		prefabs = append(prefabs, parsed...)
	}

	if err := l.Register(prefabs...); err != nil {
		return nil, err
	}
	l.log.Debug().Int("files", len(paths)).Int("count", len(prefabs)).Msg("prefabs loaded")
	return prefabs, nil
}

func (l *Library) parseYAML(data []byte) ([]*Prefab, error) {
	var prefabs []*Prefab

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc prefabDoc
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "failed to parse prefab")
		}

		p := &Prefab{Name: doc.Name, Root: doc.Root, Recipes: make([]Recipe, 0, len(doc.Recipes))}
		for _, rd := range doc.Recipes {
			comps, err := l.decodeComponents(&rd.Components)
			if err != nil {
				return nil, eris.Wrapf(err, "prefab %s recipe %s", doc.Name, rd.Name)
			}
			p.Recipes = append(p.Recipes, Recipe{Name: rd.Name, Components: comps})
		}
		prefabs = append(prefabs, p)
	}
	return prefabs, nil
}

// decodeComponents decodes a mapping of component name to component body, keeping the document
// order.
func (l *Library) decodeComponents(node *yaml.Node) ([]any, error) {
	if node.Kind == 0 {
		return []any{}, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, eris.Wrapf(ErrInvalidPrefab, "line %d: components must be a mapping", node.Line)
	}

	comps := make([]any, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, body := node.Content[i], node.Content[i+1]

		t, err := l.components.Lookup(key.Value)
		if err != nil {
			return nil, eris.Wrapf(err, "line %d", key.Line)
		}
		v := t.New()
		if err := body.Decode(v); err != nil {
			return nil, eris.Wrapf(err, "failed to decode component %s", t.Name())
		}
		comps = append(comps, v)
	}
	return comps, nil
}

// -------------------------------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------------------------------

// Option configures a Library.
type Option func(*Library)

// WithLogger sets the logger used to report data errors found while instantiating prefabs.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Library) {
		l.log = log
	}
}
