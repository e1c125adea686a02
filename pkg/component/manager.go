package component

import (
	"reflect"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// Manager owns the component type registry of one store. It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	types    []*Type                // Component ID -> descriptor
	byName   map[string]*Type       // Component name -> descriptor
	byGo     map[reflect.Type]*Type // Struct type -> descriptor
	refKinds []reflect.Type         // Reference kinds whose accessors are precomputed, immutable

	holdsCache sync.Map // [2]reflect.Type{t, kind} -> whether t can hold kind
}

// ManagerOption configures a Manager.
type ManagerOption func(m *Manager)

// WithReferenceKind declares a type whose fields are tracked as entity references. Values of
// the kind are copied atomically and get accessors precomputed at registration.
func WithReferenceKind(kind reflect.Type) ManagerOption {
	return func(m *Manager) {
		m.refKinds = append(m.refKinds, kind)
	}
}

// NewManager creates an empty component manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		types:  make([]*Type, 0),
		byName: make(map[string]*Type),
		byGo:   make(map[reflect.Type]*Type),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lookup returns the descriptor registered under name.
func (m *Manager) Lookup(name string) (*Type, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.byName[name]
	if !ok {
		return nil, eris.Wrapf(ErrComponentNotRegistered, "component %s", name)
	}
	return t, nil
}

// ByID returns the descriptor with the given id.
func (m *Manager) ByID(id TypeID) (*Type, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if int(id) >= len(m.types) {
		return nil, eris.Wrapf(ErrComponentNotRegistered, "component id %d", id)
	}
	return m.types[id], nil
}

// TypeOf returns the descriptor of a component value or pointer.
func (m *Manager) TypeOf(v any) (*Type, error) {
	rt := reflect.TypeOf(v)
	if rt == nil {
		return nil, eris.New("component cannot be nil")
	}
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.byGo[rt]
	if !ok {
		return nil, eris.Wrapf(ErrComponentNotRegistered, "component %s", rt)
	}
	return t, nil
}

// TypeFor returns the descriptor registered for T.
func TypeFor[T Component](m *Manager) (*Type, error) {
	var zero T
	return m.TypeOf(zero)
}

// Types returns all registered descriptors ordered by id.
func (m *Manager) Types() []*Type {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Type, len(m.types))
	copy(out, m.types)
	return out
}

// ReferenceKinds returns the reference kinds the manager tracks.
func (m *Manager) ReferenceKinds() []reflect.Type {
	return m.refKinds
}

// Create returns a pointer to a new default value of t.
func (m *Manager) Create(t *Type) any {
	return t.New()
}

// Copy deep copies the component src points to into dst. Both must be pointers to the same
// registered component type.
func (m *Manager) Copy(src, dst any) error {
	sv, dv := reflect.ValueOf(src), reflect.ValueOf(dst)
	if sv.Kind() != reflect.Pointer || dv.Kind() != reflect.Pointer || sv.IsNil() || dv.IsNil() {
		return eris.New("copy requires non-nil component pointers")
	}
	if sv.Type() != dv.Type() {
		return eris.Errorf("cannot copy %s into %s", sv.Type(), dv.Type())
	}

	if c, ok := dst.(Copier); ok {
		c.CopyFrom(src)
		return nil
	}
	m.deepCopy(dv.Elem(), sv.Elem())
	return nil
}

// Clone returns a new pointer holding a deep copy of the component v points to.
func (m *Manager) Clone(v any) any {
	sv := reflect.ValueOf(v)
	ptr := reflect.New(sv.Type().Elem())
	if c, ok := ptr.Interface().(Copier); ok {
		c.CopyFrom(v)
		return ptr.Interface()
	}
	m.deepCopy(ptr.Elem(), sv.Elem())
	return ptr.Interface()
}

// CheckSchemas validates every stored schema, keyed by component name, against the registered
// types. Unknown names and mismatches are both reported.
func (m *Manager) CheckSchemas(schemas map[string][]byte) error {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t, err := m.Lookup(name)
		if err != nil {
			return err
		}
		if err := t.ValidateAgainstSchema(schemas[name]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) isAtomic(t reflect.Type) bool {
	for _, kind := range m.refKinds {
		if t == kind {
			return true
		}
	}
	return false
}
