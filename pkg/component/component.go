// Package component describes component kinds: their registry, default construction, deep copy,
// JSON schema, and the accessors for fields that hold entity references.
package component

import (
	"reflect"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/rotisserie/eris"
	"github.com/wI2L/jsondiff"
)

// Component is the interface that all components must implement.
// Components are plain data structs attached to entities, one per kind per entity.
type Component interface { //nolint:iface // We may add more methods in the future.
	// Name returns a unique string identifier for the component type.
	// This should be consistent across program executions.
	Name() string
}

// Copier is implemented by components that need their own copy semantics instead of the
// reflective deep copy. CopyFrom receives a pointer to a value of the same type.
type Copier interface {
	CopyFrom(src any)
}

// TypeID is a dense identifier assigned to a component type at registration.
type TypeID = uint32

// Type is the descriptor of a registered component kind.
type Type struct {
	id         TypeID
	name       string
	goType     reflect.Type
	schema     []byte
	defaultVal any
	refs       map[reflect.Type][]Accessor
	manager    *Manager
}

// Option is a type that can be passed to Register to augment the creation of the component type.
type Option[T Component] func(t *Type)

// WithDefault sets the value new components of this type start from.
func WithDefault[T Component](defaultVal T) Option[T] {
	return func(t *Type) {
		t.defaultVal = defaultVal
	}
}

// Register registers T with the manager and returns its descriptor. Registering the same type
// again returns the existing descriptor.
func Register[T Component](m *Manager, opts ...Option[T]) (*Type, error) {
	var zero T
	goType := reflect.TypeOf(zero)
	if goType == nil || goType.Kind() != reflect.Struct {
		return nil, eris.Errorf("component %T must be a struct type", zero)
	}

	name := zero.Name()
	if name == "" {
		return nil, eris.New("component name cannot be empty")
	}

	for _, kind := range m.refKinds {
		if m.keyedBy(goType, kind, make(map[reflect.Type]bool)) {
			return nil, eris.Errorf("component %s: map keys cannot hold %s values", name, kind)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byName[name]; ok {
		if existing.goType != goType {
			return nil, eris.Errorf("component name %s already registered for %s", name, existing.goType)
		}
		return existing, nil
	}

	schema, err := jsonschema.ReflectFromType(goType).MarshalJSON()
	if err != nil {
		return nil, eris.Wrap(err, "component must be json serializable")
	}

	t := &Type{
		id:      TypeID(len(m.types)), //nolint:gosec // bounded by number of registered types
		name:    name,
		goType:  goType,
		schema:  schema,
		refs:    make(map[reflect.Type][]Accessor, len(m.refKinds)),
		manager: m,
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, kind := range m.refKinds {
		t.refs[kind] = m.collectAccessors(goType, kind)
	}

	m.types = append(m.types, t)
	m.byName[name] = t
	m.byGo[goType] = t

	return t, nil
}

// ID returns the component type id.
func (t *Type) ID() TypeID {
	return t.id
}

// Name returns the component type name.
func (t *Type) Name() string {
	return t.name
}

// String returns the component type name.
func (t *Type) String() string {
	return t.name
}

// GoType returns the struct type backing the component.
func (t *Type) GoType() reflect.Type {
	return t.goType
}

// New returns a pointer to a fresh value of the component, either zeroed or a deep copy of the
// registered default.
func (t *Type) New() any {
	ptr := reflect.New(t.goType)
	if t.defaultVal != nil {
		t.manager.deepCopy(ptr.Elem(), reflect.ValueOf(t.defaultVal))
	}
	return ptr.Interface()
}

// PropertiesOfType returns the accessors of every field that can hold the given reference kind,
// in field declaration order. The list is computed once at registration.
func (t *Type) PropertiesOfType(kind reflect.Type) []Accessor {
	return t.refs[kind]
}

// Schema returns the JSON schema of the component.
func (t *Type) Schema() []byte {
	return t.schema
}

// ValidateAgainstSchema compares the registered schema with targetSchema.
func (t *Type) ValidateAgainstSchema(targetSchema []byte) error {
	diff, err := jsondiff.CompareJSON(t.schema, targetSchema)
	if err != nil {
		return eris.Wrap(err, "failed to compare component schema")
	}

	if diff.String() != "" {
		return eris.Wrapf(ErrComponentSchemaMismatch, "component %s: %s", t.name, diff.String())
	}

	return nil
}

// Encode encodes a component value of this type as JSON.
func (t *Type) Encode(v any) ([]byte, error) {
	if !t.owns(v) {
		return nil, eris.Errorf("value %T is not a %s component", v, t.name)
	}
	return Encode(v)
}

// Decode decodes JSON into a new pointer to a value of this type.
func (t *Type) Decode(bz []byte) (any, error) {
	ptr := t.New()
	if err := json.Unmarshal(bz, ptr); err != nil {
		return nil, eris.Wrapf(err, "failed to decode component %s", t.name)
	}
	return ptr, nil
}

// owns reports whether v is a value of, or a pointer to, this component type.
func (t *Type) owns(v any) bool {
	rt := reflect.TypeOf(v)
	if rt == nil {
		return false
	}
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt == t.goType
}
