package component

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/argus-labs/entitystore/pkg/assert"
)

// Accessor reaches every reference of one kind held in a component field. The field may hold
// the reference directly or inside slices, arrays, maps, pointers, interfaces and structs
// nested to any depth. Accessors operate on pointers to component values.
type Accessor struct {
	name    string
	index   []int
	kind    reflect.Type
	manager *Manager
}

// Name returns the dotted field path, e.g. "Owner" or "Link.Target".
func (a Accessor) Name() string {
	return a.name
}

// Rewrite calls fn with every reference the field of comp holds and stores what fn returns in
// its place. The path passed to fn locates the reference, e.g. "Slots[2].Target" or
// "Owners[north]". A nil return stores the zero reference.
func (a Accessor) Rewrite(comp any, fn func(path string, ref any) any) {
	a.rewrite(a.field(comp), a.name, fn)
}

// Refs returns the references the field of comp holds, in the order Rewrite visits them.
func (a Accessor) Refs(comp any) []any {
	var out []any
	a.Rewrite(comp, func(_ string, ref any) any {
		out = append(out, ref)
		return ref
	})
	return out
}

func (a Accessor) field(comp any) reflect.Value {
	v := reflect.ValueOf(comp)
	assert.That(v.Kind() == reflect.Pointer && !v.IsNil(), "accessor %s needs a non-nil component pointer", a.name)
	return v.Elem().FieldByIndex(a.index)
}

// rewrite walks the settable value v. Map entries are not addressable, so they are copied out,
// rewritten, and stored back.
func (a Accessor) rewrite(v reflect.Value, path string, fn func(string, any) any) {
	t := v.Type()
	if t == a.kind {
		out := fn(path, v.Interface())
		if out == nil {
			v.Set(reflect.Zero(t))
			return
		}
		v.Set(reflect.ValueOf(out))
		return
	}
	if !a.manager.holds(t, a.kind) {
		return
	}

	switch t.Kind() { //nolint:exhaustive // holds rules out every other kind
	case reflect.Pointer:
		if !v.IsNil() {
			a.rewrite(v.Elem(), path, fn)
		}

	case reflect.Struct:
		for i := range t.NumField() {
			if f := t.Field(i); f.IsExported() {
				a.rewrite(v.Field(i), path+"."+f.Name, fn)
			}
		}

	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			a.rewrite(v.Index(i), fmt.Sprintf("%s[%d]", path, i), fn)
		}

	case reflect.Map:
		keys := v.MapKeys()
		slices.SortFunc(keys, func(x, y reflect.Value) int {
			return strings.Compare(fmt.Sprint(x.Interface()), fmt.Sprint(y.Interface()))
		})
		for _, k := range keys {
			elem := reflect.New(t.Elem()).Elem()
			elem.Set(v.MapIndex(k))
			a.rewrite(elem, fmt.Sprintf("%s[%v]", path, k.Interface()), fn)
			v.SetMapIndex(k, elem)
		}

	case reflect.Interface:
		if v.IsNil() {
			return
		}
		inner := v.Elem()
		elem := reflect.New(inner.Type()).Elem()
		elem.Set(inner)
		a.rewrite(elem, path, fn)
		v.Set(elem)
	}
}

// collectAccessors walks the exported fields of t, descending into nested struct fields, and
// returns an accessor for every field that can hold a value of kind.
func (m *Manager) collectAccessors(t reflect.Type, kind reflect.Type) []Accessor {
	var out []Accessor
	m.walkFields(t, kind, nil, nil, &out)
	return out
}

func (m *Manager) walkFields(t reflect.Type, kind reflect.Type, index []int, path []string, out *[]Accessor) {
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		fieldIndex := append(append([]int(nil), index...), i)
		fieldPath := append(append([]string(nil), path...), f.Name)

		switch {
		case f.Type.Kind() == reflect.Struct && f.Type != kind && !m.isAtomic(f.Type):
			m.walkFields(f.Type, kind, fieldIndex, fieldPath, out)
		case m.holds(f.Type, kind):
			*out = append(*out, Accessor{
				name:    strings.Join(fieldPath, "."),
				index:   fieldIndex,
				kind:    kind,
				manager: m,
			})
		}
	}
}

// holds reports whether a value of type t can contain a value of kind. Other reference kinds
// are opaque, and interfaces may hold anything.
func (m *Manager) holds(t reflect.Type, kind reflect.Type) bool {
	key := [2]reflect.Type{t, kind}
	if v, ok := m.holdsCache.Load(key); ok {
		return v.(bool) //nolint:errcheck // only bools are stored
	}
	v := m.reaches(t, kind, make(map[reflect.Type]bool))
	m.holdsCache.Store(key, v)
	return v
}

// reaches answers holds for one query. Types already on the walk count as not reaching kind:
// whatever they reach is found where the walk first entered them, so only the top-level answer
// is cached.
func (m *Manager) reaches(t reflect.Type, kind reflect.Type, visiting map[reflect.Type]bool) bool {
	if t == kind {
		return true
	}
	if m.isAtomic(t) || visiting[t] {
		return false
	}
	visiting[t] = true
	defer delete(visiting, t)

	switch t.Kind() { //nolint:exhaustive // scalar kinds hold no references
	case reflect.Interface:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return m.reaches(t.Elem(), kind, visiting)
	case reflect.Struct:
		for i := range t.NumField() {
			if f := t.Field(i); f.IsExported() && m.reaches(f.Type, kind, visiting) {
				return true
			}
		}
	}
	return false
}

// keyedBy reports whether t reaches a map whose keys can hold kind. Keys cannot be rewritten in
// place, so such types are rejected at registration.
func (m *Manager) keyedBy(t reflect.Type, kind reflect.Type, visiting map[reflect.Type]bool) bool {
	if t == kind || m.isAtomic(t) || visiting[t] {
		return false
	}
	visiting[t] = true
	defer delete(visiting, t)

	switch t.Kind() { //nolint:exhaustive // scalar kinds hold no references
	case reflect.Map:
		return m.reaches(t.Key(), kind, make(map[reflect.Type]bool)) || m.keyedBy(t.Elem(), kind, visiting)
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return m.keyedBy(t.Elem(), kind, visiting)
	case reflect.Struct:
		for i := range t.NumField() {
			if f := t.Field(i); f.IsExported() && m.keyedBy(f.Type, kind, visiting) {
				return true
			}
		}
	}
	return false
}
