package component

import "reflect"

// deepCopy copies src into the settable dst. Reference kinds are copied as plain values, so a
// copied reference still points at the same entity or in-flight placeholder. Unexported fields
// are copied shallowly. Component values must not contain pointer cycles.
func (m *Manager) deepCopy(dst, src reflect.Value) {
	t := src.Type()
	if m.isAtomic(t) {
		dst.Set(src)
		return
	}

	switch src.Kind() { //nolint:exhaustive // remaining kinds are plain values
	case reflect.Pointer:
		if src.IsNil() {
			dst.Set(reflect.Zero(t))
			return
		}
		ptr := reflect.New(t.Elem())
		m.deepCopy(ptr.Elem(), src.Elem())
		dst.Set(ptr)

	case reflect.Struct:
		dst.Set(src)
		for i := range t.NumField() {
			if !t.Field(i).IsExported() {
				continue
			}
			m.deepCopy(dst.Field(i), src.Field(i))
		}

	case reflect.Slice:
		if src.IsNil() {
			dst.Set(reflect.Zero(t))
			return
		}
		s := reflect.MakeSlice(t, src.Len(), src.Len())
		for i := range src.Len() {
			m.deepCopy(s.Index(i), src.Index(i))
		}
		dst.Set(s)

	case reflect.Array:
		for i := range src.Len() {
			m.deepCopy(dst.Index(i), src.Index(i))
		}

	case reflect.Map:
		if src.IsNil() {
			dst.Set(reflect.Zero(t))
			return
		}
		mp := reflect.MakeMapWithSize(t, src.Len())
		iter := src.MapRange()
		for iter.Next() {
			v := reflect.New(t.Elem()).Elem()
			m.deepCopy(v, iter.Value())
			mp.SetMapIndex(iter.Key(), v)
		}
		dst.Set(mp)

	case reflect.Interface:
		if src.IsNil() {
			dst.Set(reflect.Zero(t))
			return
		}
		inner := src.Elem()
		v := reflect.New(inner.Type()).Elem()
		m.deepCopy(v, inner)
		dst.Set(v)

	default:
		dst.Set(src)
	}
}
