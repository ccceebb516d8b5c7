package event

import "reflect"

// Filter is a mapping of dotted attribute path to required value. A
// listener connected with a non-empty Filter only runs when every path
// resolves on the concrete event and equals the required value; if any
// path fails to resolve, the listener is skipped for that event (it is
// not an error).
type Filter map[string]interface{}

// matches reports whether every entry in f resolves and is equal (via
// reflect.DeepEqual) on the given event.
func (f Filter) matches(e Event) bool {
	for path, want := range f {
		got, ok := resolvePath(reflect.ValueOf(e), path)
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// resolvePath walks a dotted attribute path (e.g. "Metadata.Status")
// across struct fields (following pointer indirection) and map lookups,
// the target-language stand-in for the original's duck-typed dotted
// getattr resolution.
func resolvePath(v reflect.Value, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	cur := v
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		name := path[start:i]
		start = i + 1
		var ok bool
		cur, ok = step(cur, name)
		if !ok {
			return nil, false
		}
	}
	if !cur.IsValid() {
		return nil, false
	}
	return cur.Interface(), true
}

// step resolves one path segment against v, which may be a struct,
// pointer-to-struct, interface, or map[string]X.
func step(v reflect.Value, name string) (reflect.Value, bool) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		f := v.FieldByName(name)
		if !f.IsValid() {
			return reflect.Value{}, false
		}
		return f, true
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, false
		}
		mv := v.MapIndex(reflect.ValueOf(name))
		if !mv.IsValid() {
			return reflect.Value{}, false
		}
		return mv, true
	default:
		return reflect.Value{}, false
	}
}
