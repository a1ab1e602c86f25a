package vfs

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// Record is the explicit container capability. A type that implements it
// decides for itself which members the observation engine sees, in which
// order, and which writes it accepts.
//
// SetMember returns false to refuse a write; refused commits are dropped
// silently, matching the engine's tolerance for failed write-back.
type Record interface {
	MemberNames() []string
	Member(name string) (any, bool)
	SetMember(name string, value any) bool
}

// The engine recognizes a closed set of container shapes. Everything else
// is a leaf and renders through fmt.
//
//   - Record implementors
//   - slices, arrays, and pointers to arrays (members are decimal indices)
//   - maps (members are the stringified keys)
//   - pointers to structs, only when the export opted in with Reflect
//     (members are the exported fields, plus exported methods when
//     ExportCalls is also set)

// isComposite reports whether v is observed as a directory rather than a
// leaf file.
func isComposite(v any, cfg *ExportConfig) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(Record); ok {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	case reflect.Ptr:
		if rv.IsNil() {
			return false
		}
		switch rv.Elem().Kind() {
		case reflect.Array:
			return true
		case reflect.Struct:
			return cfg.Reflect
		}
	}
	return false
}

// enumerateMembers lists the member names of a composite value. The result
// is nil for non-composite values. Func-typed members are listed too; the
// sync layer decides whether they become call files or are skipped.
func enumerateMembers(v any, cfg *ExportConfig) []string {
	if v == nil {
		return nil
	}
	if rec, ok := v.(Record); ok {
		return rec.MemberNames()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		switch rv.Elem().Kind() {
		case reflect.Array:
			rv = rv.Elem()
		case reflect.Struct:
			if !cfg.Reflect {
				return nil
			}
			return structMembers(rv, cfg)
		default:
			return nil
		}
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		names := make([]string, rv.Len())
		for i := range names {
			names[i] = strconv.Itoa(i)
		}
		return names
	case reflect.Map:
		names := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			names = append(names, fmt.Sprint(iter.Key().Interface()))
		}
		sort.Strings(names)
		return names
	}
	return nil
}

// structMembers lists the exported fields of the struct behind a pointer,
// plus its exported methods when calls are exported. rv is the pointer.
func structMembers(rv reflect.Value, cfg *ExportConfig) []string {
	elem := rv.Elem()
	t := elem.Type()

	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		names = append(names, f.Name)
	}
	if cfg.ExportCalls {
		pt := rv.Type()
		for i := 0; i < pt.NumMethod(); i++ {
			names = append(names, pt.Method(i).Name)
		}
	}
	return names
}

// getMember resolves one member of a composite value. The second return is
// false when the member does not exist anymore, which the sync diff treats
// as the member having gone away.
func getMember(v any, name string, cfg *ExportConfig) (any, bool) {
	if v == nil {
		return nil, false
	}
	if rec, ok := v.(Record); ok {
		return rec.Member(name)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		switch rv.Elem().Kind() {
		case reflect.Array:
			rv = rv.Elem()
		case reflect.Struct:
			if !cfg.Reflect {
				return nil, false
			}
			return structMember(rv, name, cfg)
		default:
			return nil, false
		}
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(name)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return elementValue(rv.Index(i)), true
	case reflect.Map:
		key, ok := mapKeyForName(rv, name)
		if !ok {
			return nil, false
		}
		mv := rv.MapIndex(key)
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	}
	return nil, false
}

// structMember resolves a field, or a bound method when calls are exported.
// rv is the pointer to the struct. Only the struct's own fields resolve;
// fields promoted from embedded types are not members.
func structMember(rv reflect.Value, name string, cfg *ExportConfig) (any, bool) {
	elem := rv.Elem()
	if f, ok := ownField(elem.Type(), name); ok {
		return elementValue(elem.Field(f.Index[0])), true
	}
	if cfg.ExportCalls {
		if m := rv.MethodByName(name); m.IsValid() {
			return m.Interface(), true
		}
	}
	return nil, false
}

// ownField finds a top-level exported field by name.
func ownField(t reflect.Type, name string) (reflect.StructField, bool) {
	f, ok := t.FieldByName(name)
	if !ok || f.PkgPath != "" || len(f.Index) != 1 {
		return reflect.StructField{}, false
	}
	return f, true
}

// elementValue extracts a member value for observation. Addressable struct
// and array members come back as pointers so nested observation keeps a
// stable identity and writes reach the original, not a copy.
func elementValue(fv reflect.Value) any {
	switch fv.Kind() {
	case reflect.Struct, reflect.Array:
		if fv.CanAddr() {
			return fv.Addr().Interface()
		}
	}
	return fv.Interface()
}

// setMember writes one member of a composite value. Returns false when the
// container refuses or cannot express the write.
func setMember(v any, name string, value any, cfg *ExportConfig) bool {
	if v == nil {
		return false
	}
	if rec, ok := v.(Record); ok {
		return rec.SetMember(name, value)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return false
		}
		switch rv.Elem().Kind() {
		case reflect.Array:
			rv = rv.Elem()
		case reflect.Struct:
			if !cfg.Reflect {
				return false
			}
			elem := rv.Elem()
			f, ok := ownField(elem.Type(), name)
			if !ok {
				return false
			}
			return assignValue(elem.Field(f.Index[0]), value)
		default:
			return false
		}
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(name)
		if err != nil || i < 0 || i >= rv.Len() {
			return false
		}
		return assignValue(rv.Index(i), value)
	case reflect.Map:
		key, ok := mapKeyForName(rv, name)
		if !ok {
			return false
		}
		nv := reflect.ValueOf(value)
		et := rv.Type().Elem()
		if !nv.IsValid() || !nv.Type().AssignableTo(et) {
			if nv.IsValid() && nv.Type().ConvertibleTo(et) {
				nv = nv.Convert(et)
			} else {
				return false
			}
		}
		rv.SetMapIndex(key, nv)
		return true
	}
	return false
}

// assignValue stores value into a settable reflect destination, converting
// between compatible types when needed.
func assignValue(dst reflect.Value, value any) bool {
	if !dst.CanSet() {
		return false
	}
	nv := reflect.ValueOf(value)
	if !nv.IsValid() {
		return false
	}
	if nv.Type().AssignableTo(dst.Type()) {
		dst.Set(nv)
		return true
	}
	if nv.Type().ConvertibleTo(dst.Type()) {
		dst.Set(nv.Convert(dst.Type()))
		return true
	}
	return false
}

// mapKeyForName finds the map key whose stringified form matches name.
// String keys hit directly; other key types scan. When two keys stringify
// identically the first match wins.
func mapKeyForName(rv reflect.Value, name string) (reflect.Value, bool) {
	kt := rv.Type().Key()
	if kt.Kind() == reflect.String {
		key := reflect.ValueOf(name)
		if kt != key.Type() {
			key = key.Convert(kt)
		}
		if rv.MapIndex(key).IsValid() {
			return key, true
		}
		return reflect.Value{}, false
	}
	iter := rv.MapRange()
	for iter.Next() {
		if fmt.Sprint(iter.Key().Interface()) == name {
			return iter.Key(), true
		}
	}
	return reflect.Value{}, false
}

// identityOf returns a stable address for values that have one: pointers,
// maps, and non-empty slices. The cycle-detection stack is keyed by these.
// Values without a stable address (scalars, struct copies, empty slices,
// funcs) report false and stay out of cycle tracking.
func identityOf(v any) (uintptr, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.UnsafePointer:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	case reflect.Map:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	case reflect.Slice:
		// Zero-length slices may all share the runtime's zero-size base
		// address, which would alias unrelated values.
		if rv.IsNil() || rv.Len() == 0 {
			return 0, false
		}
		return rv.Pointer(), true
	}
	return 0, false
}

// isFunc reports whether an observed member is callable.
func isFunc(v any) bool {
	if v == nil {
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Func
}
