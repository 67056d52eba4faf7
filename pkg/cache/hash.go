package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// isoMillis matches JavaScript's Date.toISOString output.
const isoMillis = "2006-01-02T15:04:05.000Z"

var timeType = reflect.TypeOf(time.Time{})

// StableHash returns a 16-character hex digest of v that does not depend on
// map iteration order or struct construction order.
//
// v is first reduced to a canonical tree: structs become maps keyed by their
// JSON field names, map keys are stringified, slices keep their order and
// time.Time values are rendered as UTC ISO-8601 with millisecond precision.
// The tree is serialized as JSON (which sorts object keys) and hashed with
// xxhash.
func StableHash(v any) string {
	data, err := json.Marshal(canonicalize(reflect.ValueOf(v)))
	if err != nil {
		// Canonical trees only hold JSON-safe values; keep the digest total anyway.
		data = []byte(fmt.Sprintf("%#v", v))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// canonicalize walks rv and returns a value built only from nil, bool,
// numbers, strings, []any and map[string]any.
func canonicalize(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}

	if rv.Type() == timeType {
		return rv.Interface().(time.Time).UTC().Format(isoMillis)
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return canonicalize(rv.Elem())

	case reflect.Struct:
		return canonicalStruct(rv)

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(canonicalize(iter.Key()))] = canonicalize(iter.Value())
		}
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = canonicalize(rv.Index(i))
		}
		return out

	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Sprintf("%s:%v", rv.Kind(), rv)

	default:
		return rv.Interface()
	}
}

// canonicalStruct maps exported fields by their JSON names, honoring
// `json:"-"` and dropping zero-valued omitempty fields.
func canonicalStruct(rv reflect.Value) map[string]any {
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		omitEmpty := false
		if tag, ok := field.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" && len(parts) == 1 {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" || opt == "omitzero" {
					omitEmpty = true
				}
			}
		}

		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		out[name] = canonicalize(fv)
	}
	return out
}
