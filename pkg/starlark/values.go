package starlark

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// ConvertToStarlark converts a Go value from a template's variable map to a
// Starlark value. Maps need string keys; structs become starlark structs of
// their exported fields.
func ConvertToStarlark(val any) (starlark.Value, error) {
	switch v := val.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case string:
		return starlark.String(v), nil
	case []byte:
		return starlark.String(v), nil
	case bool:
		return starlark.Bool(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case float64:
		return starlark.Float(v), nil
	case time.Time:
		return starlark.String(v.Format(time.RFC3339)), nil
	case time.Duration:
		return starlark.String(v.String()), nil
	case fmt.Stringer:
		return starlark.String(v.String()), nil
	}
	return convertReflect(reflect.ValueOf(val))
}

func convertReflect(rv reflect.Value) (starlark.Value, error) {
	switch rv.Kind() {
	case reflect.Invalid:
		return starlark.None, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return starlark.None, nil
		}
		return ConvertToStarlark(rv.Elem().Interface())
	case reflect.String:
		return starlark.String(rv.String()), nil
	case reflect.Bool:
		return starlark.Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return starlark.MakeUint64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return starlark.Float(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		items := make([]starlark.Value, rv.Len())
		for i := range items {
			item, err := ConvertToStarlark(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = item
		}
		return starlark.NewList(items), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(keys))
		for _, k := range keys {
			item, err := ConvertToStarlark(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), item); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case reflect.Struct:
		fields := starlark.StringDict{}
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			item, err := ConvertToStarlark(rv.Field(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			fields[f.Name] = item
		}
		return starlarkstruct.FromStringDict(starlark.String(t.Name()), fields), nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", rv.Type())
}

// Fingerprint returns a canonical text form of vars as templates see them:
// every name with the representation of its converted value, in name
// order. Two variable maps with the same fingerprint render identically.
// Values whose representation does not pin down their content, such as
// functions, are rejected.
func Fingerprint(vars map[string]any) (string, error) {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		v, err := ConvertToStarlark(vars[k])
		if err != nil {
			return "", fmt.Errorf("variable %q: %w", k, err)
		}
		if err := plainData(v, 0); err != nil {
			return "", fmt.Errorf("variable %q: %w", k, err)
		}
		b.WriteString(syntax.Quote(k, false))
		b.WriteByte('=')
		b.WriteString(v.String())
		b.WriteByte('\n')
	}
	return b.String(), nil
}

const maxDataDepth = 64

// plainData reports whether v is built only from values whose String form
// determines their content.
func plainData(v starlark.Value, depth int) error {
	if depth > maxDataDepth {
		return fmt.Errorf("value nested deeper than %d levels", maxDataDepth)
	}
	switch v := v.(type) {
	case starlark.NoneType, starlark.Bool, starlark.Int, starlark.Float, starlark.String, starlark.Bytes:
		return nil
	case *starlark.List:
		for i := 0; i < v.Len(); i++ {
			if err := plainData(v.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	case starlark.Tuple:
		for _, x := range v {
			if err := plainData(x, depth+1); err != nil {
				return err
			}
		}
		return nil
	case *starlark.Dict:
		for _, kv := range v.Items() {
			if err := plainData(kv[0], depth+1); err != nil {
				return err
			}
			if err := plainData(kv[1], depth+1); err != nil {
				return err
			}
		}
		return nil
	case *starlarkstruct.Struct:
		if err := plainData(v.Constructor(), depth+1); err != nil {
			return err
		}
		for _, name := range v.AttrNames() {
			attr, err := v.Attr(name)
			if err != nil {
				return err
			}
			if err := plainData(attr, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%s value has no stable representation", v.Type())
}

// toText renders a value for output. Strings are written as is, None is
// empty and everything else uses its Starlark representation.
func toText(v starlark.Value) string {
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return ""
	case starlark.String:
		return string(v)
	case starlark.Bool:
		if v {
			return "true"
		}
		return "false"
	}
	return v.String()
}
