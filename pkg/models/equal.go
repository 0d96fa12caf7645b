package models

import (
	"bytes"
	"reflect"
	"time"
)

// Equivalent is a deep equality check that compares values by kind rather
// than by strict type: times by instant, byte slices by content, and numbers
// across integer and floating representations. Empty and nil sequences or
// mappings compare equal, which keeps values stable across a JSON round trip.
func Equivalent(a, b any) bool {
	return equivalent(reflect.ValueOf(a), reflect.ValueOf(b))
}

func equivalent(a, b reflect.Value) bool {
	a = indirect(a)
	b = indirect(b)
	if !a.IsValid() || !b.IsValid() {
		return a.IsValid() == b.IsValid()
	}

	if ta, ok := asTime(a); ok {
		tb, ok := asTime(b)
		return ok && ta.Equal(tb)
	}
	if ba, ok := asBytes(a); ok {
		bb, ok := asBytes(b)
		return ok && bytes.Equal(ba, bb)
	}
	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		return ok && na == nb
	}

	switch a.Kind() {
	case reflect.Slice, reflect.Array:
		if b.Kind() != reflect.Slice && b.Kind() != reflect.Array {
			return false
		}
		if a.Len() != b.Len() {
			return false
		}
		for i := 0; i < a.Len(); i++ {
			if !equivalent(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Map:
		if b.Kind() != reflect.Map {
			return false
		}
		if a.Len() != b.Len() {
			return false
		}
		for _, key := range a.MapKeys() {
			bv := b.MapIndex(key)
			if !bv.IsValid() || !equivalent(a.MapIndex(key), bv) {
				return false
			}
		}
		return true
	case reflect.Struct:
		if b.Kind() != reflect.Struct || a.Type() != b.Type() {
			return false
		}
		for i := 0; i < a.NumField(); i++ {
			if !a.Type().Field(i).IsExported() {
				continue
			}
			if !equivalent(a.Field(i), b.Field(i)) {
				return false
			}
		}
		return true
	case reflect.String:
		return b.Kind() == reflect.String && a.String() == b.String()
	case reflect.Bool:
		return b.Kind() == reflect.Bool && a.Bool() == b.Bool()
	default:
		return a.Type() == b.Type() && a.Interface() == b.Interface()
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func asTime(v reflect.Value) (time.Time, bool) {
	if v.Type() == reflect.TypeOf(time.Time{}) {
		return v.Interface().(time.Time), true
	}
	return time.Time{}, false
}

func asBytes(v reflect.Value) ([]byte, bool) {
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
		return v.Bytes(), true
	}
	return nil, false
}

func asNumber(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	return 0, false
}
