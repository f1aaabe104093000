package monitor

import (
	"reflect"
	"strings"
)

// Redacted replaces the value of every sensitive key.
const Redacted = "[REDACTED]"

var sensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"authorization",
	"auth",
	"api_key",
	"apikey",
	"access_token",
	"refresh_token",
	"credit_card",
	"ssn",
	"email_content",
	"body",
	"content",
}

// IsSensitiveKey reports whether key, lowercased, contains one of the
// sensitive fragments.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// SanitizeForLogging returns a copy of v in which the value of every
// sensitive string-keyed map entry is replaced by Redacted, at any depth of
// nested maps, slices and arrays. A copy keeps the type of the original when
// the redacted values fit it; otherwise maps become map[string]any and slices
// become []any. v itself is never modified. Other values are returned as is.
func SanitizeForLogging(v any) any {
	if v == nil {
		return nil
	}
	return sanitizeValue(reflect.ValueOf(v)).Interface()
}

var redactedValue = reflect.ValueOf(Redacted)

func sanitizeValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		return sanitizeValue(v.Elem())
	case reflect.Map:
		if v.IsNil() || v.Type().Key().Kind() != reflect.String {
			return v
		}
		return sanitizeMap(v)
	case reflect.Slice:
		if v.IsNil() || v.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		return sanitizeList(v)
	case reflect.Array:
		return sanitizeList(v)
	}
	return v
}

func sanitizeMap(v reflect.Value) reflect.Value {
	elemType := v.Type().Elem()
	keys := make([]reflect.Value, 0, v.Len())
	vals := make([]reflect.Value, 0, v.Len())
	typed := true
	iter := v.MapRange()
	for iter.Next() {
		val := redactedValue
		if !IsSensitiveKey(iter.Key().String()) {
			val = sanitizeValue(iter.Value())
		}
		if fitted, ok := fit(val, elemType); ok {
			val = fitted
		} else {
			typed = false
		}
		keys = append(keys, iter.Key())
		vals = append(vals, val)
	}

	if typed {
		out := reflect.MakeMapWithSize(v.Type(), len(keys))
		for i, k := range keys {
			out.SetMapIndex(k, vals[i])
		}
		return out
	}
	out := make(map[string]any, len(keys))
	for i, k := range keys {
		out[k.String()] = valueInterface(vals[i])
	}
	return reflect.ValueOf(out)
}

func sanitizeList(v reflect.Value) reflect.Value {
	elemType := v.Type().Elem()
	vals := make([]reflect.Value, v.Len())
	typed := true
	for i := range vals {
		val := sanitizeValue(v.Index(i))
		if fitted, ok := fit(val, elemType); ok {
			val = fitted
		} else {
			typed = false
		}
		vals[i] = val
	}

	if typed {
		var out reflect.Value
		if v.Kind() == reflect.Array {
			out = reflect.New(v.Type()).Elem()
		} else {
			out = reflect.MakeSlice(v.Type(), len(vals), len(vals))
		}
		for i, val := range vals {
			out.Index(i).Set(val)
		}
		return out
	}
	out := make([]any, len(vals))
	for i, val := range vals {
		out[i] = valueInterface(val)
	}
	return reflect.ValueOf(out)
}

// fit converts val so it can be stored in a container of element type t.
func fit(val reflect.Value, t reflect.Type) (reflect.Value, bool) {
	if !val.IsValid() {
		return reflect.Zero(t), true
	}
	if val.Type().AssignableTo(t) {
		return val, true
	}
	if val.Kind() == reflect.String && t.Kind() == reflect.String {
		return val.Convert(t), true
	}
	return val, false
}

func valueInterface(v reflect.Value) any {
	if !v.IsValid() || (v.Kind() == reflect.Interface && v.IsNil()) {
		return nil
	}
	return v.Interface()
}

// sanitizeMetadata is SanitizeForLogging specialized to event metadata.
func sanitizeMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return SanitizeForLogging(m).(map[string]any)
}
