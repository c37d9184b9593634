// Package value is the generic structured-value model used to build response
// envelopes and structured payloads.
//
// A value is one of: nil, bool, int64, uint64, float64, string, []byte,
// []any (array) or map[string]any (map). Serialize also accepts the other Go
// integer widths and normalizes them; Parse always returns the canonical types.
package value

import (
	"errors"
	"fmt"
	"math"
)

var ErrType = errors.New("value: unexpected type")

func typeErr(want string, v any) error {
	return fmt.Errorf("%w: want %s, got %T", ErrType, want, v)
}

func AsMap(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, typeErr("map", v)
	}
	return m, nil
}

func AsArray(v any) ([]any, error) {
	a, ok := v.([]any)
	if !ok {
		return nil, typeErr("array", v)
	}
	return a, nil
}

func AsBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, typeErr("bool", v)
	}
	return b, nil
}

func AsInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrType, n)
		}
		return int64(n), nil
	}
	return 0, typeErr("int", v)
}

func AsUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrType, n)
		}
		return uint64(n), nil
	}
	return 0, typeErr("uint", v)
}

func AsUint32(v any) (uint32, error) {
	n, err := AsUint64(v)
	if err != nil {
		return 0, err
	}
	if n > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d overflows uint32", ErrType, n)
	}
	return uint32(n), nil
}

func AsInt32(v any) (int32, error) {
	n, err := AsInt64(v)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, fmt.Errorf("%w: %d overflows int32", ErrType, n)
	}
	return int32(n), nil
}

func AsFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, typeErr("float", v)
}

// AsBytes accepts both byte strings and strings.
func AsBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, typeErr("bytes", v)
}

func AsString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return "", typeErr("string", v)
}

// Get returns m[key] converted by as. A missing key is an error.
func Get[T any](m map[string]any, key string, as func(any) (T, error)) (T, error) {
	v, ok := m[key]
	if !ok {
		var zero T
		return zero, fmt.Errorf("value: missing key %q", key)
	}
	t, err := as(v)
	if err != nil {
		return t, fmt.Errorf("key %q: %w", key, err)
	}
	return t, nil
}

// normalize converts the accepted Go types into canonical ones.
func normalize(v any) (any, error) {
	switch n := v.(type) {
	case nil, bool, int64, uint64, float64, string, []byte, []any, map[string]any:
		return v, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case float32:
		return float64(n), nil
	case []string:
		a := make([]any, len(n))
		for i := range n {
			a[i] = n[i]
		}
		return a, nil
	case []uint32:
		a := make([]any, len(n))
		for i := range n {
			a[i] = uint64(n[i])
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: %T is not serializable", ErrType, v)
}
