package value

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// bytesKey marks a byte string in the JSON form: {"$bytes": "<base64>"}.
const bytesKey = "$bytes"

// MarshalJSON renders v as JSON. Byte strings are written as {"$bytes": "<base64>"}.
func MarshalJSON(v any) ([]byte, error) {
	w := jwriter.Writer{}
	if err := writeJSON(&w, v, 0); err != nil {
		return nil, err
	}
	return w.BuildBytes()
}

func writeJSON(w *jwriter.Writer, v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("value: nesting deeper than %d", maxDepth)
	}
	v, err := normalize(v)
	if err != nil {
		return err
	}

	switch n := v.(type) {
	case nil:
		w.RawString("null")
	case bool:
		w.Bool(n)
	case int64:
		w.Int64(n)
	case uint64:
		w.Uint64(n)
	case float64:
		w.Float64(n)
	case string:
		w.String(n)
	case []byte:
		w.RawString(`{"` + bytesKey + `":`)
		w.Base64Bytes(n)
		w.RawByte('}')
	case []any:
		w.RawByte('[')
		for i, elem := range n {
			if i > 0 {
				w.RawByte(',')
			}
			if err := writeJSON(w, elem, depth+1); err != nil {
				return err
			}
		}
		w.RawByte(']')
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.RawByte('{')
		for i, k := range keys {
			if i > 0 {
				w.RawByte(',')
			}
			w.String(k)
			w.RawByte(':')
			if err := writeJSON(w, n[k], depth+1); err != nil {
				return err
			}
		}
		w.RawByte('}')
	}
	return w.Error
}

// ParseJSON is the inverse of MarshalJSON. Integral numbers become int64
// (or uint64 when they do not fit), other numbers float64.
func ParseJSON(data []byte) (any, error) {
	return parseJSON(data, 0)
}

func parseJSON(data []byte, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty json", ErrMalformed)
	}

	in := jlexer.Lexer{Data: data}
	switch data[0] {
	case 'n':
		in.Null()
		return nil, lexerErr(&in)
	case 't', 'f':
		b := in.Bool()
		return b, lexerErr(&in)
	case '"':
		s := in.String()
		return s, lexerErr(&in)
	case '[':
		arr := []any{}
		in.Delim('[')
		for !in.IsDelim(']') && in.Ok() {
			elem, err := parseJSON(in.Raw(), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
			in.WantComma()
		}
		in.Delim(']')
		return arr, lexerErr(&in)
	case '{':
		m := map[string]any{}
		in.Delim('{')
		for !in.IsDelim('}') && in.Ok() {
			key := in.String()
			in.WantColon()
			elem, err := parseJSON(in.Raw(), depth+1)
			if err != nil {
				return nil, err
			}
			m[key] = elem
			in.WantComma()
		}
		in.Delim('}')
		if err := lexerErr(&in); err != nil {
			return nil, err
		}
		if b, ok := m[bytesKey]; ok && len(m) == 1 {
			s, ok := b.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a base64 string", ErrMalformed, bytesKey)
			}
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
			}
			return raw, nil
		}
		return m, nil
	default:
		num := string(in.JsonNumber())
		if err := lexerErr(&in); err != nil {
			return nil, err
		}
		if i, err := strconv.ParseInt(num, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(num, 10, 64); err == nil {
			return u, nil
		}
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrMalformed, num)
		}
		return f, nil
	}
}

func lexerErr(in *jlexer.Lexer) error {
	in.Consumed()
	if err := in.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}
