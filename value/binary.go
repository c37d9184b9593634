package value

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Номера полей определяют тип значения.
const (
	fieldNull   protowire.Number = 1
	fieldBool   protowire.Number = 2
	fieldInt    protowire.Number = 3
	fieldUint   protowire.Number = 4
	fieldDouble protowire.Number = 5
	fieldString protowire.Number = 6
	fieldBytes  protowire.Number = 7
	fieldArray  protowire.Number = 8
	fieldMap    protowire.Number = 9

	fieldElem     protowire.Number = 1
	fieldEntryKey protowire.Number = 1
	fieldEntryVal protowire.Number = 2
)

const maxDepth = 64

var ErrMalformed = errors.New("value: malformed input")

// Serialize encodes v into its binary form.
func Serialize(v any) ([]byte, error) {
	return AppendSerialize(nil, v)
}

// AppendSerialize appends the binary form of v to b.
func AppendSerialize(b []byte, v any) ([]byte, error) {
	return appendValue(b, v, 0)
}

func appendValue(b []byte, v any, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value: nesting deeper than %d", maxDepth)
	}
	v, err := normalize(v)
	if err != nil {
		return nil, err
	}

	switch n := v.(type) {
	case nil:
		b = protowire.AppendTag(b, fieldNull, protowire.VarintType)
		b = protowire.AppendVarint(b, 0)
	case bool:
		b = protowire.AppendTag(b, fieldBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(n))
	case int64:
		b = protowire.AppendTag(b, fieldInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(n))
	case uint64:
		b = protowire.AppendTag(b, fieldUint, protowire.VarintType)
		b = protowire.AppendVarint(b, n)
	case float64:
		b = protowire.AppendTag(b, fieldDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(n))
	case string:
		b = protowire.AppendTag(b, fieldString, protowire.BytesType)
		b = protowire.AppendString(b, n)
	case []byte:
		b = protowire.AppendTag(b, fieldBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, n)
	case []any:
		var body []byte
		for _, elem := range n {
			enc, err := appendValue(nil, elem, depth+1)
			if err != nil {
				return nil, err
			}
			body = protowire.AppendTag(body, fieldElem, protowire.BytesType)
			body = protowire.AppendBytes(body, enc)
		}
		b = protowire.AppendTag(b, fieldArray, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var body []byte
		for _, k := range keys {
			enc, err := appendValue(nil, n[k], depth+1)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			var entry []byte
			entry = protowire.AppendTag(entry, fieldEntryKey, protowire.BytesType)
			entry = protowire.AppendString(entry, k)
			entry = protowire.AppendTag(entry, fieldEntryVal, protowire.BytesType)
			entry = protowire.AppendBytes(entry, enc)

			body = protowire.AppendTag(body, fieldElem, protowire.BytesType)
			body = protowire.AppendBytes(body, entry)
		}
		b = protowire.AppendTag(b, fieldMap, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	}
	return b, nil
}

// Parse decodes exactly one value from b.
func Parse(b []byte) (any, error) {
	return parseValue(b, 0)
}

func parseValue(b []byte, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, fmt.Errorf("%w: tag: %w", ErrMalformed, protowire.ParseError(n))
	}
	b = b[n:]

	var (
		v   any
		err error
	)
	switch {
	case typ == protowire.VarintType && num <= fieldUint:
		var x uint64
		x, n = protowire.ConsumeVarint(b)
		switch num {
		case fieldNull:
			v = nil
		case fieldBool:
			v = protowire.DecodeBool(x)
		case fieldInt:
			v = protowire.DecodeZigZag(x)
		case fieldUint:
			v = x
		}
	case typ == protowire.Fixed64Type && num == fieldDouble:
		var x uint64
		x, n = protowire.ConsumeFixed64(b)
		v = math.Float64frombits(x)
	case typ == protowire.BytesType && num >= fieldString && num <= fieldMap:
		var body []byte
		body, n = protowire.ConsumeBytes(b)
		if n < 0 {
			break
		}
		switch num {
		case fieldString:
			v = string(body)
		case fieldBytes:
			v = append([]byte{}, body...)
		case fieldArray:
			v, err = parseArray(body, depth)
		case fieldMap:
			v, err = parseMap(body, depth)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected field %d of type %d", ErrMalformed, num, typ)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
	}
	if err != nil {
		return nil, err
	}
	if len(b[n:]) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(b[n:]))
	}
	return v, nil
}

// eachElem calls fn for every length-delimited field 1 of body.
func eachElem(body []byte, fn func([]byte) error) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		if num != fieldElem || typ != protowire.BytesType {
			return fmt.Errorf("%w: unexpected element field %d", ErrMalformed, num)
		}
		body = body[n:]
		elem, n := protowire.ConsumeBytes(body)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		body = body[n:]
		if err := fn(elem); err != nil {
			return err
		}
	}
	return nil
}

func parseArray(body []byte, depth int) ([]any, error) {
	arr := []any{}
	err := eachElem(body, func(elem []byte) error {
		v, err := parseValue(elem, depth+1)
		if err != nil {
			return err
		}
		arr = append(arr, v)
		return nil
	})
	return arr, err
}

func parseMap(body []byte, depth int) (map[string]any, error) {
	m := map[string]any{}
	err := eachElem(body, func(entry []byte) error {
		var (
			key    string
			val    any
			hasKey bool
			hasVal bool
		)
		for len(entry) > 0 {
			num, typ, n := protowire.ConsumeTag(entry)
			if n < 0 || typ != protowire.BytesType {
				return fmt.Errorf("%w: map entry", ErrMalformed)
			}
			entry = entry[n:]
			field, n := protowire.ConsumeBytes(entry)
			if n < 0 {
				return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
			}
			entry = entry[n:]

			switch num {
			case fieldEntryKey:
				key, hasKey = string(field), true
			case fieldEntryVal:
				v, err := parseValue(field, depth+1)
				if err != nil {
					return err
				}
				val, hasVal = v, true
			default:
				return fmt.Errorf("%w: unexpected map entry field %d", ErrMalformed, num)
			}
		}
		if !hasKey || !hasVal {
			return fmt.Errorf("%w: incomplete map entry", ErrMalformed)
		}
		m[key] = val
		return nil
	})
	return m, err
}
