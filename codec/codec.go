// Package codec contains payload codecs for typed streams.
package codec

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/ozontech/pnrpc/value"
)

// Codec converts a typed payload to bytes and back.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }

type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return append([]byte{}, b...), nil }

// Uint32 is a fixed 4-byte big-endian integer.
type Uint32 struct{}

func (Uint32) Encode(n uint32) ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, n), nil
}

func (Uint32) Decode(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("codec: uint32 payload of %d bytes", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint32Slice encodes a list of integers as a value array.
type Uint32Slice struct{}

func (Uint32Slice) Encode(s []uint32) ([]byte, error) {
	return value.Serialize(s)
}

func (Uint32Slice) Decode(b []byte) ([]uint32, error) {
	v, err := value.Parse(b)
	if err != nil {
		return nil, err
	}
	arr, err := value.AsArray(v)
	if err != nil {
		return nil, err
	}
	s := make([]uint32, len(arr))
	for i, elem := range arr {
		s[i], err = value.AsUint32(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return s, nil
}

// Value passes generic values through the value codec.
type Value struct{}

func (Value) Encode(v any) ([]byte, error) { return value.Serialize(v) }
func (Value) Decode(b []byte) (any, error) { return value.Parse(b) }

// Proto encodes protobuf messages. New must return an empty message to decode into.
type Proto[T proto.Message] struct {
	New func() T
}

func (p Proto[T]) Encode(m T) ([]byte, error) { return proto.Marshal(m) }

func (p Proto[T]) Decode(b []byte) (T, error) {
	m := p.New()
	if err := proto.Unmarshal(b, m); err != nil {
		var zero T
		return zero, err
	}
	return m, nil
}
