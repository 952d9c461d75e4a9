package buffer

import (
	"fmt"

	"github.com/google/uuid"
)

// Encoder writes a single value of T.
type Encoder[T any] func(b *Buffer, v T) error

// Decoder reads a single value of T.
type Decoder[T any] func(b *Buffer) (T, error)

func StringEncoder(limit int) Encoder[string] {
	return func(b *Buffer, v string) error {
		return b.WriteString(v, limit)
	}
}

func StringDecoder(limit int) Decoder[string] {
	return func(b *Buffer) (string, error) {
		return b.ReadString(limit)
	}
}

func EncodeVarint(b *Buffer, v uint32) error {
	b.WriteVarint(v)
	return nil
}

func EncodeUUID(b *Buffer, v uuid.UUID) error {
	b.WriteUUID(v)
	return nil
}

// WriteOptional writes a presence byte followed by *v when v is not nil.
func WriteOptional[T any](b *Buffer, v *T, enc Encoder[T]) error {
	b.WriteBool(v != nil)
	if v == nil {
		return nil
	}
	return enc(b, *v)
}

func ReadOptional[T any](b *Buffer, dec Decoder[T]) (*T, error) {
	present, err := b.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	v, err := dec(b)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// WriteCollection writes a varint element count followed by every element.
func WriteCollection[T any](b *Buffer, items []T, enc Encoder[T]) error {
	b.WriteVarint(uint32(len(items)))
	for i, item := range items {
		if err := enc(b, item); err != nil {
			return fmt.Errorf("could not write element %d: %w", i, err)
		}
	}
	return nil
}

// ReadCollection reads a collection written by WriteCollection. Every element
// codec in this protocol takes at least one byte, so a count larger than the
// unread bytes is rejected before anything is allocated.
func ReadCollection[T any](b *Buffer, dec Decoder[T]) ([]T, error) {
	n, err := b.readLength("collection", b.Remaining())
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, err := dec(b)
		if err != nil {
			return nil, fmt.Errorf("could not read element %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// WriteEnum writes the ordinal of v within values.
func WriteEnum[E comparable](b *Buffer, v E, values []E) error {
	for i, candidate := range values {
		if candidate == v {
			b.WriteVarint(uint32(i))
			return nil
		}
	}
	return fmt.Errorf("%w: %T value %v has no ordinal", ErrMessage, v, v)
}

// ReadEnum reads an ordinal and maps it back through values.
func ReadEnum[E comparable](b *Buffer, values []E) (E, error) {
	var zero E
	n, err := b.ReadVarint()
	if err != nil {
		return zero, err
	}
	if uint64(n) >= uint64(len(values)) {
		return zero, fmt.Errorf("%w: unknown %T ordinal %d", ErrMessage, zero, n)
	}
	return values[n], nil
}
