package protocol

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/blukai/featherlink/internal/buffer"
)

var (
	ErrAlreadyRegistered = errors.New("message already registered")
	ErrIDOutOfOrder      = errors.New("message id out of order")
	ErrWrongDirection    = errors.New("message registered in the wrong direction")
	ErrNotRegistered     = errors.New("message not registered")
	// ErrUnknownMessage is returned when decoding an id nobody registered. It
	// is recoverable: the connection is bad, the process is fine.
	ErrUnknownMessage = fmt.Errorf("%w: unknown message id", buffer.ErrMessage)
)

type decodeFunc func(b *buffer.Buffer) (Message, error)

// Registry maps message types to ids for one direction. It is populated once
// at startup and only read afterwards, so lookups need no locking.
type Registry struct {
	direction Direction
	decoders  []decodeFunc
	ids       map[reflect.Type]ID
}

func NewRegistry(direction Direction) *Registry {
	return &Registry{
		direction: direction,
		ids:       make(map[reflect.Type]ID),
	}
}

func (r *Registry) Direction() Direction { return r.direction }

// Len is the number of registered message types.
func (r *Registry) Len() int { return len(r.decoders) }

// Register adds M under id. ids are frozen constants, but they must still be
// handed out densely in registration order starting from 0.
func Register[M Message](r *Registry, id ID, decode func(b *buffer.Buffer) (M, error)) error {
	typ := reflect.TypeOf((*M)(nil)).Elem()

	if existing, ok := r.ids[typ]; ok {
		return fmt.Errorf("%w: %v (%s) has id %d", ErrAlreadyRegistered, typ, r.direction, existing)
	}
	if int(id) != len(r.decoders) {
		return fmt.Errorf("%w: %v given id %d, next %s id is %d", ErrIDOutOfOrder, typ, id, r.direction, len(r.decoders))
	}
	var zero M
	if zero.Direction() != r.direction {
		return fmt.Errorf("%w: %v is %s", ErrWrongDirection, typ, zero.Direction())
	}

	r.ids[typ] = id
	r.decoders = append(r.decoders, func(b *buffer.Buffer) (Message, error) {
		m, err := decode(b)
		if err != nil {
			return nil, fmt.Errorf("could not decode %v: %w", typ, err)
		}
		return m, nil
	})
	return nil
}

// ID returns the id registered for m's runtime type.
func (r *Registry) ID(m Message) (ID, error) {
	id, ok := r.ids[reflect.TypeOf(m)]
	if !ok {
		return 0, fmt.Errorf("%w: %T (%s)", ErrNotRegistered, m, r.direction)
	}
	return id, nil
}

// Decode constructs the message registered under id from b.
func (r *Registry) Decode(id ID, b *buffer.Buffer) (Message, error) {
	if uint64(id) >= uint64(len(r.decoders)) {
		return nil, fmt.Errorf("%w %d (%s)", ErrUnknownMessage, id, r.direction)
	}
	return r.decoders[id](b)
}
