package protocol

import (
	"fmt"

	"github.com/blukai/featherlink/internal/buffer"
)

// Codec encodes and decodes envelopes (varint id ++ body) for a single
// direction. The direction is a property of the channel, never of the bytes.
type Codec struct {
	registry *Registry
}

var (
	ServerBoundCodec = NewCodec(ServerBoundMessages)
	ClientBoundCodec = NewCodec(ClientBoundMessages)
)

func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

func (c *Codec) Direction() Direction { return c.registry.Direction() }

func (c *Codec) Encode(m Message) ([]byte, error) {
	id, err := c.registry.ID(m)
	if err != nil {
		return nil, err
	}

	b := buffer.New(0)
	b.WriteVarint(uint32(id))
	if err := m.Write(b); err != nil {
		return nil, fmt.Errorf("could not write %T: %w", m, err)
	}
	return b.Bytes(), nil
}

func (c *Codec) Decode(envelope []byte) (Message, error) {
	b := buffer.Wrap(envelope)
	id, err := b.ReadVarint()
	if err != nil {
		return nil, fmt.Errorf("could not read message id: %w", err)
	}
	return c.registry.Decode(ID(id), b)
}
