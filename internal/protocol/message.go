// Package protocol defines the messages exchanged between the server plugin
// and the client mod, the per-direction registries that map them to ids, and
// the envelope codec (varint id ++ body).
package protocol

import (
	"github.com/blukai/featherlink/internal/buffer"
)

// Version is the protocol version announced in the handshake.
const Version uint32 = 1

type Direction uint8

const (
	// ServerBound messages travel from the client mod to the server.
	ServerBound Direction = iota
	// ClientBound messages travel from the server to the client mod.
	ClientBound
)

func (d Direction) String() string {
	switch d {
	case ServerBound:
		return "server-bound"
	case ClientBound:
		return "client-bound"
	default:
		return "unknown"
	}
}

// ID identifies a message type within one direction.
type ID uint32

// Message is an immutable, direction-tagged value that can write its own
// body.
type Message interface {
	Direction() Direction
	Write(b *buffer.Buffer) error
}

type serverBound struct{}

func (serverBound) Direction() Direction { return ServerBound }

type clientBound struct{}

func (clientBound) Direction() Direction { return ClientBound }
