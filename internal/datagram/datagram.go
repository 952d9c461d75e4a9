// Package datagram maps messaging frames onto udp datagrams: one kind byte
// naming the channel, then the frame.
package datagram

import (
	"errors"
	"fmt"

	"github.com/blukai/featherlink/internal/fragment"
	"github.com/blukai/featherlink/internal/messaging"
)

type Kind uint8

const (
	KindKeepAlive Kind = iota
	KindWhole
	KindFragmented
)

const (
	HeaderSize = 1
	// MaxSize fits the largest frame either channel carries.
	MaxSize = HeaderSize + fragment.FrameCeiling
)

var (
	ErrEmpty       = errors.New("empty datagram")
	ErrUnknownKind = errors.New("unknown datagram kind")
)

func KindOf(ch messaging.Channel) (Kind, error) {
	switch ch {
	case messaging.ChannelWhole:
		return KindWhole, nil
	case messaging.ChannelFragmented:
		return KindFragmented, nil
	default:
		return 0, fmt.Errorf("%w: %q", messaging.ErrUnknownChannel, ch)
	}
}

// Channel is only meaningful for kinds that carry a frame.
func (k Kind) Channel() (messaging.Channel, bool) {
	switch k {
	case KindWhole:
		return messaging.ChannelWhole, true
	case KindFragmented:
		return messaging.ChannelFragmented, true
	default:
		return "", false
	}
}

// Marshal returns a new datagram carrying frame on ch.
func Marshal(ch messaging.Channel, frame []byte) ([]byte, error) {
	kind, err := KindOf(ch)
	if err != nil {
		return nil, err
	}
	if len(frame) > fragment.FrameCeiling {
		return nil, fmt.Errorf("frame too large (got %d; want <= %d)", len(frame), fragment.FrameCeiling)
	}

	data := make([]byte, HeaderSize+len(frame))
	data[0] = byte(kind)
	copy(data[HeaderSize:], frame)
	return data, nil
}

func KeepAlive() []byte {
	return []byte{byte(KindKeepAlive)}
}

// Unmarshal splits data into its kind and frame. The frame aliases data.
func Unmarshal(data []byte) (Kind, []byte, error) {
	if len(data) < HeaderSize {
		return 0, nil, ErrEmpty
	}

	kind := Kind(data[0])
	switch kind {
	case KindKeepAlive:
		if len(data) != HeaderSize {
			return 0, nil, fmt.Errorf("keep alive with %d byte body", len(data)-HeaderSize)
		}
	case KindWhole, KindFragmented:
	default:
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return kind, data[HeaderSize:], nil
}
