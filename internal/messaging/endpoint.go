// Package messaging connects the protocol core to a host transport: outbound
// messages are encoded (and fragmented when needed) into frames, inbound
// frames are reassembled, decoded and routed.
package messaging

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blukai/featherlink/internal/fragment"
	"github.com/blukai/featherlink/internal/protocol"
)

// Channel is the logical sub-channel a frame travels on.
type Channel string

const (
	ChannelWhole      Channel = "feather:client"
	ChannelFragmented Channel = "feather:client/frag"
)

var ErrUnknownChannel = errors.New("unknown channel")

// FrameSender hands frames to the host transport.
type FrameSender interface {
	SendFrame(ch Channel, frame []byte) error
}

type FrameSenderFunc func(ch Channel, frame []byte) error

func (f FrameSenderFunc) SendFrame(ch Channel, frame []byte) error { return f(ch, frame) }

type Frame struct {
	Channel Channel
	Data    []byte
}

// EncodeFrames encodes m with codec and returns the frames to send, in order.
func EncodeFrames(codec *protocol.Codec, m protocol.Message) ([]Frame, error) {
	envelope, err := codec.Encode(m)
	if err != nil {
		return nil, fmt.Errorf("could not encode: %w", err)
	}

	if fragment.Fits(len(envelope)) {
		return []Frame{{Channel: ChannelWhole, Data: envelope}}, nil
	}

	split, err := fragment.Split(envelope)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, len(split))
	for i, data := range split {
		frames[i] = Frame{Channel: ChannelFragmented, Data: data}
	}
	return frames, nil
}

// Endpoint is one side of one connection. Send may be called from any
// goroutine; Receive must be fed the connection's frames in arrival order
// from one goroutine at a time.
type Endpoint struct {
	sender FrameSender
	out    *protocol.Codec
	in     *protocol.Codec

	// fragments of one message must not interleave with another
	sendMu sync.Mutex

	defrag fragment.Defragmenter
}

func NewEndpoint(sender FrameSender, out, in *protocol.Codec) *Endpoint {
	return &Endpoint{
		sender: sender,
		out:    out,
		in:     in,
	}
}

// NewServerEndpoint sends client-bound and receives server-bound messages.
func NewServerEndpoint(sender FrameSender) *Endpoint {
	return NewEndpoint(sender, protocol.ClientBoundCodec, protocol.ServerBoundCodec)
}

// NewClientEndpoint sends server-bound and receives client-bound messages.
func NewClientEndpoint(sender FrameSender) *Endpoint {
	return NewEndpoint(sender, protocol.ServerBoundCodec, protocol.ClientBoundCodec)
}

func (e *Endpoint) Send(m protocol.Message) error {
	frames, err := EncodeFrames(e.out, m)
	if err != nil {
		return fmt.Errorf("could not send %T: %w", m, err)
	}
	return e.SendFrames(frames)
}

// SendFrames sends frames produced by EncodeFrames with the outbound codec
// of this endpoint.
func (e *Endpoint) SendFrames(frames []Frame) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	for _, frame := range frames {
		if err := e.sender.SendFrame(frame.Channel, frame.Data); err != nil {
			return fmt.Errorf("could not send frame on %s: %w", frame.Channel, err)
		}
	}
	return nil
}

// Receive consumes one inbound frame. ok is false while a fragmented message
// is still incomplete. Errors only concern the frame (and the fragmented
// message) that caused them.
func (e *Endpoint) Receive(ch Channel, frame []byte) (m protocol.Message, ok bool, err error) {
	envelope, ok, err := e.Reassemble(ch, frame)
	if err != nil || !ok {
		return nil, false, err
	}

	m, err = e.in.Decode(envelope)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Reassemble is Receive without decoding: it returns the envelope once one is
// complete.
func (e *Endpoint) Reassemble(ch Channel, frame []byte) (envelope []byte, ok bool, err error) {
	switch ch {
	case ChannelWhole:
		return frame, true, nil
	case ChannelFragmented:
		payload, complete, err := e.defrag.Feed(frame)
		if err != nil {
			return nil, false, fmt.Errorf("could not defragment: %w", err)
		}
		return payload, complete, nil
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
}

// Reset discards a partially received fragmented message.
func (e *Endpoint) Reset() {
	e.defrag.Reset()
}
