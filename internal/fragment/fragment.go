// Package fragment splits envelopes that do not fit into a single transport
// frame and puts them back together on the other side.
//
// Fragmented traffic travels on its own channel as a header frame
// (u8 count ++ varint size) followed by count fragment frames
// (u8 index ++ chunk).
package fragment

import (
	"fmt"

	"github.com/blukai/featherlink/internal/buffer"
)

const (
	// FrameCeiling is the largest frame the host transports accept.
	FrameCeiling = 32766
	// FragmentSize is the chunk carried by one fragment, one byte of the
	// frame is taken by the index.
	FragmentSize = FrameCeiling - 1
	MaxFragments = 255
	MaxPayload   = FragmentSize * MaxFragments

	headerMaxSize = 1 + buffer.MaxVarintLen
)

var (
	ErrMalformedHeader    = fmt.Errorf("%w: malformed fragment header", buffer.ErrMessage)
	ErrUnexpectedFragment = fmt.Errorf("%w: unexpected fragment", buffer.ErrMessage)
	ErrSizeOverflow       = fmt.Errorf("%w: fragment exceeds declared size", buffer.ErrMessage)
	ErrIncomplete         = fmt.Errorf("%w: fragments do not add up to declared size", buffer.ErrMessage)
)

// Fits reports whether an envelope of size bytes can be sent as a single
// whole frame.
func Fits(size int) bool { return size <= FragmentSize }

func fragmentCount(size int) int {
	return (size + FragmentSize - 1) / FragmentSize
}

type Header struct {
	Count uint8
	Size  uint32
}

// NewHeader describes a payload of size bytes. It fails when the payload
// would need more than MaxFragments fragments.
func NewHeader(size int) (Header, error) {
	if size < 0 || size > MaxPayload {
		return Header{}, &buffer.OverflowError{What: "fragments", Size: fragmentCount(size), Limit: MaxFragments}
	}
	return Header{Count: uint8(fragmentCount(size)), Size: uint32(size)}, nil
}

func (h Header) MarshalBinary() ([]byte, error) {
	b := buffer.New(headerMaxSize)
	b.WriteUint8(h.Count)
	b.WriteVarint(h.Size)
	return b.Bytes(), nil
}

// UnmarshalBinary only accepts headers Split could have produced: the frame
// is consumed exactly and Count is the fragment count Size calls for.
func (h *Header) UnmarshalBinary(data []byte) error {
	b := buffer.Wrap(data)

	count, err := b.ReadUint8()
	if err != nil {
		return err
	}
	size, err := b.ReadVarint()
	if err != nil {
		return err
	}
	if size > MaxPayload {
		return &buffer.OverflowError{What: "fragmented payload", Size: int(size), Limit: MaxPayload}
	}
	if b.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedHeader, b.Remaining())
	}
	if int(count) != fragmentCount(int(size)) {
		return fmt.Errorf("%w: %d fragments for %d bytes", ErrMalformedHeader, count, size)
	}

	h.Count = count
	h.Size = size
	return nil
}

// Split turns envelope into a header frame followed by its fragment frames.
// Nothing is returned when envelope is too large.
func Split(envelope []byte) ([][]byte, error) {
	header, err := NewHeader(len(envelope))
	if err != nil {
		return nil, fmt.Errorf("could not fragment %d bytes: %w", len(envelope), err)
	}

	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal header: %w", err)
	}

	frames := make([][]byte, 0, int(header.Count)+1)
	frames = append(frames, headerBytes)
	for i := 0; i < int(header.Count); i++ {
		chunk := envelope[i*FragmentSize : min((i+1)*FragmentSize, len(envelope))]
		frame := make([]byte, 1+len(chunk))
		frame[0] = uint8(i)
		copy(frame[1:], chunk)
		frames = append(frames, frame)
	}
	return frames, nil
}

// Defragmenter reassembles one fragmented payload at a time. It belongs to a
// single connection and is not safe for concurrent use.
type Defragmenter struct {
	active   bool
	header   Header
	payload  []byte
	expected int
}

// Active reports whether a payload is partially assembled.
func (d *Defragmenter) Active() bool { return d.active }

// Reset discards the payload being assembled, if any.
func (d *Defragmenter) Reset() {
	*d = Defragmenter{}
}

// Feed consumes one frame from the fragmented channel. complete is true once
// the last fragment has arrived, payload then holds the reassembled envelope.
//
// A frame that arrives while idle must be a header. While active, the next
// fragment carries the expected index and exactly the bytes still owed: a full
// chunk, or the remainder for the last one. Any other frame starts over when
// it is a well formed header and discards the session otherwise.
func (d *Defragmenter) Feed(frame []byte) (payload []byte, complete bool, err error) {
	if !d.active {
		return d.start(frame)
	}

	want := d.expected
	required := 1 + min(FragmentSize, int(d.header.Size)-len(d.payload))
	if len(frame) == required && int(frame[0]) == want {
		d.payload = append(d.payload, frame[1:]...)
		d.expected++

		if d.expected < int(d.header.Count) {
			return nil, false, nil
		}
		return d.finish()
	}

	d.Reset()
	if payload, complete, err := d.start(frame); err == nil {
		return payload, complete, nil
	}

	switch {
	case len(frame) == 0:
		return nil, false, fmt.Errorf("%w: empty frame", ErrUnexpectedFragment)
	case int(frame[0]) != want:
		return nil, false, fmt.Errorf("%w: got index %d, want %d", ErrUnexpectedFragment, frame[0], want)
	case len(frame) > required:
		return nil, false, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeOverflow, len(frame)-1, required-1)
	default:
		return nil, false, fmt.Errorf("%w: got %d bytes, want %d", ErrIncomplete, len(frame)-1, required-1)
	}
}

func (d *Defragmenter) start(frame []byte) ([]byte, bool, error) {
	var header Header
	if err := header.UnmarshalBinary(frame); err != nil {
		return nil, false, fmt.Errorf("could not read fragment header: %w", err)
	}

	d.active = true
	d.header = header
	d.payload = make([]byte, 0, header.Size)
	d.expected = 0

	if header.Count == 0 {
		return d.finish()
	}
	return nil, false, nil
}

func (d *Defragmenter) finish() ([]byte, bool, error) {
	payload, size := d.payload, d.header.Size
	d.Reset()
	if len(payload) != int(size) {
		return nil, false, fmt.Errorf("%w: got %d, want %d", ErrIncomplete, len(payload), size)
	}
	return payload, true, nil
}
