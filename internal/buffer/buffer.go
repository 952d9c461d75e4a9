// Package buffer reads and writes the primitive values of the messaging wire
// format. It knows nothing about messages.
package buffer

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/blukai/featherlink/internal/byteorder"
	"github.com/google/uuid"
)

const (
	DefaultCapacity = 32
	// DefaultStringLimit is the peer's Short.MAX_VALUE.
	DefaultStringLimit = math.MaxInt16
	MaxVarintLen       = 5

	// a single utf-16 code unit never takes more than 3 utf-8 bytes.
	worstCaseUTF8Size = 3
)

// Buffer is a growable byte buffer with an append-only write side and an
// independent read cursor. It is not safe for concurrent use.
type Buffer struct {
	data []byte
	off  int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Wrap returns a buffer reading data from the start. data is not copied, but
// writes never touch it.
func Wrap(data []byte) *Buffer {
	return &Buffer{data: data[:len(data):len(data)]}
}

// Bytes returns every byte written so far, regardless of the read cursor.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) Cap() int { return cap(b.data) }

// Remaining is the number of bytes not yet read.
func (b *Buffer) Remaining() int { return len(b.data) - b.off }

// ensure makes room for n more bytes, doubling capacity as many times as
// needed.
func (b *Buffer) ensure(n int) {
	if cap(b.data)-len(b.data) >= n {
		return
	}
	newCap := cap(b.data) * 2
	if newCap == 0 {
		newCap = DefaultCapacity
	}
	for newCap < len(b.data)+n {
		newCap *= 2
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// grow extends the written region by n bytes and returns it.
func (b *Buffer) grow(n int) []byte {
	b.ensure(n)
	l := len(b.data)
	b.data = b.data[:l+n]
	return b.data[l:]
}

// next consumes n bytes from the read side.
func (b *Buffer) next(n int) ([]byte, error) {
	if n < 0 || b.Remaining() < n {
		return nil, ErrTruncated
	}
	p := b.data[b.off : b.off+n]
	b.off += n
	return p, nil
}

func (b *Buffer) WriteUint8(v uint8) {
	b.grow(1)[0] = v
}

func (b *Buffer) ReadUint8() (uint8, error) {
	p, err := b.next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) WriteInt32(v int32) {
	byteorder.PutHtonl(b.grow(4), uint32(v))
}

func (b *Buffer) ReadInt32() (int32, error) {
	p, err := b.next(4)
	if err != nil {
		return 0, err
	}
	return int32(byteorder.Ntohl(p)), nil
}

func (b *Buffer) WriteInt64(v int64) {
	byteorder.PutHtonll(b.grow(8), uint64(v))
}

func (b *Buffer) ReadInt64() (int64, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	return int64(byteorder.Ntohll(p)), nil
}

// VarintSize is the number of bytes WriteVarint uses for v.
func VarintSize(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// WriteVarint writes v in 7 bit groups, least significant group first, with
// the high bit of each byte set when another group follows.
func (b *Buffer) WriteVarint(v uint32) {
	p := b.grow(VarintSize(v))
	i := 0
	for v >= 0x80 {
		p[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	p[i] = byte(v)
}

func (b *Buffer) ReadVarint() (uint32, error) {
	var result uint32
	for shift := 0; ; shift += 7 {
		if shift >= 7*MaxVarintLen {
			return 0, overflow("varint", shift/7+1, MaxVarintLen)
		}
		c, err := b.ReadUint8()
		if err != nil {
			return 0, err
		}
		result |= uint32(c&0x7f) << shift
		if c&0x80 == 0 {
			return result, nil
		}
	}
}

// readLength reads a varint length prefix and checks it against limit.
func (b *Buffer) readLength(what string, limit int) (int, error) {
	n, err := b.ReadVarint()
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: negative %s length (%d)", ErrMessage, what, int32(n))
	}
	if int(n) > limit {
		return 0, overflow(what, int(n), limit)
	}
	return int(n), nil
}

// utf16Len counts s the way the peer measures string length.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// WriteString writes s as a varint byte length followed by its utf-8 bytes.
// limit caps the character count (utf-16 code units).
func (b *Buffer) WriteString(s string, limit int) error {
	if !utf8.ValidString(s) {
		return ErrInvalidString
	}
	if n := utf16Len(s); n > limit {
		return overflow("string", n, limit)
	}
	if encodingLimit := limit * worstCaseUTF8Size; len(s) > encodingLimit {
		return overflow("string", len(s), encodingLimit)
	}
	b.WriteVarint(uint32(len(s)))
	copy(b.grow(len(s)), s)
	return nil
}

func (b *Buffer) ReadString(limit int) (string, error) {
	n, err := b.readLength("string", limit*worstCaseUTF8Size)
	if err != nil {
		return "", err
	}
	p, err := b.next(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", ErrInvalidString
	}
	s := string(p)
	if n := utf16Len(s); n > limit {
		return "", overflow("string", n, limit)
	}
	return s, nil
}

func (b *Buffer) WriteByteArray(p []byte) {
	b.WriteVarint(uint32(len(p)))
	b.WriteRaw(p)
}

// ReadByteArray reads a varint length prefixed byte array of at most limit
// bytes. The result does not alias the buffer.
func (b *Buffer) ReadByteArray(limit int) ([]byte, error) {
	n, err := b.readLength("byte array", limit)
	if err != nil {
		return nil, err
	}
	return b.ReadRaw(n)
}

// WriteRaw appends p without a length prefix.
func (b *Buffer) WriteRaw(p []byte) {
	copy(b.grow(len(p)), p)
}

// ReadRaw consumes exactly n bytes and returns a copy of them.
func (b *Buffer) ReadRaw(n int) ([]byte, error) {
	p, err := b.next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
}

func (b *Buffer) ReadBool() (bool, error) {
	c, err := b.ReadUint8()
	if err != nil {
		return false, err
	}
	return c != 0, nil
}

// WriteUUID writes id as its most significant 64 bits followed by the least
// significant 64 bits.
func (b *Buffer) WriteUUID(id uuid.UUID) {
	b.WriteInt64(int64(byteorder.Ntohll(id[0:8])))
	b.WriteInt64(int64(byteorder.Ntohll(id[8:16])))
}

func (b *Buffer) ReadUUID() (uuid.UUID, error) {
	var id uuid.UUID
	msb, err := b.ReadInt64()
	if err != nil {
		return id, err
	}
	lsb, err := b.ReadInt64()
	if err != nil {
		return id, err
	}
	byteorder.PutHtonll(id[0:8], uint64(msb))
	byteorder.PutHtonll(id[8:16], uint64(lsb))
	return id, nil
}
