package byteorder

import (
	"encoding/binary"
)

// the peer runs on a jvm, whose ByteBuffer defaults to big endian, so every
// fixed-width number on the wire is in network order.

// decrypt names:
// h  = host
// n  = network
// l  = long      = 32 bit
// ll = long long = 64 bit

// PutHtonl writes val into the first 4 bytes of dst.
func PutHtonl(dst []byte, val uint32) {
	binary.BigEndian.PutUint32(dst, val)
}

// PutHtonll writes val into the first 8 bytes of dst.
func PutHtonll(dst []byte, val uint64) {
	binary.BigEndian.PutUint64(dst, val)
}

func Ntohl(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

func Ntohll(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}
