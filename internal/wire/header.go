// Package wire implements the binary framing primitives of the data and
// control channels: the fixed-layout UDP packet header and the
// length-prefixed JSON frame used on the control socket.
package wire

import "encoding/binary"

// Header32Size is the encoded size of the 32-bit packet_count layout (!iii).
const Header32Size = 12

// Header64Size is the encoded size of the 64-bit packet_count layout (!iil):
// two big-endian int32 fields followed by one big-endian int64 field. The
// reference's format specifier is platform-dependent for the third field;
// this is fixed here as a big-endian 8-byte extension (see DESIGN.md).
const Header64Size = 16

// Header is the UDP data-plane packet header: sender timestamp (sec, usec)
// and a 1-based strictly increasing per-stream sequence number. Fields are
// stored widened regardless of which wire layout encodes them.
type Header struct {
	Sec         int64
	Usec        int64
	PacketCount int64
}

// Encode32 writes the !iii layout: three big-endian 32-bit signed integers.
func (h Header) Encode32(buf []byte) {
	_ = buf[:Header32Size]
	binary.BigEndian.PutUint32(buf[0:4], uint32(int32(h.Sec)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(int32(h.Usec)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(int32(h.PacketCount)))
}

// Decode32 reads the !iii layout produced by Encode32.
func Decode32(buf []byte) Header {
	_ = buf[:Header32Size]
	return Header{
		Sec:         int64(int32(binary.BigEndian.Uint32(buf[0:4]))),
		Usec:        int64(int32(binary.BigEndian.Uint32(buf[4:8]))),
		PacketCount: int64(int32(binary.BigEndian.Uint32(buf[8:12]))),
	}
}

// Encode64 writes the !iil layout: two big-endian 32-bit fields (sec, usec)
// followed by one big-endian 64-bit field (packet_count).
func (h Header) Encode64(buf []byte) {
	_ = buf[:Header64Size]
	binary.BigEndian.PutUint32(buf[0:4], uint32(int32(h.Sec)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(int32(h.Usec)))
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.PacketCount))
}

// Decode64 reads the !iil layout produced by Encode64.
func Decode64(buf []byte) Header {
	_ = buf[:Header64Size]
	return Header{
		Sec:         int64(int32(binary.BigEndian.Uint32(buf[0:4]))),
		Usec:        int64(int32(binary.BigEndian.Uint32(buf[4:8]))),
		PacketCount: int64(binary.BigEndian.Uint64(buf[8:16])),
	}
}

// Encode picks the 32-bit or 64-bit layout based on use64 and returns a
// freshly allocated buffer of the matching size.
func Encode(h Header, use64 bool) []byte {
	if use64 {
		buf := make([]byte, Header64Size)
		h.Encode64(buf)
		return buf
	}
	buf := make([]byte, Header32Size)
	h.Encode32(buf)
	return buf
}

// Decode picks the 32-bit or 64-bit layout based on use64.
func Decode(buf []byte, use64 bool) Header {
	if use64 {
		return Decode64(buf)
	}
	return Decode32(buf)
}

// Size returns the encoded header size for the given layout.
func Size(use64 bool) int {
	if use64 {
		return Header64Size
	}
	return Header32Size
}
