// Package ipv4 provides an explicit, offset-based view over an IPv4 header
// carried in a raw packet buffer, plus the Internet checksum algorithm.
//
// This replaces the source program's approach of reinterpreting a byte
// buffer as a C struct via pointer cast: every field here is read and
// written through encoding/binary at a named offset, which sidesteps the
// alignment and byte-order assumptions pointer casts rely on.
package ipv4

import "encoding/binary"

// HeaderLen is the length of a fixed IPv4 header with no options (IHL=5),
// which is the only layout the tunnel's codec deals with.
const HeaderLen = 20

// Offsets of fields within a HeaderLen-byte IPv4 header.
const (
	offVersionIHL = 0
	offTotalLen   = 2
	offID         = 4
	offTTL        = 8
	offProtocol   = 9
	offChecksum   = 10
	offSrcAddr    = 12
	offDstAddr    = 16
)

// Header is a view over the first HeaderLen bytes of a packet buffer.
type Header []byte

// Version returns the IP version field.
func (h Header) Version() int { return int(h[offVersionIHL] >> 4) }

// IHL returns the header length in 32-bit words.
func (h Header) IHL() int { return int(h[offVersionIHL] & 0x0f) }

// HeaderLen returns the header length in bytes.
func (h Header) HeaderLen() int { return h.IHL() * 4 }

// TotalLen returns the total datagram length in bytes.
func (h Header) TotalLen() int { return int(binary.BigEndian.Uint16(h[offTotalLen:])) }

// ID returns the IP identification field, in host order.
func (h Header) ID() uint16 { return binary.BigEndian.Uint16(h[offID:]) }

// SetID writes id, in host order, into the identification field.
func (h Header) SetID(id uint16) { binary.BigEndian.PutUint16(h[offID:], id) }

// TTL returns the time-to-live field.
func (h Header) TTL() int { return int(h[offTTL]) }

// Protocol returns the upper-layer protocol number (6 for TCP).
func (h Header) Protocol() int { return int(h[offProtocol]) }

// Checksum returns the header checksum field as stored on the wire.
func (h Header) Checksum() uint16 { return binary.BigEndian.Uint16(h[offChecksum:]) }

// SetChecksum writes the header checksum field.
func (h Header) SetChecksum(sum uint16) { binary.BigEndian.PutUint16(h[offChecksum:], sum) }

// SrcAddr returns the four raw bytes of the source address, network order.
func (h Header) SrcAddr() [4]byte { return rawAddr(h[offSrcAddr:]) }

// DstAddr returns the four raw bytes of the destination address, network order.
func (h Header) DstAddr() [4]byte { return rawAddr(h[offDstAddr:]) }

func rawAddr(b []byte) [4]byte {
	var a [4]byte
	copy(a[:], b[:4])
	return a
}

// Checksum computes the standard 16-bit one's-complement Internet checksum
// over b: 16-bit words are summed, a trailing odd byte is zero-padded, the
// 32-bit accumulator is folded into 16 bits twice, and the result is
// bitwise-inverted. The checksum field within b, if any, must be zeroed by
// the caller before calling this function.
func Checksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for n > 1 {
		sum += uint32(binary.BigEndian.Uint16(b))
		b = b[2:]
		n -= 2
	}
	if n == 1 {
		sum += uint32(b[0]) << 8
	}
	sum = (sum >> 16) + (sum & 0xffff)
	sum += sum >> 16
	return ^uint16(sum)
}
