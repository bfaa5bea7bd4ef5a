// Package tcpseg provides an offset-based view over a TCP header and its
// fixed-layout Timestamp option, pure-ACK classification, and duplicate-ACK
// fabrication — the packet-mutation half of the tunnel's codec.
//
// As in internal/ipv4, every field is read and written at a named offset
// through encoding/binary rather than by reinterpreting the buffer as an
// overlapping C struct.
package tcpseg

import (
	"encoding/binary"

	"github.com/cmanso/acktun/internal/ipv4"
)

// HeaderLen is the length of a fixed TCP header with no options.
const HeaderLen = 20

// TimestampOptLen is the length of the fixed-layout Timestamp option this
// package understands: two padding bytes, kind, length, TSval, TSecr.
const TimestampOptLen = 12

// Offsets within a HeaderLen-byte TCP header.
const (
	offSrcPort  = 0
	offDstPort  = 2
	offSeq      = 4
	offAckSeq   = 8
	offDataOff  = 12
	offFlags    = 13
	offChecksum = 16
)

// Flag bits within the flags byte.
const (
	flagFIN = 1 << 0
	flagSYN = 1 << 1
	flagRST = 1 << 2
	flagPSH = 1 << 3
	flagACK = 1 << 4
	flagURG = 1 << 5
)

// protocolTCP is the IPv4 protocol number for TCP.
const protocolTCP = 6

// Header is a view over HeaderLen bytes of a packet buffer, starting at the
// TCP header (i.e. after the IPv4 header).
type Header []byte

func (h Header) flags() byte { return h[offFlags] }

// Seq returns the TCP sequence number, host order.
func (h Header) Seq() uint32 { return binary.BigEndian.Uint32(h[offSeq:]) }

// AckSeq returns the TCP acknowledgment number, host order.
func (h Header) AckSeq() uint32 { return binary.BigEndian.Uint32(h[offAckSeq:]) }

// DataOffset returns the data offset field in 32-bit words.
func (h Header) DataOffset() int { return int(h[offDataOff] >> 4) }

// ACK reports whether the ACK flag is set.
func (h Header) ACK() bool { return h.flags()&flagACK != 0 }

// URG reports whether the URG flag is set.
func (h Header) URG() bool { return h.flags()&flagURG != 0 }

// PSH reports whether the PSH flag is set.
func (h Header) PSH() bool { return h.flags()&flagPSH != 0 }

// RST reports whether the RST flag is set.
func (h Header) RST() bool { return h.flags()&flagRST != 0 }

// SYN reports whether the SYN flag is set.
func (h Header) SYN() bool { return h.flags()&flagSYN != 0 }

// FIN reports whether the FIN flag is set.
func (h Header) FIN() bool { return h.flags()&flagFIN != 0 }

// Checksum returns the TCP checksum field as stored on the wire.
func (h Header) Checksum() uint16 { return binary.BigEndian.Uint16(h[offChecksum:]) }

// SetChecksum writes the TCP checksum field.
func (h Header) SetChecksum(sum uint16) { binary.BigEndian.PutUint16(h[offChecksum:], sum) }

// tcpOffset returns the byte offset of the TCP header within buf, assuming
// buf starts at an IPv4 header.
func tcpOffset(buf []byte) int { return ipv4.Header(buf).HeaderLen() }

// tsOffset returns the byte offset of the Timestamp option within buf,
// assuming the fixed IPv4-header-then-TCP-header-then-Timestamp layout.
func tsOffset(buf []byte) int { return tcpOffset(buf) + HeaderLen }

// TimestampOption is a view over the TimestampOptLen-byte Timestamp option.
type TimestampOption []byte

// TSval returns the sender timestamp, host order.
func (t TimestampOption) TSval() uint32 { return binary.BigEndian.Uint32(t[4:]) }

// SetTSval writes the sender timestamp, host order.
func (t TimestampOption) SetTSval(v uint32) { binary.BigEndian.PutUint32(t[4:], v) }

// TSecr returns the echoed timestamp, host order.
func (t TimestampOption) TSecr() uint32 { return binary.BigEndian.Uint32(t[8:]) }

// Seq returns the TCP sequence number from a buffer assumed to hold an IPv4
// datagram followed by a TCP segment.
func Seq(buf []byte) uint32 {
	return Header(buf[tcpOffset(buf):]).Seq()
}

// AckSeq returns the TCP acknowledgment number and true if the ACK flag is
// set; otherwise it returns false and the number is meaningless. Using an
// explicit ok result, rather than a sentinel int compared as signed against
// an unsigned "unset" value, is a deliberate departure from the source
// program (see DESIGN.md).
func AckSeq(buf []byte) (uint32, bool) {
	h := Header(buf[tcpOffset(buf):])
	if !h.ACK() {
		return 0, false
	}
	return h.AckSeq(), true
}

// TSVal returns the TSval field of the Timestamp option assumed to follow
// the TCP header.
func TSVal(buf []byte) uint32 {
	return TimestampOption(buf[tsOffset(buf):]).TSval()
}

// IsPureACK classifies buf as a pure ACK: protocol TCP, ACK set, no other
// flag set, and zero payload bytes.
func IsPureACK(buf []byte) bool {
	ip := ipv4.Header(buf)
	if ip.Protocol() != protocolTCP {
		return false
	}
	iphdrlen := ip.HeaderLen()
	tcp := Header(buf[iphdrlen:])
	if !tcp.ACK() || tcp.URG() || tcp.PSH() || tcp.RST() || tcp.SYN() || tcp.FIN() {
		return false
	}
	payload := ip.TotalLen() - iphdrlen - tcp.DataOffset()*4
	return payload == 0
}

// dupAckLen is the size of every fabricated duplicate ACK: a fixed IPv4
// header, a fixed TCP header, and the Timestamp option, with no other
// options on either layer.
const dupAckLen = ipv4.HeaderLen + HeaderLen + TimestampOptLen

// pseudoHeaderLen is the size of the IPv4/TCP pseudo-header used for the TCP
// checksum (source+dest address, zero byte, protocol, TCP segment length).
const pseudoHeaderLen = 12

// FabricateDupAck synthesizes a duplicate ACK from template (an IPv4+TCP+
// Timestamp packet with no IP options and no TCP options beyond Timestamp).
// The new packet's IP id is template's id plus plus (mod 65536); its
// Timestamp TSval is set to timestamp; its ACK number, addresses and ports
// are copied verbatim from template.
//
// The IPv4 checksum is computed over the entire fabricated packet
// (IPv4+TCP+Timestamp), not over just the IPv4 header as the IPv4 standard
// requires. This reproduces the source program's behavior exactly
// (process_pkt.c:create_dupack); see DESIGN.md for the open question this
// raises and why it is preserved rather than silently corrected.
func FabricateDupAck(template []byte, plus int, timestamp uint32) []byte {
	srcIP := ipv4.Header(template[:ipv4.HeaderLen])
	srcTCPOff := ipv4.HeaderLen
	srcTSOff := srcTCPOff + HeaderLen

	out := make([]byte, dupAckLen)
	dip := ipv4.Header(out[:ipv4.HeaderLen])
	dtcp := Header(out[ipv4.HeaderLen : ipv4.HeaderLen+HeaderLen])
	dts := TimestampOption(out[ipv4.HeaderLen+HeaderLen:])

	copy(dip, srcIP)
	dip.SetID(srcIP.ID() + uint16(plus))
	dip.SetChecksum(0)
	dip.SetChecksum(ipv4.Checksum(out))

	copy(dtcp, template[srcTCPOff:srcTCPOff+HeaderLen])
	dtcp.SetChecksum(0)

	copy(dts, template[srcTSOff:srcTSOff+TimestampOptLen])
	dts.SetTSval(timestamp)

	pseudo := make([]byte, pseudoHeaderLen+HeaderLen+TimestampOptLen)
	srcAddr := dip.SrcAddr()
	dstAddr := dip.DstAddr()
	copy(pseudo[0:4], srcAddr[:])
	copy(pseudo[4:8], dstAddr[:])
	pseudo[8] = 0
	pseudo[9] = protocolTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(HeaderLen+TimestampOptLen))
	copy(pseudo[pseudoHeaderLen:], dtcp)
	copy(pseudo[pseudoHeaderLen+HeaderLen:], dts)

	dtcp.SetChecksum(ipv4.Checksum(pseudo))

	dip.SetChecksum(0)
	dip.SetChecksum(ipv4.Checksum(out))

	return out
}
