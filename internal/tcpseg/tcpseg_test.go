package tcpseg

import (
	"encoding/binary"
	"testing"

	"github.com/cmanso/acktun/internal/ipv4"
)

// buildPacket constructs an IPv4+TCP+Timestamp packet with the given
// payload length and TCP flags, IHL=5, no IP options, no TCP options
// beyond the fixed Timestamp layout.
func buildPacket(payloadLen int, flags byte) []byte {
	total := ipv4.HeaderLen + HeaderLen + TimestampOptLen + payloadLen
	buf := make([]byte, total)

	ip := ipv4.Header(buf[:ipv4.HeaderLen])
	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	buf[9] = 6 // TCP
	ip.SetChecksum(0)

	tcp := Header(buf[ipv4.HeaderLen : ipv4.HeaderLen+HeaderLen])
	tcp[offDataOff] = byte((HeaderLen + TimestampOptLen) / 4 << 4)
	tcp[offFlags] = flags
	binary.BigEndian.PutUint32(tcp[offSeq:], 0x1000)
	binary.BigEndian.PutUint32(tcp[offAckSeq:], 0x2000)

	ts := TimestampOption(buf[ipv4.HeaderLen+HeaderLen:])
	ts[2] = 8  // kind
	ts[3] = 10 // length
	ts.SetTSval(0xAABBCCDD)

	return buf
}

func TestIsPureACK(t *testing.T) {
	cases := []struct {
		name    string
		payload int
		flags   byte
		want    bool
	}{
		{"pure ack", 0, flagACK, true},
		{"syn set", 0, flagACK | flagSYN, false},
		{"has payload", 8, flagACK, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := buildPacket(c.payload, c.flags)
			if got := IsPureACK(buf); got != c.want {
				t.Errorf("IsPureACK() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestSeqAckSeqTSVal(t *testing.T) {
	buf := buildPacket(0, flagACK)
	if Seq(buf) != 0x1000 {
		t.Errorf("Seq() = %#x, want 0x1000", Seq(buf))
	}
	ack, ok := AckSeq(buf)
	if !ok || ack != 0x2000 {
		t.Errorf("AckSeq() = (%#x, %v), want (0x2000, true)", ack, ok)
	}
	if TSVal(buf) != 0xAABBCCDD {
		t.Errorf("TSVal() = %#x, want 0xaabbccdd", TSVal(buf))
	}

	noAck := buildPacket(0, flagSYN)
	if _, ok := AckSeq(noAck); ok {
		t.Error("AckSeq() ok=true on a segment without ACK set")
	}
}

func TestFabricateDupAck(t *testing.T) {
	template := buildPacket(0, flagACK)
	copy(template[ipv4.HeaderLen+offSrcPort:], []byte{0x10, 0x20})
	out := FabricateDupAck(template, 3, 0x99999999)

	if len(out) != dupAckLen {
		t.Fatalf("len(out) = %d, want %d", len(out), dupAckLen)
	}

	srcIP := ipv4.Header(template[:ipv4.HeaderLen])
	dstIP := ipv4.Header(out[:ipv4.HeaderLen])
	wantID := srcIP.ID() + 3
	if dstIP.ID() != wantID {
		t.Errorf("ID() = %#x, want %#x", dstIP.ID(), wantID)
	}

	dstTCP := Header(out[ipv4.HeaderLen : ipv4.HeaderLen+HeaderLen])
	srcTCP := Header(template[ipv4.HeaderLen : ipv4.HeaderLen+HeaderLen])
	if dstTCP.AckSeq() != srcTCP.AckSeq() {
		t.Errorf("AckSeq() = %#x, want %#x", dstTCP.AckSeq(), srcTCP.AckSeq())
	}

	dstTS := TimestampOption(out[ipv4.HeaderLen+HeaderLen:])
	if dstTS.TSval() != 0x99999999 {
		t.Errorf("TSval() = %#x, want 0x99999999", dstTS.TSval())
	}

	// The IP checksum must verify over the whole fabricated packet, not
	// just the IPv4 header: this is the preserved deviation from the IPv4
	// standard (see FabricateDupAck's doc comment and DESIGN.md).
	withZero := append([]byte(nil), out...)
	dstIP2 := ipv4.Header(withZero[:ipv4.HeaderLen])
	dstIP2.SetChecksum(0)
	if got := ipv4.Checksum(withZero); got != dstIP.Checksum() {
		t.Errorf("whole-packet checksum = %#x, want stored %#x", got, dstIP.Checksum())
	}
}
