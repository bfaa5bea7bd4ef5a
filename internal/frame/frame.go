// Package frame implements the tunnel's two wire framings: whole-frame I/O
// on the tap device, and 2-byte-length-prefixed frames on the TCP socket.
package frame

import (
	"encoding/binary"
	"io"

	"github.com/cmanso/acktun/internal/packet"
)

// ReadTap reads one IPv4 frame from r in a single call, exactly as the tap
// device hands it over: no framing byte prefix, length equal to whatever
// the read returned.
func ReadTap(r io.Reader) (*packet.Packet, error) {
	p := &packet.Packet{}
	n, err := r.Read(p.Data[:])
	if err != nil {
		return nil, err
	}
	p.Length = n
	return p, nil
}

// WriteTap writes p to w as a single frame with no framing byte prefix.
func WriteTap(w io.Writer, p *packet.Packet) error {
	_, err := w.Write(p.Bytes())
	return err
}

// ReadSocket reads one length-prefixed frame from r: a 2-byte big-endian
// length followed by exactly that many payload bytes. Both reads are
// completed in full (via io.ReadFull) before the packet is returned, so a
// short read on either part surfaces as an error rather than a truncated
// packet.
func ReadSocket(r io.Reader) (*packet.Packet, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	p := &packet.Packet{Length: n}
	if _, err := io.ReadFull(r, p.Data[:n]); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteSocket writes p to w as a length-prefixed frame: a 2-byte big-endian
// length, then the payload, as two separate non-atomic writes — the same
// two-write pattern the source program uses, relying on the peer to
// symmetrically length-prefix and on the OS not fragmenting mid-frame.
func WriteSocket(w io.Writer, p *packet.Packet) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(p.Length))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(p.Bytes())
	return err
}
