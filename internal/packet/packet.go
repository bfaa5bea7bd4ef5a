// Package packet defines the owned buffer type that flows through the
// tunnel's queues and codec.
package packet

import "time"

// MaxSize is the largest IPv4 datagram the tunnel will carry.
const MaxSize = 1500

// Packet is a fixed-capacity, owned byte buffer carrying one IPv4 datagram,
// together with its valid length and the time it was handed to a queue.
// A Packet has exactly one owner at any time: the producer that read it,
// the queue it is enqueued in, or the consumer that dequeued it.
type Packet struct {
	Data        [MaxSize]byte
	Length      int
	EnqueueTime time.Time
}

// Bytes returns the valid portion of Data.
func (p *Packet) Bytes() []byte {
	return p.Data[:p.Length]
}

// New allocates a Packet and copies src into it. It panics if src is longer
// than MaxSize; callers only ever hand it bytes read from a tap device or a
// length-prefixed socket frame, both of which are bounded by MaxSize.
func New(src []byte) *Packet {
	if len(src) > MaxSize {
		panic("packet: source longer than MaxSize")
	}
	p := &Packet{Length: len(src)}
	copy(p.Data[:], src)
	return p
}
