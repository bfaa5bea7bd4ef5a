// Package pktqueue implements the bounded circular-buffer FIFO of owned
// packets, with exponentially-weighted occupancy smoothing, that sits in
// front of each direction of the tunnel.
package pktqueue

import (
	"github.com/cmanso/acktun/internal/packet"
	"github.com/cmanso/acktun/metrics"
)

// alpha is the EWMA smoothing weight applied to the occupancy count on
// every enqueue and dequeue.
const alpha = 0.5

// DefaultCapacity is the default number of slots a queue is initialized
// with (one of which is always wasted by the circular-buffer invariant).
const DefaultCapacity = 100

// Queue is a bounded FIFO of *packet.Packet. The zero value is not usable;
// construct one with New. A Queue is not safe for concurrent use — it is
// owned exclusively by the event loop that drives it.
type Queue struct {
	name          string
	items         []*packet.Packet
	front, rear   int
	count         int
	byteCount     int
	smoothedCount float64
}

// New returns an empty Queue of capacity slots and the given diagnostic
// name. One slot is always left empty, so at most capacity-1 packets fit.
func New(capacity int, name string) *Queue {
	return &Queue{
		name:  name,
		items: make([]*packet.Packet, capacity),
	}
}

// Name returns the queue's diagnostic name.
func (q *Queue) Name() string { return q.name }

// IsEmpty reports whether the queue holds no packets.
func (q *Queue) IsEmpty() bool { return q.front == q.rear }

// Count returns the number of packets currently queued.
func (q *Queue) Count() int { return q.count }

// ByteCount returns the sum of Length over queued packets.
func (q *Queue) ByteCount() int { return q.byteCount }

// SmoothedCount returns the EWMA of Count, updated on every enqueue/dequeue.
func (q *Queue) SmoothedCount() float64 { return q.smoothedCount }

// Enqueue attempts to add p to the queue. It returns false, leaving the
// queue unchanged, if the queue is full; the caller retains ownership of p
// and is responsible for discarding it in that case.
func (q *Queue) Enqueue(p *packet.Packet) bool {
	next := (q.rear + 1) % len(q.items)
	if next == q.front {
		metrics.QueueOverflowTotal.WithLabelValues(q.name).Inc()
		return false
	}
	q.rear = next
	q.items[q.rear] = p
	q.count++
	q.byteCount += p.Length
	q.update()
	return true
}

// Front returns the oldest queued packet without removing it, and false if
// the queue is empty.
func (q *Queue) Front() (*packet.Packet, bool) {
	if q.IsEmpty() {
		return nil, false
	}
	return q.items[(q.front+1)%len(q.items)], true
}

// Dequeue removes and returns the oldest queued packet, and false if the
// queue is empty.
func (q *Queue) Dequeue() (*packet.Packet, bool) {
	if q.IsEmpty() {
		return nil, false
	}
	q.front = (q.front + 1) % len(q.items)
	p := q.items[q.front]
	q.items[q.front] = nil
	q.count--
	q.byteCount -= p.Length
	q.update()
	return p, true
}

func (q *Queue) update() {
	q.smoothedCount = (1-alpha)*q.smoothedCount + alpha*float64(q.count)
	metrics.QueueCount.WithLabelValues(q.name).Set(float64(q.count))
	metrics.QueueBytes.WithLabelValues(q.name).Set(float64(q.byteCount))
	metrics.QueueSmoothedCount.WithLabelValues(q.name).Set(q.smoothedCount)
}
