package pktqueue

import (
	"testing"

	"github.com/cmanso/acktun/internal/packet"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(3, "test")
	if !q.IsEmpty() {
		t.Fatal("new queue is not empty")
	}

	a := packet.New([]byte{1})
	b := packet.New([]byte{2, 2})
	c := packet.New([]byte{3, 3, 3})

	if !q.Enqueue(a) || !q.Enqueue(b) {
		t.Fatal("enqueue unexpectedly failed below capacity")
	}
	if q.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", q.Count())
	}
	if q.ByteCount() != 3 {
		t.Fatalf("ByteCount() = %d, want 3", q.ByteCount())
	}

	// Capacity 3 wastes one slot: a third enqueue must overflow.
	if q.Enqueue(c) {
		t.Fatal("Enqueue succeeded past the one-slot-wasted capacity")
	}
	if q.Count() != 2 {
		t.Fatal("Enqueue on overflow mutated queue state")
	}

	got, ok := q.Dequeue()
	if !ok || got != a {
		t.Fatalf("Dequeue() = (%v, %v), want (a, true) — FIFO order violated", got, ok)
	}
	got, ok = q.Dequeue()
	if !ok || got != b {
		t.Fatalf("Dequeue() = (%v, %v), want (b, true)", got, ok)
	}
	if !q.IsEmpty() {
		t.Fatal("queue should be empty after dequeuing everything enqueued")
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("Dequeue() on an empty queue returned ok=true")
	}
}

func TestFrontDoesNotConsume(t *testing.T) {
	q := New(3, "test")
	p := packet.New([]byte{7})
	q.Enqueue(p)

	got, ok := q.Front()
	if !ok || got != p {
		t.Fatalf("Front() = (%v, %v), want (p, true)", got, ok)
	}
	if q.Count() != 1 {
		t.Fatal("Front() consumed the packet")
	}
}

func TestSmoothedCountConverges(t *testing.T) {
	q := New(10, "test")
	for i := 0; i < 20; i++ {
		q.Enqueue(packet.New([]byte{byte(i)}))
	}
	// With alpha=0.5 the EWMA should converge close to the steady count.
	if q.SmoothedCount() < float64(q.Count())-1 {
		t.Errorf("SmoothedCount() = %f, did not converge near Count() = %d", q.SmoothedCount(), q.Count())
	}
}
