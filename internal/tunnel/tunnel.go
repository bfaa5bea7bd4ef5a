// Package tunnel wires the packet codec, queues, pacer, and congestion
// spoofer into the single-threaded event loop that drives one tunnel
// session.
//
// It is grounded on the source program's main loop (simpletun_advanced.c),
// generalized the way the teacher structures a long-running collection
// loop: a context-gated for loop, one unit of work per iteration, errors
// from terminal conditions returned rather than os.Exit'd from deep inside.
package tunnel

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/cmanso/acktun/internal/capture"
	"github.com/cmanso/acktun/internal/events"
	"github.com/cmanso/acktun/internal/frame"
	"github.com/cmanso/acktun/internal/ipv4"
	"github.com/cmanso/acktun/internal/pacer"
	"github.com/cmanso/acktun/internal/pktqueue"
	"github.com/cmanso/acktun/internal/spoof"
	"github.com/cmanso/acktun/internal/tcpseg"
	"github.com/cmanso/acktun/metrics"
)

// ErrPeerClosed is returned by Run when the socket peer closes the
// connection or a read on it otherwise fails; this is terminal at the core
// level, per the error taxonomy.
var ErrPeerClosed = errors.New("tunnel: socket peer closed")

const protocolTCP = 6

// Core holds everything one tunnel session needs between ticks. It is not
// safe for concurrent use: exactly one goroutine should call Run.
type Core struct {
	Debug   bool
	Events  events.Server  // never nil; use events.NullServer() if disabled
	Capture *capture.Writer // nil disables capture

	qtap  *pktqueue.Queue
	qsock *pktqueue.Queue
	sched *pacer.Scheduler
	spoof spoof.State
}

// New returns a Core with both queues at pktqueue.DefaultCapacity and the
// pacer at the given interval. ev defaults to events.NullServer() if nil is
// passed.
func New(interval time.Duration, ev events.Server) *Core {
	if ev == nil {
		ev = events.NullServer()
	}
	return &Core{
		Events: ev,
		qtap:   pktqueue.New(pktqueue.DefaultCapacity, "Qtap"),
		qsock:  pktqueue.New(pktqueue.DefaultCapacity, "Qsock"),
		sched:  pacer.New(interval),
	}
}

// Run drives the event loop until ctx is canceled or a terminal I/O error
// occurs. tap and sock must be backed by tapFD and sockFD respectively
// (the same descriptors, handed in twice: once for the pacer's readiness
// polling, once for buffered Read/Write).
func (c *Core) Run(ctx context.Context, tap io.ReadWriter, tapFD int, sock io.ReadWriter, sockFD int) error {
	for ctx.Err() == nil {
		actions, err := c.sched.Tick(tapFD, sockFD)
		if err != nil {
			metrics.ErrorCount.WithLabelValues("poll").Inc()
			return err
		}

		if actions.TapInReady {
			c.handleTapIn(tap)
		}
		if actions.SockInReady {
			if err := c.handleSockIn(sock); err != nil {
				return err
			}
		}
		if actions.SockOutOK {
			if err := c.handleSockOut(sock); err != nil {
				return err
			}
		} else if actions.SockOutOverrun {
			metrics.ErrorCount.WithLabelValues("sock_overrun").Inc()
		}
		if actions.TapOutOK {
			c.handleTapOut(tap)
		} else if actions.TapOutOverrun {
			metrics.ErrorCount.WithLabelValues("tap_overrun").Inc()
		}
	}
	return ctx.Err()
}

func (c *Core) handleTapIn(tap io.Reader) {
	p, err := frame.ReadTap(tap)
	if err != nil {
		metrics.ErrorCount.WithLabelValues("tap_read").Inc()
		return
	}
	if c.Capture != nil {
		c.Capture.WriteFrame(capture.LabelTapIn, p.Bytes())
	}
	if c.Debug {
		debugDump("tap-in", p.Bytes())
	}

	// Counting a tap packet must happen before the arm/suppress decision
	// below, exactly as the source program increments pkt_count before
	// checking the current packet against trigger_seq.
	c.spoof.CountTapPacket()

	seq, ok := parseSeq(p.Bytes())
	if ok && c.spoof.IsSuppressed(seq) {
		metrics.SpoofSuppressedTotal.Inc()
	} else {
		c.qtap.Enqueue(p)
	}
	if ok {
		before := c.spoof.Phase()
		c.spoof.MaybeArm(seq, c.qtap.Count())
		c.emitPhaseChange(before)
	}
}

func (c *Core) handleSockIn(sock io.Reader) error {
	p, err := frame.ReadSocket(sock)
	if err != nil {
		metrics.ErrorCount.WithLabelValues("sock_read").Inc()
		return ErrPeerClosed
	}
	if c.Capture != nil {
		c.Capture.WriteFrame(capture.LabelSockIn, p.Bytes())
	}
	if c.Debug {
		debugDump("sock-in", p.Bytes())
	}
	c.qsock.Enqueue(p)
	return nil
}

func (c *Core) handleSockOut(sock io.Writer) error {
	p, ok := c.qtap.Dequeue()
	if !ok {
		c.sched.ClearTapDeadline()
		return nil
	}
	if err := frame.WriteSocket(sock, p); err != nil {
		metrics.ErrorCount.WithLabelValues("sock_write").Inc()
		return err
	}
	if c.qtap.IsEmpty() {
		c.sched.ClearTapDeadline()
	}
	return nil
}

// handleTapOut writes one socket-originated packet toward tap, routing it
// through the spoofing state machine when an episode is underway. Errors
// writing to the tap are counted and dropped rather than treated as
// terminal: the tap side has no "peer", so a blocked or failing write here
// cannot mean the remote end is gone.
func (c *Core) handleTapOut(tap io.Writer) {
	before := c.spoof.Phase()
	c.spoof.BeginCollecting()

	if c.spoof.IsActive() {
		p, ok := c.qsock.Dequeue()
		if !ok {
			c.sched.ClearSockDeadline()
			c.emitPhaseChange(before)
			return
		}
		action := c.spoof.ProcessActive(p)
		for _, d := range action.DupAcks {
			if c.Capture != nil {
				c.Capture.WriteFrame(capture.LabelDupAck, d)
			}
			if err := writeRaw(tap, d); err != nil {
				metrics.ErrorCount.WithLabelValues("tap_write").Inc()
			}
		}
		if action.Forward {
			if err := frame.WriteTap(tap, p); err != nil {
				metrics.ErrorCount.WithLabelValues("tap_write").Inc()
			}
		}
		c.emitPhaseChange(before)
	} else {
		p, ok := c.qsock.Dequeue()
		if !ok {
			c.sched.ClearSockDeadline()
			return
		}
		c.spoof.OnArmedForward()
		if err := frame.WriteTap(tap, p); err != nil {
			metrics.ErrorCount.WithLabelValues("tap_write").Inc()
		}
		c.emitPhaseChange(before)
	}
	if c.qsock.IsEmpty() {
		c.sched.ClearSockDeadline()
	}
}

func writeRaw(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

// emitPhaseChange reports a spoof.State phase transition to the events
// server, if one differs from before and an events server is attached.
func (c *Core) emitPhaseChange(before spoof.Phase) {
	after := c.spoof.Phase()
	if after == before {
		return
	}
	ev := events.SpoofEvent{Phase: after.String()}
	if seq, ok := c.spoof.TriggerSeq(); ok {
		ev.TriggerSeq = seq
	}
	c.Events.EmitSpoof(ev)
	if c.Debug {
		log.Printf("spoof: %s -> %s", before, after)
	}
}

// parseSeq returns the TCP sequence number of buf and true, or (0, false)
// if buf is too short or not a TCP segment to safely interpret as one —
// the "malformed packet" case of the error taxonomy, where the core must
// not arm or suppress but still pass the packet through untouched.
func parseSeq(buf []byte) (uint32, bool) {
	if len(buf) < ipv4.HeaderLen+tcpseg.HeaderLen {
		return 0, false
	}
	ip := ipv4.Header(buf)
	if ip.Protocol() != protocolTCP {
		return 0, false
	}
	iphdrlen := ip.HeaderLen()
	if len(buf) < iphdrlen+tcpseg.HeaderLen {
		return 0, false
	}
	return tcpseg.Seq(buf), true
}

// debugDump decodes buf as an IPv4 packet purely for a human-readable log
// line; it never feeds back into checksum or spoofing logic, so it cannot
// mask the deliberately preserved checksum deviation in
// tcpseg.FabricateDupAck.
func debugDump(direction string, buf []byte) {
	pkt := gopacket.NewPacket(buf, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if ip4, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		if tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
			log.Printf("%s: %s:%d -> %s:%d seq=%d ack=%d flags=%s len=%d",
				direction, ip4.SrcIP, tcp.SrcPort, ip4.DstIP, tcp.DstPort,
				tcp.Seq, tcp.Ack, tcpFlagSummary(tcp), len(buf))
			return
		}
		log.Printf("%s: %s -> %s proto=%s len=%d", direction, ip4.SrcIP, ip4.DstIP, ip4.Protocol, len(buf))
		return
	}
	log.Printf("%s: %d bytes, not decodable as IPv4", direction, len(buf))
}

func tcpFlagSummary(tcp *layers.TCP) string {
	var flags string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{tcp.SYN, "SYN"}, {tcp.ACK, "ACK"}, {tcp.FIN, "FIN"},
		{tcp.RST, "RST"}, {tcp.PSH, "PSH"}, {tcp.URG, "URG"},
	} {
		if f.set {
			flags += f.name + " "
		}
	}
	if flags == "" {
		return "-"
	}
	return flags
}
