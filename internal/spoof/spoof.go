// Package spoof implements the backward-congestion-signaling state machine:
// it detects outbound queue pressure, captures a trigger sequence and a
// pure-ACK template, and drives bursts of fabricated duplicate ACKs until a
// real cumulative ACK covers the trigger.
//
// The source program encodes this as an integer phase (in_backward_cc) with
// magic values -1, -2, -3, 0, 1, 2, ...; this package reimplements it as a
// tagged variant (Phase) with captured fields held only in State, bound to
// the phase in which they are meaningful.
package spoof

import (
	"github.com/cmanso/acktun/internal/packet"
	"github.com/cmanso/acktun/internal/tcpseg"
	"github.com/cmanso/acktun/metrics"
)

// Phase is the episode's current state.
type Phase int

const (
	// PhaseIdle means no spoofing episode is in progress.
	PhaseIdle Phase = iota
	// PhaseArmed means queue pressure was detected and trigger_seq was
	// captured; the machine is waiting for a socket-originated packet to
	// be forwarded toward tap before it starts counting.
	PhaseArmed
	// PhaseCounting means data packets arriving from tap are being
	// counted, and then a pure-ACK template is being sought among
	// socket-originated packets forwarded toward tap.
	PhaseCounting
	// PhaseActive means a dup-ACK burst episode is underway: every
	// socket-to-tap output slot emits a burst instead of one packet.
	PhaseActive
)

// String names the phase for logging and for internal/events.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseArmed:
		return "ARMED"
	case PhaseCounting:
		return "COUNTING"
	case PhaseActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// HighWaterMark is the Qtap occupancy above which an episode arms.
const HighWaterMark = 20

// Action reports what the event loop should do with a socket-originated
// packet handed to ProcessActive.
type Action struct {
	// Forward is true if pkt itself should be written to tap verbatim.
	Forward bool
	// DupAcks are fabricated packets to write to tap, in order, instead
	// of pkt.
	DupAcks [][]byte
	// EpisodeEnded is true if this call returned the machine to Idle.
	EpisodeEnded bool
}

// State holds one tunnel direction's spoofing episode. The zero value is
// ready to use (PhaseIdle).
type State struct {
	phase       Phase
	triggerSeq  *uint32 // nil means unset; an explicit optional rather than
	// a uint32(-1) sentinel compared as signed, which is how the source
	// program represents "no trigger".
	ackTemplate *packet.Packet
	pktCount    int
	round       int
	collecting  bool // within PhaseCounting: have we started looking for
	// the pure-ACK template (source's in_backward_cc==0), as opposed to
	// still counting tap packets (in_backward_cc==-3)?
}

// Phase returns the current phase.
func (s *State) Phase() Phase { return s.phase }

// TriggerSeq returns the captured trigger sequence and true, or (0, false)
// if no episode is armed.
func (s *State) TriggerSeq() (uint32, bool) {
	if s.triggerSeq == nil {
		return 0, false
	}
	return *s.triggerSeq, true
}

// IsSuppressed reports whether a tap-originated packet with the given TCP
// sequence is the upstream retransmission of the trigger sequence, and
// should therefore be dropped before enqueueing rather than forwarded:
// the spoofer has already handled that sequence number on the remote
// side's behalf.
func (s *State) IsSuppressed(seq uint32) bool {
	return s.triggerSeq != nil && seq == *s.triggerSeq
}

// CountTapPacket accounts for one data packet read from tap while the
// machine is counting (PhaseCounting, not yet collecting the ACK
// template). It is a no-op in every other phase.
func (s *State) CountTapPacket() {
	if s.phase == PhaseCounting && !s.collecting {
		s.pktCount++
	}
}

// Arm transitions Idle->Armed, capturing seq as the trigger sequence. It is
// a no-op unless the machine is currently Idle.
func (s *State) Arm(seq uint32) {
	if s.phase != PhaseIdle {
		return
	}
	ts := seq
	s.triggerSeq = &ts
	s.phase = PhaseArmed
}

// MaybeArm arms the episode if qtapCount has just crossed HighWaterMark
// while idle, capturing seq (the sequence of the packet that crossed it)
// as the trigger.
func (s *State) MaybeArm(seq uint32, qtapCount int) {
	if s.phase == PhaseIdle && qtapCount > HighWaterMark {
		s.Arm(seq)
	}
}

// IsActive reports whether the machine is past Armed: i.e. whether a
// socket-to-tap dequeue should be routed through ProcessActive rather than
// forwarded as a plain packet.
func (s *State) IsActive() bool {
	return s.phase == PhaseCounting || s.phase == PhaseActive
}

// BeginCollecting marks the single transition, made once per tick, from
// "counting tap packets" to "searching for the pure-ACK template" within
// PhaseCounting. Calling it outside PhaseCounting, or more than once, has
// no further effect.
func (s *State) BeginCollecting() {
	if s.phase == PhaseCounting {
		s.collecting = true
	}
}

// OnArmedForward transitions Armed->Counting: called when a
// socket-originated packet is dequeued and forwarded toward tap while the
// machine is Armed (the first such forward after arming starts the
// episode's counting phase). It is a no-op outside PhaseArmed.
func (s *State) OnArmedForward() {
	if s.phase == PhaseArmed {
		s.phase = PhaseCounting
	}
}

// ProcessActive handles one socket-to-tap output slot while IsActive() is
// true. pkt is the packet just dequeued from Qsock.
//
// While still collecting the ACK template: a pure ACK becomes the
// template, is forwarded verbatim, and starts the burst (round 1); any
// other packet observed while searching is dropped silently (it is neither
// forwarded nor does it affect the search) — this mirrors the source
// program's behavior in this state exactly.
//
// Once active: if pkt's ACK number already covers the trigger sequence,
// the episode terminates — pkt is forwarded verbatim and the machine
// returns to Idle. Otherwise this slot emits a burst of pktCount
// fabricated duplicate ACKs and pkt itself is discarded.
func (s *State) ProcessActive(pkt *packet.Packet) Action {
	switch s.phase {
	case PhaseCounting:
		if s.ackTemplate == nil {
			if tcpseg.IsPureACK(pkt.Bytes()) {
				s.ackTemplate = pkt
				s.phase = PhaseActive
				s.round = 1
				return Action{Forward: true}
			}
			return Action{}
		}
	case PhaseActive:
		ackSeq, ok := tcpseg.AckSeq(pkt.Bytes())
		if ok && s.triggerSeq != nil && ackSeq >= *s.triggerSeq {
			metrics.SpoofEpisodesTotal.Inc()
			s.reset()
			return Action{Forward: true, EpisodeEnded: true}
		}

		ts := tcpseg.TSVal(pkt.Bytes())
		dupAcks := make([][]byte, 0, s.pktCount)
		for i := 0; i < s.pktCount; i++ {
			plus := s.round*s.pktCount - s.pktCount + i + 1
			dupAcks = append(dupAcks, tcpseg.FabricateDupAck(s.ackTemplate.Bytes(), plus, ts))
		}
		metrics.SpoofDupAcksTotal.Add(float64(len(dupAcks)))
		s.round++
		return Action{DupAcks: dupAcks}
	}
	return Action{}
}

func (s *State) reset() {
	s.phase = PhaseIdle
	s.triggerSeq = nil
	s.ackTemplate = nil
	s.pktCount = 0
	s.round = 0
	s.collecting = false
}
