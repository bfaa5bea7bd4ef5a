// Package pacer implements the single-tick pacing scheduler: it turns I/O
// readiness on two file descriptors plus two per-direction dequeue
// deadlines into one "what to do this tick" decision.
//
// It is grounded on the source program's io_timeout, generalized from
// select(2)'s fd_set/timeval pair to golang.org/x/sys/unix.Poll, which
// satisfies the same "readiness primitive with read-set, write-set, and an
// optional timeout" contract.
package pacer

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/cmanso/acktun/metrics"
)

// DefaultInterval is the pacing interval T: the minimum spacing between
// successive outbound packets in one direction, 50ms (20 pps).
const DefaultInterval = 50 * time.Millisecond

// Actions reports what the event loop should do this tick.
type Actions struct {
	TapInReady     bool
	SockInReady    bool
	SockOutOK      bool // a Qtap packet may be written to the socket
	SockOutOverrun bool // it was due, but the socket write would block
	TapOutOK       bool // a Qsock packet may be written to the tap
	TapOutOverrun  bool // it was due, but the tap write would block
}

// Scheduler holds the two per-direction dequeue deadlines. It is owned
// exclusively by the event loop; there is no shared or global pacing state.
type Scheduler struct {
	interval     time.Duration
	tapDeadline  *time.Time // Qtap's next scheduled dequeue, nil = none
	sockDeadline *time.Time // Qsock's next scheduled dequeue, nil = none
}

// New returns a Scheduler with both deadlines disarmed.
func New(interval time.Duration) *Scheduler {
	return &Scheduler{interval: interval}
}

// ClearTapDeadline disarms Qtap's dequeue deadline, e.g. because Qtap is
// now empty.
func (s *Scheduler) ClearTapDeadline() { s.tapDeadline = nil }

// ClearSockDeadline disarms Qsock's dequeue deadline.
func (s *Scheduler) ClearSockDeadline() { s.sockDeadline = nil }

func remaining(deadline *time.Time, now time.Time) time.Duration {
	if deadline == nil {
		return 0
	}
	d := deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// which identifies the queue whose deadline is driving the timeout this
// tick.
type which int

const (
	whichNone which = iota
	whichTap
	whichSock
)

// Tick runs one iteration of the scheduler: it waits for input readiness on
// tapFD and sockFD, up to whichever per-direction deadline is nearer (or
// indefinitely if neither is armed), then reports the resulting Actions.
//
// use_null_timeout defaults to true and is cleared explicitly in each of
// the three cases where a deadline is armed, rather than being left to the
// degenerate "both sentinels, no branch fires" case the source program's
// four independent if-statements allow.
func (s *Scheduler) Tick(tapFD, sockFD int) (Actions, error) {
	start := time.Now()
	defer func() { metrics.PollingIntervalHistogram.Observe(time.Since(start).Seconds()) }()

	var actions Actions

	remainTap := remaining(s.tapDeadline, start)
	remainSock := remaining(s.sockDeadline, start)

	useNullTimeout := true
	var timeout time.Duration
	var w which

	switch {
	case s.tapDeadline == nil && s.sockDeadline != nil:
		useNullTimeout = false
		timeout, w = remainSock, whichSock
	case s.tapDeadline != nil && s.sockDeadline == nil:
		useNullTimeout = false
		timeout, w = remainTap, whichTap
	case s.tapDeadline != nil && s.sockDeadline != nil:
		useNullTimeout = false
		if remainTap < remainSock {
			timeout, w = remainTap, whichTap
		} else {
			timeout, w = remainSock, whichSock
		}
	}

	timeoutMs := -1
	if !useNullTimeout {
		timeoutMs = int(timeout / time.Millisecond)
	}

	readFds := []unix.PollFd{
		{Fd: int32(tapFD), Events: unix.POLLIN},
		{Fd: int32(sockFD), Events: unix.POLLIN},
	}
	n, err := unix.Poll(readFds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return actions, nil
		}
		return actions, err
	}

	if readFds[0].Revents&unix.POLLIN != 0 {
		actions.TapInReady = true
		if s.tapDeadline == nil {
			d := time.Now().Add(s.interval)
			s.tapDeadline = &d
		}
	}
	if readFds[1].Revents&unix.POLLIN != 0 {
		actions.SockInReady = true
		if s.sockDeadline == nil {
			d := time.Now().Add(s.interval)
			s.sockDeadline = &d
		}
	}

	if n != 0 {
		// Input arrived within the timeout: nothing is due to be written
		// out this tick.
		return actions, nil
	}

	writeFds := []unix.PollFd{
		{Fd: int32(tapFD), Events: unix.POLLOUT},
		{Fd: int32(sockFD), Events: unix.POLLOUT},
	}
	if _, err := unix.Poll(writeFds, 0); err != nil && err != unix.EINTR {
		return actions, err
	}

	switch w {
	case whichTap:
		if writeFds[1].Revents&unix.POLLOUT != 0 {
			actions.SockOutOK = true
			d := time.Now().Add(s.interval)
			s.tapDeadline = &d
		} else {
			actions.SockOutOverrun = true
		}
	case whichSock:
		if writeFds[0].Revents&unix.POLLOUT != 0 {
			actions.TapOutOK = true
			d := time.Now().Add(s.interval)
			s.sockDeadline = &d
		} else {
			actions.TapOutOverrun = true
		}
	}

	return actions, nil
}
