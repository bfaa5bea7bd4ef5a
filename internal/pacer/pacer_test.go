package pacer

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// socketpair returns two connected, full-duplex Unix domain socket fds,
// standing in for the tap/tun and TCP socket fds Tick polls in production:
// unlike os.Pipe, both ends support POLLOUT as well as POLLIN.
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestTickReportsInputReadiness(t *testing.T) {
	tapFD, tapPeer := socketpair(t)
	sockFD, _ := socketpair(t)

	if _, err := unix.Write(tapPeer, []byte("x")); err != nil {
		t.Fatalf("write to tap peer: %v", err)
	}

	s := New(time.Hour)
	actions, err := s.Tick(tapFD, sockFD)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !actions.TapInReady {
		t.Error("TapInReady = false, want true")
	}
	if actions.SockInReady {
		t.Error("SockInReady = true, want false")
	}
	if actions.SockOutOK || actions.TapOutOK {
		t.Errorf("Actions = %+v, want no output actions on a tick with input ready", actions)
	}
}

func TestTickOverrunsToWriteWhenDeadlineExpires(t *testing.T) {
	tapFD, tapPeer := socketpair(t)
	sockFD, _ := socketpair(t)

	interval := 5 * time.Millisecond
	s := New(interval)

	// First tick: data arrives on tap, which arms tapDeadline.
	if _, err := unix.Write(tapPeer, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.Tick(tapFD, sockFD); err != nil {
		t.Fatalf("Tick (arm): %v", err)
	}
	// Drain so the next tick sees no input readiness.
	var discard [1]byte
	if _, err := unix.Read(tapFD, discard[:]); err != nil {
		t.Fatalf("drain: %v", err)
	}

	time.Sleep(2 * interval)

	actions, err := s.Tick(tapFD, sockFD)
	if err != nil {
		t.Fatalf("Tick (overrun): %v", err)
	}
	if !actions.SockOutOK {
		t.Errorf("Actions = %+v, want SockOutOK (tapDeadline due, sockFD writable)", actions)
	}
	if actions.TapInReady || actions.SockInReady {
		t.Errorf("Actions = %+v, want no input readiness on the overrun tick", actions)
	}
}

func TestClearDeadlinesDisarm(t *testing.T) {
	s := New(time.Second)
	now := time.Now()
	s.tapDeadline = &now
	s.sockDeadline = &now

	s.ClearTapDeadline()
	s.ClearSockDeadline()

	if s.tapDeadline != nil || s.sockDeadline != nil {
		t.Error("deadlines still armed after Clear*Deadline")
	}
}
