// Package iface allocates a tap/tun virtual network interface. It is
// external to the tunnel core (spec scope boundary), but is shipped here
// as the supporting infrastructure cmd/acktun needs to obtain one of the
// core's two file descriptors.
package iface

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kind selects the virtual interface type: layer-3 (tun) or layer-2 (tap).
type Kind int

const (
	TUN Kind = iota
	TAP
)

const devNetTun = "/dev/net/tun"

type ifReq struct {
	name  [unix.IFNAMSIZ]byte
	flags uint16
	_     [22]byte // pad ifreq to the kernel's sizeof(struct ifreq)
}

// Open allocates or reconnects to a tun/tap device named name (empty lets
// the kernel pick one) of the given kind, and returns the opened file
// along with the interface name the kernel assigned.
func Open(name string, kind Kind) (*os.File, string, error) {
	fd, err := unix.Open(devNetTun, unix.O_RDWR, 0)
	if err != nil {
		return nil, "", fmt.Errorf("iface: open %s: %w", devNetTun, err)
	}

	var req ifReq
	copy(req.name[:], name)
	req.flags = unix.IFF_NO_PI
	switch kind {
	case TAP:
		req.flags |= unix.IFF_TAP
	default:
		req.flags |= unix.IFF_TUN
	}

	if err := ioctl(fd, unix.TUNSETIFF, unsafe.Pointer(&req)); err != nil {
		unix.Close(fd)
		return nil, "", fmt.Errorf("iface: ioctl(TUNSETIFF): %w", err)
	}

	assigned := string(req.name[:clen(req.name[:])])
	return os.NewFile(uintptr(fd), assigned), assigned, nil
}

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func clen(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}
