// Package session labels one tunnel's TCP connection with a short,
// process-unique string suitable for naming its capture files and log
// lines.
//
// It is adapted from the source repository's uuid package, which built a
// cookie into a globally-unique identifier (hostname_boottime_cookie) for a
// collector correlating flows gathered from thousands of hosts. A single
// tunnel process talking to a single peer has no such collision domain: the
// kernel's per-socket cookie is already unique for the life of this
// process, so the hostname/boottime disambiguation prefix is dropped
// entirely.
package session

import (
	"fmt"
	"net"
	"syscall"
	"unsafe"
)

// soCookie is SO_COOKIE from the Linux kernel's socket.h; it predates its
// addition to the syscall package.
const soCookie = 57

// cookie reads the kernel-assigned SO_COOKIE for conn's underlying socket.
// The cookie is stable for the lifetime of the socket and unique among all
// sockets ever opened by this kernel instance.
func cookie(conn *net.TCPConn) (uint64, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var cookie uint64
	var sysErr error
	err = raw.Control(func(fd uintptr) {
		cookieLen := uint32(unsafe.Sizeof(cookie))
		_, _, errno := syscall.Syscall6(
			syscall.SYS_GETSOCKOPT,
			fd,
			syscall.SOL_SOCKET,
			soCookie,
			uintptr(unsafe.Pointer(&cookie)),
			uintptr(unsafe.Pointer(&cookieLen)),
			0)
		if errno != 0 {
			sysErr = errno
		}
	})
	if err != nil {
		return 0, err
	}
	return cookie, sysErr
}

// Label returns a short string identifying conn, derived from the kernel
// socket cookie. It is unique among the sockets this process has opened,
// but carries no meaning outside this process's lifetime.
func Label(conn *net.TCPConn) (string, error) {
	c, err := cookie(conn)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("acktun_%X", c), nil
}
