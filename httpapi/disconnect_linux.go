//go:build linux

package httpapi

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// peerClosed peeks at the socket without consuming anything. ok is false
// when conn is not a plain socket.
func peerClosed(conn net.Conn) (closed, ok bool) {
	sc, isSocket := conn.(syscall.Conn)
	if !isSocket {
		return false, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false, false
	}

	var (
		buf     [1]byte
		n       int
		peekErr error
	)
	err = raw.Read(func(fd uintptr) bool {
		n, _, peekErr = unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		// closed on our side
		return true, true
	}

	switch {
	case peekErr == nil:
		return n == 0, true
	case errors.Is(peekErr, unix.EAGAIN), errors.Is(peekErr, unix.EINTR):
		return false, true
	default:
		return true, true
	}
}
