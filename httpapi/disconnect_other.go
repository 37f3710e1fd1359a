//go:build !linux

package httpapi

import "net"

func peerClosed(net.Conn) (closed, ok bool) {
	return false, false
}
