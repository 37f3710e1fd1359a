package httpapi

import (
	"context"
	"errors"
	"net"
	"time"
)

const disconnectPollInterval = 100 * time.Millisecond

var errClientGone = errors.New("client closed the connection")

// watchDisconnect derives a context that is cancelled once the peer of conn
// closes its end. fasthttp does not cancel request contexts on its own. On
// connections that cannot be polled the parent context is all there is.
func watchDisconnect(parent context.Context, conn net.Conn) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	stop := func() { cancel(nil) }

	if conn == nil {
		return ctx, stop
	}
	closed, ok := peerClosed(conn)
	switch {
	case !ok:
		return ctx, stop
	case closed:
		cancel(errClientGone)
		return ctx, stop
	}

	go func() {
		ticker := time.NewTicker(disconnectPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if closed, _ := peerClosed(conn); closed {
					cancel(errClientGone)
					return
				}
			}
		}
	}()

	return ctx, stop
}
