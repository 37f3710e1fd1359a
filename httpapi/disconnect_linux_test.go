//go:build linux

package httpapi

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	require.NotNil(t, server)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestWatchDisconnect(t *testing.T) {
	t.Run("cancelled when peer closes", func(t *testing.T) {
		client, server := tcpPair(t)

		ctx, stop := watchDisconnect(context.Background(), server)
		defer stop()

		require.NoError(t, client.Close())

		select {
		case <-ctx.Done():
			assert.ErrorIs(t, context.Cause(ctx), errClientGone)
		case <-time.After(5 * time.Second):
			t.Fatal("context not cancelled after the peer closed")
		}
	})

	t.Run("pending data is not consumed", func(t *testing.T) {
		client, server := tcpPair(t)

		ctx, stop := watchDisconnect(context.Background(), server)
		_, err := client.Write([]byte("next request"))
		require.NoError(t, err)

		time.Sleep(3 * disconnectPollInterval)
		assert.NoError(t, ctx.Err())
		stop()

		buf := make([]byte, len("next request"))
		require.NoError(t, server.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, err = server.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "next request", string(buf))
	})

	t.Run("unpollable connection keeps parent", func(t *testing.T) {
		a, b := net.Pipe()
		defer a.Close()
		defer b.Close()

		ctx, stop := watchDisconnect(context.Background(), b)
		defer stop()

		require.NoError(t, a.Close())
		time.Sleep(3 * disconnectPollInterval)
		assert.NoError(t, ctx.Err())
	})
}

func TestGenerateCancelledWhenClientGoes(t *testing.T) {
	s, gen := newTestServer(t)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	gen.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		close(started)
		select {
		case <-ctx.Done():
			close(cancelled)
		case <-time.After(10 * time.Second):
		}
	}).Return(nil, context.Canceled)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.App().Listener(ln) }()
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = fmt.Fprintf(conn,
		"POST /exec/gen HTTP/1.1\r\nHost: casegen\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
		len(validBody), validBody)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("generator was not called")
	}
	require.NoError(t, conn.Close())

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("request context still live after the client went away")
	}
}
