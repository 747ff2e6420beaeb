package destination

import (
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startCollector accepts one connection and returns everything read until EOF
func startCollector(t *testing.T) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			out <- ""
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		out <- string(data)
	}()
	return ln.Addr().String(), out
}

func TestSocketDelivers(t *testing.T) {
	addr, received := startCollector(t)

	s, err := NewSocket(SocketOptions{Address: addr})
	require.NoError(t, err)
	waitReady(t, s)

	var want strings.Builder
	for i := 0; i < 100; i++ {
		rec := fmt.Sprintf("socket record %d\n", i)
		want.WriteString(rec)
		_, err := s.Write([]byte(rec))
		require.NoError(t, err)
	}
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case got := <-received:
		assert.Equal(t, want.String(), got)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not finish")
	}

	_, err = s.Write([]byte("late\n"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSocketDialFailure(t *testing.T) {
	// Grab a free port and release it so nothing is listening
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s, err := NewSocket(SocketOptions{Address: addr, DialTimeout: time.Second})
	require.NoError(t, err)

	select {
	case err := <-s.Ready():
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no readiness result")
	}
	assert.NoError(t, s.Close())
}

func TestSocketRequiresAddress(t *testing.T) {
	_, err := NewSocket(SocketOptions{})
	assert.Error(t, err)
}
