package acceptor

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDroneHandler struct {
	mu    sync.Mutex
	lines [][]byte
}

func (f *fakeDroneHandler) Handle(ctx context.Context, conn net.Conn, line []byte, rest *bufio.Reader) {
	f.mu.Lock()
	f.lines = append(f.lines, append([]byte(nil), line...))
	f.mu.Unlock()
	conn.Close()
}

type fakeObserverHandler struct {
	mu    sync.Mutex
	lines [][]byte
}

func (f *fakeObserverHandler) Handle(ctx context.Context, conn net.Conn, line []byte) {
	f.mu.Lock()
	f.lines = append(f.lines, append([]byte(nil), line...))
	f.mu.Unlock()
	conn.Close()
}

func TestClassifyAndDispatchRoutesByType(t *testing.T) {
	drones := &fakeDroneHandler{}
	observers := &fakeObserverHandler{}
	a := New(":0", 5, zap.NewNop(), drones, observers)

	serverConn, clientConn := net.Pipe()
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		a.classifyAndDispatch(ctx, serverConn)
		close(done)
	}()

	_, err := clientConn.Write([]byte(`{"type":"HANDSHAKE","drone_id":"D1"}` + "\n"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("classifyAndDispatch did not complete")
	}

	drones.mu.Lock()
	defer drones.mu.Unlock()
	require.Len(t, drones.lines, 1)
	assert.Contains(t, string(drones.lines[0]), "HANDSHAKE")
}

func TestRunListensAndAcceptsConnections(t *testing.T) {
	drones := &fakeDroneHandler{}
	observers := &fakeObserverHandler{}
	a := New("127.0.0.1:0", 5, zap.NewNop(), drones, observers)

	ln, err := a.listen()
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"type":"HANDSHAKE","drone_id":"D1"}` + "\n"))
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		drones.mu.Lock()
		defer drones.mu.Unlock()
		return len(drones.lines) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestClassifyAndDispatchClosesUnknownType(t *testing.T) {
	drones := &fakeDroneHandler{}
	observers := &fakeObserverHandler{}
	a := New(":0", 5, zap.NewNop(), drones, observers)

	serverConn, clientConn := net.Pipe()
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		a.classifyAndDispatch(ctx, serverConn)
		close(done)
	}()

	_, err := clientConn.Write([]byte(`{"type":"BOGUS"}` + "\n"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("classifyAndDispatch did not complete")
	}

	assert.Len(t, drones.lines, 0)
	assert.Len(t, observers.lines, 0)
}
