// Package acceptor runs the TCP listen loop: accept a connection, read
// its first newline-delimited frame to classify it as a drone or an
// observer, and hand it off to the matching session handler together with
// the bytes already read — so the handler never re-reads the raw socket
// for data the acceptor already consumed (resolves the original's
// MSG_PEEK-then-reread race; see SPEC_FULL.md design notes).
package acceptor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"dronecoord/internal/protocol"
)

// DroneHandler handles a classified drone connection.
type DroneHandler interface {
	Handle(ctx context.Context, conn net.Conn, handshakeLine []byte, rest *bufio.Reader)
}

// ObserverHandler handles a classified observer connection.
type ObserverHandler interface {
	Handle(ctx context.Context, conn net.Conn, handshakeLine []byte)
}

// Acceptor owns the listening socket and dispatches accepted connections.
type Acceptor struct {
	addr     string
	backlog  int
	log      *zap.Logger
	drones   DroneHandler
	observer ObserverHandler
}

// New constructs an Acceptor bound to addr.
func New(addr string, backlog int, log *zap.Logger, drones DroneHandler, observer ObserverHandler) *Acceptor {
	return &Acceptor{addr: addr, backlog: backlog, log: log.Named("acceptor"), drones: drones, observer: observer}
}

// Run listens on a.addr and serves connections until ctx is cancelled.
func (a *Acceptor) Run(ctx context.Context) error {
	ln, err := a.listen()
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.addr, err)
	}
	a.log.Info("listening", zap.String("addr", a.addr), zap.Int("backlog", a.backlog))
	return a.serve(ctx, ln)
}

// serve accepts connections off ln until ctx is cancelled or Accept fails.
func (a *Acceptor) serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				a.log.Info("acceptor stopping")
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go a.classifyAndDispatch(ctx, conn)
	}
}

// listen builds the listening socket by hand instead of via net.Listen,
// because net's public API has no hook for the listen(2) backlog argument
// (Go always calls listen(2) itself with its own internal default,
// overriding anything a ListenConfig.Control callback tries to set first).
// This mirrors the original's explicit socket/setsockopt/bind/listen
// sequence in main(), including SO_REUSEADDR.
func (a *Acceptor) listen() (net.Listener, error) {
	host, portStr, err := net.SplitHostPort(a.addr)
	if err != nil {
		return nil, fmt.Errorf("parse listen address %q: %w", a.addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse listen port %q: %w", portStr, err)
	}

	var ip [4]byte
	if host != "" {
		addr := net.ParseIP(host)
		if addr == nil {
			resolved, err := net.ResolveIPAddr("ip4", host)
			if err != nil {
				return nil, fmt.Errorf("resolve listen host %q: %w", host, err)
			}
			addr = resolved.IP
		}
		copy(ip[:], addr.To4())
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := syscall.Bind(fd, &syscall.SockaddrInet4{Port: port, Addr: ip}); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", a.addr, err)
	}
	backlog := a.backlog
	if backlog <= 0 {
		backlog = syscall.SOMAXCONN
	}
	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", a.addr, err)
	}

	f := os.NewFile(uintptr(fd), "dronecoord-listener")
	ln, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("wrap listener fd: %w", err)
	}
	return ln, nil
}

// classifyAndDispatch reads exactly one framed line from conn via a
// buffered reader, inspects its type, and routes to the matching handler.
// Unlike the original's raw MSG_PEEK (which left the bytes in the kernel
// socket buffer for the handler to re-read), the bufio.Reader here
// genuinely consumes the line once; the handler receives the decoded line
// plus the same reader so any buffered remainder is preserved.
func (a *Acceptor) classifyAndDispatch(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		conn.Close()
		return
	}
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}

	typ, err := protocol.PeekType(line)
	if err != nil {
		a.log.Warn("unparseable initial frame, closing", zap.Error(err))
		conn.Close()
		return
	}

	switch typ {
	case protocol.TypeHandshake:
		a.log.Debug("dispatching drone handler", zap.String("remote_addr", conn.RemoteAddr().String()))
		a.drones.Handle(ctx, conn, line, reader)
	case protocol.TypeViewerHandshake:
		a.log.Debug("dispatching observer handler", zap.String("remote_addr", conn.RemoteAddr().String()))
		a.observer.Handle(ctx, conn, line)
	default:
		a.log.Warn("unrecognized initial frame type, closing", zap.String("type", typ))
		conn.Close()
	}
}
