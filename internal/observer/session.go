// Package observer implements the per-connection viewer session: it sends
// VIEWER_HANDSHAKE_ACK, then pushes a SIMULATION_STATE_UPDATE built from a
// fresh world.Snapshot on every tick. Grounded on handle_viewer_connection
// in server.c. Each session calls world.BuildSnapshot itself, so every
// session walks the drone and survivor registries under their locks on
// each tick; no snapshot is shared between sessions.
package observer

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"dronecoord/internal/metrics"
	"dronecoord/internal/model"
	"dronecoord/internal/protocol"
	"dronecoord/internal/world"
)

// Session runs one observer connection to completion.
type Session struct {
	world    *world.World
	log      *zap.Logger
	metrics  *metrics.Metrics
	interval time.Duration
}

// New constructs an observer Session bound to w.
func New(w *world.World, log *zap.Logger, m *metrics.Metrics, interval time.Duration) *Session {
	return &Session{world: w, log: log.Named("observer-session"), metrics: m, interval: interval}
}

// Handle sends VIEWER_HANDSHAKE_ACK and then streams snapshots until the
// connection drops, ctx is cancelled, or a disconnect-check read fails.
// handshakeLine is accepted for symmetry with the drone session but
// unused beyond having already validated the VIEWER_HANDSHAKE type.
func (s *Session) Handle(ctx context.Context, conn net.Conn, handshakeLine []byte) {
	defer conn.Close()
	log := s.log.With(zap.String("remote_addr", conn.RemoteAddr().String()))

	obs := &world.Observer{ID: model.NextID()}
	if !s.world.Observers.Push(obs) {
		return
	}
	if s.metrics != nil {
		s.metrics.ObserverSessions.Inc()
		defer s.metrics.ObserverSessions.Dec()
	}
	defer s.world.Observers.RemoveValue(func(o *world.Observer) bool { return o.ID == obs.ID })

	ack := protocol.ViewerHandshakeAckFrame{
		Type: protocol.TypeViewerHandshakeAck,
		InitialMapDimensions: protocol.MapDimensions{
			Width:  s.world.Dimensions.Width,
			Height: s.world.Dimensions.Height,
		},
	}
	if err := s.writeFrame(conn, ack); err != nil {
		log.Warn("failed to send VIEWER_HANDSHAKE_ACK", zap.Error(err))
		return
	}
	log.Info("observer connected")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	disconnectCh := make(chan struct{})
	stopDetector := make(chan struct{})
	defer close(stopDetector)
	go s.detectDisconnect(conn, disconnectCh, stopDetector)

	for {
		select {
		case <-ctx.Done():
			log.Info("observer session stopping")
			return
		case <-disconnectCh:
			log.Info("observer disconnected")
			return
		case <-ticker.C:
			if err := s.pushSnapshot(conn); err != nil {
				log.Warn("failed to push snapshot", zap.Error(err))
				return
			}
		}
	}
}

// detectDisconnect mirrors the original's 10ms-timeout recv-to-detect-EOF
// trick: the viewer protocol carries no inbound traffic after the
// handshake, so bytes that do arrive are discarded and read timeouts are
// retried; any other read error (including EOF) means the peer is gone.
func (s *Session) detectDisconnect(conn net.Conn, disconnectCh chan<- struct{}, stop <-chan struct{}) {
	buf := make([]byte, 16)
	for {
		select {
		case <-stop:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		n, err := conn.Read(buf)
		if n > 0 {
			continue
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case disconnectCh <- struct{}{}:
			case <-stop:
			}
			return
		}
	}
}

func (s *Session) pushSnapshot(conn net.Conn) error {
	snap := s.world.BuildSnapshot()
	frame := protocol.SimulationStateUpdateFrame{
		Type:      protocol.TypeSimulationState,
		Timestamp: time.Now().Unix(),
		MapDimensions: protocol.MapDimensions{
			Width:  snap.Dimensions.Width,
			Height: snap.Dimensions.Height,
		},
		Drones:    snap.Drones,
		Survivors: snap.Survivors,
	}
	return s.writeFrame(conn, frame)
}

func (s *Session) writeFrame(conn net.Conn, v any) error {
	payload, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	_, err = conn.Write(payload)
	return err
}
