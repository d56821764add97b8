// Package droneserver implements the per-connection drone session:
// handshake validation, framed message dispatch, heartbeat exchange, and
// liveness-timeout eviction. Grounded on handle_drone_connection in
// server.c.
package droneserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dronecoord/internal/metrics"
	"dronecoord/internal/model"
	"dronecoord/internal/protocol"
	"dronecoord/internal/world"
)

// Config bounds session behavior, sourced from the process-wide config.
type Config struct {
	StatusUpdateInterval int // seconds, echoed in HANDSHAKE_ACK only
	HeartbeatInterval     time.Duration
	Timeout               time.Duration
}

// Session runs one drone connection to completion.
type Session struct {
	world   *world.World
	log     *zap.Logger
	metrics *metrics.Metrics
	cfg     Config
}

// New constructs a Session handler bound to w.
func New(w *world.World, log *zap.Logger, m *metrics.Metrics, cfg Config) *Session {
	return &Session{world: w, log: log.Named("drone-session"), metrics: m, cfg: cfg}
}

// Handle parses handshake (the first already-framed line, handed in by
// the acceptor without a raw-socket re-read) and, if valid, runs the
// connection to completion. It always closes conn before returning.
func (s *Session) Handle(ctx context.Context, conn net.Conn, handshakeLine []byte, rest *bufio.Reader) {
	defer conn.Close()

	log := s.log.With(zap.String("remote_addr", conn.RemoteAddr().String()))

	var hs protocol.HandshakeFrame
	if err := protocol.Decode(handshakeLine, &hs); err != nil {
		log.Warn("invalid HANDSHAKE JSON", zap.Error(err))
		s.sendError(conn, "invalid HANDSHAKE JSON", protocol.ErrorTypeHandshake)
		return
	}

	if _, ok := parseDroneID(hs.DroneID); hs.Type != protocol.TypeHandshake || !ok {
		log.Warn("invalid HANDSHAKE format", zap.String("drone_id", hs.DroneID), zap.String("type", hs.Type))
		s.sendError(conn, "invalid HANDSHAKE format", protocol.ErrorTypeHandshake)
		return
	}

	start := model.Coord{X: rand.Intn(s.world.Dimensions.Width), Y: rand.Intn(s.world.Dimensions.Height)}
	drone := model.NewDrone(model.NextID(), hs.DroneID, conn, start, hs.Capabilities)

	if !s.world.Drones.Push(drone) {
		s.sendError(conn, "drone registry unavailable", protocol.ErrorTypeHandshake)
		return
	}
	if s.metrics != nil {
		s.metrics.DronesConnected.Inc()
		defer s.metrics.DronesConnected.Dec()
	}
	defer s.world.Drones.RemoveValue(func(d *model.Drone) bool { return d.ID == drone.ID })

	ack := protocol.HandshakeAckFrame{
		Type: protocol.TypeHandshakeAck,
		Config: protocol.HandshakeAckConfig{
			StatusUpdateInterval: s.cfg.StatusUpdateInterval,
			HeartbeatInterval:    int(s.cfg.HeartbeatInterval.Seconds()),
		},
	}
	if err := s.writeFrame(conn, ack); err != nil {
		log.Warn("failed to send HANDSHAKE_ACK", zap.Error(err))
		return
	}

	log = log.With(zap.String("drone", drone.IDStr))
	log.Info("drone connected")

	s.serve(ctx, log, conn, drone, rest)

	log.Info("connection closed")
}

func parseDroneID(idStr string) (int, bool) {
	if len(idStr) < 2 {
		return 0, false
	}
	prefix := idStr[0]
	if prefix != 'D' && prefix != 'd' {
		return 0, false
	}
	n, err := strconv.Atoi(idStr[1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (s *Session) serve(ctx context.Context, log *zap.Logger, conn net.Conn, drone *model.Drone, rest *bufio.Reader) {
	frames := protocol.NewFrameReader(rest, nil)
	frameCh := make(chan []byte)
	readErrCh := make(chan error, 1)
	stopReader := make(chan struct{})
	defer close(stopReader)

	go func() {
		for {
			line, err := frames.ReadFrame()
			if err != nil {
				select {
				case readErrCh <- err:
				case <-stopReader:
				}
				return
			}
			select {
			case frameCh <- line:
			case <-stopReader:
				return
			}
		}
	}()

	lastHeartbeatSent := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	drone.Lock()
	drone.LastLiveness = time.Now()
	drone.Unlock()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErrCh:
			if !errors.Is(err, io.EOF) {
				log.Warn("read error", zap.Error(err))
			}
			return

		case line := <-frameCh:
			drone.Lock()
			drone.LastLiveness = time.Now()
			drone.Unlock()
			s.dispatch(log, drone, line)

		case now := <-ticker.C:
			if now.Sub(lastHeartbeatSent) >= s.cfg.HeartbeatInterval {
				hb := protocol.HeartbeatFrame{Type: protocol.TypeHeartbeat, Timestamp: now.Unix()}
				if err := s.writeFrame(conn, hb); err != nil {
					log.Warn("failed to send HEARTBEAT", zap.Error(err))
					return
				}
				lastHeartbeatSent = now
			}

			drone.Lock()
			last := drone.LastLiveness
			drone.Unlock()
			if now.Sub(last) > s.cfg.Timeout {
				log.Warn("drone timed out", zap.Duration("since_last_liveness", now.Sub(last)))
				return
			}
		}
	}
}

func (s *Session) dispatch(log *zap.Logger, drone *model.Drone, line []byte) {
	typ, err := protocol.PeekType(line)
	if err != nil {
		log.Warn("invalid JSON frame", zap.Error(err), zap.ByteString("raw", line))
		return
	}

	switch typ {
	case protocol.TypeStatusUpdate:
		s.handleStatusUpdate(log, drone, line)
	case protocol.TypeMissionComplete:
		s.handleMissionComplete(log, drone, line)
	case protocol.TypeHeartbeatResponse:
		// liveness already refreshed by the caller; nothing else to do.
	default:
		log.Debug("ignoring unknown frame type", zap.String("type", typ))
	}
}

func (s *Session) handleStatusUpdate(log *zap.Logger, drone *model.Drone, line []byte) {
	var su protocol.StatusUpdateFrame
	if err := protocol.Decode(line, &su); err != nil {
		log.Warn("invalid STATUS_UPDATE", zap.Error(err))
		return
	}
	if su.DroneID != drone.IDStr {
		log.Warn("STATUS_UPDATE mismatched id", zap.String("expected", drone.IDStr), zap.String("got", su.DroneID))
		return
	}

	drone.Lock()
	defer drone.Unlock()
	drone.Coord = su.Location
	switch strings.ToLower(su.Status) {
	case "idle":
		drone.State = model.DroneIdle
	case "busy", "on_mission":
		drone.State = model.DroneOnMission
	}
}

func (s *Session) handleMissionComplete(log *zap.Logger, drone *model.Drone, line []byte) {
	var mc protocol.MissionCompleteFrame
	if err := protocol.Decode(line, &mc); err != nil {
		log.Warn("invalid MISSION_COMPLETE", zap.Error(err))
		return
	}
	log.Info("mission complete received", zap.String("mission_id", mc.MissionID), zap.Bool("success", mc.Success))

	drone.Lock()
	hadTarget := drone.HasCurrentTarget
	targetID := drone.CurrentTargetID
	drone.State = model.DroneIdle
	drone.HasCurrentTarget = false
	drone.CurrentTargetID = 0
	drone.Unlock()

	if !hadTarget || !mc.Success {
		return
	}

	survivor, completed := s.world.CompleteSurvivor(targetID)
	if !completed {
		return // unknown target or already helped: idempotent no-op
	}

	if s.metrics != nil {
		s.metrics.SurvivorsHelpedTotal.Inc()
	}
	log.Info("survivor helped", zap.String("survivor", survivor.Info), zap.String("mission_id", mc.MissionID))
}

func (s *Session) writeFrame(conn net.Conn, v any) error {
	payload, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *Session) sendError(conn net.Conn, msg string, errType int) {
	ef := protocol.ErrorFrame{Type: protocol.TypeError, ErrorMsg: msg, ErrorType: errType}
	_ = s.writeFrame(conn, ef)
}
