// Package protocol implements the newline-delimited JSON wire format:
// frame types, a streaming frame reader that tolerates partial reads, and
// jsoniter-backed encode/decode helpers.
package protocol

import (
	"bufio"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"dronecoord/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxFrameBytes bounds a single line; a frame exceeding this aborts the
// connection rather than growing the accumulator unbounded.
const maxFrameBytes = 64 * 1024

// Frame type discriminators.
const (
	TypeHandshake         = "HANDSHAKE"
	TypeStatusUpdate      = "STATUS_UPDATE"
	TypeMissionComplete   = "MISSION_COMPLETE"
	TypeHeartbeatResponse = "HEARTBEAT_RESPONSE"
	TypeHandshakeAck      = "HANDSHAKE_ACK"
	TypeAssignMission     = "ASSIGN_MISSION"
	TypeHeartbeat         = "HEARTBEAT"
	TypeError             = "ERROR"
	TypeViewerHandshake   = "VIEWER_HANDSHAKE"
	TypeViewerHandshakeAck = "VIEWER_HANDSHAKE_ACK"
	TypeSimulationState   = "SIMULATION_STATE_UPDATE"
)

// Error type codes carried in ErrorFrame.ErrorType.
const (
	ErrorTypeHandshake = 1
	ErrorTypeJSON      = 2
)

// Envelope is the minimal shape every inbound frame satisfies, used to
// read the discriminator before decoding the full frame.
type Envelope struct {
	Type string `json:"type"`
}

type HandshakeFrame struct {
	Type         string              `json:"type"`
	DroneID      string              `json:"drone_id"`
	Capabilities model.Capabilities `json:"capabilities"`
}

type StatusUpdateFrame struct {
	Type      string      `json:"type"`
	DroneID   string      `json:"drone_id"`
	Timestamp int64       `json:"timestamp"`
	Location  model.Coord `json:"location"`
	Status    string      `json:"status"` // "idle" | "busy" | "on_mission"
	Battery   int         `json:"battery"`
	Speed     int         `json:"speed"`
}

type MissionCompleteFrame struct {
	Type      string `json:"type"`
	DroneID   string `json:"drone_id"`
	MissionID string `json:"mission_id"`
	Timestamp int64  `json:"timestamp"`
	Success   bool   `json:"success"`
	Details   string `json:"details,omitempty"`
}

type HeartbeatResponseFrame struct {
	Type      string `json:"type"`
	DroneID   string `json:"drone_id"`
	Timestamp int64  `json:"timestamp"`
}

type HandshakeAckConfig struct {
	StatusUpdateInterval int `json:"status_update_interval"`
	HeartbeatInterval    int `json:"heartbeat_interval"`
}

type HandshakeAckFrame struct {
	Type   string             `json:"type"`
	Config HandshakeAckConfig `json:"config"`
}

type AssignMissionFrame struct {
	Type      string      `json:"type"`
	MissionID string      `json:"mission_id"`
	Priority  string      `json:"priority"`
	Target    model.Coord `json:"target"`
}

type HeartbeatFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorFrame struct {
	Type      string `json:"type"`
	ErrorMsg  string `json:"error_msg"`
	ErrorType int    `json:"error_type"`
}

type ViewerHandshakeFrame struct {
	Type     string `json:"type"`
	ViewerID string `json:"viewer_id"`
}

type MapDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type ViewerHandshakeAckFrame struct {
	Type                string        `json:"type"`
	InitialMapDimensions MapDimensions `json:"initial_map_dimensions"`
}

type SimulationStateUpdateFrame struct {
	Type          string                    `json:"type"`
	Timestamp     int64                     `json:"timestamp"`
	MapDimensions MapDimensions             `json:"map_dimensions"`
	Drones        []model.DroneSnapshot     `json:"drones"`
	Survivors     []model.SurvivorSnapshot  `json:"survivors"`
}

// Encode marshals v and appends the single trailing newline every frame
// on the wire must end with.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	b = append(b, '\n')
	return b, nil
}

// Decode unmarshals a single line (without its trailing newline) into v.
func Decode(line []byte, v any) error {
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// PeekType reads only the type discriminator out of a line.
func PeekType(line []byte) (string, error) {
	var env Envelope
	if err := Decode(line, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// FrameReader accumulates bytes from a stream reader and yields one
// newline-delimited frame at a time, preserving any trailing partial
// bytes between calls. It is seeded from a bufio.Reader so the acceptor
// can hand off a connection whose handshake line it has already read
// without re-reading the raw socket (see acceptor package).
type FrameReader struct {
	r   *bufio.Reader
	buf []byte
}

// NewFrameReader wraps r. If preread is non-nil, it is treated as bytes
// already consumed from the connection's handshake peek and is prepended
// to anything read next.
func NewFrameReader(r *bufio.Reader, preread []byte) *FrameReader {
	fr := &FrameReader{r: r}
	if len(preread) > 0 {
		fr.buf = append(fr.buf, preread...)
	}
	return fr
}

// ReadFrame blocks until a complete newline-terminated frame is
// available, or returns an error (including io.EOF on clean close).
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		if idx := indexByte(fr.buf, '\n'); idx >= 0 {
			line := fr.buf[:idx]
			fr.buf = fr.buf[idx+1:]
			out := make([]byte, len(line))
			copy(out, line)
			return out, nil
		}
		if len(fr.buf) > maxFrameBytes {
			return nil, fmt.Errorf("frame exceeds %d bytes without a newline", maxFrameBytes)
		}
		chunk, err := fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		fr.buf = append(fr.buf, chunk)
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
