// Package model defines the shared domain types: coordinates, drone and
// survivor state machines, and the monotonic identifier allocator that
// replaces the original program's raw pointer back-references.
package model

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Coord is a grid cell.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ManhattanTo returns the Manhattan distance to other.
func (c Coord) ManhattanTo(other Coord) int {
	return absInt(c.X-other.X) + absInt(c.Y-other.Y)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// DroneState is a drone's coarse availability.
type DroneState string

const (
	DroneIdle      DroneState = "IDLE"
	DroneOnMission DroneState = "ON_MISSION"
)

// SurvivorState tracks a survivor's place in the waiting/assigned/helped
// lifecycle. A survivor transitions WAITING -> ASSIGNED -> HELPED exactly
// once; it never moves backward except when a mission is reverted before
// ASSIGN_MISSION is ever sent (ASSIGNED -> WAITING).
type SurvivorState string

const (
	SurvivorWaiting  SurvivorState = "WAITING"
	SurvivorAssigned SurvivorState = "ASSIGNED"
	SurvivorHelped   SurvivorState = "HELPED"
)

// idCounter is the monotonic allocator backing drone, survivor and
// observer numeric identifiers, replacing the source's raw-pointer
// registry entries with stable, collision-free ids. Mission ids use a
// separate sequence kept by the dispatcher.
var idCounter atomic.Uint64

// NextID returns a new process-wide unique identifier.
func NextID() uint64 {
	return idCounter.Add(1)
}

// Capabilities mirrors the opaque capability payload a drone announces at
// handshake time; the server stores it but never interprets its fields.
type Capabilities struct {
	MaxSpeed        int    `json:"max_speed"`
	BatteryCapacity int    `json:"battery_capacity"`
	Payload         string `json:"payload"`
}

// Drone is one connected agent. Every mutable field below is guarded by
// Lock; callers must hold it before reading or writing Coord, Target,
// State, or CurrentTargetID. ID and IDStr are immutable after
// construction and may be read without the lock.
type Drone struct {
	ID    uint64
	IDStr string // "D<n>"

	Conn net.Conn

	mu               sync.Mutex
	State            DroneState
	Coord            Coord
	Target           Coord
	CurrentTargetID  uint64 // valid iff HasCurrentTarget
	HasCurrentTarget bool
	Capabilities     Capabilities
	LastLiveness     time.Time
}

// NewDrone constructs an idle drone at the given starting coordinate.
func NewDrone(id uint64, idStr string, conn net.Conn, start Coord, caps Capabilities) *Drone {
	return &Drone{
		ID:           id,
		IDStr:        idStr,
		Conn:         conn,
		State:        DroneIdle,
		Coord:        start,
		Capabilities: caps,
		LastLiveness: time.Now(),
	}
}

// Lock acquires the drone's element lock. Pair with Unlock; never hold two
// drones' locks at once.
func (d *Drone) Lock()   { d.mu.Lock() }
func (d *Drone) Unlock() { d.mu.Unlock() }

// DroneSnapshot is a point-in-time copy of a drone's mutable fields, safe to
// read without the lock once returned. Used by the observer fan-out.
type DroneSnapshot struct {
	IDStr  string        `json:"id_str"`
	Coord  Coord         `json:"coord"`
	Target Coord         `json:"target"`
	Status DroneState    `json:"status"`
}

// Snapshot copies the drone's current mutable state under its lock.
func (d *Drone) Snapshot() DroneSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DroneSnapshot{
		IDStr:  d.IDStr,
		Coord:  d.Coord,
		Target: d.Target,
		Status: d.State,
	}
}

// Survivor is one point of interest. Fields are only ever mutated while
// the owning registry's lock is held (waiting registry for WAITING and
// ASSIGNED; helped log is append-only).
type Survivor struct {
	ID            uint64
	Info          string // "SURV-<4 digits>"
	Coord         Coord
	State         SurvivorState
	DiscoveryTime time.Time
	HelpedTime    time.Time
}

// SurvivorSnapshot is a point-in-time copy for the observer fan-out.
type SurvivorSnapshot struct {
	Info   string        `json:"info"`
	Coord  Coord         `json:"coord"`
	Status SurvivorState `json:"status"`
}

// Snapshot copies the survivor's fields. Callers must already hold
// whatever lock currently owns this survivor (waiting registry lock, or
// none for an already-helped, append-only entry).
func (s *Survivor) Snapshot() SurvivorSnapshot {
	return SurvivorSnapshot{Info: s.Info, Coord: s.Coord, Status: s.State}
}

// FormatDroneID renders the wire-format drone identifier string.
func FormatDroneID(n uint64) string {
	return fmt.Sprintf("D%d", n)
}

// FormatSurvivorLabel renders the wire-format survivor label string.
func FormatSurvivorLabel(n uint64) string {
	return fmt.Sprintf("SURV-%04d", n%10000)
}

// FormatMissionID renders the ASSIGN_MISSION mission identifier,
// replacing the source's time(NULL)%10000 suffix with the monotonic
// sequence number allocated for this mission.
func FormatMissionID(droneIDStr string, seq uint64, survivorLabel string) string {
	return fmt.Sprintf("M%s-%dS%s", droneIDStr, seq, survivorLabel)
}
