// Package world holds the process-wide coordination state: the grid, the
// drone registry, the waiting and helped survivor registries, the
// per-cell survivor index, and the observer registry. A single World
// value is constructed at startup and passed into every background task
// — replacing the original program's global mutable singletons.
package world

import (
	"fmt"
	"sync"
	"time"

	"dronecoord/internal/container"
	"dronecoord/internal/model"
)

// Dimensions describes the grid size.
type Dimensions struct {
	Height int
	Width  int
}

// Config bounds the capacity of every registry, mirroring the source's
// hardcoded list sizes (100/500/50/10) as configurable defaults.
type Config struct {
	Dimensions       Dimensions
	WaitingCapacity  int
	HelpedCapacity   int
	DroneCapacity    int
	ObserverCapacity int
}

// cellIndex tracks which survivor ids currently occupy a grid cell.
type cellIndex struct {
	mu  sync.Mutex
	ids map[model.Coord]map[uint64]struct{}
}

func newCellIndex() *cellIndex {
	return &cellIndex{ids: make(map[model.Coord]map[uint64]struct{})}
}

func (c *cellIndex) add(coord model.Coord, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.ids[coord]
	if !ok {
		set = make(map[uint64]struct{})
		c.ids[coord] = set
	}
	set[id] = struct{}{}
}

func (c *cellIndex) remove(coord model.Coord, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.ids[coord]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(c.ids, coord)
	}
}

// World aggregates every piece of shared coordination state.
type World struct {
	Dimensions Dimensions

	cells *cellIndex

	Waiting   *container.Container[*model.Survivor]
	Helped    *container.Container[*model.Survivor]
	Drones    *container.Container[*model.Drone]
	Observers *container.Container[*Observer]

	// survivorsByID lets the mission-complete path look up a survivor by
	// its stable id without a linear scan keyed on
	// pointer identity, replacing the source's back-reference pointers.
	idMu          sync.Mutex
	survivorsByID map[uint64]*model.Survivor
}

// Observer is a registered viewer connection's registry entry; its
// connection handle lives in the observer session package, not here.
type Observer struct {
	ID uint64
}

// New constructs a World with freshly allocated, empty registries.
func New(cfg Config) (*World, error) {
	if cfg.Dimensions.Height <= 0 || cfg.Dimensions.Width <= 0 {
		return nil, fmt.Errorf("world: invalid dimensions %+v", cfg.Dimensions)
	}
	return &World{
		Dimensions:    cfg.Dimensions,
		cells:         newCellIndex(),
		Waiting:       container.New[*model.Survivor](cfg.WaitingCapacity),
		Helped:        container.New[*model.Survivor](cfg.HelpedCapacity),
		Drones:        container.New[*model.Drone](cfg.DroneCapacity),
		Observers:     container.New[*Observer](cfg.ObserverCapacity),
		survivorsByID: make(map[uint64]*model.Survivor),
	}, nil
}

// Close releases every registry, unblocking any task parked on a
// condition variable. Call only after every background task has stopped
// referencing the registries.
func (w *World) Close() {
	w.Waiting.Close()
	w.Helped.Close()
	w.Drones.Close()
	w.Observers.Close()
}

// InsertWaitingSurvivor adds s to the waiting registry and its cell
// index. The cell index is an in-memory map whose insert cannot fail, so
// there is no rollback step. Blocks while the waiting registry is at
// capacity, mirroring the generator's original behavior; returns false
// only if the registry was closed.
func (w *World) InsertWaitingSurvivor(s *model.Survivor) bool {
	if !w.Waiting.Push(s) {
		return false
	}
	w.idMu.Lock()
	w.survivorsByID[s.ID] = s
	w.idMu.Unlock()
	w.cells.add(s.Coord, s.ID)
	return true
}

// RemoveWaitingSurvivor removes the survivor with the given id from the
// waiting registry and its cell index.
func (w *World) RemoveWaitingSurvivor(s *model.Survivor) {
	w.Waiting.RemoveValue(func(v *model.Survivor) bool { return v.ID == s.ID })
	w.cells.remove(s.Coord, s.ID)
	w.idMu.Lock()
	delete(w.survivorsByID, s.ID)
	w.idMu.Unlock()
}

// MoveToHelped appends s to the append-only helped log.
func (w *World) MoveToHelped(s *model.Survivor) bool {
	return w.Helped.Push(s)
}

// MutateWaiting runs fn on the waiting-registry entry with the given id
// while still holding the waiting container's lock, so the write is
// serialized against the dispatcher's and every observer session's own
// locked walks over the same registry (ForEach, ForEachTailToHead).
// Reports whether a matching entry was found.
func (w *World) MutateWaiting(id uint64, fn func(*model.Survivor)) bool {
	return w.Waiting.Mutate(func(v *model.Survivor) bool { return v.ID == id }, fn)
}

// RevertToWaiting flips the survivor with id from ASSIGNED back to
// WAITING under the waiting registry's lock. A no-op if the survivor is
// unknown or no longer ASSIGNED (e.g. a concurrent MISSION_COMPLETE
// already moved it to HELPED).
func (w *World) RevertToWaiting(id uint64) {
	w.MutateWaiting(id, func(s *model.Survivor) {
		if s.State == model.SurvivorAssigned {
			s.State = model.SurvivorWaiting
		}
	})
}

// CompleteSurvivor flips the survivor with id to HELPED under the waiting
// registry's lock, then migrates it from the waiting registry to the
// append-only helped log. Reports false if the survivor is unknown or was
// already HELPED, so a duplicate MISSION_COMPLETE is a no-op.
func (w *World) CompleteSurvivor(id uint64) (*model.Survivor, bool) {
	s, ok := w.SurvivorByID(id)
	if !ok {
		// Already moved to HELPED by an earlier call, or never existed.
		return nil, false
	}
	if !w.MutateWaiting(id, func(v *model.Survivor) {
		v.State = model.SurvivorHelped
		v.HelpedTime = time.Now()
	}) {
		return nil, false
	}
	w.RemoveWaitingSurvivor(s)
	w.MoveToHelped(s)
	return s, true
}

// SurvivorByID returns the survivor with id, if it is still tracked (i.e.
// not yet moved to the helped log).
func (w *World) SurvivorByID(id uint64) (*model.Survivor, bool) {
	w.idMu.Lock()
	defer w.idMu.Unlock()
	s, ok := w.survivorsByID[id]
	return s, ok
}

// CountWaitingByState reports how many entries in the waiting registry are
// currently WAITING versus ASSIGNED; both states share the same registry
// until a survivor is helped or reverted.
func (w *World) CountWaitingByState() (waiting, assigned int) {
	w.Waiting.ForEach(func(s *model.Survivor) bool {
		switch s.State {
		case model.SurvivorWaiting:
			waiting++
		case model.SurvivorAssigned:
			assigned++
		}
		return true
	})
	return waiting, assigned
}

// InBounds reports whether coord lies on the grid.
func (w *World) InBounds(coord model.Coord) bool {
	return coord.X >= 0 && coord.X < w.Dimensions.Width &&
		coord.Y >= 0 && coord.Y < w.Dimensions.Height
}

// Snapshot is a point-in-time copy of the whole world, detached from the
// registries once BuildSnapshot returns. Every observer session builds its
// own on each push tick; no snapshot is shared between sessions.
type Snapshot struct {
	Dimensions Dimensions
	Drones     []model.DroneSnapshot
	Survivors  []model.SurvivorSnapshot
}

// BuildSnapshot walks the drone and waiting-survivor registries under
// their respective locks and returns a detached copy.
func (w *World) BuildSnapshot() Snapshot {
	snap := Snapshot{Dimensions: w.Dimensions}
	w.Drones.ForEach(func(d *model.Drone) bool {
		snap.Drones = append(snap.Drones, d.Snapshot())
		return true
	})
	w.Waiting.ForEach(func(s *model.Survivor) bool {
		snap.Survivors = append(snap.Survivors, s.Snapshot())
		return true
	})
	// The helped log is included too so observers can render a survivor's
	// terminal HELPED state rather than having it vanish from the feed the
	// instant MISSION_COMPLETE lands.
	w.Helped.ForEach(func(s *model.Survivor) bool {
		snap.Survivors = append(snap.Survivors, s.Snapshot())
		return true
	})
	return snap
}
