// Package dispatcher implements the assignment loop: pick the oldest
// waiting survivor, find the nearest idle drone, and send it a mission.
// Ported near line-for-line from the original ai_controller /
// find_closest_idle_drone in ai.c.
package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dronecoord/internal/metrics"
	"dronecoord/internal/model"
	"dronecoord/internal/protocol"
	"dronecoord/internal/world"
)

// Dispatcher runs the periodic assignment cycle.
type Dispatcher struct {
	world      *world.World
	log        *zap.Logger
	metrics    *metrics.Metrics
	interval   time.Duration
	missionSeq uint64
}

// New constructs a Dispatcher bound to w.
func New(w *world.World, log *zap.Logger, m *metrics.Metrics, interval time.Duration) *Dispatcher {
	return &Dispatcher{world: w, log: log.Named("dispatcher"), metrics: m, interval: interval}
}

// Run loops until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping")
			return nil
		case <-ticker.C:
			d.cycle()
		}
	}
}

func (d *Dispatcher) cycle() {
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.DispatchCyclesTotal.Inc()
			d.metrics.DispatchAssignmentDuration.Observe(time.Since(start).Seconds())
			waiting, assigned := d.world.CountWaitingByState()
			d.metrics.SurvivorsWaiting.Set(float64(waiting))
			d.metrics.SurvivorsAssigned.Set(float64(assigned))
		}
	}()

	survivor := d.claimOldestWaiting()
	if survivor == nil {
		return
	}

	drone := d.findClosestIdleDrone(survivor.Coord)
	if drone == nil {
		d.log.Debug("no idle drone available, reverting survivor to WAITING", zap.String("survivor", survivor.Info))
		d.world.RevertToWaiting(survivor.ID)
		return
	}

	d.assign(drone, survivor)
}

// claimOldestWaiting walks the waiting registry tail (oldest) toward head
// and flips the first WAITING entry to ASSIGNED in place, mirroring ai.c's
// tail-to-head scan under survivors->lock.
func (d *Dispatcher) claimOldestWaiting() *model.Survivor {
	var claimed *model.Survivor
	d.world.Waiting.ForEachTailToHead(func(s *model.Survivor) bool {
		if s.State == model.SurvivorWaiting {
			s.State = model.SurvivorAssigned
			claimed = s
			return false
		}
		return true
	})
	return claimed
}

// findClosestIdleDrone scans the drone registry for the IDLE drone
// minimizing Manhattan distance to target, taking each drone's own lock
// only long enough to read its state and coord.
func (d *Dispatcher) findClosestIdleDrone(target model.Coord) *model.Drone {
	var closest *model.Drone
	minDist := int(^uint(0) >> 1) // max int

	d.world.Drones.ForEach(func(dr *model.Drone) bool {
		dr.Lock()
		if dr.State == model.DroneIdle {
			dist := dr.Coord.ManhattanTo(target)
			if dist < minDist {
				minDist = dist
				closest = dr
			}
		}
		dr.Unlock()
		return true
	})
	return closest
}

func (d *Dispatcher) assign(dr *model.Drone, survivor *model.Survivor) {
	dr.Lock()
	defer dr.Unlock()

	// The search released this drone's lock; re-check under it that the
	// drone is still IDLE before handing it the mission.
	if dr.State != model.DroneIdle {
		d.log.Debug("chosen drone no longer idle, reverting survivor to WAITING", zap.String("drone", dr.IDStr))
		d.world.RevertToWaiting(survivor.ID)
		return
	}

	dr.Target = survivor.Coord
	dr.State = model.DroneOnMission
	dr.CurrentTargetID = survivor.ID
	dr.HasCurrentTarget = true

	seq := d.missionSeq + 1
	missionID := model.FormatMissionID(dr.IDStr, seq, survivor.Info)

	frame := protocol.AssignMissionFrame{
		Type:      protocol.TypeAssignMission,
		MissionID: missionID,
		Priority:  "high",
		Target:    survivor.Coord,
	}
	payload, err := protocol.Encode(frame)
	if err != nil {
		d.log.Error("failed to stringify ASSIGN_MISSION", zap.String("drone", dr.IDStr), zap.Error(err))
		d.revertAssignment(dr, survivor)
		return
	}

	if dr.Conn == nil {
		d.log.Error("drone has no connection, cannot send ASSIGN_MISSION", zap.String("drone", dr.IDStr))
		d.revertAssignment(dr, survivor)
		return
	}

	if _, err := dr.Conn.Write(payload); err != nil {
		d.log.Warn("failed to send ASSIGN_MISSION to drone", zap.String("drone", dr.IDStr), zap.Error(err))
		d.revertAssignment(dr, survivor)
		return
	}

	d.missionSeq = seq
	d.log.Info("assigned mission",
		zap.String("drone", dr.IDStr),
		zap.String("survivor", survivor.Info),
		zap.String("mission_id", missionID))
}

// revertAssignment undoes a failed send: the drone returns to IDLE with no
// target, and the survivor returns to WAITING so the next cycle retries it.
// Caller must hold dr's lock; the survivor write goes through the waiting
// registry's own lock via world.RevertToWaiting rather than touching
// survivor fields directly.
func (d *Dispatcher) revertAssignment(dr *model.Drone, survivor *model.Survivor) {
	dr.State = model.DroneIdle
	dr.HasCurrentTarget = false
	dr.CurrentTargetID = 0
	d.world.RevertToWaiting(survivor.ID)
}
