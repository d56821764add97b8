// Package generator runs the background task that periodically mints new
// survivors at random grid cells, grounded on the original
// survivor_generator thread in survivor.c.
package generator

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"dronecoord/internal/model"
	"dronecoord/internal/world"
)

// Generator periodically inserts a new WAITING survivor into the world.
type Generator struct {
	world       *world.World
	log         *zap.Logger
	minInterval time.Duration
	maxInterval time.Duration
}

// New constructs a Generator bound to w.
func New(w *world.World, log *zap.Logger, minInterval, maxInterval time.Duration) *Generator {
	return &Generator{world: w, log: log.Named("generator"), minInterval: minInterval, maxInterval: maxInterval}
}

// Run loops until ctx is cancelled, sleeping a random interval in
// [minInterval, maxInterval] after each insert — matching the original's
// sleep(rand()%2+1) placement at the end of the loop body, not the start.
func (g *Generator) Run(ctx context.Context) error {
	g.log.Info("survivor generator started")
	for {
		if err := g.spawnOne(); err != nil {
			g.log.Error("failed to spawn survivor", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			g.log.Info("survivor generator stopping")
			return nil
		case <-time.After(g.randomDelay()):
		}
	}
}

func (g *Generator) randomDelay() time.Duration {
	span := g.maxInterval - g.minInterval
	if span <= 0 {
		return g.minInterval
	}
	return g.minInterval + time.Duration(rand.Int63n(int64(span)+1))
}

func (g *Generator) spawnOne() error {
	dims := g.world.Dimensions
	coord := model.Coord{X: rand.Intn(dims.Width), Y: rand.Intn(dims.Height)}

	id := model.NextID()
	s := &model.Survivor{
		ID:            id,
		Info:          model.FormatSurvivorLabel(id),
		Coord:         coord,
		State:         model.SurvivorWaiting,
		DiscoveryTime: time.Now(),
	}

	if !g.world.InsertWaitingSurvivor(s) {
		return nil // world closed, shutting down
	}

	g.log.Debug("new survivor",
		zap.String("info", s.Info),
		zap.Int("x", coord.X), zap.Int("y", coord.Y),
		zap.Int("waiting_total", g.world.Waiting.Len()))
	return nil
}
