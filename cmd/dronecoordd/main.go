// Command dronecoordd runs the drone coordination server: the TCP
// acceptor, the survivor generator, the dispatcher, and the metrics
// endpoint, wired together with an errgroup and torn down on SIGINT or
// SIGTERM. Structure grounded on ployzd's cobra root command and
// daemon.Run's errgroup orchestration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dronecoord/internal/acceptor"
	"dronecoord/internal/config"
	"dronecoord/internal/dispatcher"
	"dronecoord/internal/droneserver"
	"dronecoord/internal/generator"
	"dronecoord/internal/logging"
	"dronecoord/internal/metrics"
	"dronecoord/internal/observer"
	"dronecoord/internal/world"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dronecoordd",
		Short: "Centralized drone fleet coordination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log, err := logging.New(cfg.Debug)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer log.Sync() //nolint:errcheck

			return run(cmd.Context(), cfg, log)
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

func run(parentCtx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A second interrupt forces an immediate exit instead of waiting on a
	// possibly-stuck graceful drain, mirroring server_signal_handler's
	// _exit(2) on a repeated signal in the original program.
	var signaled atomic.Bool
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		if !signaled.CompareAndSwap(false, true) {
			return
		}
		<-sigCh
		log.Warn("second interrupt received, forcing exit")
		os.Exit(2)
	}()

	w, err := world.New(world.Config{
		Dimensions:       world.Dimensions{Height: cfg.MapHeight, Width: cfg.MapWidth},
		WaitingCapacity:  cfg.WaitingCapacity,
		HelpedCapacity:   cfg.HelpedCapacity,
		DroneCapacity:    cfg.DroneCapacity,
		ObserverCapacity: cfg.ObserverCapacity,
	})
	if err != nil {
		return fmt.Errorf("init world: %w", err)
	}

	m := metrics.New()

	gen := generator.New(w, log, cfg.GeneratorMinInterval, cfg.GeneratorMaxInterval)
	disp := dispatcher.New(w, log, m, cfg.DispatchInterval)
	droneSessions := droneserver.New(w, log, m, droneserver.Config{
		StatusUpdateInterval: cfg.StatusUpdateIntervalSeconds,
		HeartbeatInterval:    time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
		Timeout:              cfg.DroneTimeout,
	})
	observerSessions := observer.New(w, log, m, cfg.ObserverPushInterval)
	accept := acceptor.New(cfg.ListenAddr, cfg.ListenBacklog, log, droneSessions, observerSessions)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return accept.Run(gctx) })
	g.Go(func() error { return gen.Run(gctx) })
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr) })

	log.Info("dronecoordd started",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Int("map_width", cfg.MapWidth),
		zap.Int("map_height", cfg.MapHeight),
		zap.String("metrics_addr", cfg.MetricsAddr))

	err = g.Wait()
	// Containers are only torn down once every background task above has
	// observed cancellation and returned, matching the original's teardown
	// order: stop accepting/generating/dispatching, then destroy the lists.
	w.Close()
	log.Info("dronecoordd shutdown complete")
	return err
}
