// Package config loads server configuration by layering command-line
// flags over environment variables over an optional file over built-in
// defaults, via viper — matching the pack's oasis-core-style
// cobra+pflag+viper wiring rather than the teacher's ad hoc JSON file
// load.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable of the coordination server.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	MapHeight int `mapstructure:"map_height"`
	MapWidth  int `mapstructure:"map_width"`

	WaitingCapacity  int `mapstructure:"waiting_capacity"`
	HelpedCapacity   int `mapstructure:"helped_capacity"`
	DroneCapacity    int `mapstructure:"drone_capacity"`
	ObserverCapacity int `mapstructure:"observer_capacity"`

	// ListenBacklog mirrors the original's MAX_PENDING_CONNECTIONS, here a
	// config default instead of a compile-time constant.
	ListenBacklog int `mapstructure:"listen_backlog"`

	StatusUpdateIntervalSeconds int `mapstructure:"status_update_interval_seconds"`
	HeartbeatIntervalSeconds    int `mapstructure:"heartbeat_interval_seconds"`
	DroneTimeout                time.Duration `mapstructure:"drone_timeout"`

	GeneratorMinInterval time.Duration `mapstructure:"generator_min_interval"`
	GeneratorMaxInterval time.Duration `mapstructure:"generator_max_interval"`
	DispatchInterval     time.Duration `mapstructure:"dispatch_interval"`
	ObserverPushInterval time.Duration `mapstructure:"observer_push_interval"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	Debug       bool   `mapstructure:"debug"`
	ConfigFile  string `mapstructure:"config_file"`
}

// Defaults mirrors the original's compiled-in constants: listen on :8080,
// a 20x30 grid, capacities 100/500/50/10, 10s heartbeats, 30s timeout.
func Defaults() Config {
	return Config{
		ListenAddr:                  ":8080",
		MapHeight:                   20,
		MapWidth:                    30,
		WaitingCapacity:             100,
		HelpedCapacity:              500,
		DroneCapacity:               50,
		ObserverCapacity:            10,
		ListenBacklog:               15,
		StatusUpdateIntervalSeconds: 0,
		HeartbeatIntervalSeconds:    10,
		DroneTimeout:                30 * time.Second,
		GeneratorMinInterval:        1 * time.Second,
		GeneratorMaxInterval:        3 * time.Second,
		DispatchInterval:            1 * time.Second,
		ObserverPushInterval:        40 * time.Millisecond,
		MetricsAddr:                 ":9090",
		Debug:                       false,
	}
}

// BindFlags registers every config field as a pflag on fs, so the caller
// can attach fs to a cobra command's Flags().
func BindFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("listen-addr", d.ListenAddr, "TCP address the coordinator listens on")
	fs.Int("map-height", d.MapHeight, "grid height")
	fs.Int("map-width", d.MapWidth, "grid width")
	fs.Int("waiting-capacity", d.WaitingCapacity, "waiting-survivor registry capacity")
	fs.Int("helped-capacity", d.HelpedCapacity, "helped-survivor log capacity")
	fs.Int("drone-capacity", d.DroneCapacity, "drone registry capacity")
	fs.Int("observer-capacity", d.ObserverCapacity, "observer registry capacity")
	fs.Int("listen-backlog", d.ListenBacklog, "TCP listen backlog")
	fs.Int("status-update-interval-seconds", d.StatusUpdateIntervalSeconds, "STATUS_UPDATE cadence advertised to drones in HANDSHAKE_ACK")
	fs.Int("heartbeat-interval-seconds", d.HeartbeatIntervalSeconds, "server->drone heartbeat interval")
	fs.Duration("drone-timeout", d.DroneTimeout, "liveness timeout before evicting a drone")
	fs.Duration("generator-min-interval", d.GeneratorMinInterval, "minimum delay between survivor spawns")
	fs.Duration("generator-max-interval", d.GeneratorMaxInterval, "maximum delay between survivor spawns")
	fs.Duration("dispatch-interval", d.DispatchInterval, "dispatcher cycle period")
	fs.Duration("observer-push-interval", d.ObserverPushInterval, "observer snapshot push period")
	fs.String("metrics-addr", d.MetricsAddr, "address for the Prometheus /metrics endpoint")
	fs.Bool("debug", d.Debug, "enable verbose, human-readable logging")
	fs.String("config-file", "", "optional YAML config file")
}

// Load builds a Config by layering flags over DRONECOORD_* environment
// variables over an optional config file over Defaults().
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	cfg := Defaults()
	v.SetEnvPrefix("dronecoord")
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return cfg, fmt.Errorf("bind flags: %w", err)
	}

	if file := v.GetString("config-file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg.ListenAddr = v.GetString("listen-addr")
	cfg.MapHeight = v.GetInt("map-height")
	cfg.MapWidth = v.GetInt("map-width")
	cfg.WaitingCapacity = v.GetInt("waiting-capacity")
	cfg.HelpedCapacity = v.GetInt("helped-capacity")
	cfg.DroneCapacity = v.GetInt("drone-capacity")
	cfg.ObserverCapacity = v.GetInt("observer-capacity")
	cfg.ListenBacklog = v.GetInt("listen-backlog")
	cfg.StatusUpdateIntervalSeconds = v.GetInt("status-update-interval-seconds")
	cfg.HeartbeatIntervalSeconds = v.GetInt("heartbeat-interval-seconds")
	cfg.DroneTimeout = v.GetDuration("drone-timeout")
	cfg.GeneratorMinInterval = v.GetDuration("generator-min-interval")
	cfg.GeneratorMaxInterval = v.GetDuration("generator-max-interval")
	cfg.DispatchInterval = v.GetDuration("dispatch-interval")
	cfg.ObserverPushInterval = v.GetDuration("observer-push-interval")
	cfg.MetricsAddr = v.GetString("metrics-addr")
	cfg.Debug = v.GetBool("debug")

	if cfg.MapHeight <= 0 || cfg.MapWidth <= 0 {
		return cfg, fmt.Errorf("map dimensions must be positive, got %dx%d", cfg.MapWidth, cfg.MapHeight)
	}
	return cfg, nil
}
