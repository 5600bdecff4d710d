// Package config loads platform configuration from a YAML file on
// disk, then overlays environment variables — the same two-layer
// convention the daemon's entrypoint has always used for its settings
// file, extended here with struct-tag-driven env overlay instead of
// hand-rolled flag parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's full runtime configuration.
type Config struct {
	ListenAddr   string        `yaml:"listen_addr" env:"SIMHOST_LISTEN_ADDR" envDefault:":8080"`
	NodeID       string        `yaml:"node_id" env:"SIMHOST_NODE_ID"`
	AutoAdvance  time.Duration `yaml:"auto_advance" env:"SIMHOST_AUTO_ADVANCE" envDefault:"10ms"`
	StopTimeout  time.Duration `yaml:"stop_timeout" env:"SIMHOST_STOP_TIMEOUT" envDefault:"5s"`
	MaxLiveCount int           `yaml:"max_live_containers" env:"SIMHOST_MAX_LIVE_CONTAINERS" envDefault:"0"`

	Auth struct {
		TokenSigningKey string        `yaml:"token_signing_key" env:"SIMHOST_TOKEN_SIGNING_KEY,required"`
		SessionTTL      time.Duration `yaml:"session_ttl" env:"SIMHOST_SESSION_TTL" envDefault:"24h"`
	} `yaml:"auth"`

	Cluster struct {
		StoreDriver  string        `yaml:"store_driver" env:"SIMHOST_CLUSTER_STORE" envDefault:"memory"` // memory|sqlite|postgres
		DataDir      string        `yaml:"data_dir" env:"SIMHOST_DATA_DIR" envDefault:"/var/lib/simhost"`
		SQLitePath   string        `yaml:"sqlite_path" env:"SIMHOST_CLUSTER_SQLITE_PATH"`
		HeartbeatTTL time.Duration `yaml:"heartbeat_ttl" env:"SIMHOST_HEARTBEAT_TTL" envDefault:"30s"`

		Postgres struct {
			Host     string `yaml:"host" env:"SIMHOST_PG_HOST"`
			Port     int    `yaml:"port" env:"SIMHOST_PG_PORT" envDefault:"5432"`
			Database string `yaml:"database" env:"SIMHOST_PG_DATABASE"`
			User     string `yaml:"user" env:"SIMHOST_PG_USER"`
			Password string `yaml:"password" env:"SIMHOST_PG_PASSWORD"`
			SSLMode  string `yaml:"ssl_mode" env:"SIMHOST_PG_SSLMODE" envDefault:"disable"`
		} `yaml:"postgres"`
	} `yaml:"cluster"`

	Distributor struct {
		Retention time.Duration `yaml:"retention" env:"SIMHOST_ARTIFACT_RETENTION" envDefault:"720h"`
		GCCron    string        `yaml:"gc_cron" env:"SIMHOST_ARTIFACT_GC_CRON" envDefault:"0 * * * *"`
	} `yaml:"distributor"`

	WS struct {
		CommandsPerSecond float64 `yaml:"commands_per_second" env:"SIMHOST_WS_COMMANDS_PER_SECOND" envDefault:"20"`
		CommandBurst      int     `yaml:"command_burst" env:"SIMHOST_WS_COMMAND_BURST" envDefault:"20"`
	} `yaml:"ws"`

	Autoscaler struct {
		HighLoad            float64 `yaml:"high_load" env:"SIMHOST_AUTOSCALE_HIGH" envDefault:"0.8"`
		LowLoad             float64 `yaml:"low_load" env:"SIMHOST_AUTOSCALE_LOW" envDefault:"0.2"`
		ConsecutiveRequired int     `yaml:"consecutive_required" env:"SIMHOST_AUTOSCALE_WINDOWS" envDefault:"3"`
		Cron                string  `yaml:"cron" env:"SIMHOST_AUTOSCALE_CRON" envDefault:"*/1 * * * *"`
	} `yaml:"autoscaler"`
}

// DefaultPath returns the default config file location under the
// user's home directory.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".simhost", "config.yaml")
}

// Load reads path (if it exists) into the config and then overlays
// environment variables, so env always wins over the file. A missing
// file is not an error — env vars and defaults still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config env vars: %w", err)
	}
	return cfg, nil
}
