// Package config loads and atomically persists the host daemon's YAML
// configuration via viper. Most fields are read-only at runtime, but two
// are written back: zones.orchestration.enabled and
// artifact_storage.paths. Both follow a write-temp-then-rename
// discipline so readers never observe a partial file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
)

// Config is the subset of the YAML configuration this daemon reads or
// writes. Fields outside this set (auth, TLS, upload middleware) belong
// to the outer layers and pass through viper untouched.
type Config struct {
	Server struct {
		ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
	} `mapstructure:"server" yaml:"server"`

	Zones struct {
		Orchestration struct {
			Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
			PriorityDelaySeconds int `mapstructure:"priority_delay_seconds" yaml:"priority_delay_seconds"`
			ShutdownFailurePolicy string `mapstructure:"shutdown_failure_policy" yaml:"shutdown_failure_policy"`
		} `mapstructure:"orchestration" yaml:"orchestration"`
	} `mapstructure:"zones" yaml:"zones"`

	ArtifactStorage struct {
		Paths []string `mapstructure:"paths" yaml:"paths"`
	} `mapstructure:"artifact_storage" yaml:"artifact_storage"`

	Retention struct {
		StorageDays int `mapstructure:"storage_days" yaml:"storage_days"`
	} `mapstructure:"retention" yaml:"retention"`

	TaskEngine struct {
		Workers int `mapstructure:"workers" yaml:"workers"`
	} `mapstructure:"task_engine" yaml:"task_engine"`

	VNC struct {
		PortRangeStart   int `mapstructure:"port_range_start" yaml:"port_range_start"`
		PortRangeEnd     int `mapstructure:"port_range_end" yaml:"port_range_end"`
		SessionTimeoutSeconds int `mapstructure:"session_timeout_seconds" yaml:"session_timeout_seconds"`
		CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds" yaml:"cleanup_interval_seconds"`
	} `mapstructure:"vnc" yaml:"vnc"`

	Database struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"database" yaml:"database"`
}

var (
	mu     sync.Mutex
	path   string
	loaded Config
)

// Path resolves the configuration file location: ${CONFIG_PATH} if set,
// ./config/config.yaml otherwise.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return filepath.Join("config", "config.yaml")
}

// Load reads the YAML config via viper, pre-seeding defaults so a
// missing or sparse file still yields a runnable configuration.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	path = Path()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.listen_address", ":8080")
	viper.SetDefault("zones.orchestration.enabled", false)
	viper.SetDefault("zones.orchestration.priority_delay_seconds", 5)
	viper.SetDefault("zones.orchestration.shutdown_failure_policy", "continue")
	viper.SetDefault("retention.storage_days", 30)
	viper.SetDefault("task_engine.workers", 4)
	viper.SetDefault("vnc.port_range_start", 8000)
	viper.SetDefault("vnc.port_range_end", 8100)
	viper.SetDefault("vnc.session_timeout_seconds", 1800)
	viper.SetDefault("vnc.cleanup_interval_seconds", 300)
	viper.SetDefault("database.path", "./zoneweaver.bdb")

	if err := viper.ReadInConfig(); err != nil {
		// With an explicit SetConfigFile, a missing file surfaces as a
		// plain open error rather than ConfigFileNotFoundError.
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		minilog.Warn("config file %s not found, using defaults", path)
	}

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	loaded = c
	return &loaded, nil
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()
	return &loaded
}

// SetOrchestrationEnabled atomically persists zones.orchestration.enabled,
// used by the zone orchestrator's enable/disable toggle.
func SetOrchestrationEnabled(enabled bool) error {
	mu.Lock()
	defer mu.Unlock()

	loaded.Zones.Orchestration.Enabled = enabled
	return writeLocked()
}

// SetArtifactPaths atomically persists artifact_storage.paths.
func SetArtifactPaths(paths []string) error {
	mu.Lock()
	defer mu.Unlock()

	loaded.ArtifactStorage.Paths = paths
	return writeLocked()
}

// writeLocked serializes the in-memory config back to disk via
// write-temp-then-rename; callers must hold mu.
func writeLocked() error {
	out, err := yaml.Marshal(loaded)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("writing temp config: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming temp config into place: %w", err)
	}

	return nil
}
