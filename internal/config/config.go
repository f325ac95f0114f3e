package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/botfarm/internal/logger"
)

// Config is the daemon configuration, loaded from a TOML file with
// BOTFARM_* environment overrides.
type Config struct {
	BotsDir         string        `mapstructure:"bots_dir"`
	StoreDSN        string        `mapstructure:"store_dsn"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	FirstGrace      time.Duration `mapstructure:"first_grace"`
	SecondGrace     time.Duration `mapstructure:"second_grace"`
	StopWait        time.Duration `mapstructure:"stop_wait"`
	AutoStartDelay  time.Duration `mapstructure:"auto_start_delay"`
	PythonBin       string        `mapstructure:"python_bin"`
	NodeBin         string        `mapstructure:"node_bin"`
	MetricsListen   string        `mapstructure:"metrics_listen"` // empty disables the endpoint
	Log             logger.Config `mapstructure:"log"`
}

// Load reads the configuration at path. An empty path yields defaults plus
// environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOTFARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bots_dir", "bots")
	v.SetDefault("store_dsn", filepath.Join("data", "panel.db"))
	v.SetDefault("monitor_interval", 30*time.Second)
	v.SetDefault("first_grace", 1500*time.Millisecond)
	v.SetDefault("second_grace", 2*time.Second)
	v.SetDefault("stop_wait", 5*time.Second)
	v.SetDefault("auto_start_delay", time.Second)
	v.SetDefault("python_bin", "python3")
	v.SetDefault("node_bin", "node")
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MonitorInterval <= 0 {
		return Config{}, fmt.Errorf("monitor_interval must be positive")
	}
	return cfg, nil
}
