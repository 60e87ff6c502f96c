package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DaemonConfig configures one peerwired instance: the listening exchange
// endpoint, the admin HTTP surface, and per-connection bounds.
type DaemonConfig struct {
	Name          string   `toml:"name"`
	ListenHost    string   `toml:"listen_host"`
	ListenPort    int      `toml:"listen_port"`
	AdminAddr     string   `toml:"admin_addr"`
	DownloadDir   string   `toml:"download_dir"`
	LogLevel      string   `toml:"log_level"`
	IdleTimeoutMS int      `toml:"idle_timeout_ms"`
	WriteBurst    int      `toml:"write_burst"`
	CorsOrigins   []string `toml:"cors_origins"`
}

func LoadDaemonConfig(path string) (DaemonConfig, error) {
	var cfg DaemonConfig
	if err := loadToml(path, &cfg); err != nil {
		return DaemonConfig{}, err
	}
	applyDefaults(&cfg)
	if err := ValidateDaemonConfig(cfg); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

// DefaultDaemonConfig is the configuration used when no file is given.
func DefaultDaemonConfig() DaemonConfig {
	var cfg DaemonConfig
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *DaemonConfig) {
	if cfg.Name == "" {
		cfg.Name = "peerwired"
	}
	if cfg.ListenHost == "" {
		cfg.ListenHost = "0.0.0.0"
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 65432
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = ":9200"
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "."
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.IdleTimeoutMS == 0 {
		cfg.IdleTimeoutMS = 30000
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDaemonConfig(cfg DaemonConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("daemon config missing name")
	}
	if cfg.ListenPort < 1 || cfg.ListenPort > 65535 {
		return fmt.Errorf("daemon config listen_port out of range: %d", cfg.ListenPort)
	}
	if strings.TrimSpace(cfg.AdminAddr) == "" {
		return fmt.Errorf("daemon config missing admin_addr")
	}
	if strings.TrimSpace(cfg.DownloadDir) == "" {
		return fmt.Errorf("daemon config missing download_dir")
	}
	if cfg.IdleTimeoutMS < 0 {
		return fmt.Errorf("daemon config idle_timeout_ms negative")
	}
	if cfg.WriteBurst < 0 {
		return fmt.Errorf("daemon config write_burst negative")
	}
	return nil
}

// IdleTimeout converts the configured idle window to a duration.
func (cfg DaemonConfig) IdleTimeout() time.Duration {
	return time.Duration(cfg.IdleTimeoutMS) * time.Millisecond
}
