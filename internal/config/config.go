package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Client    ClientConfig    `koanf:"client"`
	Heartbeat HeartbeatConfig `koanf:"heartbeat"`
	Trust     TrustConfig     `koanf:"trust"`
	Daemon    DaemonConfig    `koanf:"daemon"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	SharedSecret    string `koanf:"shared_secret"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type ClientConfig struct {
	BaseURL        string `koanf:"base_url"`
	SharedSecret   string `koanf:"shared_secret"`
	RequestTimeout string `koanf:"request_timeout"`
}

type HeartbeatConfig struct {
	Schedule    string   `koanf:"schedule"`
	SkillBudget string   `koanf:"skill_budget"`
	TickTimeout string   `koanf:"tick_timeout"`
	UserIDs     []string `koanf:"user_ids"`
}

type TrustConfig struct {
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout"`
}

const (
	DefaultServerPort            = 7360
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "10s"
	DefaultServerWriteTimeout    = "30s"
	DefaultServerIdleTimeout     = "60s"
	DefaultServerShutdownTimeout = "5s"

	DefaultClientBaseURL        = "http://localhost:7360"
	DefaultClientRequestTimeout = "30s"

	DefaultHeartbeatSchedule    = "@every 5m"
	DefaultHeartbeatSkillBudget = "10s"
	DefaultHeartbeatTickTimeout = "1m"

	DefaultTrustBackend = "file"

	DefaultDaemonShutdownTimeout        = "30s"
	DefaultDaemonHealthCheckInterval    = "30s"
	DefaultDaemonStartupShutdownTimeout = "10s"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                     DefaultServerPort,
		"server.log_level":                DefaultServerLogLevel,
		"server.read_timeout":             DefaultServerReadTimeout,
		"server.write_timeout":            DefaultServerWriteTimeout,
		"server.idle_timeout":             DefaultServerIdleTimeout,
		"server.shutdown_timeout":         DefaultServerShutdownTimeout,
		"client.base_url":                 DefaultClientBaseURL,
		"client.request_timeout":          DefaultClientRequestTimeout,
		"heartbeat.schedule":              DefaultHeartbeatSchedule,
		"heartbeat.skill_budget":          DefaultHeartbeatSkillBudget,
		"heartbeat.tick_timeout":          DefaultHeartbeatTickTimeout,
		"heartbeat.user_ids":              []string{},
		"trust.backend":                   DefaultTrustBackend,
		"trust.path":                      filepath.Join(os.Getenv("HOME"), ".valet", "trust"),
		"daemon.shutdown_timeout":         DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":    DefaultDaemonHealthCheckInterval,
		"daemon.startup_shutdown_timeout": DefaultDaemonStartupShutdownTimeout,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".valet", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("VALET_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "VALET_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Post-Process: VALET_SECRET is the conventional way to pass the shared
	// secret; it fills both sides when neither is set explicitly.
	if secret := os.Getenv("VALET_SECRET"); secret != "" {
		if cfg.Server.SharedSecret == "" {
			cfg.Server.SharedSecret = secret
		}
		if cfg.Client.SharedSecret == "" {
			cfg.Client.SharedSecret = secret
		}
	}

	return &cfg, nil
}
