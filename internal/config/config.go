package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	MCP       MCPConfig       `yaml:"mcp"`
	Locks     LocksConfig     `yaml:"locks"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Activity  ActivityConfig  `yaml:"activity"`
	Typing    TypingConfig    `yaml:"typing"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// AllowedOrigins are host patterns allowed to open cross-origin sockets.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
}

type MCPConfig struct {
	// Transport is "http" (mounted at /mcp) or "stdio".
	Transport string `yaml:"transport"`
	// DefaultUser acts for MCP calls when auth is disabled.
	DefaultUser string `yaml:"default_user"`
}

type LocksConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

type BroadcastConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type ActivityConfig struct {
	FeedLimit int `yaml:"feed_limit"`
}

type TypingConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		DB: DBConfig{
			Path: "taskhub.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			Enabled: true,
		},
		MCP: MCPConfig{
			Transport:   "http",
			DefaultUser: "agent",
		},
		Locks: LocksConfig{
			SweepInterval: 5 * time.Minute,
			StaleAfter:    5 * time.Minute,
		},
		Broadcast: BroadcastConfig{
			QueueSize: 64,
		},
		Activity: ActivityConfig{
			FeedLimit: 20,
		},
		Typing: TypingConfig{
			RatePerSecond: 5,
			Burst:         10,
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("TASKHUB_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot run.
func (c Config) Validate() error {
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	if c.MCP.Transport != "http" && c.MCP.Transport != "stdio" {
		return fmt.Errorf("mcp.transport must be http or stdio, got %q", c.MCP.Transport)
	}
	if c.Locks.SweepInterval <= 0 || c.Locks.StaleAfter <= 0 {
		return fmt.Errorf("locks.sweep_interval and locks.stale_after must be positive")
	}
	if c.Activity.FeedLimit <= 0 {
		return fmt.Errorf("activity.feed_limit must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("TASKHUB_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("TASKHUB_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid TASKHUB_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if origins := os.Getenv("TASKHUB_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	if dbPath := os.Getenv("TASKHUB_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if level := os.Getenv("TASKHUB_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if secret := os.Getenv("TASKHUB_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if enabled := os.Getenv("TASKHUB_AUTH_ENABLED"); enabled != "" {
		v, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid TASKHUB_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = v
	}
	if transport := os.Getenv("TASKHUB_MCP_TRANSPORT"); transport != "" {
		cfg.MCP.Transport = transport
	}
	if user := os.Getenv("TASKHUB_MCP_DEFAULT_USER"); user != "" {
		cfg.MCP.DefaultUser = user
	}
	if err := envDuration("TASKHUB_LOCKS_SWEEP_INTERVAL", &cfg.Locks.SweepInterval); err != nil {
		return err
	}
	if err := envDuration("TASKHUB_LOCKS_STALE_AFTER", &cfg.Locks.StaleAfter); err != nil {
		return err
	}
	if err := envInt("TASKHUB_BROADCAST_QUEUE_SIZE", &cfg.Broadcast.QueueSize); err != nil {
		return err
	}
	if err := envInt("TASKHUB_ACTIVITY_FEED_LIMIT", &cfg.Activity.FeedLimit); err != nil {
		return err
	}
	if rate := os.Getenv("TASKHUB_TYPING_RATE_PER_SECOND"); rate != "" {
		v, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return fmt.Errorf("invalid TASKHUB_TYPING_RATE_PER_SECOND: %w", err)
		}
		cfg.Typing.RatePerSecond = v
	}
	return envInt("TASKHUB_TYPING_BURST", &cfg.Typing.Burst)
}

func envDuration(key string, dst *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
