package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	blivedm "github.com/c-basalt/blivedm-dump"
	"github.com/c-basalt/blivedm-dump/dump"
)

// fileConfig is the YAML configuration of the dump command.
type fileConfig struct {
	RoomsFile            string        `yaml:"rooms_file"`
	CookieFile           string        `yaml:"cookie_file"`
	ReloadInterval       time.Duration `yaml:"reload_interval"`
	CookieReloadInterval time.Duration `yaml:"cookie_reload_interval"`

	// Guest runs a second, cookie-less client per room.
	Guest bool `yaml:"guest"`

	Output struct {
		Dir         string `yaml:"dir"`
		Prefix      string `yaml:"prefix"`
		GuestPrefix string `yaml:"guest_prefix"`
		Echo        bool   `yaml:"echo"`
	} `yaml:"output"`

	Postgres struct {
		DSN   string `yaml:"dsn"`
		Table string `yaml:"table"`
	} `yaml:"postgres"`

	S3 struct {
		Bucket      string `yaml:"bucket"`
		Prefix      string `yaml:"prefix"`
		Region      string `yaml:"region"`
		Endpoint    string `yaml:"endpoint"`
		PathStyle   bool   `yaml:"path_style"`
		RemoveLocal bool   `yaml:"remove_local"`
	} `yaml:"s3"`

	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Client struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`

		// Restarts after a fatal error (bootstrap failure) back off separately.
		RestartDelay    time.Duration `yaml:"restart_delay"`
		MaxRestartDelay time.Duration `yaml:"max_restart_delay"`
	} `yaml:"client"`
}

func defaultFileConfig() fileConfig {
	var cfg fileConfig
	cfg.RoomsFile = "rooms.txt"
	cfg.ReloadInterval = dump.DefaultReloadInterval
	cfg.CookieReloadInterval = dump.DefaultCookieReloadInterval
	cfg.Guest = true
	cfg.Output.Dir = "."
	cfg.Output.GuestPrefix = "guest-"
	cfg.Postgres.Table = dump.DefaultTable
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// loadFileConfig reads path over the defaults. An empty path returns the
// defaults.
func loadFileConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *fileConfig) validate() error {
	if c.RoomsFile == "" {
		return fmt.Errorf("rooms_file is required")
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		return fmt.Errorf("s3.region is required when s3.bucket is set")
	}
	return nil
}

func (c *fileConfig) handlerConfig() dump.HandlerConfig {
	return dump.HandlerConfig{
		RestartDelay:    c.Client.RestartDelay,
		MaxRestartDelay: c.Client.MaxRestartDelay,
	}
}

func (c *fileConfig) clientConfig() blivedm.Config {
	return blivedm.Config{
		HeartbeatInterval: c.Client.HeartbeatInterval,
		ReconnectDelay:    c.Client.ReconnectDelay,
		MaxReconnectDelay: c.Client.MaxReconnectDelay,
	}
}
