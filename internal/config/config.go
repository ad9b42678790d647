// Package config loads daemon configuration from ~/.roomies/config.yaml
// with ROOMIES_* environment overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# roomiesd configuration

# Remote service base URL.
server_url: https://api.roomies.app

# WebSocket endpoint for real-time events. Derived from server_url when empty.
ws_url: ""

# Seconds between timer-triggered sync cycles.
sync_interval: 60

# Per-request timeout in seconds.
request_timeout: 15

# Telemetry outbox.
outbox:
  max_size: 500
  batch_size: 50
  retry_interval: 30

# Real-time channel reconnection.
realtime:
  max_attempts: 5
  backoff: 5
`

// Config is the resolved daemon configuration.
type Config struct {
	ServerURL      string
	WSURL          string
	DataDir        string
	SyncInterval   time.Duration
	RequestTimeout time.Duration

	OutboxMaxSize       int
	OutboxBatchSize     int
	OutboxRetryInterval time.Duration

	RealtimeMaxAttempts int
	RealtimeBackoff     time.Duration

	viper *viper.Viper
}

// DefaultDir returns the default configuration/data directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roomies"
	}
	return filepath.Join(home, ".roomies")
}

// Load reads config.yaml from dir, creating the directory and a default
// file on first run. Environment variables prefixed ROOMIES_ override file
// values (ROOMIES_SERVER_URL, ROOMIES_SYNC_INTERVAL, ...).
func Load(dir string) (*Config, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(dir); err != nil {
		return nil, fmt.Errorf("failed to write default config: %w", err)
	}

	v := viper.New()
	v.SetDefault("server_url", "https://api.roomies.app")
	v.SetDefault("ws_url", "")
	v.SetDefault("sync_interval", 60)
	v.SetDefault("request_timeout", 15)
	v.SetDefault("outbox.max_size", 500)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.retry_interval", 30)
	v.SetDefault("realtime.max_attempts", 5)
	v.SetDefault("realtime.backoff", 5)

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(dir)
	v.SetEnvPrefix("ROOMIES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := fromViper(v)
	cfg.DataDir = dir
	cfg.viper = v
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ServerURL:           strings.TrimRight(v.GetString("server_url"), "/"),
		WSURL:               v.GetString("ws_url"),
		SyncInterval:        time.Duration(v.GetInt("sync_interval")) * time.Second,
		RequestTimeout:      time.Duration(v.GetInt("request_timeout")) * time.Second,
		OutboxMaxSize:       v.GetInt("outbox.max_size"),
		OutboxBatchSize:     v.GetInt("outbox.batch_size"),
		OutboxRetryInterval: time.Duration(v.GetInt("outbox.retry_interval")) * time.Second,
		RealtimeMaxAttempts: v.GetInt("realtime.max_attempts"),
		RealtimeBackoff:     time.Duration(v.GetInt("realtime.backoff")) * time.Second,
	}
}

// ResolveWSURL returns the websocket endpoint, deriving ws(s)://.../ws
// from the server URL when ws_url is unset.
func (c *Config) ResolveWSURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	url := c.ServerURL
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/ws"
}

// DatabasePath returns the local store location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "roomies.db")
}

// OutboxPath returns the telemetry queue file location.
func (c *Config) OutboxPath() string {
	return filepath.Join(c.DataDir, "outbox.json")
}

// CredentialsDir returns the token storage directory.
func (c *Config) CredentialsDir() string {
	return filepath.Join(c.DataDir, "credentials")
}

// Watch reloads the file on change and invokes onChange with the fresh
// values. Interval-type settings are picked up by components on their
// next construction; the daemon logs the change and applies what it can.
func (c *Config) Watch(logger *log.Logger, onChange func(*Config)) {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if logger != nil {
			logger.Printf("Config file changed: %s", e.Name)
		}
		fresh := fromViper(c.viper)
		fresh.DataDir = c.DataDir
		fresh.viper = c.viper
		if onChange != nil {
			onChange(fresh)
		}
	})
	c.viper.WatchConfig()
}

func ensureDefaultConfigFile(dir string) error {
	path := filepath.Join(dir, configFileExt)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
