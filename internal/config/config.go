// filepath: internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the proxy's full runtime configuration, loaded from TOML.
// Environment variables are not consulted; only the CLI's --port and
// --log-level flags override values from the file.
type Config struct {
	ServerID                 string `toml:"server_id"`
	PublicAddress            string `toml:"public_address"`
	ServerName               string `toml:"server_name"`
	Host                     string `toml:"host"`
	Port                     int    `toml:"port"`
	IncludeServerNameInMedia bool   `toml:"include_server_name_in_media"`
	Username                 string `toml:"username"`
	Password                 string `toml:"password"`
	SessionKey               string `toml:"session_key"`
	Timeout                  int    `toml:"timeout"`
	UIRoute                  string `toml:"ui_route"`
	URLPrefix                string `toml:"url_prefix"`
	MediaStreamingMode       string `toml:"media_streaming_mode"`

	Logging LoggingConfig `toml:"logging"`
	DataDir string        `toml:"-"` // set by CLI, not persisted
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level        string `toml:"level"`
	AuditEnabled bool   `toml:"audit_enabled"`
}

// LoadConfig loads the configuration from a TOML file. A missing file is
// not an error; callers get a zero-value Config which ApplyDefaults fills in.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes the configuration back to disk. Used to persist an
// auto-generated session_key/server_id on first boot.
func SaveConfig(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file for saving: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// ApplyDefaults fills in every unset field with its documented default,
// generating random values for server_id/session_key where required.
func (c *Config) ApplyDefaults() error {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.PublicAddress == "" {
		c.PublicAddress = "localhost:3000"
	}
	if c.ServerName == "" {
		c.ServerName = "Jellyswarrm Proxy"
	}
	if c.Username == "" {
		c.Username = "admin"
	}
	if c.Password == "" {
		c.Password = "jellyswarrm"
	}
	if c.Timeout == 0 {
		c.Timeout = 20
	}
	if c.UIRoute == "" {
		c.UIRoute = "ui"
	}
	if c.MediaStreamingMode == "" {
		c.MediaStreamingMode = "redirect"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.ServerID == "" {
		id, err := randomHex(16)
		if err != nil {
			return fmt.Errorf("generating server_id: %w", err)
		}
		c.ServerID = id
	}
	if c.SessionKey == "" {
		key, err := randomHex(64)
		if err != nil {
			return fmt.Errorf("generating session_key: %w", err)
		}
		c.SessionKey = key
	}
	if c.MediaStreamingMode != "redirect" && c.MediaStreamingMode != "proxy" {
		return fmt.Errorf("invalid media_streaming_mode: %q (must be redirect or proxy)", c.MediaStreamingMode)
	}
	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
