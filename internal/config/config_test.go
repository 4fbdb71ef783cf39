// filepath: internal/config/config_test.go
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	t.Run("fills documented defaults", func(t *testing.T) {
		cfg := &Config{}
		err := cfg.ApplyDefaults()
		assert.NoError(t, err)
		assert.Equal(t, "0.0.0.0", cfg.Host)
		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "localhost:3000", cfg.PublicAddress)
		assert.Equal(t, "admin", cfg.Username)
		assert.Equal(t, "jellyswarrm", cfg.Password)
		assert.Equal(t, 20, cfg.Timeout)
		assert.Equal(t, "ui", cfg.UIRoute)
		assert.Equal(t, "redirect", cfg.MediaStreamingMode)
		assert.Len(t, cfg.ServerID, 32)
		assert.Len(t, cfg.SessionKey, 128)
	})

	t.Run("preserves explicit values", func(t *testing.T) {
		cfg := &Config{Port: 8096, MediaStreamingMode: "proxy"}
		err := cfg.ApplyDefaults()
		assert.NoError(t, err)
		assert.Equal(t, 8096, cfg.Port)
		assert.Equal(t, "proxy", cfg.MediaStreamingMode)
	})

	t.Run("rejects unknown streaming mode", func(t *testing.T) {
		cfg := &Config{MediaStreamingMode: "teleport"}
		err := cfg.ApplyDefaults()
		assert.Error(t, err)
	})
}
