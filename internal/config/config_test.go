package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg, _ := Load()
	cfg.Backend.URL = "https://project.supabase.test"
	cfg.Backend.APIKey = "anon-key"
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 800*time.Millisecond, cfg.Collector.DelayMin)
	assert.Equal(t, 2*time.Second, cfg.Collector.DelayMax)
	assert.Equal(t, 100, cfg.Collector.MaxItems)
	assert.False(t, cfg.Collector.AutoResume)
	assert.Equal(t, "file", cfg.State.Backend)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("COLLECTOR_DELAY_MIN", "1500ms")
	t.Setenv("COLLECTOR_MAX_ITEMS", "25")
	t.Setenv("COLLECTOR_AUTO_RESUME", "true")
	t.Setenv("STATE_BACKEND", "redis")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Collector.DelayMin)
	assert.Equal(t, 25, cfg.Collector.MaxItems)
	assert.True(t, cfg.Collector.AutoResume)
	assert.Equal(t, "redis", cfg.State.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing url", func(c *Config) { c.Backend.URL = "" }, true},
		{"missing key", func(c *Config) { c.Backend.APIKey = "" }, true},
		{"inverted delays", func(c *Config) { c.Collector.DelayMin = 3 * time.Second }, true},
		{"zero max items", func(c *Config) { c.Collector.MaxItems = 0 }, true},
		{"bad state backend", func(c *Config) { c.State.Backend = "etcd" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
