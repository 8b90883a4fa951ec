package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Collector CollectorConfig
	Browser   BrowserConfig
	State     StateConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type BackendConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type CollectorConfig struct {
	DelayMin    time.Duration
	DelayMax    time.Duration
	MaxItems    int
	Marketplace string
	AutoResume  bool
	SettleDelay time.Duration
	NavRetries  int
	IncludeRaw  bool
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

// StateConfig selects where progress and session state live. Backend is
// "file" or "redis".
type StateConfig struct {
	Backend   string
	FilePath  string
	RedisAddr string
	RedisDB   int
	KeyPrefix string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Backend: BackendConfig{
			URL:     os.Getenv("SUPABASE_URL"),
			APIKey:  os.Getenv("SUPABASE_ANON_KEY"),
			Timeout: getDurationOrDefault("BACKEND_TIMEOUT", 30*time.Second),
		},
		Collector: CollectorConfig{
			DelayMin:    getDurationOrDefault("COLLECTOR_DELAY_MIN", 800*time.Millisecond),
			DelayMax:    getDurationOrDefault("COLLECTOR_DELAY_MAX", 2*time.Second),
			MaxItems:    getIntOrDefault("COLLECTOR_MAX_ITEMS", 100),
			Marketplace: getEnvOrDefault("COLLECTOR_MARKETPLACE", "US"),
			AutoResume:  getBoolOrDefault("COLLECTOR_AUTO_RESUME", false),
			SettleDelay: getDurationOrDefault("COLLECTOR_SETTLE_DELAY", 2*time.Second),
			NavRetries:  getIntOrDefault("COLLECTOR_NAV_RETRIES", 3),
			IncludeRaw:  getBoolOrDefault("COLLECTOR_INCLUDE_RAW", false),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		State: StateConfig{
			Backend:   getEnvOrDefault("STATE_BACKEND", "file"),
			FilePath:  getEnvOrDefault("STATE_FILE_PATH", "collector_state.json"),
			RedisAddr: getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getIntOrDefault("REDIS_DB", 0),
			KeyPrefix: getEnvOrDefault("STATE_KEY_PREFIX", "collector"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.Backend.APIKey == "" {
		return fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if c.Collector.DelayMin > c.Collector.DelayMax {
		return fmt.Errorf("COLLECTOR_DELAY_MIN cannot be greater than COLLECTOR_DELAY_MAX")
	}
	if c.Collector.MaxItems < 1 {
		return fmt.Errorf("COLLECTOR_MAX_ITEMS must be at least 1")
	}
	switch c.State.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("STATE_BACKEND must be file or redis, got %q", c.State.Backend)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
