package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds relay server settings.
type Config struct {
	ServerHost string
	ServerPort string

	// WebSocket tuning
	SendQueueSize int
	PingInterval  time.Duration
	PongTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int64

	// Observability
	JaegerEndpoint string
	MetricsEnabled bool
}

// ClientConfig holds settings for the headless sync client.
type ClientConfig struct {
	SettingsPath         string
	// ServerURL overrides the URL stored in the settings file when set.
	ServerURL            string
	WireFormat           string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost: getEnv("HOST", "0.0.0.0"),
		ServerPort: getEnv("PORT", "8080"),

		SendQueueSize: getEnvInt("SEND_QUEUE_SIZE", 256),
		PingInterval:  getEnvDuration("PING_INTERVAL", 54*time.Second),
		PongTimeout:   getEnvDuration("PONG_TIMEOUT", 60*time.Second),
		WriteTimeout:  getEnvDuration("WRITE_TIMEOUT", 10*time.Second),
		MaxFrameBytes: int64(getEnvInt("MAX_FRAME_BYTES", 64*1024)),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	if _, err := strconv.Atoi(cfg.ServerPort); err != nil {
		return nil, fmt.Errorf("PORT must be numeric, got %q", cfg.ServerPort)
	}
	if cfg.PingInterval >= cfg.PongTimeout {
		return nil, fmt.Errorf("PING_INTERVAL (%s) must be shorter than PONG_TIMEOUT (%s)", cfg.PingInterval, cfg.PongTimeout)
	}

	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{
		SettingsPath:         getEnv("PLATFORM_SYNC_SETTINGS", defaultSettingsPath()),
		ServerURL:            getEnv("PLATFORM_SYNC_URL", ""),
		WireFormat:           getEnv("PLATFORM_SYNC_FORMAT", "envelope"),
		ReconnectInterval:    getEnvDuration("RECONNECT_INTERVAL", 5*time.Second),
		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
	}

	if cfg.MaxReconnectAttempts < 0 {
		return nil, fmt.Errorf("MAX_RECONNECT_ATTEMPTS must not be negative")
	}

	return cfg, nil
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "platform-sync.yaml"
	}
	return dir + string(os.PathSeparator) + "platform-sync" + string(os.PathSeparator) + "settings.yaml"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	// Bare integers are milliseconds, matching the plugin settings.
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
