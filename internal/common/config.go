package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Service   ServiceConfig   `toml:"service"`
	Stream    StreamConfig    `toml:"stream"`
	Server    ServerConfig    `toml:"server"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Output    OutputConfig    `toml:"output"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServiceConfig describes the remote scraping service
type ServiceConfig struct {
	BaseURL        string `toml:"base_url"`        // Root of the scraping service, e.g. "http://localhost:5000"
	SubmitPath     string `toml:"submit_path"`     // Job submission endpoint path (default: "/api")
	LogsURL        string `toml:"logs_url"`        // Log stream URL; http(s) for SSE, ws(s) for websocket. Relative paths resolve against BaseURL
	ScreenshotPath string `toml:"screenshot_path"` // Path prefix joined with each screenshot locator (default: "/screenshot")
	RequestTimeout string `toml:"request_timeout"` // e.g. "5m" - upper bound for one job submission
	StrictTargets  bool   `toml:"strict_targets"`  // Reject targets that are not absolute URLs before submission
}

// StreamConfig controls the log channel
type StreamConfig struct {
	EventName    string `toml:"event_name"`     // SSE event name carrying log lines (default: "message")
	MaxLineBytes int    `toml:"max_line_bytes"` // Longest accepted stream line
	DialTimeout  string `toml:"dial_timeout"`   // e.g. "10s" - connection establishment timeout
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// WebSocketConfig contains configuration for the snapshot broadcaster
type WebSocketConfig struct {
	// Minimum interval between broadcasts that only add log lines.
	// Phase changes are never throttled.
	LogThrottle string `toml:"log_throttle"`
}

type OutputConfig struct {
	Dir string `toml:"dir"` // Directory for downloaded reports and screenshots
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:        "http://localhost:5000",
			SubmitPath:     "/api",
			LogsURL:        "/api/logs",
			ScreenshotPath: "/screenshot",
			RequestTimeout: "5m", // Scrapes with screenshots routinely take minutes
			StrictTargets:  false,
		},
		Stream: StreamConfig{
			EventName:    "message",
			MaxLineBytes: 1024 * 1024,
			DialTimeout:  "10s",
		},
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		WebSocket: WebSocketConfig{
			LogThrottle: "250ms",
		},
		Output: OutputConfig{
			Dir: "./downloads",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> .env -> env
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// A missing .env is normal; variables may be set in the environment directly
	_ = godotenv.Load()

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Service configuration
	if baseURL := os.Getenv("SCRAPETRACK_SERVICE_BASE_URL"); baseURL != "" {
		config.Service.BaseURL = baseURL
	}
	if submitPath := os.Getenv("SCRAPETRACK_SERVICE_SUBMIT_PATH"); submitPath != "" {
		config.Service.SubmitPath = submitPath
	}
	if logsURL := os.Getenv("SCRAPETRACK_SERVICE_LOGS_URL"); logsURL != "" {
		config.Service.LogsURL = logsURL
	}
	if screenshotPath := os.Getenv("SCRAPETRACK_SERVICE_SCREENSHOT_PATH"); screenshotPath != "" {
		config.Service.ScreenshotPath = screenshotPath
	}
	if timeout := os.Getenv("SCRAPETRACK_SERVICE_REQUEST_TIMEOUT"); timeout != "" {
		config.Service.RequestTimeout = timeout
	}
	if strict := os.Getenv("SCRAPETRACK_SERVICE_STRICT_TARGETS"); strict != "" {
		if b, err := strconv.ParseBool(strict); err == nil {
			config.Service.StrictTargets = b
		}
	}

	// Stream configuration
	if eventName := os.Getenv("SCRAPETRACK_STREAM_EVENT_NAME"); eventName != "" {
		config.Stream.EventName = eventName
	}
	if maxLine := os.Getenv("SCRAPETRACK_STREAM_MAX_LINE_BYTES"); maxLine != "" {
		if n, err := strconv.Atoi(maxLine); err == nil {
			config.Stream.MaxLineBytes = n
		}
	}
	if dialTimeout := os.Getenv("SCRAPETRACK_STREAM_DIAL_TIMEOUT"); dialTimeout != "" {
		config.Stream.DialTimeout = dialTimeout
	}

	// Server configuration
	if port := os.Getenv("SCRAPETRACK_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SCRAPETRACK_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if throttle := os.Getenv("SCRAPETRACK_WEBSOCKET_LOG_THROTTLE"); throttle != "" {
		config.WebSocket.LogThrottle = throttle
	}

	if dir := os.Getenv("SCRAPETRACK_OUTPUT_DIR"); dir != "" {
		config.Output.Dir = dir
	}

	// Logging configuration
	if level := os.Getenv("SCRAPETRACK_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("SCRAPETRACK_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, baseURL string, port int, host string) {
	// Command-line flags have highest priority
	if baseURL != "" {
		config.Service.BaseURL = baseURL
	}
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that cannot be repaired with a default
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.BaseURL) == "" {
		return fmt.Errorf("service.base_url is required")
	}
	for name, value := range map[string]string{
		"service.request_timeout": c.Service.RequestTimeout,
		"stream.dial_timeout":     c.Stream.DialTimeout,
		"websocket.log_throttle":  c.WebSocket.LogThrottle,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}
	if c.Stream.MaxLineBytes < 0 {
		return fmt.Errorf("stream.max_line_bytes must not be negative")
	}
	return nil
}

// RequestTimeout returns the parsed submission timeout, zero when unset
func (c *Config) RequestTimeout() time.Duration {
	return parseDurationOr(c.Service.RequestTimeout, 0)
}

// DialTimeout returns the parsed log stream dial timeout
func (c *Config) DialTimeout() time.Duration {
	return parseDurationOr(c.Stream.DialTimeout, 10*time.Second)
}

// LogThrottle returns the minimum interval between log-only broadcasts
func (c *Config) LogThrottle() time.Duration {
	return parseDurationOr(c.WebSocket.LogThrottle, 0)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// DeepCloneConfig creates a deep copy of the Config struct
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	clone := *c

	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	return &clone
}
