// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration. Loaded once at startup and
// immutable for the process lifetime.
type Config struct {
	// Project root. All persisted daemon state lives under <Root>/.decibel.
	Root string

	// Daemon HTTP settings.
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Shared-secret auth. Empty disables the check (local pipe use).
	AuthToken string

	// Detail tier advertised over MCP: full, compact, or micro.
	Tier string

	// Rate-limit overrides. Zero means unlimited.
	AgentMaxPerMinute    int
	AgentMaxConcurrent   int
	UnknownMaxPerMinute  int
	UnknownMaxConcurrent int

	// Dispatch log settings.
	DispatchLogMaxBytes  int64         // rotate threshold for the active file
	DispatchLogMaxFiles  int           // retained generations beyond the active file
	DispatchFlushBytes   int           // buffered bytes that force a flush
	DispatchFlushIdle    time.Duration // max idle delay before a flush
	RotateCheckInterval  time.Duration // periodic size check cadence

	// Daemon supervisor settings.
	CrashWindow    time.Duration // rolling window for crash-loop detection
	CrashThreshold int           // starts tolerated inside the window before refusal
	HealthyAfter   time.Duration // survival time that clears the crash counter

	// Bridge settings.
	DaemonURL           string        // remote daemon base URL the bridge forwards to
	BridgeRetryInterval time.Duration // fixed interval between connect attempts
	BridgeTimeout       time.Duration // overall budget before UNAVAILABLE

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Root:                 envStr("DECIBEL_ROOT", "."),
		Host:                 envStr("DECIBEL_HOST", "127.0.0.1"),
		Port:                 envInt("DECIBEL_PORT", 8765),
		ReadTimeout:          envDuration("DECIBEL_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         envDuration("DECIBEL_WRITE_TIMEOUT", 30*time.Second),
		AuthToken:            envStr("DECIBEL_AUTH_TOKEN", ""),
		Tier:                 envStr("DECIBEL_TOOL_TIER", "full"),
		AgentMaxPerMinute:    envInt("DECIBEL_AGENT_MAX_PER_MINUTE", 120),
		AgentMaxConcurrent:   envInt("DECIBEL_AGENT_MAX_CONCURRENT", 8),
		UnknownMaxPerMinute:  envInt("DECIBEL_UNKNOWN_MAX_PER_MINUTE", 30),
		UnknownMaxConcurrent: envInt("DECIBEL_UNKNOWN_MAX_CONCURRENT", 2),
		DispatchLogMaxBytes:  int64(envInt("DECIBEL_DISPATCH_LOG_MAX_BYTES", 5*1024*1024)),
		DispatchLogMaxFiles:  envInt("DECIBEL_DISPATCH_LOG_MAX_FILES", 5),
		DispatchFlushBytes:   envInt("DECIBEL_DISPATCH_FLUSH_BYTES", 32*1024),
		DispatchFlushIdle:    envDuration("DECIBEL_DISPATCH_FLUSH_IDLE", 2*time.Second),
		RotateCheckInterval:  envDuration("DECIBEL_ROTATE_CHECK_INTERVAL", 30*time.Second),
		CrashWindow:          envDuration("DECIBEL_CRASH_WINDOW", 2*time.Minute),
		CrashThreshold:       envInt("DECIBEL_CRASH_THRESHOLD", 3),
		HealthyAfter:         envDuration("DECIBEL_HEALTHY_AFTER", 30*time.Second),
		DaemonURL:            envStr("DECIBEL_DAEMON_URL", "http://127.0.0.1:8765"),
		BridgeRetryInterval:  envDuration("DECIBEL_BRIDGE_RETRY_INTERVAL", 500*time.Millisecond),
		BridgeTimeout:        envDuration("DECIBEL_BRIDGE_TIMEOUT", 10*time.Second),
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:         envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:          envStr("OTEL_SERVICE_NAME", "decibel"),
		LogLevel:             envStr("DECIBEL_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("config: DECIBEL_ROOT is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: DECIBEL_PORT must be in (0, 65535]")
	}
	switch c.Tier {
	case "full", "compact", "micro":
	default:
		return fmt.Errorf("config: DECIBEL_TOOL_TIER must be full, compact, or micro")
	}
	if c.DispatchLogMaxBytes <= 0 {
		return fmt.Errorf("config: DECIBEL_DISPATCH_LOG_MAX_BYTES must be positive")
	}
	if c.DispatchLogMaxFiles <= 0 {
		return fmt.Errorf("config: DECIBEL_DISPATCH_LOG_MAX_FILES must be positive")
	}
	if c.CrashThreshold <= 0 {
		return fmt.Errorf("config: DECIBEL_CRASH_THRESHOLD must be positive")
	}
	if c.BridgeRetryInterval <= 0 || c.BridgeTimeout <= 0 {
		return fmt.Errorf("config: bridge retry interval and timeout must be positive")
	}
	return nil
}

// StateDir returns the daemon state directory under the project root.
func (c Config) StateDir() string {
	return filepath.Join(c.Root, ".decibel")
}

// LogDir returns the log directory under the state directory.
func (c Config) LogDir() string {
	return filepath.Join(c.StateDir(), "logs")
}

// PIDFile returns the daemon singleton lock path.
func (c Config) PIDFile() string {
	return filepath.Join(c.StateDir(), "decibel.pid")
}

// CrashHistoryFile returns the crash-window state path.
func (c Config) CrashHistoryFile() string {
	return filepath.Join(c.StateDir(), "starts.json")
}

// DispatchLogFile returns the active dispatch log path.
func (c Config) DispatchLogFile() string {
	return filepath.Join(c.LogDir(), "dispatch.log")
}

// ListenAddr returns the daemon's host:port bind address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
