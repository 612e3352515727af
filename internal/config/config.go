package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Config holds all configuration for the vidgrab service
type Config struct {
	// Server configuration
	Host string
	Port int
	Addr string // computed from Host:Port

	// File system
	OutputDir    string // user-provided
	AbsOutputDir string // resolved/absolute path
	DBPath       string // user-provided
	AbsDBPath    string // resolved/absolute path

	// Extraction behavior
	StrategyTimeout time.Duration // per-strategy metadata fetch limit
	JitterMin       time.Duration // lower bound of the pre-attempt delay
	JitterMax       time.Duration // upper bound of the pre-attempt delay

	// Download behavior
	DownloadTimeout  time.Duration // hard wall-clock limit per tool run
	MergeToRequested bool          // force merged output into the requested container

	// Session lifecycle
	SessionMaxAge     time.Duration // sessions older than this are reclaimed
	SweepInterval     time.Duration // how often the reclaim sweep runs
	HeartbeatInterval time.Duration // SSE keepalive cadence
	CleanupGrace      time.Duration // delay between file delivery and cleanup

	// Logging
	LogLevel string // debug|info|warn|error

	// Validation & computed
	Version   string    // app version
	StartTime time.Time // when the app started
}

// New creates a Config with default values
func New() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              8080,
		StrategyTimeout:   30 * time.Second,
		JitterMin:         1 * time.Second,
		JitterMax:         3 * time.Second,
		DownloadTimeout:   30 * time.Minute,
		MergeToRequested:  true,
		SessionMaxAge:     2 * time.Hour,
		SweepInterval:     time.Hour,
		HeartbeatInterval: 30 * time.Second,
		CleanupGrace:      10 * time.Second,
		LogLevel:          "info",
		StartTime:         time.Now(),
		Version:           "1.0.0",
	}
}

// Validate checks that all required configuration is present and valid
func (c *Config) Validate() error {
	// Validate port range
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = 30 * time.Second
	}
	if c.JitterMin < 0 || c.JitterMax < c.JitterMin {
		return fmt.Errorf("invalid jitter bounds: min=%s max=%s", c.JitterMin, c.JitterMax)
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 30 * time.Minute
	}
	if c.SessionMaxAge <= 0 {
		c.SessionMaxAge = 2 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.CleanupGrace < 0 {
		c.CleanupGrace = 0
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	c.LogLevel = strings.ToLower(c.LogLevel)
	valid := false
	for _, level := range validLevels {
		if c.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log level: %s (must be debug|info|warn|error)", c.LogLevel)
	}

	// Compute address
	c.Addr = c.ComputeAddr()

	return nil
}

// ResolveOutputDir expands the output directory path and resolves it to an
// absolute path. If empty, defaults to the OS temp directory.
func (c *Config) ResolveOutputDir() error {
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(os.TempDir(), "vidgrab")
	}

	expanded, err := expandHome(c.OutputDir)
	if err != nil {
		return err
	}
	c.OutputDir = expanded

	abs, err := filepath.Abs(c.OutputDir)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", c.OutputDir, err)
	}
	c.AbsOutputDir = abs

	return nil
}

// ResolveDBPath expands the database path and resolves it to an absolute path.
// If empty, defaults to the OS cache directory.
func (c *Config) ResolveDBPath() error {
	if c.DBPath == "" {
		c.DBPath = defaultCacheDBPath()
	}

	expanded, err := expandHome(c.DBPath)
	if err != nil {
		return err
	}
	c.DBPath = expanded

	abs, err := filepath.Abs(c.DBPath)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", c.DBPath, err)
	}
	c.AbsDBPath = abs

	return nil
}

// ComputeAddr returns the full server address as host:port
func (c *Config) ComputeAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Summary returns a one-line summary of key configuration
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"addr":               c.Addr,
		"output_dir":         c.AbsOutputDir,
		"db_path":            c.AbsDBPath,
		"strategy_timeout":   c.StrategyTimeout.String(),
		"download_timeout":   c.DownloadTimeout.String(),
		"session_max_age":    c.SessionMaxAge.String(),
		"sweep_interval":     c.SweepInterval.String(),
		"merge_to_requested": c.MergeToRequested,
		"log_level":          c.LogLevel,
		"version":            c.Version,
	}
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		return home, nil
	}
	return path, nil
}

// defaultCacheDBPath returns the cross-platform default path for the SQLite DB
// - Windows: %APPDATA%/vidgrab/vidgrab.db
// - Linux/macOS: $HOME/.cache/vidgrab/vidgrab.db
func defaultCacheDBPath() string {
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "vidgrab", "vidgrab.db")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "AppData", "Roaming", "vidgrab", "vidgrab.db")
		}
		return "vidgrab.db"
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "vidgrab", "vidgrab.db")
	}
	return filepath.Join("vidgrab", "vidgrab.db")
}
