// Package config provides configuration management for the Dashgrid Agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8799
	DefaultLogLevel = "info"
	DefaultDataDir  = ".dashgrid"

	// Environment variable names
	EnvPort     = "DASHGRID_PORT"
	EnvLogLevel = "DASHGRID_LOG_LEVEL"
	EnvDataDir  = "DASHGRID_DATA_DIR"
	EnvClipsDir = "DASHGRID_CLIPS_DIR"
	EnvFFmpeg   = "DASHGRID_FFMPEG"
	EnvFFprobe  = "DASHGRID_FFPROBE"
	EnvHeadless = "DASHGRID_HEADLESS"

	// Database filename
	DBFilename = "dashgrid.db"

	// Export defaults
	DefaultExportTimeout = 30 * time.Minute
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ClipsDir() string
	ExportDir() string
	FFmpegPath() string
	FFprobePath() string
	Headless() bool
	ExportTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	clipsDir string
	ffmpeg   string
	ffprobe  string
	headless bool
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:     DefaultPort,
		logLevel: DefaultLogLevel,
		dataDir:  defaultDataDir(),
		ffmpeg:   "ffmpeg",
		ffprobe:  "ffprobe",
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.clipsDir = os.Getenv(EnvClipsDir)

	if f := os.Getenv(EnvFFmpeg); f != "" {
		cfg.ffmpeg = f
	}
	if f := os.Getenv(EnvFFprobe); f != "" {
		cfg.ffprobe = f
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ClipsDir returns the dashcam clips directory, if configured
func (c *EnvConfig) ClipsDir() string {
	return c.clipsDir
}

// ExportDir returns the directory where finished exports are delivered
func (c *EnvConfig) ExportDir() string {
	return filepath.Join(c.dataDir, "exports")
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpeg
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobe
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) ExportTimeout() time.Duration {
	return DefaultExportTimeout
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
