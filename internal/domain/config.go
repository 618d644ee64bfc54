package domain

import (
	"path/filepath"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Install      InstallConfig      `mapstructure:"install"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	History      HistoryConfig      `mapstructure:"history"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Titles       []Title            `mapstructure:"titles"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// InstallConfig contains install engine configuration
type InstallConfig struct {
	Workers              int    `mapstructure:"workers"`
	BufferSize           int    `mapstructure:"buffer_size"`
	MaxChecksumRetries   int    `mapstructure:"max_checksum_retries"`
	HPatchBinary         string `mapstructure:"hpatch_binary"`
	DefaultAudioLanguage string `mapstructure:"default_audio_language"`
	LockInstallRoot      bool   `mapstructure:"lock_install_root"`
	CheckDiskSpace       bool   `mapstructure:"check_disk_space"`
}

// RateLimitConfig contains the global bandwidth ceiling
type RateLimitConfig struct {
	BytesPerSecond int64 `mapstructure:"bytes_per_second"` // 0 means unlimited
}

// HTTPConfig contains CDN and manifest client configuration
type HTTPConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// ProgressConfig contains progress reporting configuration
type ProgressConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// HistoryConfig contains install history storage configuration
type HistoryConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sound   bool   `mapstructure:"sound"`
	Method  string `mapstructure:"method"` // osascript, notify-send, etc.
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
	LogsDir    string `mapstructure:"logs_dir"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8787,
		},
		Install: InstallConfig{
			Workers:              4,
			BufferSize:           1 << 14,
			MaxChecksumRetries:   2,
			HPatchBinary:         "hpatchz",
			DefaultAudioLanguage: string(AudioEnglish),
			LockInstallRoot:      true,
			CheckDiskSpace:       true,
		},
		RateLimit: RateLimitConfig{
			BytesPerSecond: 0,
		},
		HTTP: HTTPConfig{
			Timeout:         30 * time.Second,
			RetryAttempts:   5,
			RetryBackoff:    time.Second,
			RetryMaxBackoff: 30 * time.Second,
			UserAgent:       "gameinstall/1.0",
		},
		Progress: ProgressConfig{
			Interval: time.Second,
		},
		History: HistoryConfig{
			DatabasePath: "$HOME/.gameinstall/history.db",
		},
		Notification: NotificationConfig{
			Enabled: true,
			Sound:   false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
			LogsDir:    "$HOME/.gameinstall/logs",
		},
	}
}

// StateDir returns the directory holding the history database
func (c *HistoryConfig) StateDir() string {
	return filepath.Dir(c.DatabasePath)
}
