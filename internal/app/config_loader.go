package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.gameinstall")
		v.AddConfigPath("/etc/gameinstall")
	}

	// GAMEINSTALL_RATELIMIT_BYTES_PER_SECOND overrides ratelimit.bytes_per_second
	v.SetEnvPrefix("GAMEINSTALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnvKeys registers scalar keys so AutomaticEnv applies to them even
// when the config file does not mention them
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.host", "server.port",
		"install.workers", "install.buffer_size", "install.max_checksum_retries",
		"install.hpatch_binary", "install.default_audio_language",
		"install.lock_install_root", "install.check_disk_space",
		"ratelimit.bytes_per_second",
		"http.timeout", "http.retry_attempts", "http.retry_backoff", "http.retry_max_backoff", "http.user_agent",
		"progress.interval",
		"history.database_path",
		"notification.enabled", "notification.sound", "notification.method",
		"logging.level", "logging.format", "logging.output_path", "logging.logs_dir",
	} {
		v.BindEnv(key)
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.History.DatabasePath = expandPath(config.History.DatabasePath)
	config.Logging.LogsDir = expandPath(config.Logging.LogsDir)
	config.Install.HPatchBinary = expandPath(config.Install.HPatchBinary)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	for i := range config.Titles {
		config.Titles[i].InstallPath = expandPath(config.Titles[i].InstallPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if strings.Contains(path, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return os.ExpandEnv(path)
}

// validateConfig validates the configuration and fills title defaults
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Install.Workers < 1 {
		return fmt.Errorf("install workers must be at least 1")
	}

	if config.Install.BufferSize < 1024 {
		return fmt.Errorf("install buffer size must be at least 1024 bytes")
	}

	if config.Install.MaxChecksumRetries < 0 {
		return fmt.Errorf("max checksum retries cannot be negative")
	}

	if _, ok := domain.ParseAudioLanguage(config.Install.DefaultAudioLanguage); !ok {
		return fmt.Errorf("unknown default audio language: %s", config.Install.DefaultAudioLanguage)
	}

	if config.RateLimit.BytesPerSecond < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}

	if config.HTTP.RetryAttempts < 1 {
		return fmt.Errorf("http retry attempts must be at least 1")
	}

	if config.History.DatabasePath == "" {
		return fmt.Errorf("history database path not configured")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	seen := make(map[string]bool, len(config.Titles))
	for i := range config.Titles {
		t := &config.Titles[i]
		if t.ID == "" {
			return fmt.Errorf("title %d has no id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate title id: %s", t.ID)
		}
		seen[t.ID] = true

		if t.InstallPath == "" {
			return fmt.Errorf("title %s has no install path", t.ID)
		}
		if t.Name == "" {
			t.Name = t.ID
		}
		switch t.Region {
		case "":
			t.Region = domain.RegionGlobal
		case domain.RegionCN, domain.RegionGlobal:
		default:
			return fmt.Errorf("title %s has unknown region: %s", t.ID, t.Region)
		}
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("server.host", config.Server.Host)
	v.Set("server.port", config.Server.Port)

	v.Set("install.workers", config.Install.Workers)
	v.Set("install.buffer_size", config.Install.BufferSize)
	v.Set("install.max_checksum_retries", config.Install.MaxChecksumRetries)
	v.Set("install.hpatch_binary", config.Install.HPatchBinary)
	v.Set("install.default_audio_language", config.Install.DefaultAudioLanguage)
	v.Set("install.lock_install_root", config.Install.LockInstallRoot)
	v.Set("install.check_disk_space", config.Install.CheckDiskSpace)

	v.Set("ratelimit.bytes_per_second", config.RateLimit.BytesPerSecond)

	v.Set("http.timeout", config.HTTP.Timeout.String())
	v.Set("http.retry_attempts", config.HTTP.RetryAttempts)
	v.Set("http.retry_backoff", config.HTTP.RetryBackoff.String())
	v.Set("http.retry_max_backoff", config.HTTP.RetryMaxBackoff.String())
	v.Set("http.user_agent", config.HTTP.UserAgent)

	v.Set("progress.interval", config.Progress.Interval.String())
	v.Set("history.database_path", config.History.DatabasePath)

	v.Set("notification.enabled", config.Notification.Enabled)
	v.Set("notification.sound", config.Notification.Sound)
	v.Set("notification.method", config.Notification.Method)

	v.Set("logging.level", config.Logging.Level)
	v.Set("logging.format", config.Logging.Format)
	v.Set("logging.output_path", config.Logging.OutputPath)
	v.Set("logging.logs_dir", config.Logging.LogsDir)

	titles := make([]map[string]interface{}, 0, len(config.Titles))
	for _, t := range config.Titles {
		titles = append(titles, map[string]interface{}{
			"id":              t.ID,
			"name":            t.Name,
			"manifest_url":    t.ManifestURL,
			"install_path":    t.InstallPath,
			"data_dir":        t.DataDir,
			"audio_scan_file": t.AudioScanFile,
			"region":          string(t.Region),
		})
	}
	v.Set("titles", titles)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
