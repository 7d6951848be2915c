package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Search   SearchConfig   `mapstructure:"search"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	UI       UIConfig       `mapstructure:"ui"`
	Keys     KeyConfig      `mapstructure:"keys"`
}

type BackendConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	RateLimit float64       `mapstructure:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst"`
}

// DefaultRequestTimeout bounds a backend call when backend.timeout is unset.
const DefaultRequestTimeout = 30 * time.Second

// RequestTimeout is the deadline for one backend call. Zero or negative
// timeouts mean "unset" and fall back to DefaultRequestTimeout.
func (b BackendConfig) RequestTimeout() time.Duration {
	if b.Timeout > 0 {
		return b.Timeout
	}
	return DefaultRequestTimeout
}

type SearchConfig struct {
	Debounce        time.Duration `mapstructure:"debounce"`
	MinQueryLength  int           `mapstructure:"min_query_length"`
	ResultLimit     int           `mapstructure:"result_limit"`
	Offline         bool          `mapstructure:"offline"`
	AbortSuperseded bool          `mapstructure:"abort_superseded"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SearchIndex string        `mapstructure:"search_index"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type UIConfig struct {
	Colors           UIColors      `mapstructure:"colors"`
	ReplyCopiedFlash time.Duration `mapstructure:"reply_copied_flash"`
	FileClearedFlash time.Duration `mapstructure:"file_cleared_flash"`
}

type UIColors struct {
	Primary    string `mapstructure:"primary"`
	Secondary  string `mapstructure:"secondary"`
	Accent     string `mapstructure:"accent"`
	Background string `mapstructure:"background"`
	Surface    string `mapstructure:"surface"`
	Text       string `mapstructure:"text"`
	Muted      string `mapstructure:"muted"`
	Error      string `mapstructure:"error"`
	Success    string `mapstructure:"success"`
}

type KeyConfig struct {
	Modifier string `mapstructure:"modifier"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".triage")

	return &Config{
		Backend: BackendConfig{
			BaseURL:   "http://localhost:8000",
			Timeout:   DefaultRequestTimeout,
			UserAgent: "triage/1.0 (https://github.com/pders01/triage)",
			RateLimit: 5,
			RateBurst: 2,
		},
		Search: SearchConfig{
			Debounce:       500 * time.Millisecond,
			MinQueryLength: 2,
			ResultLimit:    10,
		},
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "triage.db"),
			Timeout:     1 * time.Second,
			SearchIndex: filepath.Join(dataDir, "clients.bleve"),
		},
		Log: LogConfig{
			Level: "off",
			File:  filepath.Join(dataDir, "triage.log"),
		},
		UI: UIConfig{
			Colors: UIColors{
				Primary:    "#FF6B6B",
				Secondary:  "#4ECDC4",
				Accent:     "#95E1D3",
				Background: "#1A1A2E",
				Surface:    "#16213E",
				Text:       "#EAEAEA",
				Muted:      "#94A3B8",
				Error:      "#F87171",
				Success:    "#4ADE80",
			},
			ReplyCopiedFlash: 2 * time.Second,
			FileClearedFlash: 1 * time.Second,
		},
		Keys: KeyConfig{
			Modifier: "ctrl",
		},
	}
}

var envKeyReplacer = strings.NewReplacer(".", "_")

func Load(configPath string) (*Config, error) {
	// A .env in the working directory may carry TRIAGE_* overrides.
	_ = godotenv.Load()

	v := viper.New()

	// Defaults are registered per leaf key so AutomaticEnv can resolve
	// nested keys such as TRIAGE_BACKEND_BASE_URL.
	setDefaults(v, "", toMap(defaultConfig()))

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "triage")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	return &config, nil
}

func setDefaults(v *viper.Viper, prefix string, m map[string]interface{}) {
	for key, val := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := val.(map[string]interface{}); ok {
			setDefaults(v, full, nested)
			continue
		}
		v.SetDefault(full, val)
	}
}

// toMap flattens a Config into TOML-friendly sections. Durations become
// strings so the written file stays readable.
func toMap(config *Config) map[string]interface{} {
	c := config.UI.Colors
	return map[string]interface{}{
		"backend": map[string]interface{}{
			"base_url":   config.Backend.BaseURL,
			"timeout":    config.Backend.Timeout.String(),
			"user_agent": config.Backend.UserAgent,
			"rate_limit": config.Backend.RateLimit,
			"rate_burst": config.Backend.RateBurst,
		},
		"search": map[string]interface{}{
			"debounce":         config.Search.Debounce.String(),
			"min_query_length": config.Search.MinQueryLength,
			"result_limit":     config.Search.ResultLimit,
			"offline":          config.Search.Offline,
			"abort_superseded": config.Search.AbortSuperseded,
		},
		"database": map[string]interface{}{
			"path":         config.Database.Path,
			"timeout":      config.Database.Timeout.String(),
			"search_index": config.Database.SearchIndex,
		},
		"log": map[string]interface{}{
			"level": config.Log.Level,
			"file":  config.Log.File,
		},
		"ui": map[string]interface{}{
			"colors": map[string]interface{}{
				"primary":    c.Primary,
				"secondary":  c.Secondary,
				"accent":     c.Accent,
				"background": c.Background,
				"surface":    c.Surface,
				"text":       c.Text,
				"muted":      c.Muted,
				"error":      c.Error,
				"success":    c.Success,
			},
			"reply_copied_flash": config.UI.ReplyCopiedFlash.String(),
			"file_cleared_flash": config.UI.FileClearedFlash.String(),
		},
		"keys": map[string]interface{}{
			"modifier": config.Keys.Modifier,
		},
	}
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	cfg.Log.File = expandPath(cfg.Log.File)
}

// ExpandPath is exported for flag overrides applied after Load.
func ExpandPath(path string) string {
	return expandPath(path)
}

func Save(config *Config, path string) error {
	v := viper.New()
	for section, values := range toMap(config) {
		v.Set(section, values)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}

// DefaultConfigPath is where `config generate` writes and Load looks first.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "triage", "config.toml")
}

// Render returns the effective configuration as TOML.
func Render(cfg *Config) (string, error) {
	out, err := toml.Marshal(toMap(cfg))
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return string(out), nil
}
