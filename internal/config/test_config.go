package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	cfg := defaultConfig()
	cfg.Backend.BaseURL = "http://127.0.0.1:0"
	cfg.Backend.Timeout = 5 * time.Second
	cfg.Backend.UserAgent = "triage-test/1.0"
	cfg.Backend.RateLimit = 0
	cfg.Search.Debounce = 20 * time.Millisecond
	cfg.Database.Path = ":memory:" // Use in-memory database for tests
	cfg.Database.SearchIndex = ""
	cfg.Log.Level = "off"
	cfg.UI.ReplyCopiedFlash = 50 * time.Millisecond
	cfg.UI.FileClearedFlash = 50 * time.Millisecond
	return cfg
}
