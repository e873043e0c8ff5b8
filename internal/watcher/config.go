package watcher

import "time"

type WatcherConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	DebounceWindow time.Duration `json:"debounce_window" mapstructure:"debounce_window" yaml:"debounce_window"`
	MaxBatchSize   int           `json:"max_batch_size" mapstructure:"max_batch_size" yaml:"max_batch_size"`
	Extensions     []string      `json:"extensions" mapstructure:"extensions" yaml:"extensions"`
	IgnorePatterns []string      `json:"ignore_patterns" mapstructure:"ignore_patterns" yaml:"ignore_patterns"`
	WatchHidden    bool          `json:"watch_hidden" mapstructure:"watch_hidden" yaml:"watch_hidden"`
}

func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Enabled:        true,
		DebounceWindow: 300 * time.Millisecond,
		MaxBatchSize:   100,
		Extensions:     []string{".scss", ".css"},
		IgnorePatterns: []string{
			"**/.git/**",
			"**/node_modules/**",
			"**/.idea/**",
			"**/dist/**",
			"**/build/**",
			"**/vendor/**",
			"**/.sass-cache/**",
		},
		WatchHidden: false,
	}
}
