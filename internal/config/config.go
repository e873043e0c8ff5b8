// Package config loads scss-lsp settings from defaults, an optional
// .scss-lsp.yaml project file and SCSSLSP_* environment variables.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/alucardeht/scss-lsp/internal/definition"
	"github.com/alucardeht/scss-lsp/internal/index"
	"github.com/alucardeht/scss-lsp/internal/logger"
	"github.com/alucardeht/scss-lsp/internal/watcher"
)

const (
	ProjectFileName = ".scss-lsp.yaml"
	EnvPrefix       = "SCSSLSP"
)

type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"`
	File      string `mapstructure:"file" yaml:"file"`
	AddSource bool   `mapstructure:"add_source" yaml:"add_source"`
}

type IndexConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	Cache           bool     `mapstructure:"cache" yaml:"cache"`
	DBPath          string   `mapstructure:"db_path" yaml:"db_path"`
	MaxFileSize     int64    `mapstructure:"max_file_size" yaml:"max_file_size"`
	MaxQueueSize    int      `mapstructure:"max_queue_size" yaml:"max_queue_size"`
	WorkerCount     int      `mapstructure:"worker_count" yaml:"worker_count"`
	RateLimit       int      `mapstructure:"rate_limit" yaml:"rate_limit"`
	Extensions      []string `mapstructure:"extensions" yaml:"extensions"`
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"`
}

type LSPConfig struct {
	MaxOpenDocuments int           `mapstructure:"max_open_documents" yaml:"max_open_documents"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

type DaemonConfig struct {
	SocketPath     string `mapstructure:"socket_path" yaml:"socket_path"`
	PIDFile        string `mapstructure:"pid_file" yaml:"pid_file"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
}

type Config struct {
	Log        LogConfig             `mapstructure:"log" yaml:"log"`
	Index      IndexConfig           `mapstructure:"index" yaml:"index"`
	Watcher    watcher.WatcherConfig `mapstructure:"watcher" yaml:"watcher"`
	LSP        LSPConfig             `mapstructure:"lsp" yaml:"lsp"`
	Definition definition.Settings   `mapstructure:"definition" yaml:"definition"`
	Daemon     DaemonConfig          `mapstructure:"daemon" yaml:"daemon"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

type LoadOptions struct {
	// ConfigFile is read instead of searching for a project file.
	ConfigFile string
	// WorkspaceRoot is where the project file search starts. Defaults to the
	// working directory.
	WorkspaceRoot string
}

// DataDir is where caches and the daemon socket live by default.
func DataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "scss-lsp")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scss-lsp")
}

func SetDefaults(v *viper.Viper) {
	dataDir := DataDir()
	worker := index.DefaultWorkerConfig()
	watch := watcher.DefaultWatcherConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.add_source", false)

	v.SetDefault("index.enabled", true)
	v.SetDefault("index.cache", true)
	v.SetDefault("index.db_path", "")
	v.SetDefault("index.max_file_size", worker.MaxFileSize)
	v.SetDefault("index.max_queue_size", worker.MaxQueueSize)
	v.SetDefault("index.worker_count", worker.WorkerCount)
	v.SetDefault("index.rate_limit", worker.RateLimit)
	v.SetDefault("index.extensions", worker.Extensions)
	v.SetDefault("index.exclude_patterns", worker.ExcludePatterns)

	v.SetDefault("watcher.enabled", watch.Enabled)
	v.SetDefault("watcher.debounce_window", watch.DebounceWindow)
	v.SetDefault("watcher.max_batch_size", watch.MaxBatchSize)
	v.SetDefault("watcher.extensions", watch.Extensions)
	v.SetDefault("watcher.ignore_patterns", watch.IgnorePatterns)
	v.SetDefault("watcher.watch_hidden", watch.WatchHidden)

	v.SetDefault("lsp.max_open_documents", 256)
	v.SetDefault("lsp.request_timeout", 10*time.Second)

	v.SetDefault("definition.case_sensitive", definition.DefaultSettings().CaseSensitive)

	v.SetDefault("daemon.socket_path", filepath.Join(dataDir, "daemon.sock"))
	v.SetDefault("daemon.pid_file", filepath.Join(dataDir, "daemon.pid"))
	v.SetDefault("daemon.max_connections", 32)
}

// Load builds the configuration. Precedence, lowest first: defaults, config
// file, environment.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	file := opts.ConfigFile
	if file == "" {
		root := opts.WorkspaceRoot
		if root == "" {
			root, _ = os.Getwd()
		}
		file = FindProjectConfig(root)
	}

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	cfg.File = file

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindProjectConfig walks up from dir looking for .scss-lsp.yaml and returns
// the first one found, or "".
func FindProjectConfig(dir string) string {
	if dir == "" {
		return ""
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ProjectFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.Newf("unknown log format %q", c.Log.Format)
	}
	if c.Index.WorkerCount < 0 {
		return errors.Newf("index.worker_count must not be negative, got %d", c.Index.WorkerCount)
	}
	if c.LSP.MaxOpenDocuments < 1 {
		return errors.Newf("lsp.max_open_documents must be at least 1, got %d", c.LSP.MaxOpenDocuments)
	}
	return nil
}

// Logger returns the logger settings. A configured log file is opened for
// appending; the caller closes it.
func (c *Config) Logger() (logger.Config, *os.File, error) {
	cfg := logger.DefaultConfig()

	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return cfg, nil, err
	}
	cfg.Level = level
	cfg.Format = c.Log.Format
	cfg.AddSource = c.Log.AddSource

	if c.Log.File == "" {
		return cfg, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Log.File), 0o755); err != nil {
		return cfg, nil, errors.Wrap(err, "create log dir")
	}
	f, err := os.OpenFile(c.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return cfg, nil, errors.Wrapf(err, "open log file %s", c.Log.File)
	}
	cfg.Output = f
	return cfg, f, nil
}

// WorkerConfig returns the indexer settings for a workspace rooted at root.
func (c *Config) WorkerConfig(root string) index.WorkerConfig {
	return index.WorkerConfig{
		Root:            root,
		WorkerCount:     c.Index.WorkerCount,
		MaxQueueSize:    c.Index.MaxQueueSize,
		RateLimit:       c.Index.RateLimit,
		MaxFileSize:     c.Index.MaxFileSize,
		Extensions:      c.Index.Extensions,
		ExcludePatterns: c.Index.ExcludePatterns,
	}
}

// IndexDBPath returns the cache database for root: the configured path, or
// one file per workspace under the data directory.
func (c *Config) IndexDBPath(root string) string {
	if c.Index.DBPath != "" {
		return c.Index.DBPath
	}
	sum := sha256.Sum256([]byte(filepath.Clean(root)))
	return filepath.Join(DataDir(), "index", hex.EncodeToString(sum[:8])+".db")
}

func (c *Config) EnsureDirectories() error {
	for _, path := range []string{c.Daemon.SocketPath, c.Daemon.PIDFile} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return errors.Wrapf(err, "create %s", filepath.Dir(path))
		}
	}
	return nil
}
