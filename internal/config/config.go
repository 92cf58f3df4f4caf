package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/entityidx/internal/errors"
)

const (
	// ProjectConfigName is the project config file, looked up in the project root.
	ProjectConfigName = ".entityidx.yaml"
	// ProjectConfigAltName is accepted when ProjectConfigName is absent.
	ProjectConfigAltName = ".entityidx.yml"
	// DefaultDataDir is relative to the project root.
	DefaultDataDir = ".entityidx"

	envPrefix = "ENTITYIDX_"
)

// Config represents the complete entityidx configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Indexer   IndexerConfig   `yaml:"indexer" json:"indexer"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
	Builder   BuilderConfig   `yaml:"builder" json:"builder"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// IndexerConfig configures indexing passes.
type IndexerConfig struct {
	// BufSize bounds the identities per batch. 0 means a single batch.
	BufSize      int `yaml:"buf_size" json:"buf_size"`
	BuildWorkers int `yaml:"build_workers" json:"build_workers"`
	// FilteredPolicy is "keep" or "remove".
	FilteredPolicy string `yaml:"filtered_policy" json:"filtered_policy"`
	// Hooks lists the builtin handlers registered for every hook type, in order.
	Hooks             []string `yaml:"hooks" json:"hooks"`
	MaxFailureRecords int      `yaml:"max_failure_records" json:"max_failure_records"`
}

// StoreConfig locates the entity and document stores.
type StoreConfig struct {
	// DataDir holds the document store, the queue and the pass lock.
	// Relative paths are resolved against the project root.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// EntityDB is the entity database; relative paths resolve against DataDir.
	EntityDB string `yaml:"entity_db" json:"entity_db"`
	// Backend is the document store backend: "sqlite" or "bleve".
	Backend string `yaml:"backend" json:"backend"`
}

// QueueConfig configures the entry queue and its consumer.
type QueueConfig struct {
	// Path is the queue database; relative paths resolve against DataDir.
	Path     string `yaml:"path" json:"path"`
	DrainMax int    `yaml:"drain_max" json:"drain_max"`
	// Interval runs a pass periodically even without queue writes. 0 disables.
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// WatchConfig configures how queue writes are noticed.
type WatchConfig struct {
	Debounce     time.Duration `yaml:"debounce" json:"debounce"`
	MaxWait      time.Duration `yaml:"max_wait" json:"max_wait"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ForcePolling bool          `yaml:"force_polling" json:"force_polling"`
}

// BuilderConfig configures the product document builder.
type BuilderConfig struct {
	IncludeVirtual bool `yaml:"include_virtual" json:"include_virtual"`
	CategoryCache  int  `yaml:"category_cache" json:"category_cache"`
}

// TelemetryConfig configures the pass history.
type TelemetryConfig struct {
	// HistoryDB is the pass history database; relative paths resolve
	// against DataDir.
	HistoryDB string `yaml:"history_db" json:"history_db"`
	// HistoryLimit is the number of passes kept.
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`
}

// ServerConfig contains process-level settings.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFile enables file logging under the user log directory.
	LogFile bool `yaml:"log_file" json:"log_file"`
}

// NewConfig returns a configuration with default values.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Indexer: IndexerConfig{
			BufSize:           500,
			BuildWorkers:      4,
			FilteredPolicy:    "keep",
			Hooks:             []string{"log"},
			MaxFailureRecords: 100,
		},
		Store: StoreConfig{
			DataDir:  DefaultDataDir,
			EntityDB: "entities.db",
			Backend:  "sqlite",
		},
		Queue: QueueConfig{
			Path:     "queue.db",
			DrainMax: 10000,
		},
		Watch: WatchConfig{
			Debounce:     200 * time.Millisecond,
			MaxWait:      2 * time.Second,
			PollInterval: 2 * time.Second,
		},
		Builder: BuilderConfig{
			CategoryCache: 1000,
		},
		Telemetry: TelemetryConfig{
			HistoryDB:    "history.db",
			HistoryLimit: 100,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows XDG: $XDG_CONFIG_HOME/entityidx/config.yaml, falling back to
// ~/.config/entityidx/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "entityidx", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "entityidx", "config.yaml")
	}
	return filepath.Join(home, ".config", "entityidx", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig returns nil, nil when there is no user config.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := parseYAML(configPath, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/entityidx/config.yaml)
//  3. Project config (.entityidx.yaml in the project root)
//  4. Environment variables (ENTITYIDX_*)
//
// Relative store paths are resolved against dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.normalize()
	cfg.resolvePaths(dir)
	return cfg, nil
}

// ProjectConfigPath returns the project config file in dir, preferring
// .yaml over .yml. It returns "" when neither exists.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{ProjectConfigName, ProjectConfigAltName} {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
	}
	return ""
}

func (c *Config) loadFromFile(dir string) error {
	path := ProjectConfigPath(dir)
	if path == "" {
		return nil
	}
	var parsed Config
	if err := parseYAML(path, &parsed); err != nil {
		return err
	}
	c.mergeWith(&parsed)
	return nil
}

func parseYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(errors.ErrCodeConfigNotFound,
			fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}
	return nil
}

// mergeWith merges non-zero values from other into c. Booleans can only
// be switched on by a file; environment variables can switch them off.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Indexer
	if other.Indexer.BufSize != 0 {
		c.Indexer.BufSize = other.Indexer.BufSize
	}
	if other.Indexer.BuildWorkers != 0 {
		c.Indexer.BuildWorkers = other.Indexer.BuildWorkers
	}
	if other.Indexer.FilteredPolicy != "" {
		c.Indexer.FilteredPolicy = other.Indexer.FilteredPolicy
	}
	if other.Indexer.Hooks != nil {
		c.Indexer.Hooks = other.Indexer.Hooks
	}
	if other.Indexer.MaxFailureRecords != 0 {
		c.Indexer.MaxFailureRecords = other.Indexer.MaxFailureRecords
	}

	// Store
	if other.Store.DataDir != "" {
		c.Store.DataDir = other.Store.DataDir
	}
	if other.Store.EntityDB != "" {
		c.Store.EntityDB = other.Store.EntityDB
	}
	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}

	// Queue
	if other.Queue.Path != "" {
		c.Queue.Path = other.Queue.Path
	}
	if other.Queue.DrainMax != 0 {
		c.Queue.DrainMax = other.Queue.DrainMax
	}
	if other.Queue.Interval != 0 {
		c.Queue.Interval = other.Queue.Interval
	}

	// Watch
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if other.Watch.MaxWait != 0 {
		c.Watch.MaxWait = other.Watch.MaxWait
	}
	if other.Watch.PollInterval != 0 {
		c.Watch.PollInterval = other.Watch.PollInterval
	}
	if other.Watch.ForcePolling {
		c.Watch.ForcePolling = true
	}

	// Builder
	if other.Builder.IncludeVirtual {
		c.Builder.IncludeVirtual = true
	}
	if other.Builder.CategoryCache != 0 {
		c.Builder.CategoryCache = other.Builder.CategoryCache
	}

	// Telemetry
	if other.Telemetry.HistoryDB != "" {
		c.Telemetry.HistoryDB = other.Telemetry.HistoryDB
	}
	if other.Telemetry.HistoryLimit != 0 {
		c.Telemetry.HistoryLimit = other.Telemetry.HistoryLimit
	}

	// Server
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.LogFile {
		c.Server.LogFile = true
	}
}

// applyEnvOverrides applies ENTITYIDX_* variables. Unlike file values, a
// malformed variable is an error rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	ints := map[string]*int{
		"BUF_SIZE":       &c.Indexer.BufSize,
		"BUILD_WORKERS":  &c.Indexer.BuildWorkers,
		"DRAIN_MAX":      &c.Queue.DrainMax,
		"CATEGORY_CACHE": &c.Builder.CategoryCache,
		"HISTORY_LIMIT":  &c.Telemetry.HistoryLimit,
	}
	for name, dst := range ints {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return envError(name, v, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"QUEUE_INTERVAL": &c.Queue.Interval,
		"DEBOUNCE":       &c.Watch.Debounce,
		"MAX_WAIT":       &c.Watch.MaxWait,
		"POLL_INTERVAL":  &c.Watch.PollInterval,
	}
	for name, dst := range durations {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return envError(name, v, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"FORCE_POLLING":   &c.Watch.ForcePolling,
		"INCLUDE_VIRTUAL": &c.Builder.IncludeVirtual,
		"LOG_FILE":        &c.Server.LogFile,
	}
	for name, dst := range bools {
		if v := os.Getenv(envPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return envError(name, v, err)
			}
			*dst = b
		}
	}

	strs := map[string]*string{
		"FILTERED_POLICY": &c.Indexer.FilteredPolicy,
		"DATA_DIR":        &c.Store.DataDir,
		"ENTITY_DB":       &c.Store.EntityDB,
		"BACKEND":         &c.Store.Backend,
		"QUEUE_PATH":      &c.Queue.Path,
		"HISTORY_DB":      &c.Telemetry.HistoryDB,
		"LOG_LEVEL":       &c.Server.LogLevel,
	}
	for name, dst := range strs {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "HOOKS"); ok {
		c.Indexer.Hooks = splitList(v)
	}
	return nil
}

func envError(name, value string, cause error) error {
	return errors.ConfigError(fmt.Sprintf("invalid %s%s=%q", envPrefix, name, value), cause).
		WithSuggestion("Unset the variable or give it a valid value")
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalize lowercases the enum settings Validate accepts in any case.
func (c *Config) normalize() {
	c.Indexer.FilteredPolicy = strings.ToLower(c.Indexer.FilteredPolicy)
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	c.Server.LogLevel = strings.ToLower(c.Server.LogLevel)
}

// resolvePaths makes DataDir absolute against root, then the databases
// inside it against DataDir.
func (c *Config) resolvePaths(root string) {
	if !filepath.IsAbs(c.Store.DataDir) {
		c.Store.DataDir = filepath.Join(root, c.Store.DataDir)
	}
	if !filepath.IsAbs(c.Store.EntityDB) {
		c.Store.EntityDB = filepath.Join(c.Store.DataDir, c.Store.EntityDB)
	}
	if !filepath.IsAbs(c.Queue.Path) {
		c.Queue.Path = filepath.Join(c.Store.DataDir, c.Queue.Path)
	}
	if !filepath.IsAbs(c.Telemetry.HistoryDB) {
		c.Telemetry.HistoryDB = filepath.Join(c.Store.DataDir, c.Telemetry.HistoryDB)
	}
}

// FindProjectRoot walks up from startDir looking for a .git directory or
// a project config file. It returns startDir when neither is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) || ProjectConfigPath(currentDir) != "" {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Indexer.BufSize < 0 {
		return invalid("indexer.buf_size must be non-negative, got %d", c.Indexer.BufSize)
	}
	if c.Indexer.BuildWorkers < 0 {
		return invalid("indexer.build_workers must be non-negative, got %d", c.Indexer.BuildWorkers)
	}
	switch strings.ToLower(c.Indexer.FilteredPolicy) {
	case "keep", "remove":
	default:
		return invalid("indexer.filtered_policy must be 'keep' or 'remove', got %s", c.Indexer.FilteredPolicy)
	}
	if c.Indexer.MaxFailureRecords < 0 {
		return invalid("indexer.max_failure_records must be non-negative, got %d", c.Indexer.MaxFailureRecords)
	}

	switch strings.ToLower(c.Store.Backend) {
	case "sqlite", "bleve":
	default:
		return invalid("store.backend must be 'sqlite' or 'bleve', got %s", c.Store.Backend)
	}
	if c.Store.DataDir == "" {
		return invalid("store.data_dir must not be empty")
	}

	if c.Queue.DrainMax < 0 {
		return invalid("queue.drain_max must be non-negative, got %d", c.Queue.DrainMax)
	}
	if c.Queue.Interval < 0 {
		return invalid("queue.interval must be non-negative, got %s", c.Queue.Interval)
	}

	if c.Watch.Debounce < 0 || c.Watch.MaxWait < 0 || c.Watch.PollInterval < 0 {
		return invalid("watch durations must be non-negative")
	}
	if c.Watch.MaxWait != 0 && c.Watch.MaxWait < c.Watch.Debounce {
		return invalid("watch.max_wait (%s) must not be shorter than watch.debounce (%s)",
			c.Watch.MaxWait, c.Watch.Debounce)
	}

	if c.Builder.CategoryCache < 0 {
		return invalid("builder.category_cache must be non-negative, got %d", c.Builder.CategoryCache)
	}

	if c.Telemetry.HistoryDB == "" {
		return invalid("telemetry.history_db must not be empty")
	}
	if c.Telemetry.HistoryLimit < 1 {
		return invalid("telemetry.history_limit must be at least 1, got %d", c.Telemetry.HistoryLimit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return invalid("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return errors.ConfigError(fmt.Sprintf(format, args...), nil)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
