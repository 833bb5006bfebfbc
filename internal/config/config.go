package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds runtime settings shared by the carrus commands.
type Config struct {
	// LogDir is where the audit log is written. Empty disables the audit log.
	LogDir string `yaml:"log_dir"`
	// LogLevel is the console log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// StateDir holds the mount ledger used to sweep orphaned mounts.
	StateDir string `yaml:"state_dir"`
	// SearchPath is the PATH handed to every external utility.
	SearchPath string `yaml:"search_path"`
	// CommandTimeout bounds each external utility invocation.
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// MetricsFile, when set, receives metrics in text exposition format after each run.
	MetricsFile string `yaml:"metrics_file"`
}

const (
	// DefaultConfigFilename is the file looked up in the config directory.
	DefaultConfigFilename = "config.yaml"

	// DefaultSearchPath is the minimal PATH for external utilities.
	DefaultSearchPath = "/usr/local/bin:/usr/bin:/bin"

	// DefaultCommandTimeout bounds a single utility invocation.
	DefaultCommandTimeout = 5 * time.Minute

	// DefaultLogLevel is used when none is configured.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the permission of files written by carrus.
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is the permission of directories created by carrus.
	DefaultDirPermissions = 0o755

	// EnvFilename is the optional dotenv file read by LoadEnv.
	EnvFilename = ".env"
)

// Environment variables overriding file settings.
const (
	EnvLogDir         = "CARRUS_LOG_DIR"
	EnvLogLevel       = "CARRUS_LOG_LEVEL"
	EnvStateDir       = "CARRUS_STATE_DIR"
	EnvCommandTimeout = "CARRUS_COMMAND_TIMEOUT"
	EnvMetricsFile    = "CARRUS_METRICS_FILE"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errRelativeSearchPath is returned when the search path has a relative entry.
	errRelativeSearchPath = errors.New("search path entries must be absolute")
)

// Dir returns the carrus configuration directory ($XDG_CONFIG_HOME/carrus).
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}

		base = filepath.Join(home, ".config")
	}

	return filepath.Join(base, "carrus")
}

// Default returns a validated configuration rooted at Dir.
func Default() *Config {
	cfg := new(Config)

	// Validate only fills defaults on an empty config.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from path. A missing file at the default location
// yields the defaults; environment overrides are applied last.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(Dir(), DefaultConfigFilename)
	}

	cfg := new(Config)

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = applyEnv(cfg); err != nil {
		return nil, err
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadEnv sources EnvFilename from the working directory when present.
// Variables already set in the environment win.
func LoadEnv() error {
	if _, err := os.Stat(EnvFilename); err != nil {
		return nil
	}

	if err := godotenv.Load(EnvFilename); err != nil {
		return fmt.Errorf("load %s: %w", EnvFilename, err)
	}

	return nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = filepath.Join(Dir(), DefaultConfigFilename)
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks settings and fills defaults for unset fields.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	if settings.CommandTimeout <= 0 {
		settings.CommandTimeout = DefaultCommandTimeout
	}

	if settings.StateDir == "" {
		settings.StateDir = filepath.Join(Dir(), "state")
	}

	if settings.SearchPath == "" {
		settings.SearchPath = DefaultSearchPath
	}

	for _, entry := range filepath.SplitList(settings.SearchPath) {
		if !filepath.IsAbs(entry) {
			return fmt.Errorf("%q: %w", entry, errRelativeSearchPath)
		}
	}

	return nil
}

// applyEnv overrides file settings with CARRUS_* variables.
func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvLogDir)); v != "" {
		cfg.LogDir = v
	}

	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}

	if v := strings.TrimSpace(os.Getenv(EnvStateDir)); v != "" {
		cfg.StateDir = v
	}

	if v := strings.TrimSpace(os.Getenv(EnvMetricsFile)); v != "" {
		cfg.MetricsFile = v
	}

	if v := strings.TrimSpace(os.Getenv(EnvCommandTimeout)); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvCommandTimeout, err)
		}

		cfg.CommandTimeout = timeout
	}

	return nil
}
