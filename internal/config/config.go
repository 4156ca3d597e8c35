// Package config loads projtrack settings from defaults, an optional YAML
// file and PROJTRACK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to environment overrides: database.path is read
// from PROJTRACK_DATABASE_PATH.
const EnvPrefix = "PROJTRACK"

// Config is the full settings tree.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Backup   BackupConfig   `mapstructure:"backup" yaml:"backup"`
	Pending  PendingConfig  `mapstructure:"pending" yaml:"pending"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Projects ProjectsConfig `mapstructure:"projects" yaml:"projects"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type BackupConfig struct {
	// Dir defaults to <database dir>/backups when empty.
	Dir      string `mapstructure:"dir" yaml:"dir"`
	Retain   int    `mapstructure:"retain" yaml:"retain"`
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
}

type PendingConfig struct {
	// Backend is "file" or "badger".
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Path defaults to <database dir>/pending-operation.json for the file
	// backend and <database dir>/pending for badger.
	Path string `mapstructure:"path" yaml:"path"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
}

type ProjectsConfig struct {
	// Root holds the four status directories.
	Root     string        `mapstructure:"root" yaml:"root"`
	Watch    bool          `mapstructure:"watch" yaml:"watch"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`

	// OplogPath is the JSON-lines operational log. Empty disables it.
	OplogPath string `mapstructure:"oplog_path" yaml:"oplog_path"`
}

// SlogLevel maps Level onto slog. Unknown values mean info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DataDir is the default home of the store, backups and logs.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".projtrack"
	}
	return filepath.Join(home, ".projtrack")
}

func setDefaults(v *viper.Viper) {
	dataDir := DataDir()
	home, _ := os.UserHomeDir()

	v.SetDefault("database.path", filepath.Join(dataDir, "projects.db"))

	v.SetDefault("backup.dir", "")
	v.SetDefault("backup.retain", 5)
	v.SetDefault("backup.schedule", "@every 1h")
	v.SetDefault("backup.enabled", true)

	v.SetDefault("pending.backend", "file")
	v.SetDefault("pending.path", "")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.attempt_timeout", time.Duration(0))

	v.SetDefault("projects.root", filepath.Join(home, "Documents", "Projects"))
	v.SetDefault("projects.watch", true)
	v.SetDefault("projects.debounce", 500*time.Millisecond)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7788)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.oplog_path", filepath.Join(dataDir, "logs", "operations.log"))
}

// Load builds the configuration. path is an optional YAML file; when empty
// only defaults and the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.resolvePaths()
	return cfg, nil
}

// resolvePaths fills paths derived from the database location.
func (c *Config) resolvePaths() {
	dbDir := filepath.Dir(c.Database.Path)
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(dbDir, "backups")
	}
	if c.Pending.Path == "" {
		if c.Pending.Backend == "badger" {
			c.Pending.Path = filepath.Join(dbDir, "pending")
		} else {
			c.Pending.Path = filepath.Join(dbDir, "pending-operation.json")
		}
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path must not be empty"))
	}
	if c.Backup.Retain < 1 {
		errs = append(errs, fmt.Errorf("backup.retain must be at least 1, got %d", c.Backup.Retain))
	}
	if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("backup.schedule %q: %w", c.Backup.Schedule, err))
	}
	switch c.Pending.Backend {
	case "file", "badger":
	default:
		errs = append(errs, fmt.Errorf("pending.backend must be file or badger, got %q", c.Pending.Backend))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay must not be negative, got %s", c.Retry.BaseDelay))
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, fmt.Errorf("retry.max_delay %s is below retry.base_delay %s", c.Retry.MaxDelay, c.Retry.BaseDelay))
	}
	if c.Projects.Root == "" {
		errs = append(errs, errors.New("projects.root must not be empty"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
