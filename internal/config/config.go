// Package config loads portal settings from defaults, a portal.toml file,
// PORTAL_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/invitekit/contactsync/internal/checkpoint"
)

const (
	// FileName is the config file looked up in the data directory.
	FileName = "portal.toml"

	// EnvPrefix prefixes environment overrides, e.g. PORTAL_REMOTE_DSN.
	EnvPrefix = "PORTAL"

	// StoreFileName is the SQLite file inside the data directory.
	StoreFileName = "contacts.db"
)

// Connectivity modes.
const (
	ModeProbe  = "probe"
	ModeFile   = "file"
	ModeAlways = "always"
	ModeNever  = "never"
)

// Config holds every portal setting.
type Config struct {
	DataDir        string `mapstructure:"data_dir"`
	StorePath      string `mapstructure:"store_path"`
	CheckpointPath string `mapstructure:"checkpoint_path"`

	Remote       RemoteConfig       `mapstructure:"remote"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Notice       NoticeConfig       `mapstructure:"notice"`
	Log          LogConfig          `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// RemoteConfig selects the remote record service.
type RemoteConfig struct {
	DSN     string        `mapstructure:"dsn"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes sync passes.
type SyncConfig struct {
	PushTimeout time.Duration `mapstructure:"push_timeout"`
}

// ConnectivityConfig selects the connectivity signal.
type ConnectivityConfig struct {
	Mode          string        `mapstructure:"mode"`
	File          string        `mapstructure:"file"`
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// NoticeConfig configures the notice WebSocket server.
type NoticeConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	History int    `mapstructure:"history"`
}

// LogConfig configures the daemon log file.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"data-dir":     "data_dir",
	"store":        "store_path",
	"remote":       "remote.dsn",
	"token":        "remote.token",
	"connectivity": "connectivity.mode",
	"status-file":  "connectivity.file",
	"probe-url":    "connectivity.probe_url",
	"push-timeout": "sync.push_timeout",
	"port":         "notice.port",
	"log-file":     "log.file",
}

// Defaults returns the built-in settings as a nested map keyed like the
// config file.
func Defaults() map[string]any {
	return map[string]any{
		"data_dir":        DefaultDataDir(),
		"store_path":      "",
		"checkpoint_path": "",
		"remote": map[string]any{
			"dsn":     "memory://",
			"token":   "",
			"timeout": "10s",
		},
		"sync": map[string]any{
			"push_timeout": "15s",
		},
		"connectivity": map[string]any{
			"mode":           ModeAlways,
			"file":           "",
			"probe_url":      "",
			"probe_interval": "10s",
		},
		"notice": map[string]any{
			"host":    "localhost",
			"port":    8765,
			"history": 20,
		},
		"log": map[string]any{
			"file":         "",
			"max_size_mb":  10,
			"max_backups":  3,
			"max_age_days": 28,
		},
	}
}

// DefaultDataDir is the per-user directory holding the store and checkpoint.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".contactsync"
	}
	return filepath.Join(dir, "contactsync")
}

// Options controls Load.
type Options struct {
	// ConfigFile is an explicit config path. It must exist when set.
	ConfigFile string

	// Flags are bound through FlagKeys when present.
	Flags *pflag.FlagSet
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v, "", Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	// data_dir may itself come from env or flags and decides where the
	// config file is looked up.
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(v.GetString("data_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		if nested, ok := value.(map[string]any); ok {
			setDefaults(v, prefix+key+".", nested)
			continue
		}
		v.SetDefault(prefix+key, value)
	}
}

// applyDerived fills paths that default to locations in the data directory.
func (c *Config) applyDerived() {
	if c.StorePath == "" {
		c.StorePath = filepath.Join(c.DataDir, StoreFileName)
	}
	if c.CheckpointPath == "" {
		c.CheckpointPath = filepath.Join(c.DataDir, checkpoint.FileName)
	}
	if c.Connectivity.File == "" {
		c.Connectivity.File = filepath.Join(c.DataDir, "online")
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Connectivity.Mode {
	case ModeAlways, ModeNever, ModeFile:
	case ModeProbe:
		if c.Connectivity.ProbeURL == "" {
			return fmt.Errorf("connectivity.probe_url is required in %s mode", ModeProbe)
		}
	default:
		return fmt.Errorf("unknown connectivity.mode %q (want %s, %s, %s or %s)",
			c.Connectivity.Mode, ModeProbe, ModeFile, ModeAlways, ModeNever)
	}
	if c.Remote.DSN == "" {
		return fmt.Errorf("remote.dsn is required")
	}
	if c.Notice.Port < 0 || c.Notice.Port > 65535 {
		return fmt.Errorf("notice.port %d out of range", c.Notice.Port)
	}
	return nil
}

// WriteDefault writes the built-in settings to path as TOML. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// #nosec G304 - path comes from the CLI
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(Defaults()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
