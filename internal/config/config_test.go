package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORTAL_DATA_DIR", dir)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, StoreFileName), cfg.StorePath)
	assert.Equal(t, filepath.Join(dir, "last_sync.json"), cfg.CheckpointPath)
	assert.Equal(t, "memory://", cfg.Remote.DSN)
	assert.Equal(t, 15*time.Second, cfg.Sync.PushTimeout)
	assert.Equal(t, ModeAlways, cfg.Connectivity.Mode)
	assert.Equal(t, 10*time.Second, cfg.Connectivity.ProbeInterval)
	assert.Equal(t, 8765, cfg.Notice.Port)
	assert.Empty(t, cfg.File)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORTAL_DATA_DIR", dir)

	file := `
[remote]
dsn = "https://contacts.example.com"
token = "from-file"

[sync]
push_timeout = "5s"

[notice]
port = 9000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(file), 0600))

	// Environment beats the file
	t.Setenv("PORTAL_REMOTE_TOKEN", "from-env")
	t.Setenv("PORTAL_SYNC_PUSH_TIMEOUT", "30s")

	// Flags beat both
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("remote", "", "")
	flags.Int("port", 0, "")
	require.NoError(t, flags.Parse([]string{"--remote", "memory://"}))

	cfg, err := Load(Options{Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, FileName), cfg.File)
	assert.Equal(t, "memory://", cfg.Remote.DSN)
	assert.Equal(t, "from-env", cfg.Remote.Token)
	assert.Equal(t, 30*time.Second, cfg.Sync.PushTimeout)
	assert.Equal(t, 9000, cfg.Notice.Port, "unset flag must not override the file")
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", FileName)
	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false), "existing file is not overwritten")
	require.NoError(t, WriteDefault(path, true))

	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "memory://", cfg.Remote.DSN)
	assert.Equal(t, 15*time.Second, cfg.Sync.PushTimeout)
	assert.Equal(t, 20, cfg.Notice.History)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"file mode", func(c *Config) { c.Connectivity.Mode = ModeFile }, false},
		{"probe without url", func(c *Config) { c.Connectivity.Mode = ModeProbe }, true},
		{"probe with url", func(c *Config) {
			c.Connectivity.Mode = ModeProbe
			c.Connectivity.ProbeURL = "http://localhost/health"
		}, false},
		{"unknown mode", func(c *Config) { c.Connectivity.Mode = "sometimes" }, true},
		{"empty dsn", func(c *Config) { c.Remote.DSN = "" }, true},
		{"bad port", func(c *Config) { c.Notice.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Remote:       RemoteConfig{DSN: "memory://"},
				Connectivity: ConnectivityConfig{Mode: ModeAlways},
				Notice:       NoticeConfig{Port: 8765},
			}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
