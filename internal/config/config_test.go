package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NotNil(t, cfg)
	assert.Equal(t, "ndjson", cfg.Format)
	assert.False(t, cfg.Quiet)
	assert.False(t, cfg.Verbose)
	assert.False(t, cfg.SkipMount)
	assert.Equal(t, 200*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "pymobiledevice3", cfg.Helpers.Tunnel.Path)
	assert.Equal(t, []string{"lockdown", "start-tunnel", "--udid", "{udid}"}, cfg.Helpers.Tunnel.Args)
	assert.Equal(t, "lldb", cfg.Helpers.Debugger.Path)
	assert.True(t, cfg.Helpers.Debugger.PTY)
	assert.Empty(t, cfg.Helpers.Info.Path)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.Tunnel)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Attach)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Mount)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Run("rejects unknown format", func(t *testing.T) {
		cfg := Default()
		cfg.Format = "xml"
		assert.ErrorContains(t, cfg.Validate(), "format")
	})

	t.Run("rejects missing helper path", func(t *testing.T) {
		cfg := Default()
		cfg.Helpers.Tunnel.Path = " "
		assert.ErrorContains(t, cfg.Validate(), "helpers.tunnel.path")
	})

	t.Run("mounter optional when mount is skipped", func(t *testing.T) {
		cfg := Default()
		cfg.Helpers.Mounter.Path = ""
		assert.Error(t, cfg.Validate())

		cfg.SkipMount = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	t.Run("returns defaults when no config file exists", func(t *testing.T) {
		// Create temp dir with no config
		tmpDir := t.TempDir()
		t.Chdir(tmpDir)
		t.Setenv("HOME", tmpDir)
		t.Setenv("XDG_CONFIG_HOME", tmpDir)

		cfg, err := Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Should have default values
		assert.Equal(t, "ndjson", cfg.Format)
		assert.Equal(t, 10*time.Second, cfg.Timeouts.Detach)
	})

	t.Run("reads config from current directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Chdir(tmpDir)
		t.Setenv("HOME", tmpDir)
		t.Setenv("XDG_CONFIG_HOME", tmpDir)

		content := "format: text\ntimeouts:\n  tunnel: 45s\n"
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "jitctl.yaml"), []byte(content), 0644))

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "text", cfg.Format)
		assert.Equal(t, 45*time.Second, cfg.Timeouts.Tunnel)
		// untouched keys keep their defaults
		assert.Equal(t, 10*time.Second, cfg.Timeouts.DebugServer)
		assert.Equal(t, "lldb", cfg.Helpers.Debugger.Path)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Chdir(tmpDir)
		t.Setenv("HOME", tmpDir)
		t.Setenv("XDG_CONFIG_HOME", tmpDir)
		t.Setenv("JITCTL_TIMEOUTS_ATTACH", "90s")
		t.Setenv("JITCTL_ENV_PATH", "/opt/venv/bin")
		t.Setenv("JITCTL_SKIP_MOUNT", "true")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 90*time.Second, cfg.Timeouts.Attach)
		assert.Equal(t, "/opt/venv/bin", cfg.EnvPath)
		assert.True(t, cfg.SkipMount)
	})
}

func TestLoadFromFile(t *testing.T) {
	t.Run("loads helpers and timeouts", func(t *testing.T) {
		tmpDir := t.TempDir()

		configContent := `
format: text
quiet: true
helpers:
  tunnel:
    path: /opt/venv/bin/pymobiledevice3
    args: [remote, start-tunnel, --udid, "{udid}"]
  info:
    path: ideviceinfo
timeouts:
  command: 3s
`
		configPath := filepath.Join(tmpDir, "jitctl.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

		cfg, err := LoadFromFile(configPath)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "text", cfg.Format)
		assert.True(t, cfg.Quiet)
		assert.Equal(t, "/opt/venv/bin/pymobiledevice3", cfg.Helpers.Tunnel.Path)
		assert.Equal(t, []string{"remote", "start-tunnel", "--udid", "{udid}"}, cfg.Helpers.Tunnel.Args)
		assert.Equal(t, "ideviceinfo", cfg.Helpers.Info.Path)
		assert.Equal(t, 3*time.Second, cfg.Timeouts.Command)
		assert.Equal(t, 30*time.Second, cfg.Timeouts.Attach)
	})

	t.Run("sample config parses to the defaults", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "jitctl.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte(Sample), 0644))

		cfg, err := LoadFromFile(configPath)
		require.NoError(t, err)
		assert.Equal(t, Default().Timeouts, cfg.Timeouts)
		assert.Equal(t, Default().Helpers.Mounter, cfg.Helpers.Mounter)
		assert.Equal(t, Default().PollInterval, cfg.PollInterval)
	})

	t.Run("returns error for non-existent file", func(t *testing.T) {
		cfg, err := LoadFromFile("/nonexistent/path/config.yaml")
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "bad.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644))

		cfg, err := LoadFromFile(configPath)
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})
}

func TestConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	if _, err := os.Stat("/etc/jitctl/jitctl.yaml"); err == nil {
		t.Skip("system config present")
	}
	assert.Empty(t, ConfigFile())

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".jitctl.yaml"), []byte("quiet: true\n"), 0644))
	assert.Equal(t, ".jitctl.yaml", filepath.Base(ConfigFile()))
}
