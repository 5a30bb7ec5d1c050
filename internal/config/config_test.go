package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Point everything at an empty temp home so no real config is found
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, ".local", "share"))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Runtime)
	assert.Equal(t, 3, cfg.Sandbox.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Sandbox.RetryInitialInterval.Std())
	assert.Equal(t, 30*time.Second, cfg.Sandbox.RetryMaxInterval.Std())
	assert.Equal(t, 10*time.Minute, cfg.Sandbox.IdleTimeout.Std())
	assert.Equal(t, 4180, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadJSONCWithComments(t *testing.T) {
	tmpDir := t.TempDir()

	content := `{
		// engagement uses a rootless runtime
		"runtime": "podman",
		"sandbox": {
			"maxAttempts": 5,
			"retryInitialInterval": "2s",
			"idleTimeout": 300000, // milliseconds
			"allowedImages": ["pincersec/*", "docker.io/instrumentisto/nmap"]
		},
		"server": {"port": 9000, "enableCORS": true},
		"approvals": ["mcp:ping:*"]
	}`
	path := filepath.Join(tmpDir, "pincer.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "podman", cfg.Runtime)
	assert.Equal(t, 5, cfg.Sandbox.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.RetryInitialInterval.Std())
	assert.Equal(t, 5*time.Minute, cfg.Sandbox.IdleTimeout.Std())
	assert.Equal(t, []string{"pincersec/*", "docker.io/instrumentisto/nmap"}, cfg.Sandbox.AllowedImages)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.EnableCORS)
	assert.Equal(t, []string{"mcp:ping:*"}, cfg.Approvals)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.jsonc"))
	assert.Error(t, err)
}

func TestInterpolationEnv(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("PINCER_TEST_RT", "docker")

	path := filepath.Join(tmpDir, "pincer.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"runtime": "{env:PINCER_TEST_RT}"}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "docker", cfg.Runtime)
}

func TestInterpolationFile(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "host.txt"), []byte("10.0.0.5\n"), 0o644))
	path := filepath.Join(tmpDir, "pincer.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"hostname": "{file:host.txt}"}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Server.Hostname)
}

func TestEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "pincer.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"runtime": "docker", "server": {"port": 9000}}`), 0o644))

	t.Setenv("PINCER_RUNTIME", "podman")
	t.Setenv("PINCER_PORT", "9001")
	t.Setenv("PINCER_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "podman", cfg.Runtime)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Duration
	}{
		{"milliseconds", `1500`, 1500 * time.Millisecond},
		{"duration string", `"90s"`, 90 * time.Second},
		{"minutes", `"10m"`, 10 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			require.NoError(t, d.UnmarshalJSON([]byte(tt.raw)))
			assert.Equal(t, tt.want, d.Std())
		})
	}

	var d Duration
	assert.Error(t, d.UnmarshalJSON([]byte(`"not-a-duration"`)))
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "sub", "pincer.json")

	cfg := Default()
	cfg.Runtime = "docker"
	cfg.Sandbox.MaxAttempts = 7
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "docker", loaded.Runtime)
	assert.Equal(t, 7, loaded.Sandbox.MaxAttempts)
}
