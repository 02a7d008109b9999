package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultManifest, c.Manifest)
	assert.Equal(t, DefaultAppDir, c.AppDir)
	assert.Equal(t, DefaultDataDir, c.DataDir)
	assert.Equal(t, DefaultRunDir, c.RunDir)
	assert.Equal(t, DefaultSocket, c.Socket)
	assert.Equal(t, DefaultHealthInterval, c.HealthInterval)
	assert.Equal(t, DefaultStartupTimeout, c.StartupTimeout)
	assert.Equal(t, DefaultShutdownTimeout, c.ShutdownTimeout)
	assert.Equal(t, DefaultStopGrace, c.StopGrace)
	assert.Equal(t, DefaultRestartSettle, c.RestartSettle)
	assert.Equal(t, DefaultLogDir, c.Log.Dir)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "scripts.log", c.Log.ScriptOutput)
	assert.False(t, c.Metrics.Enabled)
	assert.False(t, c.History.Enabled)
	assert.Equal(t, "/app/startup.d", c.StartupDir())
	assert.Equal(t, "/app/shutdown.d", c.ShutdownDir())
}

func TestLoad_FileOverridesAndRelativePaths(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "appmgr.toml", `
manifest = "apps/manifest.json"
app_dir = "apps"
run_dir = "/tmp/run-app"
socket = "run/ctl.sock"
health_interval = "3s"
stop_grace = "500ms"
env = ["REGION=eu", "TIER=${REGION}-gold"]

[log]
dir = "logs"
level = "debug"
max_backups = 5

[metrics]
enabled = true
listen = "127.0.0.1:9108"

[metrics.tls]
enabled = true
dir = "certs"
auto_generate = true

[history]
enabled = true
dsn = "history.db"
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "apps/manifest.json"), c.Manifest)
	assert.Equal(t, filepath.Join(dir, "apps"), c.AppDir)
	assert.Equal(t, "/tmp/run-app", c.RunDir)
	assert.Equal(t, filepath.Join(dir, "run/ctl.sock"), c.Socket)
	assert.Equal(t, 3*time.Second, c.HealthInterval)
	assert.Equal(t, 500*time.Millisecond, c.StopGrace)
	assert.Equal(t, DefaultStartupTimeout, c.StartupTimeout)
	assert.Equal(t, []string{"REGION=eu", "TIER=${REGION}-gold"}, c.Env)
	assert.Equal(t, filepath.Join(dir, "logs"), c.Log.Dir)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 5, c.Log.MaxBackups)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9108", c.Metrics.Listen)
	assert.True(t, c.Metrics.TLS.Enabled)
	assert.True(t, c.Metrics.TLS.AutoGenerate)
	assert.Equal(t, filepath.Join(dir, "certs"), c.Metrics.TLS.Dir)
	assert.Empty(t, c.Metrics.TLS.CertFile)
	assert.Equal(t, filepath.Join(dir, "history.db"), c.History.DSN)
	assert.Equal(t, filepath.Join(dir, "apps", "startup.d"), c.StartupDir())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("APPMGR_SOCKET", "/tmp/override.sock")
	t.Setenv("APPMGR_LOG_LEVEL", "warn")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.sock", c.Socket)
	assert.Equal(t, "warn", c.Log.Level)
}

func TestLoad_MissingFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "bad.toml", `
health_interval = "0s"
[history]
enabled = true
`)
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health_interval must be positive")
	assert.Contains(t, err.Error(), "history.dsn is required")
}

func TestValidate_TLSWithoutListener(t *testing.T) {
	c := Default()
	c.Metrics.Enabled = true
	c.Metrics.TLS.Enabled = true
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics.tls requires metrics.listen")
}

func TestValidate_EmptySocket(t *testing.T) {
	c := Default()
	c.Socket = "  "
	assert.Error(t, c.Validate())
}
