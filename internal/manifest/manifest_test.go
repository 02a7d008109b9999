package manifest

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/appmgr/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestLoadGlobal_MixedEntries(t *testing.T) {
	p := filepath.Join(t.TempDir(), "manifest.json")
	write(t, p, `{"apps": ["legacy", {"name": "web", "port": 9, "type": "other"}]}`)

	g, err := LoadGlobal(p)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "legacy"}, {Name: "web", Port: 9, Type: "other"}}, g.Apps)
}

func TestLoadGlobal_MalformedEntryKeepsOthers(t *testing.T) {
	p := filepath.Join(t.TempDir(), "manifest.json")
	write(t, p, `{"apps": ["a", {"name": "b", "port": "8080"}, 42, {"name": "c", "port": 9}]}`)

	g, err := LoadGlobal(p)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "a"}, {Name: "c", Port: 9}}, g.Apps)
	require.Len(t, g.Skipped, 2)
	assert.Equal(t, 1, g.Skipped[0].Index)
	assert.Equal(t, 2, g.Skipped[1].Index)
	assert.Contains(t, g.Skipped[0].Error(), "apps[1]")
}

func TestLoad_MalformedEntryIsSkipped(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "manifest.json")
	write(t, global, `{"apps": ["a", {"name": "b", "port": "8080"}, {"name": "c", "port": 9}]}`)

	var logs bytes.Buffer
	r := Load(global, dir, testLogger(&logs))
	assert.Equal(t, []string{"a", "c"}, r.Names())
	c, _ := r.Get("c")
	assert.Equal(t, 9, c.Port)
	assert.Contains(t, logs.String(), "skipping malformed manifest entry")
	assert.Contains(t, logs.String(), "index=1")
}

func TestLoadGlobal_MissingOrMalformed(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadGlobal(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
	assert.Empty(t, g.Apps)

	p := filepath.Join(dir, "bad.json")
	write(t, p, `{"apps": [`)
	g, err = LoadGlobal(p)
	assert.Error(t, err)
	assert.Empty(t, g.Apps)
}

func TestLoadApp(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "web", FileName), `{
		"version": "1.2.0",
		"description": "demo",
		"port": 8080,
		"health": {"type": "http", "endpoint": "/ready", "timeout": 0.5, "expected_status": 204},
		"data_dirs": ["cache", "db"],
		"config_files": [{"source": "defaults/app.conf", "dest": "app.conf"}]
	}`)

	m, err := LoadApp(dir, "web")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, 500*time.Millisecond, m.Health.TimeoutDuration())
	assert.Equal(t, []string{"cache", "db"}, m.DataDirs)
	assert.Equal(t, []ConfigFile{{Source: "defaults/app.conf", Dest: "app.conf"}}, m.ConfigFiles)

	_, err = LoadApp(dir, "absent")
	assert.Error(t, err)
}

func TestResolve_Defaults(t *testing.T) {
	d, ok := Resolve(Entry{Name: "x"}, AppManifest{})
	assert.True(t, ok)
	assert.Equal(t, "x", d.Name)
	assert.Equal(t, "unknown", d.Version)
	assert.Equal(t, "", d.Description)
	assert.Equal(t, "service", d.Type)
	assert.Equal(t, 0, d.Port)
	assert.Equal(t, health.Config{
		Kind:           health.KindProcess,
		Port:           8000,
		Endpoint:       "/health",
		Timeout:        5 * time.Second,
		ExpectedStatus: 200,
	}, d.Health)
}

func TestResolve_GlobalPortFillsGaps(t *testing.T) {
	d, _ := Resolve(Entry{Name: "x", Port: 9}, AppManifest{})
	assert.Equal(t, 9, d.Port)
	assert.Equal(t, 9, d.Health.Port, "health port follows the descriptor port")

	d, _ = Resolve(Entry{Name: "x", Port: 9}, AppManifest{Port: 10})
	assert.Equal(t, 10, d.Port)

	d, _ = Resolve(Entry{Name: "x", Type: "other"}, AppManifest{})
	assert.Equal(t, "other", d.Type)
	d, _ = Resolve(Entry{Name: "x", Type: "other"}, AppManifest{Type: "service"})
	assert.Equal(t, "service", d.Type)
}

func TestResolve_UnknownHealthKind(t *testing.T) {
	d, ok := Resolve(Entry{Name: "x"}, AppManifest{Health: HealthSpec{Type: "grpc"}})
	assert.False(t, ok)
	assert.Equal(t, health.KindProcess, d.Health.Kind)
}

func TestRegistry_DuplicateKeepsFirstPosition(t *testing.T) {
	r := NewRegistry(
		Descriptor{Name: "a", Version: "1"},
		Descriptor{Name: "b"},
		Descriptor{Name: "a", Version: "2"},
	)
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, 2, r.Len())
	d, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "2", d.Version)
	assert.Equal(t, "a", r.All()[0].Name)

	_, ok = r.Get("c")
	assert.False(t, ok)
}

func TestLoad_MergesAndSkipsBlankNames(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "manifest.json")
	write(t, global, `{"apps": [{"name": "x", "port": 9}, "  ", {"name": "y", "type": "other"}, "x"]}`)
	write(t, filepath.Join(dir, "x", FileName), `{"version": "2.0", "health": {"type": "tcp"}}`)
	write(t, filepath.Join(dir, "y", FileName), `{"port": 10, "health": {"type": "bogus"}}`)

	var logs bytes.Buffer
	r := Load(global, dir, testLogger(&logs))
	assert.Equal(t, []string{"x", "y"}, r.Names())

	x, _ := r.Get("x")
	// the second "x" entry carries no port, so the app manifest alone decides
	assert.Equal(t, 0, x.Port)
	assert.Equal(t, "2.0", x.Version)
	assert.Equal(t, health.KindTCP, x.Health.Kind)

	y, _ := r.Get("y")
	assert.Equal(t, 10, y.Port)
	assert.Equal(t, "other", y.Type)
	assert.Equal(t, health.KindProcess, y.Health.Kind)
	assert.Equal(t, 10, y.Health.Port)

	out := logs.String()
	assert.Contains(t, out, "skipping manifest entry without a name")
	assert.Contains(t, out, "duplicate app in manifest")
	assert.Contains(t, out, "unknown health check type")
}

func TestLoad_MissingGlobalIsEmpty(t *testing.T) {
	var logs bytes.Buffer
	r := Load(filepath.Join(t.TempDir(), "none.json"), t.TempDir(), testLogger(&logs))
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Names())
	assert.Contains(t, logs.String(), "global manifest unavailable")
}

func TestLoad_MissingAppManifestUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "manifest.json")
	write(t, global, `{"apps": [{"name": "solo", "port": 7000}]}`)

	r := Load(global, dir, testLogger(&bytes.Buffer{}))
	d, ok := r.Get("solo")
	require.True(t, ok)
	assert.Equal(t, 7000, d.Port)
	assert.Equal(t, "unknown", d.Version)
	assert.Equal(t, 7000, d.Health.Port)
}
