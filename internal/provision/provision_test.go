package provision

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/appmgr/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvisioner(t *testing.T) (*Provisioner, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	root := t.TempDir()
	return &Provisioner{
		DataDir: filepath.Join(root, "data"),
		AppDir:  filepath.Join(root, "app"),
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	}, &logs
}

func writeSource(t *testing.T, p *Provisioner, app, rel, content string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(p.AppDir, app, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	require.NoError(t, os.Chmod(path, mode))
}

func TestProvision_CreatesDirsAndCopiesConfig(t *testing.T) {
	p, logs := newProvisioner(t)
	writeSource(t, p, "web", "defaults/app.conf", "listen=8080\n", 0o640)

	d := manifest.Descriptor{
		Name:        "web",
		DataDirs:    []string{"cache", "db/wal"},
		ConfigFiles: []manifest.ConfigFile{{Source: "defaults/app.conf", Dest: "conf/app.conf"}},
	}
	require.NoError(t, p.Provision(d))

	for _, dir := range []string{"cache", "db/wal"} {
		info, err := os.Stat(filepath.Join(p.DataDirFor("web"), dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	dst := filepath.Join(p.ConfigDirFor("web"), "conf/app.conf")
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "listen=8080\n", string(b))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.Contains(t, logs.String(), "copied default config")
}

func TestProvision_NeverOverwritesConfig(t *testing.T) {
	p, _ := newProvisioner(t)
	writeSource(t, p, "web", "app.conf", "default", 0o644)
	d := manifest.Descriptor{Name: "web", ConfigFiles: []manifest.ConfigFile{{Source: "app.conf", Dest: "app.conf"}}}

	require.NoError(t, p.Provision(d))
	dst := filepath.Join(p.ConfigDirFor("web"), "app.conf")
	require.NoError(t, os.WriteFile(dst, []byte("edited"), 0o644))

	require.NoError(t, p.Provision(d))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "edited", string(b))
}

func TestProvision_MissingSourceIsSkipped(t *testing.T) {
	p, _ := newProvisioner(t)
	d := manifest.Descriptor{Name: "web", ConfigFiles: []manifest.ConfigFile{{Source: "nope.conf", Dest: "app.conf"}}}
	require.NoError(t, p.Provision(d))
	_, err := os.Stat(filepath.Join(p.ConfigDirFor("web"), "app.conf"))
	assert.True(t, os.IsNotExist(err))
}

func TestProvision_RejectsEscapingPaths(t *testing.T) {
	p, _ := newProvisioner(t)
	writeSource(t, p, "web", "ok.conf", "x", 0o644)
	d := manifest.Descriptor{
		Name:     "web",
		DataDirs: []string{"../../escape", "/abs", "fine"},
		ConfigFiles: []manifest.ConfigFile{
			{Source: "../../etc/passwd", Dest: "passwd"},
			{Source: "ok.conf", Dest: "../outside.conf"},
			{Source: "ok.conf", Dest: "inside.conf"},
		},
	}
	err := p.Provision(d)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsafePath)

	_, statErr := os.Stat(filepath.Join(p.DataDirFor("web"), "fine"))
	assert.NoError(t, statErr, "safe entries are still provisioned")
	_, statErr = os.Stat(filepath.Join(p.ConfigDirFor("web"), "inside.conf"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(p.ConfigRoot(), "outside.conf"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProvision_UnsafeAppName(t *testing.T) {
	p, _ := newProvisioner(t)
	assert.ErrorIs(t, p.Provision(manifest.Descriptor{Name: "../evil"}), ErrUnsafePath)
	assert.ErrorIs(t, p.Provision(manifest.Descriptor{Name: "a/b"}), ErrUnsafePath)
}

func TestProvisionAll_ContinuesAfterFailure(t *testing.T) {
	p, logs := newProvisioner(t)
	p.ProvisionAll([]manifest.Descriptor{{Name: "bad/name"}, {Name: "good"}})
	_, err := os.Stat(p.DataDirFor("good"))
	assert.NoError(t, err)
	assert.Contains(t, logs.String(), "provisioning failed")
}

func TestEnsureBase(t *testing.T) {
	p, _ := newProvisioner(t)
	run := filepath.Join(t.TempDir(), "run", "app")
	require.NoError(t, p.EnsureBase(run, ""))
	for _, d := range []string{run, p.DataRoot(), p.ConfigRoot()} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
