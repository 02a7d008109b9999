// Package provision prepares the on-disk layout of managed applications:
// persistent data and config directories plus first-boot default configs.
package provision

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/appmgr/internal/manifest"
)

const dirMode = 0o755

var ErrUnsafePath = errors.New("unsafe path")

// Provisioner creates <DataDir>/app-data/<name> and <DataDir>/app-config/<name>
// and seeds config files from <AppDir>/<name>.
type Provisioner struct {
	DataDir string
	AppDir  string
	Logger  *slog.Logger
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// DataRoot is the parent of every application's data directory.
func (p *Provisioner) DataRoot() string { return filepath.Join(p.DataDir, "app-data") }

// ConfigRoot is the parent of every application's config directory.
func (p *Provisioner) ConfigRoot() string { return filepath.Join(p.DataDir, "app-config") }

func (p *Provisioner) DataDirFor(name string) string { return filepath.Join(p.DataRoot(), name) }

func (p *Provisioner) ConfigDirFor(name string) string { return filepath.Join(p.ConfigRoot(), name) }

// EnsureBase creates the given runtime directories plus the data and config roots.
func (p *Provisioner) EnsureBase(dirs ...string) error {
	var errs []error
	for _, d := range append(dirs, p.DataRoot(), p.ConfigRoot()) {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, dirMode); err != nil {
			errs = append(errs, fmt.Errorf("create %s: %w", d, err))
		}
	}
	return errors.Join(errs...)
}

// Provision creates the directories of d and copies its default config files.
// It is idempotent: existing directories are kept and existing config files
// are never overwritten. Every failing item is reported in the joined error.
func (p *Provisioner) Provision(d manifest.Descriptor) error {
	if !isSafeName(d.Name) {
		return fmt.Errorf("%w: app name %q", ErrUnsafePath, d.Name)
	}
	dataDir, configDir := p.DataDirFor(d.Name), p.ConfigDirFor(d.Name)
	for _, dir := range []string{dataDir, configDir} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	var errs []error
	for _, sub := range d.DataDirs {
		target, err := within(dataDir, sub)
		if err != nil {
			errs = append(errs, fmt.Errorf("data dir %q: %w", sub, err))
			continue
		}
		if err := os.MkdirAll(target, dirMode); err != nil {
			errs = append(errs, fmt.Errorf("data dir %q: %w", sub, err))
		}
	}

	srcRoot := filepath.Join(p.AppDir, d.Name)
	for _, cf := range d.ConfigFiles {
		src, err := within(srcRoot, cf.Source)
		if err != nil {
			errs = append(errs, fmt.Errorf("config source %q: %w", cf.Source, err))
			continue
		}
		dst, err := within(configDir, cf.Dest)
		if err != nil {
			errs = append(errs, fmt.Errorf("config dest %q: %w", cf.Dest, err))
			continue
		}
		copied, err := copyIfAbsent(src, dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("copy %s: %w", cf.Source, err))
			continue
		}
		if copied {
			p.logger().Info("copied default config", "app", d.Name, "dest", dst)
		}
	}
	return errors.Join(errs...)
}

// ProvisionAll provisions every descriptor, logging failures and moving on.
func (p *Provisioner) ProvisionAll(descs []manifest.Descriptor) {
	for _, d := range descs {
		if err := p.Provision(d); err != nil {
			p.logger().Error("provisioning failed", "app", d.Name, "error", err)
		}
	}
}

// within joins rel onto base and rejects absolute paths or any result that
// escapes base.
func within(base, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" || filepath.IsAbs(rel) {
		return "", ErrUnsafePath
	}
	target := filepath.Join(base, rel)
	r, err := filepath.Rel(base, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return target, nil
}

// copyIfAbsent copies src to dst, preserving the mode bits, when src exists
// and dst does not. It reports whether a copy happened.
func copyIfAbsent(src, dst string) (bool, error) {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", src)
	}
	if _, err := os.Lstat(dst); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return false, err
	}

	in, err := os.Open(src) // #nosec G304 -- confined to the app directory by within
	if err != nil {
		return false, err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return false, err
	}
	if err := out.Close(); err != nil {
		return false, err
	}
	// OpenFile honours the umask; restore the source permissions explicitly.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return true, err
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return true, nil
}

// isSafeName allows only simple file names: letters, digits, dot, underscore
// and dash, with no "..".
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}
