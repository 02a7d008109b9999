// Package manifest loads the declarative application definitions: a global
// manifest naming the applications and a per-application manifest under
// <app_dir>/<name>/manifest.json.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the per-application manifest file inside <app_dir>/<name>.
const FileName = "manifest.json"

// Entry is one element of the global manifest's "apps" list. A bare string
// is the legacy shorthand for a name without port or type.
type Entry struct {
	Name string `json:"name"`
	Port int    `json:"port,omitempty"`
	Type string `json:"type,omitempty"`
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*e = Entry{Name: name}
		return nil
	}
	type plain Entry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = Entry(p)
	return nil
}

// Global is the top-level manifest. Entries that do not decode are left out
// of Apps and reported in Skipped.
type Global struct {
	Apps    []Entry      `json:"apps"`
	Skipped []EntryError `json:"-"`
}

// EntryError describes an "apps" element that could not be decoded.
type EntryError struct {
	Index int // position in the "apps" list
	Err   error
}

func (e EntryError) Error() string { return fmt.Sprintf("apps[%d]: %v", e.Index, e.Err) }

// UnmarshalJSON decodes every "apps" element on its own so one malformed
// entry does not discard the others.
func (g *Global) UnmarshalJSON(b []byte) error {
	var raw struct {
		Apps []json.RawMessage `json:"apps"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Global{Apps: make([]Entry, 0, len(raw.Apps))}
	for i, m := range raw.Apps {
		var e Entry
		if err := json.Unmarshal(m, &e); err != nil {
			out.Skipped = append(out.Skipped, EntryError{Index: i, Err: err})
			continue
		}
		out.Apps = append(out.Apps, e)
	}
	*g = out
	return nil
}

// ConfigFile is a default configuration file copied into the application's
// config directory on first provisioning.
type ConfigFile struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// HealthSpec is the raw health block of a per-application manifest.
type HealthSpec struct {
	Type           string   `json:"type,omitempty"`
	Port           int      `json:"port,omitempty"`
	Endpoint       string   `json:"endpoint,omitempty"`
	Timeout        *float64 `json:"timeout,omitempty"` // seconds, may be fractional
	ExpectedStatus int      `json:"expected_status,omitempty"`
}

// TimeoutDuration converts the timeout in seconds; zero when not declared.
func (h HealthSpec) TimeoutDuration() time.Duration {
	if h.Timeout == nil || *h.Timeout <= 0 {
		return 0
	}
	return time.Duration(*h.Timeout * float64(time.Second))
}

// AppManifest is the per-application manifest. Every field is optional.
type AppManifest struct {
	Version     string       `json:"version,omitempty"`
	Description string       `json:"description,omitempty"`
	Type        string       `json:"type,omitempty"`
	Port        int          `json:"port,omitempty"`
	Health      HealthSpec   `json:"health"`
	DataDirs    []string     `json:"data_dirs,omitempty"`
	ConfigFiles []ConfigFile `json:"config_files,omitempty"`
}

// LoadGlobal reads the global manifest. A missing or malformed file yields an
// empty manifest together with the error so the caller can log it.
func LoadGlobal(path string) (Global, error) {
	var g Global
	if err := readJSON(path, &g); err != nil {
		return Global{}, fmt.Errorf("global manifest: %w", err)
	}
	return g, nil
}

// LoadApp reads <appDir>/<name>/manifest.json. A missing or malformed file
// yields an empty manifest together with the error.
func LoadApp(appDir, name string) (AppManifest, error) {
	var m AppManifest
	if err := readJSON(filepath.Join(appDir, name, FileName), &m); err != nil {
		return AppManifest{}, fmt.Errorf("manifest for %s: %w", name, err)
	}
	return m, nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path) // #nosec G304 -- manifest paths come from daemon config
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
