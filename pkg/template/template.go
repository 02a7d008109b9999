// Package template scaffolds a new application: its manifest plus start and
// stop scripts the app manager can drive.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/appmgr/internal/manifest"
)

// TemplateType represents the type of template to generate
type TemplateType string

const (
	TypeWeb        TemplateType = "web"
	TypeWebapp     TemplateType = "webapp"
	TypeAPI        TemplateType = "api"
	TypeService    TemplateType = "service"
	TypeWorker     TemplateType = "worker"
	TypeBackground TemplateType = "background"
	TypeDatabase   TemplateType = "database"
	TypeDB         TemplateType = "db"
	TypeSimple     TemplateType = "simple"
	TypeBasic      TemplateType = "basic"
)

// ScriptPriority is the ordering prefix of generated scripts.
const ScriptPriority = "50"

// AppTemplate is everything needed to register one application.
type AppTemplate struct {
	Name        string
	Manifest    manifest.AppManifest
	StartScript string
	StopScript  string
}

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates an application template of the given type. A port of 0
// keeps the type's default.
func (g *Generator) Generate(templateType TemplateType, name string, port int) (*AppTemplate, error) {
	if !validName(name) {
		return nil, fmt.Errorf("invalid app name %q: allowed [A-Za-z0-9._-]", name)
	}
	var t *AppTemplate
	switch templateType {
	case TypeWeb, TypeWebapp:
		t = g.generateWebTemplate(name)
	case TypeAPI, TypeService:
		t = g.generateAPITemplate(name)
	case TypeWorker, TypeBackground:
		t = g.generateWorkerTemplate(name)
	case TypeDatabase, TypeDB:
		t = g.generateDatabaseTemplate(name)
	case TypeSimple, TypeBasic:
		t = g.generateSimpleTemplate(name)
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: %s)", templateType, strings.Join(g.GetSupportedTypes(), ", "))
	}
	if port > 0 {
		t.Manifest.Port = port
	}
	return t, nil
}

// GenerateJSON returns the indented per-application manifest.
func (g *Generator) GenerateJSON(templateType TemplateType, name string, port int) ([]byte, error) {
	t, err := g.Generate(templateType, name, port)
	if err != nil {
		return nil, err
	}
	return t.ManifestJSON()
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeWeb),
		string(TypeAPI),
		string(TypeWorker),
		string(TypeDatabase),
		string(TypeSimple),
	}
}

// ManifestJSON renders the application manifest.
func (t *AppTemplate) ManifestJSON() ([]byte, error) {
	b, err := json.MarshalIndent(t.Manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return append(b, '\n'), nil
}

// Files maps the paths under appDir that Write creates to their contents.
func (t *AppTemplate) Files(appDir string) (map[string][]byte, error) {
	m, err := t.ManifestJSON()
	if err != nil {
		return nil, err
	}
	script := ScriptPriority + "-" + t.Name + ".sh"
	return map[string][]byte{
		filepath.Join(appDir, t.Name, manifest.FileName): m,
		filepath.Join(appDir, "startup.d", script):       []byte(t.StartScript),
		filepath.Join(appDir, "shutdown.d", script):      []byte(t.StopScript),
	}, nil
}

// Write creates the template's files under appDir. Existing files are an
// error unless force is set. It returns the written paths.
func (t *AppTemplate) Write(appDir string, force bool) ([]string, error) {
	files, err := t.Files(appDir)
	if err != nil {
		return nil, err
	}
	if !force {
		for p := range files {
			if _, err := os.Stat(p); err == nil {
				return nil, fmt.Errorf("'%s' already exists (use --force to overwrite)", p)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}
	written := make([]string, 0, len(files))
	for p, content := range files {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return written, fmt.Errorf("failed to create directory: %w", err)
		}
		mode := fs.FileMode(0o644)
		if strings.HasSuffix(p, ".sh") {
			mode = 0o755
		}
		if err := os.WriteFile(p, content, mode); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", p, err)
		}
		written = append(written, p)
	}
	return written, nil
}

func validName(s string) bool {
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

// startScript backgrounds command and records its PID where the manager
// looks for it.
func startScript(name, command string) string {
	return fmt.Sprintf(`#!/bin/sh
# Start %[1]s and record its PID.
set -e
PID_FILE="${APPMGR_PID_FILE:-${APPMGR_RUN_DIR:-/run/app}/%[1]s.pid}"
DATA_DIR="${APPMGR_DATA_ROOT:-/data/app-data}/%[1]s"
CONFIG_DIR="${APPMGR_CONFIG_ROOT:-/data/app-config}/%[1]s"
export DATA_DIR CONFIG_DIR

if [ -f "$PID_FILE" ] && kill -0 "$(head -n1 "$PID_FILE")" 2>/dev/null; then
    exit 0
fi
cd "$DATA_DIR"
nohup %[2]s >/dev/null 2>&1 &
echo $! > "$PID_FILE"
`, name, command)
}

func stopScript(name string) string {
	return fmt.Sprintf(`#!/bin/sh
# Stop %[1]s. The manager falls back to signals when this script fails.
PID_FILE="${APPMGR_PID_FILE:-${APPMGR_RUN_DIR:-/run/app}/%[1]s.pid}"
[ -f "$PID_FILE" ] || exit 0
PID="$(head -n1 "$PID_FILE")"
kill "$PID" 2>/dev/null || true
i=0
while kill -0 "$PID" 2>/dev/null && [ $i -lt 20 ]; do
    sleep 0.5
    i=$((i + 1))
done
kill -0 "$PID" 2>/dev/null && kill -9 "$PID" 2>/dev/null
rm -f "$PID_FILE"
exit 0
`, name)
}

// Helper functions to create specific templates

func timeout(sec float64) *float64 { return &sec }

func (g *Generator) generateWebTemplate(name string) *AppTemplate {
	return &AppTemplate{
		Name: name,
		Manifest: manifest.AppManifest{
			Version:     "0.1.0",
			Description: "Web application " + name,
			Type:        "web",
			Port:        8080,
			Health:      manifest.HealthSpec{Type: "http", Endpoint: "/health", Timeout: timeout(5), ExpectedStatus: 200},
			DataDirs:    []string{"static", "uploads"},
		},
		StartScript: startScript(name, "python3 -m http.server 8080"),
		StopScript:  stopScript(name),
	}
}

func (g *Generator) generateAPITemplate(name string) *AppTemplate {
	return &AppTemplate{
		Name: name,
		Manifest: manifest.AppManifest{
			Version:     "0.1.0",
			Description: "API service " + name,
			Type:        "service",
			Port:        8000,
			Health:      manifest.HealthSpec{Type: "http", Endpoint: "/healthz", Timeout: timeout(3)},
			DataDirs:    []string{"cache"},
			ConfigFiles: []manifest.ConfigFile{{Source: "config/" + name + ".conf", Dest: name + ".conf"}},
		},
		StartScript: startScript(name, "./"+name+" --config \"$CONFIG_DIR/"+name+".conf\""),
		StopScript:  stopScript(name),
	}
}

func (g *Generator) generateWorkerTemplate(name string) *AppTemplate {
	return &AppTemplate{
		Name: name,
		Manifest: manifest.AppManifest{
			Version:     "0.1.0",
			Description: "Background worker " + name,
			Type:        "worker",
			Health:      manifest.HealthSpec{Type: "process"},
			DataDirs:    []string{"queue"},
		},
		StartScript: startScript(name, "./"+name),
		StopScript:  stopScript(name),
	}
}

func (g *Generator) generateDatabaseTemplate(name string) *AppTemplate {
	return &AppTemplate{
		Name: name,
		Manifest: manifest.AppManifest{
			Version:     "0.1.0",
			Description: "Database " + name,
			Type:        "database",
			Port:        5432,
			Health:      manifest.HealthSpec{Type: "tcp", Timeout: timeout(2)},
			DataDirs:    []string{"db", "backups"},
		},
		StartScript: startScript(name, "postgres -D \"$DATA_DIR/db\""),
		StopScript:  stopScript(name),
	}
}

func (g *Generator) generateSimpleTemplate(name string) *AppTemplate {
	return &AppTemplate{
		Name: name,
		Manifest: manifest.AppManifest{
			Version: "0.1.0",
			Type:    "service",
		},
		StartScript: startScript(name, "tail -f /dev/null"),
		StopScript:  stopScript(name),
	}
}
