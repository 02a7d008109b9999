package manifest

import (
	"log/slog"
	"strings"
)

// Registry is the ordered set of descriptors. It is built once at startup
// and read concurrently afterwards.
type Registry struct {
	order []string
	byKey map[string]Descriptor
}

func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{byKey: make(map[string]Descriptor)}
	for _, d := range descs {
		r.Add(d)
	}
	return r
}

// Add registers d. A repeated name replaces the earlier descriptor but keeps
// its original position.
func (r *Registry) Add(d Descriptor) {
	if _, dup := r.byKey[d.Name]; !dup {
		r.order = append(r.order, d.Name)
	}
	r.byKey[d.Name] = d
}

// Names returns application names in registration order.
func (r *Registry) Names() []string { return append([]string(nil), r.order...) }

func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byKey[name]
	return d, ok
}

// All returns descriptors in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byKey[n])
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// Load builds the registry from the global manifest at globalPath and the
// per-application manifests under appDir. Problems are logged, never fatal.
func Load(globalPath, appDir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry()
	g, err := LoadGlobal(globalPath)
	if err != nil {
		logger.Warn("global manifest unavailable", "path", globalPath, "error", err)
	}
	for _, se := range g.Skipped {
		logger.Warn("skipping malformed manifest entry", "index", se.Index, "error", se.Err)
	}
	logger.Info("loaded manifest", "apps", len(g.Apps))

	for i, e := range g.Apps {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			logger.Warn("skipping manifest entry without a name", "index", i)
			continue
		}
		m, err := LoadApp(appDir, e.Name)
		if err != nil {
			logger.Warn("app manifest unavailable, using defaults", "app", e.Name, "error", err)
		}
		d, ok := Resolve(e, m)
		if !ok {
			logger.Warn("unknown health check type, using process", "app", e.Name, "type", m.Health.Type)
		}
		if _, dup := r.Get(d.Name); dup {
			logger.Warn("duplicate app in manifest, last definition wins", "app", d.Name)
		}
		r.Add(d)
		logger.Info("registered app", "app", d.Name, "version", d.Version, "port", d.Port, "health", d.Health.Kind)
	}
	return r
}
