package manifest

import (
	"github.com/loykin/appmgr/internal/health"
)

// Descriptor defaults.
const (
	DefaultVersion = "unknown"
	DefaultType    = "service"
)

// Descriptor is the immutable definition of one managed application.
type Descriptor struct {
	Name        string
	Version     string
	Description string
	Type        string
	Port        int
	Health      health.Config
	DataDirs    []string
	ConfigFiles []ConfigFile
}

// Resolve merges a global entry with the application's own manifest. The
// global port and type apply only where the application manifest omits them.
// ok is false when the declared health type was not recognised.
func Resolve(e Entry, m AppManifest) (d Descriptor, ok bool) {
	d = Descriptor{
		Name:        e.Name,
		Version:     m.Version,
		Description: m.Description,
		Type:        m.Type,
		Port:        m.Port,
		DataDirs:    append([]string(nil), m.DataDirs...),
		ConfigFiles: append([]ConfigFile(nil), m.ConfigFiles...),
	}
	if d.Port == 0 && e.Port != 0 {
		d.Port = e.Port
	}
	if d.Type == "" && e.Type != "" {
		d.Type = e.Type
	}
	if d.Version == "" {
		d.Version = DefaultVersion
	}
	if d.Type == "" {
		d.Type = DefaultType
	}

	kind, ok := health.ParseKind(m.Health.Type)
	hc := health.Config{
		Kind:           kind,
		Port:           m.Health.Port,
		Endpoint:       m.Health.Endpoint,
		Timeout:        m.Health.TimeoutDuration(),
		ExpectedStatus: m.Health.ExpectedStatus,
	}
	if hc.Port == 0 {
		hc.Port = d.Port
	}
	d.Health = hc.WithDefaults()
	return d, ok
}
