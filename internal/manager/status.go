package manager

import (
	"fmt"
	"time"

	"github.com/loykin/appmgr/internal/health"
)

const (
	StatusRunning = "running"
	StatusStopped = "stopped"

	uptimeUnknown = "N/A"
)

// Summary is the status document served by the control API.
type Summary struct {
	Name          string        `json:"name"`
	Version       string        `json:"version"`
	Description   string        `json:"description"`
	Type          string        `json:"type"`
	Port          int           `json:"port"`
	Status        string        `json:"status"`
	PID           *int          `json:"pid"`
	Health        health.Result `json:"health"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	UptimeHuman   string        `json:"uptime_human"`
}

// List returns the summary of every application in registration order.
func (m *Manager) List() []Summary {
	out := make([]Summary, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.summary(m.records[name]))
	}
	return out
}

// Status returns the summary of one application. Liveness is read from the
// PID record; health and uptime come from the cached runtime state.
func (m *Manager) Status(name string) (Summary, error) {
	r, err := m.get(name)
	if err != nil {
		return Summary{}, err
	}
	return m.summary(r), nil
}

func (m *Manager) summary(r *record) Summary {
	d := r.desc
	s := Summary{
		Name:        d.Name,
		Version:     d.Version,
		Description: d.Description,
		Type:        d.Type,
		Port:        d.Port,
		Status:      StatusStopped,
		UptimeHuman: uptimeUnknown,
	}
	pid, alive := m.ctrl.PID(d.Name)
	rt := r.snapshot()
	s.Health = rt.Health
	if !alive {
		return s
	}
	s.Status = StatusRunning
	s.PID = &pid
	if !rt.StartTime.IsZero() {
		up := m.now().Sub(rt.StartTime)
		if up < 0 {
			up = 0
		}
		s.UptimeSeconds = int64(up / time.Second)
		s.UptimeHuman = FormatUptime(s.UptimeSeconds)
	}
	return s
}

// FormatUptime renders whole seconds as "Xh Ym", "Ym Zs" or "Zs".
func FormatUptime(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	h, rem := secs/3600, secs%3600
	m, s := rem/60, rem%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
