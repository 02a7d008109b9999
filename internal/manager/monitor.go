package manager

import (
	"context"
	"log/slog"
	"time"
)

// DefaultHealthInterval is the pause between two monitor cycles.
const DefaultHealthInterval = 10 * time.Second

// Monitor periodically refreshes the health and liveness of every
// application. It runs as a supervised service.
type Monitor struct {
	Manager  *Manager
	Interval time.Duration
	Logger   *slog.Logger
}

// NewMonitor returns a Monitor for m checking every interval.
func NewMonitor(m *Manager, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{Manager: m, Interval: interval, Logger: logger}
}

// Serve runs the first cycle immediately and then one cycle per interval
// until ctx is cancelled. Implements suture.Service.
func (mon *Monitor) Serve(ctx context.Context) error {
	mon.Logger.Info("health monitor started", "interval", mon.Interval, "apps", len(mon.Manager.order))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			mon.Logger.Info("health monitor stopped")
			return ctx.Err()
		case <-timer.C:
			mon.Cycle(ctx)
			timer.Reset(mon.Interval)
		}
	}
}

// Cycle checks every application once, in registration order. Remaining
// applications are skipped once ctx is done.
func (mon *Monitor) Cycle(ctx context.Context) {
	for _, name := range mon.Manager.order {
		if ctx.Err() != nil {
			return
		}
		mon.Manager.evaluate(ctx, mon.Manager.records[name])
	}
}

func (mon *Monitor) String() string { return "health-monitor" }
