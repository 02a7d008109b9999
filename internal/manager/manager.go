// Package manager owns the runtime state of every registered application and
// funnels all lifecycle actions and health updates through one place.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/appmgr/internal/health"
	"github.com/loykin/appmgr/internal/history"
	"github.com/loykin/appmgr/internal/manifest"
	"github.com/loykin/appmgr/internal/metrics"
)

// ErrUnknownApp is returned for names that are not in the registry.
var ErrUnknownApp = errors.New("app not found")

// historyTimeout bounds a single history export.
const historyTimeout = 2 * time.Second

// Action is a lifecycle operation requested through the control API.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

// Controller performs lifecycle actions and reports liveness. It is
// implemented by *process.Supervisor.
type Controller interface {
	PID(name string) (int, bool)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
}

// record is the mutable runtime state of one application.
type record struct {
	desc  manifest.Descriptor
	check health.Check

	// action serializes start/stop/restart of this application.
	action sync.Mutex

	mu        sync.Mutex
	pid       int
	startTime time.Time
	health    health.Result
	lastCheck time.Time
}

// Runtime is a point-in-time copy of a record.
type Runtime struct {
	PID       int
	StartTime time.Time // zero when not running or not yet observed
	Health    health.Result
	LastCheck time.Time
}

func (r *record) snapshot() Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Runtime{PID: r.pid, StartTime: r.startTime, Health: r.health, LastCheck: r.lastCheck}
}

// observeLiveness reconciles the start time with what was just observed: a
// newly running (or replaced) process starts the clock, a stopped one clears it.
func (r *record) observeLiveness(pid int, alive bool, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observeLocked(pid, alive, now)
}

func (r *record) observeLocked(pid int, alive bool, now time.Time) {
	if !alive {
		r.pid = 0
		r.startTime = time.Time{}
		return
	}
	if r.startTime.IsZero() || (r.pid != 0 && pid != r.pid) {
		r.startTime = now
	}
	r.pid = pid
}

// Options configures optional collaborators of the Manager.
type Options struct {
	Logger  *slog.Logger
	History history.Sink     // optional lifecycle event export
	Sampler *metrics.Sampler // optional resource gauges
	Now     func() time.Time // clock, for tests
}

// Manager is the registry of runtime records.
type Manager struct {
	ctrl    Controller
	order   []string
	records map[string]*record

	logger  *slog.Logger
	history history.Sink
	sampler *metrics.Sampler
	now     func() time.Time
}

// New creates runtime records for every descriptor of reg. Each record's
// health check is built once here.
func New(reg *manifest.Registry, ctrl Controller, opts Options) *Manager {
	m := &Manager{
		ctrl:    ctrl,
		records: make(map[string]*record, reg.Len()),
		logger:  opts.Logger,
		history: opts.History,
		sampler: opts.Sampler,
		now:     opts.Now,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	for _, d := range reg.All() {
		name := d.Name
		alive := func() bool {
			_, ok := ctrl.PID(name)
			return ok
		}
		m.order = append(m.order, name)
		m.records[name] = &record{
			desc:   d,
			check:  health.New(d.Health, alive),
			health: health.Unknown(),
		}
	}
	return m
}

// Names returns application names in registration order.
func (m *Manager) Names() []string { return append([]string(nil), m.order...) }

func (m *Manager) get(name string) (*record, error) {
	r, ok := m.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, name)
	}
	return r, nil
}

// Descriptor returns the registered definition of name.
func (m *Manager) Descriptor(name string) (manifest.Descriptor, error) {
	r, err := m.get(name)
	if err != nil {
		return manifest.Descriptor{}, err
	}
	return r.desc, nil
}

// Runtime returns a snapshot of the runtime record of name.
func (m *Manager) Runtime(name string) (Runtime, error) {
	r, err := m.get(name)
	if err != nil {
		return Runtime{}, err
	}
	return r.snapshot(), nil
}

// Start, Stop and Restart run the action and return the resulting summary.
// The summary is returned even when the action fails.

func (m *Manager) Start(ctx context.Context, name string) (Summary, error) {
	return m.do(ctx, name, ActionStart)
}

func (m *Manager) Stop(ctx context.Context, name string) (Summary, error) {
	return m.do(ctx, name, ActionStop)
}

func (m *Manager) Restart(ctx context.Context, name string) (Summary, error) {
	return m.do(ctx, name, ActionRestart)
}

func (m *Manager) do(ctx context.Context, name string, act Action) (Summary, error) {
	r, err := m.get(name)
	if err != nil {
		return Summary{}, err
	}
	r.action.Lock()
	defer r.action.Unlock()

	m.logger.Info("action requested", "app", name, "action", act)
	switch act {
	case ActionStart:
		err = m.ctrl.Start(ctx, name)
	case ActionStop:
		err = m.ctrl.Stop(ctx, name)
	case ActionRestart:
		err = m.ctrl.Restart(ctx, name)
		if err == nil {
			// uptime restarts with the new process
			r.mu.Lock()
			r.startTime = time.Time{}
			r.mu.Unlock()
		}
	default:
		err = fmt.Errorf("unsupported action %q", act)
	}

	pid, alive := m.ctrl.PID(name)
	r.observeLiveness(pid, alive, m.now())
	metrics.IncAction(name, string(act), err == nil)
	metrics.SetUp(name, alive)

	ev := history.Event{Type: history.EventType(act), App: name, PID: pid, Status: "success"}
	if err != nil {
		ev.Status = "failure"
		ev.Detail = err.Error()
		m.logger.Warn("action failed", "app", name, "action", act, "error", err)
	}
	m.emit(ctx, ev)
	return m.summary(r), err
}

// CheckHealth runs a fresh health check for name, stores the result in the
// runtime record and returns it. The check is not tied to ctx cancellation:
// a caller that goes away must not leave a failed probe behind.
func (m *Manager) CheckHealth(ctx context.Context, name string) (health.Result, error) {
	r, err := m.get(name)
	if err != nil {
		return health.Result{Status: health.StatusUnknown, Error: "App not found"}, err
	}
	return m.evaluate(context.WithoutCancel(ctx), r), nil
}

// evaluate probes r, stamps and stores the result and reconciles liveness.
// A probe cut short by ctx is returned but not stored.
func (m *Manager) evaluate(ctx context.Context, r *record) health.Result {
	name := r.desc.Name
	_, alive := m.ctrl.PID(name)
	began := time.Now()
	res := health.Evaluate(ctx, alive, r.check)
	elapsed := time.Since(began)
	now := m.now()
	res = res.Stamp(now)
	if ctx.Err() != nil {
		return res
	}

	// an action may have replaced the process while the probe ran
	pid, alive := m.ctrl.PID(name)

	r.mu.Lock()
	prev := r.health.Status
	r.health = res
	r.lastCheck = now
	r.observeLocked(pid, alive, now)
	r.mu.Unlock()

	metrics.SetUp(name, alive)
	if res.Status != health.StatusStopped {
		metrics.ObserveHealthCheck(name, string(r.check.Kind()), string(res.Status), elapsed.Seconds())
	}
	if m.sampler != nil {
		m.sampler.Record(name, pid)
	}
	if prev != res.Status {
		m.logger.Info("health changed", "app", name, "from", prev, "to", res.Status, "error", res.Error)
		m.emit(ctx, history.Event{Type: history.EventHealth, App: name, PID: pid, Status: string(res.Status), Detail: res.Error})
	}
	return res
}

// emit exports e best-effort; failures are logged at debug level.
func (m *Manager) emit(ctx context.Context, e history.Event) {
	if m.history == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = m.now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	if err := m.history.Send(ctx, e); err != nil {
		m.logger.Debug("history export failed", "app", e.App, "event", e.Type, "error", err)
	}
}
