// Package process controls application processes through their start and
// stop scripts, falling back to signals when no stop script exists. Liveness
// is always inferred from the PID record the start script leaves behind.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loykin/appmgr/internal/detector"
	"github.com/loykin/appmgr/internal/env"
	"github.com/loykin/appmgr/internal/script"
)

const (
	DefaultGracePeriod = 2 * time.Second
	DefaultSettleTime  = 1 * time.Second

	pollInterval = 50 * time.Millisecond
	killWait     = time.Second
)

// ErrNoStartScript is returned by Start when startup.d has no script for the app.
var ErrNoStartScript = errors.New("no start script")

// State is the observed lifecycle state of an application.
type State string

const (
	Running State = "running"
	Stopped State = "stopped"
)

// Supervisor starts, stops and restarts applications. It holds no per-app
// state; callers serialize actions on the same application.
type Supervisor struct {
	RunDir      string         // holds <name>.pid records
	Startup     *script.Runner // startup.d
	Shutdown    *script.Runner // shutdown.d
	GracePeriod time.Duration  // SIGTERM to SIGKILL
	SettleTime  time.Duration  // pause between stop and start on restart
	Logger      *slog.Logger
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// scriptVars tells a per-application script which app it serves and where
// its PID record lives.
func (s *Supervisor) scriptVars(name string) []string {
	return []string{
		env.App + "=" + name,
		env.PIDFile + "=" + s.PIDFile(name),
		env.RunDir + "=" + s.RunDir,
	}
}

// PIDFile returns the path of the application's PID record.
func (s *Supervisor) PIDFile(name string) string {
	return filepath.Join(s.RunDir, name+".pid")
}

func (s *Supervisor) detector(name string) detector.PIDFileDetector {
	return detector.PIDFileDetector{PIDFile: s.PIDFile(name)}
}

// PID returns the PID of the application's live process.
func (s *Supervisor) PID(name string) (int, bool) {
	return s.detector(name).LivePID()
}

func (s *Supervisor) Alive(name string) bool {
	_, ok := s.PID(name)
	return ok
}

func (s *Supervisor) State(name string) State {
	if s.Alive(name) {
		return Running
	}
	return Stopped
}

// Start runs the application's start script unless it is already running.
// A zero exit status counts as started; the PID record is not awaited.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	if s.Alive(name) {
		s.logger().Info("already running", "app", name)
		return nil
	}
	if s.Startup == nil {
		return fmt.Errorf("%w: %s", ErrNoStartScript, name)
	}
	path, err := s.Startup.Find(name)
	if err != nil {
		if errors.Is(err, script.ErrNotFound) {
			s.logger().Error("no startup script found", "app", name, "dir", s.Startup.Dir)
			return fmt.Errorf("%w: %s", ErrNoStartScript, name)
		}
		return fmt.Errorf("find start script for %s: %w", name, err)
	}
	res := s.Startup.Run(ctx, path, s.scriptVars(name)...)
	if !res.OK() {
		s.logger().Error("failed to start", "app", name, "script", res.Script, "exit_code", res.ExitCode, "error", res.Err, "output", res.Output)
		return fmt.Errorf("start %s: %s: %w", name, res.Script, res.Err)
	}
	s.logger().Info("started", "app", name, "script", res.Script, "duration", res.Duration)
	return nil
}

// Stop stops a running application. With a stop script, its exit status is
// only logged; a script that cannot finish (timeout, exec failure) falls back
// to signals. Without one, the recorded PID receives SIGTERM, then SIGKILL
// after the grace period, and the PID record is removed once it is gone.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	if !s.Alive(name) {
		s.logger().Info("not running", "app", name)
		return nil
	}
	if s.Shutdown != nil {
		if path, err := s.Shutdown.Find(name); err == nil {
			res := s.Shutdown.Run(ctx, path, s.scriptVars(name)...)
			switch {
			case res.OK():
				s.logger().Info("stopped by script", "app", name, "script", res.Script)
				return nil
			case !res.TimedOut && res.ExitCode > 0:
				s.logger().Warn("stop script returned non-zero", "app", name, "script", res.Script, "exit_code", res.ExitCode, "output", res.Output)
				return nil
			default:
				s.logger().Warn("stop script failed, signalling process", "app", name, "script", res.Script, "error", res.Err)
			}
		}
	}
	return s.signalStop(ctx, name)
}

func (s *Supervisor) signalStop(ctx context.Context, name string) error {
	d := s.detector(name)
	pid, ok := d.LivePID()
	if !ok {
		return nil
	}
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		if isGone(err) {
			s.removeRecord(d, name)
			return nil
		}
		return fmt.Errorf("stop %s: SIGTERM pid %d: %w", name, pid, err)
	}
	grace := s.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if waitExit(ctx, pid, grace) {
		s.logger().Info("stopped", "app", name, "pid", pid, "signal", "SIGTERM")
		s.removeRecord(d, name)
		return nil
	}
	if err := signalProcess(pid, syscall.SIGKILL); err != nil && !isGone(err) {
		return fmt.Errorf("stop %s: SIGKILL pid %d: %w", name, pid, err)
	}
	if waitExit(context.WithoutCancel(ctx), pid, killWait) {
		s.logger().Info("stopped", "app", name, "pid", pid, "signal", "SIGKILL")
		s.removeRecord(d, name)
		return nil
	}
	s.logger().Warn("process still present after SIGKILL", "app", name, "pid", pid, "detector", d.Describe())
	return nil
}

func (s *Supervisor) removeRecord(d detector.PIDFileDetector, name string) {
	if err := d.Remove(); err != nil {
		s.logger().Warn("cannot remove pid record", "app", name, "path", d.PIDFile, "error", err)
	}
}

// Restart stops the application, waits SettleTime and starts it again. A stop
// failure is logged and does not prevent the start attempt.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	if err := s.Stop(ctx, name); err != nil {
		s.logger().Warn("stop before restart failed", "app", name, "error", err)
	}
	settle := s.SettleTime
	if settle < 0 {
		settle = 0
	}
	t := time.NewTimer(settle)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
	}
	return s.Start(ctx, name)
}

// waitExit polls until pid is gone, d elapses or ctx is done. It reports
// whether the process is gone.
func waitExit(ctx context.Context, pid int, d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		if !detector.PIDAlive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !detector.PIDAlive(pid)
		case <-deadline.C:
			return !detector.PIDAlive(pid)
		case <-tick.C:
		}
	}
}
