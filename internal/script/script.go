// Package script runs the shell scripts that start and stop applications:
// ordered batches from startup.d/shutdown.d and single per-application scripts.
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/appmgr/internal/env"
	"github.com/loykin/appmgr/internal/metrics"
)

// Kind names a script directory and selects how failures are logged.
type Kind string

const (
	Startup  Kind = "startup"
	Shutdown Kind = "shutdown"
)

// Default timeouts per script.
const (
	DefaultStartupTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultShell           = "/bin/sh"
)

// pipeDrain bounds how long Run waits for output after the script exits.
// Scripts that background a daemon may leave their output pipe inherited.
const pipeDrain = 500 * time.Millisecond

const tailSize = 4096

// ErrNotFound is returned by Find when no script matches the application.
var ErrNotFound = errors.New("script not found")

// Result reports the outcome of one script execution.
type Result struct {
	Script   string        // base name
	Path     string
	ExitCode int           // -1 when the script did not exit normally
	Duration time.Duration
	TimedOut bool
	Output   string // tail of combined stdout/stderr
	Err      error
}

// OK is true iff the script exited 0 within its timeout.
func (r Result) OK() bool { return r.Err == nil && !r.TimedOut && r.ExitCode == 0 }

func (r Result) outcome() string {
	switch {
	case r.TimedOut:
		return "timeout"
	case r.OK():
		return "ok"
	default:
		return "failed"
	}
}

// Runner executes the *.sh scripts of one directory.
type Runner struct {
	Kind    Kind
	Dir     string
	Timeout time.Duration
	Shell   string
	Output  io.Writer // optional sink for every script's combined output
	Env     *env.Env  // optional; nil inherits the daemon environment
	Logger  *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	if r.Kind == Shutdown {
		return DefaultShutdownTimeout
	}
	return DefaultStartupTimeout
}

// failLevel is error for startup scripts and warn for shutdown scripts.
func (r *Runner) failLevel() slog.Level {
	if r.Kind == Shutdown {
		return slog.LevelWarn
	}
	return slog.LevelError
}

// Scripts lists Dir/*.sh in lexicographic order.
func (r *Runner) Scripts() ([]string, error) {
	info, err := os.Stat(r.Dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", r.Dir)
	}
	matches, err := filepath.Glob(filepath.Join(r.Dir, "*.sh"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// RunBatch runs every script of the directory in order. A failing or
// timed-out script is logged and never stops the ones after it.
func (r *Runner) RunBatch(ctx context.Context) []Result {
	scripts, err := r.Scripts()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger().Warn("script directory not found", "kind", r.Kind, "dir", r.Dir)
		} else {
			r.logger().Error("cannot list scripts", "kind", r.Kind, "dir", r.Dir, "error", err)
		}
		return nil
	}
	results := make([]Result, 0, len(scripts))
	for _, s := range scripts {
		if ctx.Err() != nil {
			r.logger().Warn("script batch interrupted", "kind", r.Kind, "remaining", len(scripts)-len(results))
			break
		}
		r.logger().Info("running script", "kind", r.Kind, "script", filepath.Base(s))
		res := r.Run(ctx, s)
		switch {
		case res.TimedOut:
			r.logger().Log(ctx, r.failLevel(), "script timed out", "kind", r.Kind, "script", res.Script, "timeout", r.timeout())
		case !res.OK():
			r.logger().Log(ctx, r.failLevel(), "script failed", "kind", r.Kind, "script", res.Script,
				"exit_code", res.ExitCode, "error", res.Err, "output", res.Output)
		default:
			r.logger().Info("script completed", "kind", r.Kind, "script", res.Script, "duration", res.Duration)
		}
		results = append(results, res)
	}
	return results
}

// Find returns the per-application script Dir/*-<name>.sh. When several
// match, the first in lexicographic order wins.
func (r *Runner) Find(name string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(r.Dir, "*-"+escapeGlob(name)+".sh"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s script for %s in %s", ErrNotFound, r.Kind, name, r.Dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// Run executes one script with the runner's timeout. vars ("K=V") are added
// to the script environment. On timeout the script's whole process group is
// killed.
func (r *Runner) Run(ctx context.Context, path string, vars ...string) Result {
	res := Result{Script: filepath.Base(path), Path: path, ExitCode: -1}
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}
	// #nosec G204 -- scripts come from the operator-controlled app directory
	cmd := exec.CommandContext(ctx, shell, path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = pipeDrain
	if r.Env != nil || len(vars) > 0 {
		e := r.Env
		if e == nil {
			e = env.New()
		}
		cmd.Env = e.Merge(vars)
	}

	tail := &tailBuffer{max: tailSize}
	var out io.Writer = tail
	if r.Output != nil {
		out = io.MultiWriter(tail, &prefixWriter{w: r.Output, prefix: "[" + res.Script + "] "})
	}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = strings.TrimSpace(tail.String())
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.Err = fmt.Errorf("timed out after %s", r.timeout())
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
		// a backgrounded child still holds the output pipe; the exit code decides
	default:
		res.Err = err
	}
	metrics.IncScriptRun(string(r.Kind), res.outcome())
	return res
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`).Replace(s)
}
