// Package daemon wires the application manager together and runs it until
// its context is cancelled.
package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loykin/appmgr/internal/config"
	"github.com/loykin/appmgr/internal/env"
	"github.com/loykin/appmgr/internal/history"
	"github.com/loykin/appmgr/internal/history/factory"
	mng "github.com/loykin/appmgr/internal/manager"
	"github.com/loykin/appmgr/internal/manifest"
	"github.com/loykin/appmgr/internal/metrics"
	"github.com/loykin/appmgr/internal/process"
	"github.com/loykin/appmgr/internal/provision"
	"github.com/loykin/appmgr/internal/script"
	"github.com/loykin/appmgr/internal/server"
	apptls "github.com/loykin/appmgr/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// serviceTimeout bounds how long the tree waits for one service to stop.
const serviceTimeout = 10 * time.Second

// Run starts the daemon and blocks until ctx is cancelled. The order is:
// provision directories, run the startup batch, serve the control API and
// the health monitor, then run the shutdown batch once ctx is done.
// Only a control socket that cannot be bound is fatal.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("app manager starting", "manifest", cfg.Manifest, "socket", cfg.Socket)

	prov := &provision.Provisioner{DataDir: cfg.DataDir, AppDir: cfg.AppDir, Logger: logger}
	if err := prov.EnsureBase(cfg.RunDir); err != nil {
		logger.Warn("failed to create base directories", "error", err)
	}
	reg := manifest.Load(cfg.Manifest, cfg.AppDir, logger)
	logger.Info("manifest loaded", "apps", reg.Len())
	prov.ProvisionAll(reg.All())

	var handler http.Handler
	var sampler *metrics.Sampler
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			logger.Warn("failed to register metrics", "error", err)
		} else {
			handler = metrics.Handler()
			sampler = metrics.NewSampler()
		}
	}

	sink := openHistory(cfg, logger)
	defer func() {
		if sink != nil {
			if err := history.Close(sink); err != nil {
				logger.Warn("failed to close history sink", "error", err)
			}
		}
	}()

	scriptOut := cfg.Log.Writer(cfg.Log.ScriptOutput)
	defer closeQuietly(scriptOut)
	startup, shutdown := runners(cfg, scriptEnv(cfg, prov, logger), scriptOut, logger)

	l, err := server.Listen(cfg.Socket)
	if err != nil {
		logger.Error("cannot bind control socket", "socket", cfg.Socket, "error", err)
		return err
	}

	logger.Info("running startup scripts", "dir", startup.Dir)
	startup.RunBatch(ctx)

	sup := &process.Supervisor{
		RunDir:      cfg.RunDir,
		Startup:     startup,
		Shutdown:    shutdown,
		GracePeriod: cfg.StopGrace,
		SettleTime:  cfg.RestartSettle,
		Logger:      logger,
	}
	mgr := mng.New(reg, sup, mng.Options{Logger: logger, History: sink, Sampler: sampler})

	root := suture.New("app-manager", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: logger}).MustHook(),
		Timeout:   serviceTimeout,
	})
	root.Add(mng.NewMonitor(mgr, cfg.HealthInterval, logger))
	root.Add(server.NewService(cfg.Socket, l, server.NewRouter(mgr, handler).Handler(), logger))
	if handler != nil && cfg.Metrics.Listen != "" {
		if ml, err := metricsListener(cfg.Metrics); err != nil {
			logger.Warn("metrics listener unavailable", "listen", cfg.Metrics.Listen, "error", err)
		} else {
			svc := server.NewService("", ml, handler, logger)
			svc.Name = "metrics"
			root.Add(svc)
		}
	}

	errCh := root.ServeBackground(ctx)
	logger.Info("app manager ready", "apps", reg.Len())
	<-ctx.Done()
	logger.Info("shutting down")
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("supervisor tree stopped with error", "error", err)
	}

	logger.Info("running shutdown scripts", "dir", shutdown.Dir)
	shutdown.RunBatch(context.WithoutCancel(ctx))
	logger.Info("app manager stopped")
	return nil
}

// metricsListener binds the optional TCP metrics endpoint, wrapped in TLS
// when configured.
func metricsListener(c config.MetricsConfig) (net.Listener, error) {
	tc, err := apptls.Setup(c.TLS)
	if err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return nil, err
	}
	if tc != nil {
		return tls.NewListener(l, tc), nil
	}
	return l, nil
}

// scriptEnv is the daemon environment plus the directory layout and the
// configured extra variables.
func scriptEnv(cfg *config.Config, prov *provision.Provisioner, logger *slog.Logger) *env.Env {
	e := env.New()
	e.FromOS()
	e.Set(env.AppDir, cfg.AppDir)
	e.Set(env.RunDir, cfg.RunDir)
	e.Set(env.DataRoot, prov.DataRoot())
	e.Set(env.ConfigRoot, prov.ConfigRoot())
	for _, kv := range e.SetPairs(cfg.Env) {
		logger.Warn("ignoring malformed env entry", "entry", kv)
	}
	return e
}

func runners(cfg *config.Config, e *env.Env, out io.Writer, logger *slog.Logger) (startup, shutdown *script.Runner) {
	startup = &script.Runner{
		Kind:    script.Startup,
		Dir:     cfg.StartupDir(),
		Timeout: cfg.StartupTimeout,
		Output:  out,
		Env:     e,
		Logger:  logger,
	}
	shutdown = &script.Runner{
		Kind:    script.Shutdown,
		Dir:     cfg.ShutdownDir(),
		Timeout: cfg.ShutdownTimeout,
		Output:  out,
		Env:     e,
		Logger:  logger,
	}
	return startup, shutdown
}

// openHistory returns nil when history is disabled or the sink cannot be opened.
func openHistory(cfg *config.Config, logger *slog.Logger) history.Sink {
	if !cfg.History.Enabled {
		return nil
	}
	sink, err := factory.NewSinkFromDSN(cfg.History.DSN, logger)
	if err != nil {
		logger.Warn("history disabled", "error", err)
		return nil
	}
	return sink
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
