package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	mng "github.com/loykin/appmgr/internal/manager"
	"github.com/loykin/appmgr/internal/manifest"
	"github.com/loykin/appmgr/internal/server"
)

type memController struct {
	mu   sync.Mutex
	pids map[string]int
	fail bool
}

func (m *memController) PID(name string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid, ok := m.pids[name]
	return pid, ok
}

func (m *memController) Start(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("start script failed")
	}
	m.pids[name] = 321
	return nil
}

func (m *memController) Stop(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pids, name)
	return nil
}

func (m *memController) Restart(ctx context.Context, name string) error {
	_ = m.Stop(ctx, name)
	return m.Start(ctx, name)
}

func startDaemon(t *testing.T, ctrl *memController, names ...string) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir, err := os.MkdirTemp("", "appmgrc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "ctl.sock")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := manifest.NewRegistry()
	for _, n := range names {
		reg.Add(manifest.Descriptor{Name: n, Version: "0.9", Type: "service"})
	}
	mgr := mng.New(reg, ctrl, mng.Options{Logger: logger})

	l, err := server.Listen(sock)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: server.NewRouter(mgr, nil).Handler(), ReadHeaderTimeout: time.Second}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return New(Config{Socket: sock, Timeout: 5 * time.Second, Logger: logger})
}

func TestDefaults(t *testing.T) {
	c := New(Config{})
	if c.socket != DefaultSocket {
		t.Fatalf("unexpected socket %q", c.socket)
	}
	if c.client.Timeout != DefaultTimeout {
		t.Fatalf("unexpected timeout %v", c.client.Timeout)
	}
	if d := DefaultConfig(); d.Socket != DefaultSocket || d.Timeout != DefaultTimeout {
		t.Fatalf("unexpected default config %+v", d)
	}
}

func TestListAndStatus(t *testing.T) {
	ctrl := &memController{pids: map[string]int{"api": 11}}
	c := startDaemon(t, ctrl, "api", "worker")
	ctx := context.Background()

	if !c.IsReachable(ctx) {
		t.Fatal("daemon should be reachable")
	}
	apps, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(apps) != 2 || apps[0].Name != "api" || !apps[0].Running() || apps[1].Running() {
		t.Fatalf("unexpected apps %+v", apps)
	}
	if apps[0].PID == nil || *apps[0].PID != 11 {
		t.Fatalf("unexpected pid %v", apps[0].PID)
	}

	st, err := c.Status(ctx, "worker")
	if err != nil {
		t.Fatal(err)
	}
	if st.Version != "0.9" || st.PID != nil || st.UptimeHuman != "N/A" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestEmptyList(t *testing.T) {
	c := startDaemon(t, &memController{pids: map[string]int{}})
	apps, err := c.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if apps == nil || len(apps) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", apps)
	}
}

func TestUnknownApp(t *testing.T) {
	c := startDaemon(t, &memController{pids: map[string]int{}}, "api")
	ctx := context.Background()

	_, err := c.Status(ctx, "ghost")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	var ae *APIError
	if !errors.As(err, &ae) || ae.Message != "App not found" {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := c.Health(ctx, "ghost"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.Restart(ctx, "ghost"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestActionsAndHealth(t *testing.T) {
	ctrl := &memController{pids: map[string]int{}}
	c := startDaemon(t, ctrl, "api")
	ctx := context.Background()

	h, err := c.Health(ctx, "api")
	if err != nil || h.Status != "stopped" {
		t.Fatalf("expected stopped, got %+v %v", h, err)
	}

	res, err := c.Start(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Status == nil || !res.Status.Running() {
		t.Fatalf("unexpected start result %+v", res)
	}

	h, err = c.Health(ctx, "api")
	if err != nil || h.Status != "healthy" || h.LastCheck == nil {
		t.Fatalf("expected healthy, got %+v %v", h, err)
	}

	res, err = c.Stop(ctx, "api")
	if err != nil || !res.Success || res.Status.Running() {
		t.Fatalf("unexpected stop result %+v %v", res, err)
	}

	ctrl.mu.Lock()
	ctrl.fail = true
	ctrl.mu.Unlock()
	res, err = c.Restart(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Error != "start script failed" {
		t.Fatalf("expected failed restart, got %+v", res)
	}
}

func TestUnreachable(t *testing.T) {
	c := New(Config{Socket: filepath.Join(t.TempDir(), "none.sock"), Timeout: time.Second})
	if c.IsReachable(context.Background()) {
		t.Fatal("expected unreachable")
	}
	if _, err := c.List(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestAPIErrorMessage(t *testing.T) {
	if got := (&APIError{StatusCode: 500}).Error(); got != "HTTP 500" {
		t.Fatalf("unexpected %q", got)
	}
	if got := (&APIError{StatusCode: 404, Message: "Not found"}).Error(); got != "API error (404): Not found" {
		t.Fatalf("unexpected %q", got)
	}
}
