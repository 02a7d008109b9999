package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/appmgr/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	events := []history.Event{
		{Type: history.EventStart, OccurredAt: time.Now().UTC(), App: "web", PID: 12345, Status: "success"},
		{Type: history.EventHealth, OccurredAt: time.Now().UTC(), App: "web", PID: 12345, Status: "unhealthy", Detail: "Expected 200, got 503"},
		{Type: history.EventStop, OccurredAt: time.Now().UTC(), App: "web", Status: "success"},
		{Type: history.EventStart, OccurredAt: time.Now().UTC(), App: "db", Status: "failure", Detail: "no start script"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	n, err := sink.Count(ctx, "web")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 events for web, got %d", n)
	}

	var detail string
	row := sink.db.QueryRowContext(ctx, `SELECT detail FROM app_history WHERE app = ? AND event = ?`, "db", "start")
	if err := row.Scan(&detail); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if detail != "no start script" {
		t.Errorf("unexpected detail %q", detail)
	}
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := sink.Send(ctx, history.Event{Type: history.EventHealth, OccurredAt: time.Now(), App: "m", Status: "healthy"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	n, err := sink.Count(ctx, "m")
	if err != nil || n != 5 {
		t.Fatalf("expected 5 rows, got %d (err=%v)", n, err)
	}
}

func TestNew_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
