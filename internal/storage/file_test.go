package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"logsentry/internal/eventbus"
	"logsentry/internal/monitor"
	"logsentry/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()

	st, err := Open(Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "history"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %T, want nil store", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	records := []AlertRecord{
		{At: base, LogID: "app", Recipient: "oncall@example.com", OK: true, EventCount: 6},
		{At: base.Add(time.Hour), LogID: "app", Recipient: "oncall@example.com", OK: false, Error: "dial timeout", EventCount: 9},
	}
	for _, r := range records {
		if err := st.AppendAlert(ctx, r); err != nil {
			t.Fatalf("AppendAlert: %v", err)
		}
	}

	got, err := st.RecentAlerts(ctx, time.Time{})
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if !got[0].OK || got[0].EventCount != 6 {
		t.Errorf("first record = %+v", got[0])
	}
	if got[1].OK || got[1].Error != "dial timeout" {
		t.Errorf("second record = %+v", got[1])
	}
}

func TestRecentAlertsFiltersBySince(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		r := AlertRecord{At: base.Add(time.Duration(i) * time.Hour), LogID: "app", OK: true}
		if err := st.AppendAlert(ctx, r); err != nil {
			t.Fatalf("AppendAlert: %v", err)
		}
	}

	got, err := st.RecentAlerts(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(got), got)
	}
}

func TestRecentAlertsSkipsCorruptLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "history")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.AppendAlert(ctx, AlertRecord{At: time.Now(), LogID: "app", OK: true}); err != nil {
		t.Fatalf("AppendAlert: %v", err)
	}

	// Simulate a torn write.
	path := filepath.Join(dir, "history.alerts.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	if _, err := f.WriteString("{\"at\":\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	if err := st.AppendAlert(ctx, AlertRecord{At: time.Now(), LogID: "app", OK: false, Error: "x"}); err != nil {
		t.Fatalf("AppendAlert: %v", err)
	}

	got, err := st.RecentAlerts(ctx, time.Time{})
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2 (corrupt line skipped): %+v", len(got), got)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "history")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendAlert(context.Background(), AlertRecord{LogID: "app"}); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestRecorderPersistsAlertEvents(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	bus := eventbus.New()
	rec := NewRecorder(st, bus, logx.Nop(), "oncall@example.com")

	// Publish before Run starts: the subscription is taken at
	// construction, so these must buffer rather than be dropped.
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.Event{
		Type: eventbus.TypeAlertSent,
		Data: monitor.AlertEvent{At: at, LogID: "app", OK: true, EventCount: 7},
	})
	bus.Publish(eventbus.Event{
		Type: eventbus.TypeWatchRearmed, // not an alert, must be ignored
		Data: "noise",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	var got []AlertRecord
	for time.Now().Before(deadline) {
		var err error
		got, err = st.RecentAlerts(context.Background(), time.Time{})
		if err != nil {
			t.Fatalf("RecentAlerts: %v", err)
		}
		if len(got) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done

	if len(got) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(got), got)
	}
	r := got[0]
	if r.LogID != "app" || !r.OK || r.EventCount != 7 || r.Recipient != "oncall@example.com" {
		t.Errorf("record = %+v", r)
	}
	if !strings.HasPrefix(r.At.Format(time.RFC3339), "2024-05-01T12:00:00") {
		t.Errorf("record time = %v", r.At)
	}
}
