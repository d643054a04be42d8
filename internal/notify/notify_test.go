package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scrypster/engram/internal/events"
)

func TestEventWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	w := NewEventWriter(dir)

	if err := w.Notify("alice", events.TypeMigrationProgress, map[string]interface{}{"processed": 20}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 event file, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".event" {
		t.Errorf("expected .event extension, got %s", entries[0].Name())
	}
}

func TestNilWriterIsNoop(t *testing.T) {
	var w *EventWriter
	if err := w.Notify("alice", "x", nil); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestEventWatcherReceivesEvent(t *testing.T) {
	dir := t.TempDir()

	received := make(chan Event, 1)
	watcher := NewEventWatcher(dir, nil, func(e Event) { received <- e })
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	writer := NewEventWriter(dir)
	if err := writer.Notify("alice", events.TypeMigrationProgress, map[string]interface{}{"phase": "re_embed"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	select {
	case e := <-received:
		if e.Type != events.TypeMigrationProgress {
			t.Errorf("expected type %s, got %s", events.TypeMigrationProgress, e.Type)
		}
		if e.UserID != "alice" {
			t.Errorf("expected user alice, got %s", e.UserID)
		}
		if e.Data["phase"] != "re_embed" {
			t.Errorf("expected phase re_embed, got %v", e.Data["phase"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The file is consumed.
	time.Sleep(50 * time.Millisecond)
	entries, _ := os.ReadDir(filepath.Join(dir, "events"))
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".event" {
			t.Errorf("event file %s left behind", entry.Name())
		}
	}
}

func TestEventWatcherDrainsExistingInOrder(t *testing.T) {
	dir := t.TempDir()

	// Write events BEFORE starting watcher
	writer := NewEventWriter(dir)
	for _, typ := range []string{"first", "second", "third"} {
		if err := writer.Notify("", typ, nil); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}

	received := make(chan string, 10)
	watcher := NewEventWatcher(dir, nil, func(e Event) { received <- e.Type })
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	// Drain runs synchronously during Start.
	if len(received) != 3 {
		t.Fatalf("expected 3 drained events, got %d", len(received))
	}
	for _, want := range []string{"first", "second", "third"} {
		if got := <-received; got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}

func TestEventWatcherSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	eventsDir := filepath.Join(dir, "events")
	if err := os.MkdirAll(eventsDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(eventsDir, "0-bad.event"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	calls := 0
	watcher := NewEventWatcher(dir, nil, func(Event) { calls++ })
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	if calls != 0 {
		t.Errorf("expected no callback for invalid file, got %d", calls)
	}
	if _, err := os.Stat(filepath.Join(eventsDir, "0-bad.event")); !os.IsNotExist(err) {
		t.Errorf("invalid event file should be removed")
	}
}

func TestStopWithoutStart(t *testing.T) {
	NewEventWatcher(t.TempDir(), nil, nil).Stop()
}

func TestRepublish(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(events.DefaultConfig(), nil, nil)
	sub := bus.Subscribe("bob", "migration.*")
	defer bus.Unsubscribe(sub)

	watcher := NewEventWatcher(dir, nil, Republish(bus))
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	writer := NewEventWriter(dir)
	if err := writer.Notify("bob", events.TypeMigrationFinished, map[string]interface{}{"processed": 127}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if err := writer.Notify("", events.TypeMigrationProgress, nil); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(bus.Since(events.DefaultUser, 0).Events) == 1 && len(bus.Since("bob", 0).Events) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := bus.Since("bob", 0).Events
	if len(got) != 1 {
		t.Fatalf("expected 1 event for bob, got %d", len(got))
	}
	if got[0].Type != events.TypeMigrationFinished {
		t.Errorf("expected %s, got %s", events.TypeMigrationFinished, got[0].Type)
	}
	// JSON numbers decode as float64.
	if got[0].Data["processed"] != float64(127) {
		t.Errorf("expected processed 127, got %v", got[0].Data["processed"])
	}
	if n := len(bus.Since(events.DefaultUser, 0).Events); n != 1 {
		t.Errorf("expected unattributed event under default user, got %d", n)
	}
}
