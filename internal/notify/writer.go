// Package notify carries activity events between processes that share a
// data directory. A migration run in a separate process writes event files
// with EventWriter; the server picks them up with EventWatcher and
// republishes them on its in-memory event bus.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

const eventExt = ".event"

// Event is the payload written to an event file.
type Event struct {
	Type   string                 `json:"type"`
	UserID string                 `json:"user_id"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Time   int64                  `json:"time"`
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir string
	n   atomic.Uint64
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: EventsDir(dataPath)}
}

// EventsDir is the directory event files live in under dataPath.
func EventsDir(dataPath string) string {
	return filepath.Join(dataPath, "events")
}

// Notify writes an event file. The file is written under a temporary name
// and renamed, so a watcher never reads a partial payload.
// Safe to call concurrently. A nil writer is a no-op.
func (w *EventWriter) Notify(userID, eventType string, data map[string]interface{}) error {
	if w == nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt := Event{
		Type:   eventType,
		UserID: userID,
		Data:   data,
		Time:   time.Now().UnixNano(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", eventType, err)
	}

	name := fmt.Sprintf("%020d-%06d", evt.Time, w.n.Add(1))
	tmp := filepath.Join(w.dir, name+".tmp")
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("notify: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name+eventExt)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: publish %s: %w", name, err)
	}
	return nil
}
