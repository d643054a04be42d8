package notify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// EventWatcher watches the events directory and dispatches each event file
// to a callback exactly once, deleting the file afterwards.
type EventWatcher struct {
	dir      string
	callback func(Event)
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewEventWatcher creates a watcher for {dataPath}/events/.
func NewEventWatcher(dataPath string, logger *zap.Logger, callback func(Event)) *EventWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventWatcher{
		dir:      EventsDir(dataPath),
		callback: callback,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins watching. It drains any existing event files first, in the
// order they were written, then watches for new ones. Call Stop to clean up.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return err
	}
	ew.watcher = w

	ew.drainExisting()

	go ew.loop()
	ew.logger.Info("notify: watching for cross-process events", zap.String("dir", ew.dir))
	return nil
}

// Stop shuts down the watcher. It is safe to call on a watcher that never
// started.
func (ew *EventWatcher) Stop() {
	if ew.watcher == nil {
		return
	}
	_ = ew.watcher.Close()
	<-ew.done
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(evt.Name, eventExt) {
				ew.processFile(evt.Name)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			ew.logger.Warn("notify: watcher error", zap.Error(err))
		}
	}
}

func (ew *EventWatcher) drainExisting() {
	entries, err := os.ReadDir(ew.dir)
	if err != nil {
		return
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), eventExt) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		ew.processFile(filepath.Join(ew.dir, name))
	}
}

func (ew *EventWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // already consumed
	}
	if err := os.Remove(path); err != nil {
		return // another reader won the race
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		ew.logger.Warn("notify: invalid event file", zap.String("file", filepath.Base(path)), zap.Error(err))
		return
	}
	if event.Type != "" && ew.callback != nil {
		ew.callback(event)
	}
}
