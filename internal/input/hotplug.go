package input

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"atbridge/internal/logging"
)

// DeviceChange is a hotplug notification kind.
type DeviceChange int

const (
	DeviceAdded DeviceChange = iota + 1
	DeviceRemoved
)

func (c DeviceChange) String() string {
	switch c {
	case DeviceAdded:
		return "added"
	case DeviceRemoved:
		return "removed"
	}
	return "unknown"
}

// defaultSettle is how long a new node is given for udev to finish
// setting permissions before it is opened.
const defaultSettle = 100 * time.Millisecond

// Watcher reports event devices appearing in and disappearing from a
// directory.
type Watcher struct {
	fs     *fsnotify.Watcher
	dir    string
	settle time.Duration
	log    *logging.Logger
}

// NewWatcher watches dir.
func NewWatcher(dir string, log *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{fs: fw, dir: dir, settle: defaultSettle, log: log}, nil
}

// Run delivers changes to fn until ctx is done or the watcher is closed.
// Added devices are reported after the settle delay.
func (w *Watcher) Run(ctx context.Context, fn func(path string, change DeviceChange)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), "event") {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				t := time.NewTimer(w.settle)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
				fn(ev.Name, DeviceAdded)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				fn(ev.Name, DeviceRemoved)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("device watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (e *Engine) startWatcherLocked() {
	w, err := NewWatcher(e.cfg.Dir, e.log)
	if err != nil {
		e.log.Warn("device hotplug unavailable", "dir", e.cfg.Dir, "error", err)
		return
	}
	if e.hotplugSettle > 0 {
		w.settle = e.hotplugSettle
	}
	e.watcher = w
	e.watchDone = make(chan struct{})
	go func(ctx context.Context, done chan struct{}) {
		defer close(done)
		w.Run(ctx, e.deviceChanged)
	}(e.ctx, e.watchDone)
}

// deviceChanged starts a worker for a new keyboard and retires the worker
// of a removed device.
func (e *Engine) deviceChanged(path string, change DeviceChange) {
	switch change {
	case DeviceAdded:
		e.mu.Lock()
		_, known := e.devices[path]
		e.mu.Unlock()
		if known {
			return
		}

		dev, err := e.src.Open(path)
		if err != nil {
			e.log.Debug("cannot open new device", "path", path, "error", err)
			return
		}
		h := newHandle(dev)
		h.info.Keyboard = Classify(dev)
		if !h.IsKeyboard() {
			_ = h.Close()
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if _, dup := e.devices[path]; dup || !e.running {
			_ = h.Close()
			return
		}
		e.devices[path] = h
		e.spawnLocked(h)
		e.log.Info("keyboard attached", "path", path, "name", h.info.Name)
		e.notifyWorkersLocked()

	case DeviceRemoved:
		e.mu.Lock()
		h, ok := e.devices[path]
		if !ok {
			e.mu.Unlock()
			return
		}
		delete(e.devices, path)
		delete(e.workers, path)
		if err := h.Close(); err != nil {
			e.log.Debug("closing removed device failed", "path", path, "error", err)
		}
		e.log.Info("keyboard detached", "path", path)
		e.notifyWorkersLocked()
		state := e.state
		e.mu.Unlock()

		// The worker may still be blocked in a read that ignores Close.
		if state != nil {
			e.releaseKeys(state, path)
		}
	}
}
