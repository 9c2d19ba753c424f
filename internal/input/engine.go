package input

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"atbridge/internal/listener"
	"atbridge/internal/logging"
)

// Handler receives derived input events.
type Handler = listener.Handler[Event]

// Observer is notified of engine activity. Implementations must be fast
// and safe for concurrent use; they run on device workers.
type Observer interface {
	InputEvent(ev Event)
	ReadError(path string, err error)
	HandlerFailed(herr *listener.HandlerError)
	WorkersChanged(n int)
}

// Config configures an Engine.
type Config struct {
	RepeatDelay time.Duration
	RepeatRate  time.Duration
	EmitRepeats bool
	Gestures    []Gesture

	// StopTimeout bounds how long Stop waits for workers.
	StopTimeout time.Duration
	// ReadBackoff is the first pause after a read error; it doubles up
	// to MaxBackoff while errors continue.
	ReadBackoff time.Duration
	MaxBackoff  time.Duration

	// Hotplug watches Dir for devices appearing and disappearing.
	Hotplug bool
	Dir     string

	Logger   *logging.Logger
	Observer Observer
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		RepeatDelay: 500 * time.Millisecond,
		RepeatRate:  30 * time.Millisecond,
		StopTimeout: 2 * time.Second,
		ReadBackoff: 100 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Dir:         DefaultInputDir,
	}
}

// Stats counts engine activity since creation.
type Stats struct {
	Events          uint64 `json:"events"`
	ReadErrors      uint64 `json:"read_errors"`
	HandlerFailures uint64 `json:"handler_failures"`
	Abandoned       uint64 `json:"abandoned_workers"`
}

type worker struct {
	handle *DeviceHandle
	done   chan struct{}
}

// Engine runs one worker per keyboard and dispatches derived events.
type Engine struct {
	src      Source
	log      *logging.Logger
	handlers *listener.Registry[handlerKey, Event]

	mu          sync.Mutex
	cfg         Config
	devices     map[string]*DeviceHandle
	workers     map[string]*worker
	initialized bool
	running     bool
	state       *KeyState
	ctx         context.Context
	cancel      context.CancelFunc
	watcher     *Watcher
	watchDone   chan struct{}

	hotplugSettle time.Duration

	events          atomic.Uint64
	readErrors      atomic.Uint64
	handlerFailures atomic.Uint64
	abandoned       atomic.Uint64
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = def.ReadBackoff
	}
	if cfg.MaxBackoff < cfg.ReadBackoff {
		cfg.MaxBackoff = cfg.ReadBackoff
	}
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	cfg.Gestures = append([]Gesture(nil), cfg.Gestures...)
	return cfg
}

// NewEngine creates an engine reading from src.
func NewEngine(src Source, cfg Config) *Engine {
	cfg = normalize(cfg)
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent("input")

	e := &Engine{
		src:     src,
		log:     log,
		cfg:     cfg,
		devices: make(map[string]*DeviceHandle),
		workers: make(map[string]*worker),
	}
	e.handlers = listener.New[handlerKey, Event](
		listener.WithLogger(log),
		listener.WithName("input"),
		listener.WithFailureHook(e.handlerFailed),
	)
	return e
}

// Configure replaces timing, gesture and hotplug settings. The logger and
// observer given to NewEngine are kept. It fails while capture is running.
func (e *Engine) Configure(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	cfg = normalize(cfg)
	cfg.Logger, cfg.Observer = e.cfg.Logger, e.cfg.Observer
	e.cfg = cfg
	return nil
}

// Init discovers keyboards. It must succeed before Start. Calling it again
// while stopped releases the previous devices and discovers afresh.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}
	e.releaseLocked()

	keyboards, err := Discover(e.src, e.log)
	if err != nil {
		e.log.Warn("keyboard discovery failed", "error", err)
		return err
	}
	for _, h := range keyboards {
		e.devices[h.Path()] = h
	}
	e.initialized = true
	return nil
}

// Start spawns one worker per discovered keyboard.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ErrNotInitialized
	}
	if e.running {
		return ErrAlreadyRunning
	}

	paths := e.sortedPathsLocked()
	for _, path := range paths {
		if e.devices[path].closed() {
			return fmt.Errorf("%w: %s is closed", ErrWorkerSpawn, path)
		}
	}

	e.state = NewKeyState(KeyStateConfig{
		RepeatDelay: e.cfg.RepeatDelay,
		RepeatRate:  e.cfg.RepeatRate,
		EmitRepeats: e.cfg.EmitRepeats,
		Gestures:    e.cfg.Gestures,
	})
	e.ctx, e.cancel = context.WithCancel(ctx)
	for _, path := range paths {
		e.spawnLocked(e.devices[path])
	}
	e.running = true

	if e.cfg.Hotplug {
		e.startWatcherLocked()
	}
	e.log.Info("input capture started", "workers", len(e.workers))
	e.notifyWorkersLocked()
	return nil
}

func (e *Engine) sortedPathsLocked() []string {
	paths := make([]string, 0, len(e.devices))
	for p := range e.devices {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (e *Engine) spawnLocked(h *DeviceHandle) {
	w := &worker{handle: h, done: make(chan struct{})}
	e.workers[h.Path()] = w
	go e.run(e.ctx, e.state, w)
}

func (e *Engine) run(ctx context.Context, state *KeyState, w *worker) {
	defer close(w.done)
	path := w.handle.Path()
	backoff := e.cfg.ReadBackoff

	for {
		raw, err := w.handle.ReadKey()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, ErrDeviceClosed) {
				e.log.Debug("device closed, worker exiting", "path", path)
				e.releaseKeys(state, path)
				return
			}
			rerr := &DeviceReadError{Path: path, Err: err}
			e.readErrors.Add(1)
			if e.cfg.Observer != nil {
				e.cfg.Observer.ReadError(path, err)
			}
			e.log.Warn("device read failed", "error", rerr, "retry_in", backoff)

			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff *= 2
			if backoff > e.cfg.MaxBackoff {
				backoff = e.cfg.MaxBackoff
			}
			continue
		}
		backoff = e.cfg.ReadBackoff

		for _, ev := range state.Apply(raw, path) {
			e.dispatch(ev)
		}
	}
}

// releaseKeys lets go of the keys a vanished device was holding.
func (e *Engine) releaseKeys(state *KeyState, path string) {
	for _, ev := range state.ReleaseDevice(path) {
		e.dispatch(ev)
	}
}

func (e *Engine) dispatch(ev Event) {
	e.events.Add(1)
	if e.cfg.Observer != nil {
		e.cfg.Observer.InputEvent(ev)
	}
	e.handlers.Dispatch(keyFor(ev), ev)
	e.handlers.Dispatch(anyEvent, ev)
}

func (e *Engine) handlerFailed(herr *listener.HandlerError) {
	e.handlerFailures.Add(1)
	if e.cfg.Observer != nil {
		e.cfg.Observer.HandlerFailed(herr)
	}
}

// Stop cancels the workers, closes every device and waits up to
// StopTimeout for workers to exit. Workers still blocked after the timeout
// are abandoned. Close failures are collected and returned; all handles
// are released either way. Stop on a stopped engine is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.cancel()
	watcher, watchDone := e.watcher, e.watchDone
	e.watcher, e.watchDone = nil, nil
	workers := e.workers
	e.workers = make(map[string]*worker)
	closeErr := e.releaseLocked()
	state := e.state
	e.mu.Unlock()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			e.log.Debug("closing device watcher failed", "error", err)
		}
		<-watchDone
	}

	abandoned := e.wait(workers, e.cfg.StopTimeout)
	if abandoned > 0 {
		e.log.Warn("workers did not stop in time", "abandoned", abandoned, "timeout", e.cfg.StopTimeout)
	}
	if state != nil {
		state.Reset()
	}
	e.mu.Lock()
	e.notifyWorkersLocked()
	e.mu.Unlock()
	e.log.Info("input capture stopped", "abandoned", abandoned)
	return closeErr
}

// wait joins workers until timeout and returns how many were abandoned.
func (e *Engine) wait(workers map[string]*worker, timeout time.Duration) int {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, w := range workers {
		select {
		case <-w.done:
		case <-deadline.C:
			return e.abandon(workers)
		}
	}
	return 0
}

// abandon counts and logs workers that have not exited.
func (e *Engine) abandon(workers map[string]*worker) int {
	n := 0
	for path, w := range workers {
		select {
		case <-w.done:
		default:
			n++
			e.log.Warn("abandoning device worker", "path", path)
		}
	}
	e.abandoned.Add(uint64(n))
	return n
}

// releaseLocked closes every device handle, continuing past failures.
func (e *Engine) releaseLocked() error {
	var errs []error
	for path, h := range e.devices {
		if err := h.Close(); err != nil {
			e.log.Warn("closing device failed", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	e.devices = make(map[string]*DeviceHandle)
	e.initialized = false
	return errors.Join(errs...)
}

// Close stops capture and releases discovered devices.
func (e *Engine) Close() error {
	stopErr := e.Stop()
	e.mu.Lock()
	relErr := e.releaseLocked()
	e.mu.Unlock()
	return errors.Join(stopErr, relErr)
}

// Initialized reports whether Init has succeeded and devices are held.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Running reports whether workers are active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Workers returns the number of live device workers.
func (e *Engine) Workers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// Devices describes the held keyboards, sorted by path.
func (e *Engine) Devices() []DeviceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]DeviceInfo, 0, len(e.devices))
	for _, p := range e.sortedPathsLocked() {
		out = append(out, e.devices[p].Info())
	}
	return out
}

// State returns a snapshot of held keys. It is empty when not running.
func (e *Engine) State() StateSnapshot {
	e.mu.Lock()
	state := e.state
	running := e.running
	e.mu.Unlock()
	if state == nil || !running {
		return StateSnapshot{Pressed: []KeyCode{}, Modifiers: []KeyCode{}}
	}
	return state.Snapshot()
}

// Stats returns activity counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Events:          e.events.Load(),
		ReadErrors:      e.readErrors.Load(),
		HandlerFailures: e.handlerFailures.Load(),
		Abandoned:       e.abandoned.Load(),
	}
}

// SetGestures replaces the gesture table, including for a running session.
func (e *Engine) SetGestures(gestures []Gesture) {
	e.mu.Lock()
	e.cfg.Gestures = append([]Gesture(nil), gestures...)
	state := e.state
	e.mu.Unlock()
	if state != nil {
		state.SetGestures(gestures)
	}
}

// Gestures returns the configured gesture table.
func (e *Engine) Gestures() []Gesture {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Gesture(nil), e.cfg.Gestures...)
}

func (e *Engine) notifyWorkersLocked() {
	if e.cfg.Observer != nil {
		e.cfg.Observer.WorkersChanged(len(e.workers))
	}
}
