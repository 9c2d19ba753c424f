// Package bridge composes the accessibility client and the input capture
// engine behind one handle for assistive applications.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"atbridge/internal/a11y"
	"atbridge/internal/config"
	"atbridge/internal/health"
	"atbridge/internal/input"
	"atbridge/internal/listener"
	"atbridge/internal/logging"
	"atbridge/internal/metrics"
)

// ErrNotInitialized is returned by operations that need Initialize.
var ErrNotInitialized = errors.New("bridge: not initialized")

// EventHandler receives accessibility events.
type EventHandler = listener.Handler[a11y.Event]

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics records activity in b.
func WithMetrics(b *metrics.Bridge) Option {
	return func(m *Manager) { m.metrics = b }
}

// Manager is the composition root. Queries are safe before Initialize and
// after Cleanup; they log and return empty results.
type Manager struct {
	svc     a11y.Service
	log     *logging.Logger
	metrics *metrics.Bridge

	engine    *input.Engine
	listeners *listener.Registry[a11y.EventType, a11y.Event]
	checker   *health.Checker

	mu          sync.Mutex
	client      *a11y.Client
	cfg         *config.Config
	initialized bool
	braille     bool
	stopEvents  func()
	cancelEv    context.CancelFunc
	captureErr  error
	noKeyboard  bool
	initAt      time.Time
}

// New creates a manager over an accessibility service and an input device
// source. Nothing is connected or opened until Initialize and StartCapture.
func New(svc a11y.Service, src input.Source, opts ...Option) *Manager {
	m := &Manager{svc: svc}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.Default()
	}
	m.log = m.log.WithComponent("bridge")

	ecfg := input.DefaultConfig()
	ecfg.Logger = m.log
	if m.metrics != nil {
		ecfg.Observer = m.metrics
	}
	m.engine = input.NewEngine(src, ecfg)

	lopts := []listener.Option{listener.WithLogger(m.log), listener.WithName("a11y")}
	if m.metrics != nil {
		lopts = append(lopts, listener.WithFailureHook(m.metrics.ListenerFailed))
	}
	m.listeners = listener.New[a11y.EventType, a11y.Event](lopts...)

	m.checker = health.NewChecker()
	m.checker.Register(health.Component{Name: "accessibility", Critical: true, Check: m.checkAccessibility})
	m.checker.Register(health.Component{Name: "capture", Check: m.checkCapture})
	return m
}

// Initialize connects to the accessibility service and starts forwarding
// its events to registered listeners. A nil cfg means defaults. Calling it
// again while initialized does nothing.
func (m *Manager) Initialize(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	gestures, err := Gestures(cfg)
	if err != nil {
		return err
	}

	copts := []a11y.ClientOption{
		a11y.WithClientLogger(m.log),
		a11y.WithCallTimeout(cfg.CallTimeout()),
		a11y.WithQueryDepth(cfg.Accessibility.TreeDepth),
	}
	if m.metrics != nil {
		copts = append(copts, a11y.WithQueryFailureHook(m.metrics.QueryFailed))
	}
	client := a11y.NewClient(m.svc, copts...)
	if err := client.Connect(ctx); err != nil {
		m.log.Error("accessibility initialization failed", "error", err)
		return err
	}

	if err := m.engine.Configure(engineConfig(cfg, gestures)); err != nil {
		_ = client.Close()
		return fmt.Errorf("configure capture: %w", err)
	}

	evCtx, cancel := context.WithCancel(context.Background())
	stop, err := client.Listen(evCtx, m.forward)
	if err != nil {
		// Queries still work without events.
		m.log.Warn("accessibility events unavailable", "error", err)
		stop = func() {}
	}

	m.client = client
	m.cfg = cfg
	m.braille = cfg.Braille.Enabled
	m.stopEvents = stop
	m.cancelEv = cancel
	m.initialized = true
	m.initAt = time.Now()
	m.checker.SetReady(true)
	m.log.Info("bridge initialized", "braille", m.braille, "gestures", len(gestures))
	return nil
}

func (m *Manager) forward(ev a11y.Event) {
	if m.metrics != nil {
		m.metrics.AccessibilityEvent(ev.Type)
	}
	m.listeners.Dispatch(ev.Type, ev)
}

// Cleanup undoes Initialize and StartCapture and drops every listener and
// input handler. It continues past failures, returns them joined, and is
// safe to call repeatedly.
func (m *Manager) Cleanup() error {
	m.listeners.Clear()
	m.engine.ClearHandlers()

	m.mu.Lock()
	stop, cancel, client := m.stopEvents, m.cancelEv, m.client
	m.stopEvents, m.cancelEv, m.client = nil, nil, nil
	wasInit := m.initialized
	m.initialized = false
	m.braille = false
	m.captureErr = nil
	m.noKeyboard = false
	m.mu.Unlock()
	m.checker.SetReady(false)

	if stop != nil {
		stop()
	}
	if cancel != nil {
		cancel()
	}

	// Workers may call back into the manager, so the lock is not held
	// while they drain.
	var errs []error
	if err := m.engine.Close(); err != nil {
		m.log.Warn("releasing input devices failed", "error", err)
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	if client != nil {
		if err := client.Close(); err != nil {
			m.log.Warn("disconnecting accessibility service failed", "error", err)
			errs = append(errs, fmt.Errorf("accessibility: %w", err))
		}
	}
	if wasInit {
		m.log.Info("bridge cleaned up")
	}
	return errors.Join(errs...)
}

// Initialized reports whether Initialize has succeeded since the last
// Cleanup.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// BrailleEnabled returns the braille capability flag.
func (m *Manager) BrailleEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.braille
}

// Config returns the active configuration, or nil before Initialize.
func (m *Manager) Config() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// ApplyConfig applies the settings that can change without reconnecting:
// gestures, the braille flag and the log level. Timing and bus settings
// take effect on the next Initialize.
func (m *Manager) ApplyConfig(cfg *config.Config) error {
	gestures, err := Gestures(cfg)
	if err != nil {
		return err
	}
	var level logging.Level
	if cfg.Logging.Level != "" {
		if level, err = logging.ParseLevel(cfg.Logging.Level); err != nil {
			return err
		}
	}

	m.engine.SetGestures(gestures)
	if cfg.Logging.Level != "" {
		m.log.SetLevel(level)
	}

	m.mu.Lock()
	if m.initialized {
		m.braille = cfg.Braille.Enabled
		m.cfg = cfg
	}
	m.mu.Unlock()
	m.log.Info("configuration applied", "gestures", len(gestures), "braille", cfg.Braille.Enabled)
	return nil
}

// Gestures converts the configured chords into input gestures.
func Gestures(cfg *config.Config) ([]input.Gesture, error) {
	out := make([]input.Gesture, 0, len(cfg.Keyboard.Gestures))
	for _, g := range cfg.Keyboard.Gestures {
		keys, err := input.ParseKeys(g.Keys)
		if err != nil {
			return nil, fmt.Errorf("gesture %q: %w", g.Name, err)
		}
		out = append(out, input.Gesture{Name: g.Name, Keys: keys})
	}
	return out, nil
}

func engineConfig(cfg *config.Config, gestures []input.Gesture) input.Config {
	return input.Config{
		RepeatDelay: cfg.RepeatDelay(),
		RepeatRate:  cfg.RepeatRate(),
		EmitRepeats: cfg.Keyboard.EmitRepeats,
		Gestures:    gestures,
		StopTimeout: cfg.StopTimeout(),
		ReadBackoff: cfg.ReadBackoff(),
		MaxBackoff:  cfg.MaxBackoff(),
		Hotplug:     cfg.Capture.Hotplug,
		Dir:         cfg.Capture.InputDir,
	}
}

// RegisterEventListener runs h for every accessibility event of type t.
func (m *Manager) RegisterEventListener(t a11y.EventType, h EventHandler) listener.RegistrationID {
	return m.listeners.Register(t, h)
}

// UnregisterEventListener removes a listener. Removing an unknown id
// reports false and changes nothing.
func (m *Manager) UnregisterEventListener(t a11y.EventType, id listener.RegistrationID) bool {
	return m.listeners.Unregister(t, id)
}

// EventListenerCount returns the number of accessibility listeners.
func (m *Manager) EventListenerCount() int {
	return m.listeners.Total()
}
