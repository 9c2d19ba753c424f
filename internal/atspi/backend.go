// Package atspi implements a11y.Service over the AT-SPI2 D-Bus protocol.
//
// The accessibility bus is separate from the session bus: its address is
// obtained from org.a11y.Bus on the session bus unless configured. Every
// accessible object is addressed by the unique bus name of its application
// and an object path.
package atspi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"atbridge/internal/a11y"
	"atbridge/internal/logging"
)

// AT-SPI D-Bus names.
const (
	A11yBusService   = "org.a11y.Bus"
	A11yBusPath      = "/org/a11y/bus"
	A11yBusInterface = "org.a11y.Bus"

	RegistryService  = "org.a11y.atspi.Registry"
	RegistryPath     = "/org/a11y/atspi/registry"
	RootPath         = "/org/a11y/atspi/accessible/root"
	NullPath         = "/org/a11y/atspi/null"
	DeviceController = "/org/a11y/atspi/registry/deviceeventcontroller"

	AccessibleInterface          = "org.a11y.atspi.Accessible"
	ComponentInterface           = "org.a11y.atspi.Component"
	TextInterface                = "org.a11y.atspi.Text"
	ActionInterface              = "org.a11y.atspi.Action"
	RegistryInterface            = "org.a11y.atspi.Registry"
	DeviceControllerInterface    = "org.a11y.atspi.DeviceEventController"
	DeviceListenerInterface      = "org.a11y.atspi.DeviceEventListener"
	ObjectEventInterface         = "org.a11y.atspi.Event.Object"
	PropertiesInterface          = "org.freedesktop.DBus.Properties"
	keystrokeListenerPath        = "/org/atbridge/keystrokes"
	screenCoords          uint32 = 0
)

// Config configures a Backend.
type Config struct {
	// BusAddress skips discovery through org.a11y.Bus when set.
	BusAddress string

	// FocusSearchLimit bounds how many objects the fallback focus search
	// visits.
	FocusSearchLimit int

	// Keystrokes registers a device event listener for key events.
	Keystrokes bool

	// Logger defaults to the component logger "atspi".
	Logger *logging.Logger
}

// Backend is an AT-SPI client. It is safe for concurrent use.
type Backend struct {
	cfg Config
	log *logging.Logger

	mu      sync.RWMutex
	conn    *dbus.Conn
	signals chan *dbus.Signal
	done    chan struct{}

	focusMu   sync.Mutex
	lastFocus a11y.Ref

	sinkMu   sync.RWMutex
	sinks    map[int]func(a11y.Event)
	nextSink int

	keys *keystrokeListener
}

var _ a11y.Service = (*Backend)(nil)

// New creates a disconnected backend.
func New(cfg Config) *Backend {
	if cfg.FocusSearchLimit <= 0 {
		cfg.FocusSearchLimit = 2000
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default().WithComponent("atspi")
	}
	return &Backend{
		cfg:   cfg,
		log:   log,
		sinks: make(map[int]func(a11y.Event)),
	}
}

// ConcurrentSafe implements a11y.ConcurrentService.
func (b *Backend) ConcurrentSafe() bool { return true }

// Connect opens the accessibility bus and subscribes to focus and state
// events.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return nil
	}

	addr := b.cfg.BusAddress
	if addr == "" {
		var err error
		if addr, err = discoverBusAddress(ctx); err != nil {
			return err
		}
	}

	conn, err := dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("connect accessibility bus %s: %w", addr, err)
	}

	if err := registerEvent(ctx, conn, "object:state-changed"); err != nil {
		b.log.Warn("registering for state events failed; focus falls back to search", "error", err)
	}
	if err := conn.AddMatchSignalContext(ctx,
		dbus.WithMatchInterface(ObjectEventInterface),
		dbus.WithMatchMember("StateChanged"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("add state match: %w", err)
	}

	b.conn = conn
	b.signals = make(chan *dbus.Signal, 128)
	b.done = make(chan struct{})
	conn.Signal(b.signals)
	go b.signalLoop(b.signals, b.done)
	go b.watchConnection(conn)

	if b.cfg.Keystrokes {
		b.keys = &keystrokeListener{emit: b.emit, log: b.log}
		go b.registerKeystrokes(conn, b.keys)
	}

	b.log.Info("accessibility bus connected", "address", addr)
	return nil
}

// dial connects and authenticates. The connection outlives ctx; ctx only
// bounds the handshake.
func dial(ctx context.Context, addr string) (*dbus.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type result struct {
		conn *dbus.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := dbus.Connect(addr)
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func discoverBusAddress(ctx context.Context) (string, error) {
	session, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("connect session bus: %w", err)
	}
	defer session.Close()

	var addr string
	err = session.Object(A11yBusService, A11yBusPath).
		CallWithContext(ctx, A11yBusInterface+".GetAddress", 0).
		Store(&addr)
	if err != nil {
		return "", fmt.Errorf("get accessibility bus address: %w", err)
	}
	if addr == "" {
		return "", errors.New("accessibility bus address is empty")
	}
	return addr, nil
}

// registerEvent tells the registry we listen for event. Registries before
// at-spi2-core 2.46 take a single argument.
func registerEvent(ctx context.Context, conn *dbus.Conn, event string) error {
	reg := conn.Object(RegistryService, RegistryPath)
	call := reg.CallWithContext(ctx, RegistryInterface+".RegisterEvent", 0, event, []string{}, "")
	if call.Err == nil {
		return nil
	}
	return reg.CallWithContext(ctx, RegistryInterface+".RegisterEvent", 0, event).Err
}

// Close disconnects from the bus. It is safe to call repeatedly and after
// the bus went away.
func (b *Backend) Close() error {
	b.mu.Lock()
	conn, done := b.conn, b.done
	b.conn, b.signals, b.done, b.keys = nil, nil, nil, nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	// Terminating the connection closes the signal channel, once, whether
	// that happens here or already happened when the bus dropped.
	err := conn.Close()
	<-done

	b.focusMu.Lock()
	b.lastFocus = a11y.Ref{}
	b.focusMu.Unlock()
	return err
}

func (b *Backend) watchConnection(conn *dbus.Conn) {
	<-conn.Context().Done()
	b.mu.RLock()
	current := b.conn == conn
	b.mu.RUnlock()
	if current {
		b.log.Warn("accessibility bus connection lost")
	}
}

// Connected reports whether the bus connection is alive.
func (b *Backend) Connected() bool {
	_, err := b.connection()
	return err == nil
}

// Ping checks the registry answers.
func (b *Backend) Ping(ctx context.Context) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return mapError(conn.Object(RegistryService, RootPath).
		CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0).Err)
}

func (b *Backend) connection() (*dbus.Conn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.conn == nil || !b.conn.Connected() {
		return nil, a11y.ErrNotConnected
	}
	return b.conn, nil
}

// Listen registers sink for focus, state and keystroke events.
func (b *Backend) Listen(ctx context.Context, sink func(a11y.Event)) (func(), error) {
	if _, err := b.connection(); err != nil {
		return nil, err
	}

	b.sinkMu.Lock()
	id := b.nextSink
	b.nextSink++
	b.sinks[id] = sink
	b.sinkMu.Unlock()

	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopped)
			b.sinkMu.Lock()
			delete(b.sinks, id)
			b.sinkMu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-stopped:
		}
	}()
	return stop, nil
}

func (b *Backend) emit(ev a11y.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.sinkMu.RLock()
	sinks := make([]func(a11y.Event), 0, len(b.sinks))
	for _, s := range b.sinks {
		sinks = append(sinks, s)
	}
	b.sinkMu.RUnlock()

	for _, s := range sinks {
		s(ev)
	}
}
