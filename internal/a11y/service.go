package a11y

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrServiceUnavailable is returned when the accessibility service
	// cannot be reached.
	ErrServiceUnavailable = errors.New("accessibility service unavailable")

	// ErrNotConnected is returned when a call is made before Connect.
	ErrNotConnected = errors.New("accessibility client not connected")

	// ErrNotFound is returned when an object, desktop or focus target
	// does not exist.
	ErrNotFound = errors.New("accessible object not found")

	// ErrNoInterface is returned when an object lacks the interface a
	// call needs (text, action, component).
	ErrNoInterface = errors.New("accessible object lacks interface")
)

// Service is the platform accessibility service. Implementations return
// ErrNotFound and ErrNoInterface (possibly wrapped) for the conditions they
// describe; any other error is treated as a transient service failure.
type Service interface {
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	DesktopCount(ctx context.Context) (int, error)
	Desktop(ctx context.Context, index int) (Ref, error)
	Focused(ctx context.Context) (Ref, error)
	AccessibleAtPoint(ctx context.Context, x, y int) (Ref, error)

	Role(ctx context.Context, ref Ref) (Role, string, error)
	Name(ctx context.Context, ref Ref) (string, error)
	Description(ctx context.Context, ref Ref) (string, error)
	States(ctx context.Context, ref Ref) (StateSet, error)
	Children(ctx context.Context, ref Ref) ([]Ref, error)
	ProcessID(ctx context.Context, ref Ref) (int, error)

	Text(ctx context.Context, ref Ref) (string, error)
	Actions(ctx context.Context, ref Ref) ([]string, error)
	DoAction(ctx context.Context, ref Ref, index int) (bool, error)

	// Listen delivers service events to sink until stop is called or ctx
	// ends. sink may be called from any goroutine, one event at a time.
	Listen(ctx context.Context, sink func(Event)) (stop func(), err error)
}

// SessionReporter is implemented by services that notice when their session
// ends without Close, such as a bus daemon going away.
type SessionReporter interface {
	Connected() bool
}

// ConcurrentService is implemented by services whose methods may be called
// from several goroutines at once. Other services are serialized by Client.
type ConcurrentService interface {
	ConcurrentSafe() bool
}

// EventType is a kind of accessibility event.
type EventType uint8

const (
	EventFocusChanged EventType = iota + 1
	EventStateChanged
	EventKeystroke
)

func (t EventType) String() string {
	switch t {
	case EventFocusChanged:
		return "focus-changed"
	case EventStateChanged:
		return "state-changed"
	case EventKeystroke:
		return "keystroke"
	}
	return "unknown"
}

// EventTypes lists every event type in a stable order.
func EventTypes() []EventType {
	return []EventType{EventFocusChanged, EventStateChanged, EventKeystroke}
}

// Keystroke is a key event as reported by the accessibility service.
type Keystroke struct {
	Pressed   bool   `json:"pressed"`
	KeyCode   int    `json:"keycode"`
	KeySym    int    `json:"keysym"`
	Modifiers uint32 `json:"modifiers"`
	Text      string `json:"event_string,omitempty"`
	IsText    bool   `json:"is_text"`
}

// Event is one accessibility event. Node is filled by Client for events
// with a Source it could resolve.
type Event struct {
	Type      EventType
	Source    Ref
	Node      Node
	State     StateFlag
	Enabled   bool
	Detail    string
	Keystroke *Keystroke
	Time      time.Time
}

// AppSummary describes one running accessible application.
type AppSummary struct {
	Ref         Ref    `json:"ref"`
	Name        string `json:"name"`
	PID         int    `json:"pid"`
	Role        string `json:"role"`
	Description string `json:"description"`
}
