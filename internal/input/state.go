package input

import (
	"sort"
	"sync"
	"time"
)

// EventKind is the kind of a derived input event.
type EventKind uint8

const (
	EventKeyDown EventKind = iota + 1
	EventModifierChanged
	EventKeyRepeat
	EventGesture
)

func (k EventKind) String() string {
	switch k {
	case EventKeyDown:
		return "key_down"
	case EventModifierChanged:
		return "modifier_changed"
	case EventKeyRepeat:
		return "key_repeat"
	case EventGesture:
		return "gesture"
	}
	return "unknown"
}

// Event is one derived input event.
type Event struct {
	Kind EventKind `json:"kind"`
	Key  KeyCode   `json:"key,omitempty"`
	// Pressed is the new modifier state for EventModifierChanged.
	Pressed bool      `json:"pressed,omitempty"`
	Gesture string    `json:"gesture,omitempty"`
	Device  string    `json:"device,omitempty"`
	Time    time.Time `json:"time"`
}

// KeyName returns the kernel name of Key.
func (e Event) KeyName() string {
	if e.Kind == EventGesture {
		return ""
	}
	return e.Key.String()
}

// Gesture is a named set of keys held at the same time.
type Gesture struct {
	Name string
	Keys []KeyCode
}

type keySet map[KeyCode]struct{}

func newKeySet(keys []KeyCode) keySet {
	s := make(keySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s keySet) equal(o keySet) bool {
	if len(s) != len(o) {
		return false
	}
	for k := range s {
		if _, ok := o[k]; !ok {
			return false
		}
	}
	return true
}

func (s keySet) sorted() []KeyCode {
	out := make([]KeyCode, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// KeyState tracks held keys for one capture session. Every device worker
// feeds the same KeyState; a single mutex keeps modifiers a subset of
// pressed for every reader.
type KeyState struct {
	repeatDelay time.Duration
	repeatRate  time.Duration
	emitRepeats bool

	mu            sync.Mutex
	pressed       keySet
	modifiers     keySet
	pressedAt     map[KeyCode]time.Time
	lastRepeat    map[KeyCode]time.Time
	holders       map[KeyCode]map[string]struct{}
	lastEventTime time.Time
	gestures      []gestureDef
}

type gestureDef struct {
	name string
	keys keySet
}

// KeyStateConfig configures a KeyState.
type KeyStateConfig struct {
	RepeatDelay time.Duration
	RepeatRate  time.Duration
	EmitRepeats bool
	Gestures    []Gesture
}

// NewKeyState creates an empty state.
func NewKeyState(cfg KeyStateConfig) *KeyState {
	s := &KeyState{
		repeatDelay: cfg.RepeatDelay,
		repeatRate:  cfg.RepeatRate,
		emitRepeats: cfg.EmitRepeats,
		pressed:     keySet{},
		modifiers:   keySet{},
		pressedAt:   map[KeyCode]time.Time{},
		lastRepeat:  map[KeyCode]time.Time{},
		holders:     map[KeyCode]map[string]struct{}{},
	}
	s.SetGestures(cfg.Gestures)
	return s
}

// SetGestures replaces the gesture table.
func (s *KeyState) SetGestures(gestures []Gesture) {
	defs := make([]gestureDef, 0, len(gestures))
	for _, g := range gestures {
		if len(g.Keys) == 0 {
			continue
		}
		defs = append(defs, gestureDef{name: g.Name, keys: newKeySet(g.Keys)})
	}
	s.mu.Lock()
	s.gestures = defs
	s.mu.Unlock()
}

// RepeatDelay returns the configured delay before autorepeat.
func (s *KeyState) RepeatDelay() time.Duration { return s.repeatDelay }

// RepeatRate returns the configured autorepeat interval.
func (s *KeyState) RepeatRate() time.Duration { return s.repeatRate }

// Apply feeds one raw record and returns the events it produces, in order.
// Device is copied into every event.
func (s *KeyState) Apply(raw RawKey, device string) []Event {
	now := raw.Time
	if now.IsZero() {
		now = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	emit := func(ev Event) {
		ev.Device = device
		ev.Time = now
		out = append(out, ev)
	}

	switch raw.Value {
	case ValueDown:
		k := raw.Code
		s.pressed[k] = struct{}{}
		s.pressedAt[k] = now
		delete(s.lastRepeat, k)
		if s.holders[k] == nil {
			s.holders[k] = map[string]struct{}{}
		}
		s.holders[k][device] = struct{}{}
		if k.IsModifier() {
			s.modifiers[k] = struct{}{}
			emit(Event{Kind: EventModifierChanged, Key: k, Pressed: true})
		} else {
			emit(Event{Kind: EventKeyDown, Key: k})
		}
		for _, g := range s.gestures {
			if g.keys.equal(s.pressed) {
				emit(Event{Kind: EventGesture, Gesture: g.name})
			}
		}
		s.lastEventTime = now

	case ValueUp:
		if ev, ok := s.releaseLocked(raw.Code); ok {
			emit(ev)
		}
		s.lastEventTime = time.Time{}

	case ValueRepeat:
		k := raw.Code
		if !s.emitRepeats {
			return nil
		}
		since, held := s.pressedAt[k]
		if !held || now.Sub(since) < s.repeatDelay {
			return nil
		}
		if last, ok := s.lastRepeat[k]; ok && now.Sub(last) < s.repeatRate {
			return nil
		}
		s.lastRepeat[k] = now
		emit(Event{Kind: EventKeyRepeat, Key: k})
	}
	return out
}

func (s *KeyState) releaseLocked(k KeyCode) (Event, bool) {
	delete(s.pressed, k)
	delete(s.pressedAt, k)
	delete(s.lastRepeat, k)
	delete(s.holders, k)
	if _, ok := s.modifiers[k]; ok {
		delete(s.modifiers, k)
		return Event{Kind: EventModifierChanged, Key: k, Pressed: false}, true
	}
	return Event{}, false
}

// ReleaseDevice drops the keys held only by device, as if they were
// released, and returns a modifier-changed event for each modifier among
// them. Keys also held on another device stay pressed.
func (s *KeyState) ReleaseDevice(device string) []Event {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []KeyCode
	for k, devs := range s.holders {
		if _, ok := devs[device]; !ok {
			continue
		}
		delete(devs, device)
		if len(devs) == 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var out []Event
	for _, k := range keys {
		if ev, ok := s.releaseLocked(k); ok {
			ev.Device = device
			ev.Time = now
			out = append(out, ev)
		}
	}
	if len(keys) > 0 {
		s.lastEventTime = time.Time{}
	}
	return out
}

// Reset clears held keys. Gestures and timing settings are kept.
func (s *KeyState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pressed = keySet{}
	s.modifiers = keySet{}
	s.pressedAt = map[KeyCode]time.Time{}
	s.lastRepeat = map[KeyCode]time.Time{}
	s.holders = map[KeyCode]map[string]struct{}{}
	s.lastEventTime = time.Time{}
}

// StateSnapshot is a consistent copy of a KeyState.
type StateSnapshot struct {
	Pressed       []KeyCode `json:"pressed"`
	Modifiers     []KeyCode `json:"modifiers"`
	LastEventTime time.Time `json:"last_event_time"`
}

// Snapshot copies the state under the lock.
func (s *KeyState) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{
		Pressed:       s.pressed.sorted(),
		Modifiers:     s.modifiers.sorted(),
		LastEventTime: s.lastEventTime,
	}
}
