package input

import (
	"errors"
	"fmt"
	"strings"

	"atbridge/internal/listener"
)

// handlerKey selects the handlers for one event kind and symbolic name.
type handlerKey struct {
	kind EventKind
	name string
}

func (k handlerKey) String() string {
	if k.kind == 0 {
		return k.name
	}
	return k.kind.String() + ":" + k.name
}

// anyEvent is the key for Subscribe handlers.
var anyEvent = handlerKey{name: "*"}

func keyFor(ev Event) handlerKey {
	if ev.Kind == EventGesture {
		return handlerKey{kind: EventGesture, name: ev.Gesture}
	}
	return handlerKey{kind: ev.Kind, name: ev.Key.String()}
}

func keyHandlerKey(kind EventKind, name string) (handlerKey, error) {
	code, err := ParseKey(name)
	if err != nil {
		return handlerKey{}, err
	}
	if kind == EventModifierChanged && !code.IsModifier() {
		return handlerKey{}, fmt.Errorf("%w: %s is not a modifier", ErrUnknownKey, code)
	}
	return handlerKey{kind: kind, name: code.String()}, nil
}

func gestureKey(name string) (handlerKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return handlerKey{}, errors.New("input: empty gesture name")
	}
	return handlerKey{kind: EventGesture, name: name}, nil
}

// RegisterKeyHandler runs h on every key-down of the named key.
func (e *Engine) RegisterKeyHandler(name string, h Handler) (listener.RegistrationID, error) {
	return e.register(keyHandlerKey(EventKeyDown, name))(h)
}

// RegisterModifierHandler runs h whenever the named modifier is pressed or
// released.
func (e *Engine) RegisterModifierHandler(name string, h Handler) (listener.RegistrationID, error) {
	return e.register(keyHandlerKey(EventModifierChanged, name))(h)
}

// RegisterRepeatHandler runs h on autorepeat of the named key. Repeats are
// only produced when EmitRepeats is set.
func (e *Engine) RegisterRepeatHandler(name string, h Handler) (listener.RegistrationID, error) {
	return e.register(keyHandlerKey(EventKeyRepeat, name))(h)
}

// RegisterGestureHandler runs h when the named gesture completes. The
// gesture need not be defined yet.
func (e *Engine) RegisterGestureHandler(name string, h Handler) (listener.RegistrationID, error) {
	return e.register(gestureKey(name))(h)
}

// Subscribe runs h for every derived event.
func (e *Engine) Subscribe(h Handler) listener.RegistrationID {
	return e.handlers.Register(anyEvent, h)
}

func (e *Engine) register(key handlerKey, err error) func(Handler) (listener.RegistrationID, error) {
	return func(h Handler) (listener.RegistrationID, error) {
		if err != nil {
			return 0, err
		}
		return e.handlers.Register(key, h), nil
	}
}

// UnregisterKeyHandler removes a key handler. Unknown ids are ignored.
func (e *Engine) UnregisterKeyHandler(name string, id listener.RegistrationID) bool {
	return e.unregister(keyHandlerKey(EventKeyDown, name))(id)
}

// UnregisterModifierHandler removes a modifier handler.
func (e *Engine) UnregisterModifierHandler(name string, id listener.RegistrationID) bool {
	return e.unregister(keyHandlerKey(EventModifierChanged, name))(id)
}

// UnregisterRepeatHandler removes a repeat handler.
func (e *Engine) UnregisterRepeatHandler(name string, id listener.RegistrationID) bool {
	return e.unregister(keyHandlerKey(EventKeyRepeat, name))(id)
}

// UnregisterGestureHandler removes a gesture handler.
func (e *Engine) UnregisterGestureHandler(name string, id listener.RegistrationID) bool {
	return e.unregister(gestureKey(name))(id)
}

// Unsubscribe removes a Subscribe handler.
func (e *Engine) Unsubscribe(id listener.RegistrationID) bool {
	return e.handlers.Unregister(anyEvent, id)
}

func (e *Engine) unregister(key handlerKey, err error) func(listener.RegistrationID) bool {
	return func(id listener.RegistrationID) bool {
		if err != nil {
			return false
		}
		return e.handlers.Unregister(key, id)
	}
}

// ClearHandlers removes every registered handler.
func (e *Engine) ClearHandlers() {
	e.handlers.Clear()
}

// HandlerCount returns the number of registered handlers.
func (e *Engine) HandlerCount() int {
	return e.handlers.Total()
}
