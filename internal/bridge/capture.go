package bridge

import (
	"context"
	"errors"

	"atbridge/internal/input"
	"atbridge/internal/listener"
)

// StartCapture discovers keyboards and starts one worker per device. A
// missing keyboard is logged once per session and returned; accessibility
// queries are unaffected.
func (m *Manager) StartCapture(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	if m.engine.Running() {
		return nil
	}

	err := m.engine.Init()
	if err == nil {
		err = m.engine.Start(ctx)
	}
	m.captureErr = err
	switch {
	case err == nil:
		m.noKeyboard = false
	case errors.Is(err, input.ErrNoKeyboardDevice):
		if !m.noKeyboard {
			m.noKeyboard = true
			m.log.Warn("no keyboard found, input capture disabled")
		}
	default:
		m.log.Error("input capture failed to start", "error", err)
	}
	return err
}

// StopCapture stops the device workers and releases their devices.
// Handlers stay registered for the next StartCapture.
func (m *Manager) StopCapture() error {
	m.mu.Lock()
	m.captureErr = nil
	m.mu.Unlock()
	return m.engine.Close()
}

// Capturing reports whether device workers are running.
func (m *Manager) Capturing() bool {
	return m.engine.Running()
}

// InputState returns the held keys. It is empty while not capturing.
func (m *Manager) InputState() input.StateSnapshot {
	return m.engine.State()
}

// RegisterKeyHandler runs h on every key-down of the named key.
func (m *Manager) RegisterKeyHandler(key string, h input.Handler) (listener.RegistrationID, error) {
	return m.engine.RegisterKeyHandler(key, h)
}

// UnregisterKeyHandler removes a key handler.
func (m *Manager) UnregisterKeyHandler(key string, id listener.RegistrationID) bool {
	return m.engine.UnregisterKeyHandler(key, id)
}

// RegisterModifierHandler runs h when the named modifier changes.
func (m *Manager) RegisterModifierHandler(key string, h input.Handler) (listener.RegistrationID, error) {
	return m.engine.RegisterModifierHandler(key, h)
}

// UnregisterModifierHandler removes a modifier handler.
func (m *Manager) UnregisterModifierHandler(key string, id listener.RegistrationID) bool {
	return m.engine.UnregisterModifierHandler(key, id)
}

// RegisterRepeatHandler runs h on autorepeat of the named key.
func (m *Manager) RegisterRepeatHandler(key string, h input.Handler) (listener.RegistrationID, error) {
	return m.engine.RegisterRepeatHandler(key, h)
}

// UnregisterRepeatHandler removes a repeat handler.
func (m *Manager) UnregisterRepeatHandler(key string, id listener.RegistrationID) bool {
	return m.engine.UnregisterRepeatHandler(key, id)
}

// RegisterGestureHandler runs h when the named gesture completes.
func (m *Manager) RegisterGestureHandler(name string, h input.Handler) (listener.RegistrationID, error) {
	return m.engine.RegisterGestureHandler(name, h)
}

// UnregisterGestureHandler removes a gesture handler.
func (m *Manager) UnregisterGestureHandler(name string, id listener.RegistrationID) bool {
	return m.engine.UnregisterGestureHandler(name, id)
}

// SubscribeInput runs h for every derived input event.
func (m *Manager) SubscribeInput(h input.Handler) listener.RegistrationID {
	return m.engine.Subscribe(h)
}

// UnsubscribeInput removes a SubscribeInput handler.
func (m *Manager) UnsubscribeInput(id listener.RegistrationID) bool {
	return m.engine.Unsubscribe(id)
}
