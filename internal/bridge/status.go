package bridge

import (
	"context"
	"time"

	"atbridge/internal/health"
	"atbridge/internal/input"
)

// CaptureStatus describes input capture.
type CaptureStatus struct {
	Running   bool               `json:"running"`
	Workers   int                `json:"workers"`
	Devices   []input.DeviceInfo `json:"devices"`
	Pressed   []string           `json:"pressed"`
	Modifiers []string           `json:"modifiers"`
	Gestures  []string           `json:"gestures"`
	Stats     input.Stats        `json:"stats"`
	Error     string             `json:"error,omitempty"`
}

// Status summarizes the bridge.
type Status struct {
	Initialized    bool          `json:"initialized"`
	Connected      bool          `json:"connected"`
	Braille        bool          `json:"braille"`
	EventListeners int           `json:"event_listeners"`
	InputHandlers  int           `json:"input_handlers"`
	Uptime         string        `json:"uptime,omitempty"`
	Capture        CaptureStatus `json:"capture"`
}

func keyNames(keys []input.KeyCode) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// Status returns a point-in-time summary.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		Initialized: m.initialized,
		Connected:   m.client != nil && m.client.Connected(),
		Braille:     m.braille,
	}
	if m.initialized {
		st.Uptime = time.Since(m.initAt).Round(time.Second).String()
	}
	if m.captureErr != nil {
		st.Capture.Error = m.captureErr.Error()
	}
	m.mu.Unlock()

	st.EventListeners = m.listeners.Total()
	st.InputHandlers = m.engine.HandlerCount()

	snap := m.engine.State()
	st.Capture.Running = m.engine.Running()
	st.Capture.Workers = m.engine.Workers()
	st.Capture.Devices = m.engine.Devices()
	st.Capture.Pressed = keyNames(snap.Pressed)
	st.Capture.Modifiers = keyNames(snap.Modifiers)
	st.Capture.Stats = m.engine.Stats()
	for _, g := range m.engine.Gestures() {
		st.Capture.Gestures = append(st.Capture.Gestures, g.Name)
	}
	return st
}

// Health runs the component checks.
func (m *Manager) Health(ctx context.Context) health.Report {
	return m.checker.Check(ctx)
}

// Checker exposes the health checker for the HTTP endpoint.
func (m *Manager) Checker() *health.Checker {
	return m.checker
}

func (m *Manager) checkAccessibility(ctx context.Context) health.CheckResult {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	if c == nil {
		return health.CheckResult{Status: health.StatusUnknown, Message: "not initialized"}
	}
	return health.PingCheck(c)(ctx)
}

func (m *Manager) checkCapture(context.Context) health.CheckResult {
	m.mu.Lock()
	capErr := m.captureErr
	m.mu.Unlock()

	if m.engine.Running() {
		workers := m.engine.Workers()
		res := health.Healthy("capturing")
		res.Details = map[string]any{"workers": workers}
		if workers == 0 {
			res.Status = health.StatusDegraded
			res.Message = "all keyboards detached"
		}
		return res
	}
	if capErr != nil {
		return health.CheckResult{Status: health.StatusDegraded, Message: "capture unavailable", Error: capErr.Error()}
	}
	return health.Healthy("capture off")
}
