package metrics

import (
	"time"

	"atbridge/internal/a11y"
	"atbridge/internal/input"
	"atbridge/internal/listener"
)

// Bridge holds the daemon's metrics. It implements input.Observer and
// supplies the accessibility client's query failure hook.
type Bridge struct {
	reg     *Registry
	started time.Time

	inputEvents     *CounterVec
	readErrors      *Counter
	handlerFailures *CounterVec
	workers         *Gauge

	a11yEvents    *CounterVec
	queryFailures *CounterVec

	ipcConnections *Gauge
	ipcRequests    *CounterVec
	ipcDuration    *Histogram
}

var _ input.Observer = (*Bridge)(nil)

// NewBridge registers the daemon metrics in reg.
func NewBridge(reg *Registry) *Bridge {
	b := &Bridge{reg: reg, started: time.Now()}

	b.inputEvents = reg.RegisterCounterVec("input_events_total", "Derived input events by kind", "kind")
	b.readErrors = reg.RegisterCounter("input_read_errors_total", "Device read failures")
	b.handlerFailures = reg.RegisterCounterVec("handler_failures_total", "Handlers that returned an error or panicked", "source")
	b.workers = reg.RegisterGauge("input_workers", "Live device workers")

	b.a11yEvents = reg.RegisterCounterVec("a11y_events_total", "Accessibility events by type", "type")
	b.queryFailures = reg.RegisterCounterVec("a11y_query_failures_total", "Accessibility queries that degraded to empty results", "op")

	b.ipcConnections = reg.RegisterGauge("ipc_connections", "Open control socket connections")
	b.ipcRequests = reg.RegisterCounterVec("ipc_requests_total", "Control requests by type", "type")
	b.ipcDuration = reg.RegisterHistogram("ipc_request_duration_seconds", "Control request latency", DurationBuckets)

	reg.RegisterGaugeFunc("uptime_seconds", "Seconds since the daemon started", func() int64 {
		return int64(time.Since(b.started).Seconds())
	})
	return b
}

// Registry returns the backing registry.
func (b *Bridge) Registry() *Registry { return b.reg }

func (b *Bridge) InputEvent(ev input.Event) {
	b.inputEvents.With(ev.Kind.String()).Inc()
}

func (b *Bridge) ReadError(string, error) {
	b.readErrors.Inc()
}

func (b *Bridge) HandlerFailed(*listener.HandlerError) {
	b.handlerFailures.With("input").Inc()
}

func (b *Bridge) WorkersChanged(n int) {
	b.workers.Set(int64(n))
}

// AccessibilityEvent counts a forwarded accessibility event.
func (b *Bridge) AccessibilityEvent(t a11y.EventType) {
	b.a11yEvents.With(t.String()).Inc()
}

// ListenerFailed counts an accessibility listener failure.
func (b *Bridge) ListenerFailed(*listener.HandlerError) {
	b.handlerFailures.With("a11y").Inc()
}

// QueryFailed matches the accessibility client's failure hook.
func (b *Bridge) QueryFailed(op string, _ error) {
	b.queryFailures.With(op).Inc()
}

// ConnectionOpened and ConnectionClosed track control socket clients.
func (b *Bridge) ConnectionOpened() { b.ipcConnections.Inc() }

func (b *Bridge) ConnectionClosed() { b.ipcConnections.Dec() }

// Request records one handled control request.
func (b *Bridge) Request(kind string, took time.Duration) {
	b.ipcRequests.With(kind).Inc()
	b.ipcDuration.ObserveDuration(took)
}
