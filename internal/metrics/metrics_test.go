package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atbridge/internal/a11y"
	"atbridge/internal/input"
	"atbridge/internal/listener"
)

func TestRegistryReusesMetrics(t *testing.T) {
	r := NewRegistry("test")
	c1 := r.RegisterCounter("hits_total", "hits")
	c2 := r.RegisterCounter("hits_total", "hits")
	assert.Same(t, c1, c2)
	assert.Equal(t, "test_hits_total", c1.Name())

	v := r.RegisterCounterVec("by_kind_total", "kinds", "kind")
	assert.Same(t, v.With("a"), v.With("a"))
	v.With("a").Add(2)
	v.With("b").Inc()
	assert.Equal(t, map[string]uint64{"a": 2, "b": 1}, v.Values())
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("lat", "latency", nil, []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.1)
	h.Observe(0.5)
	h.Observe(7)

	counts, sum, count := h.cumulative()
	assert.Equal(t, []uint64{2, 3, 4}, counts)
	assert.InDelta(t, 7.65, sum, 1e-9)
	assert.Equal(t, uint64(4), count)
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("atbridge")
	r.RegisterCounter("b_total", "second").Add(3)
	r.RegisterCounter("a_total", "first").Inc()
	r.RegisterCounterVec("events_total", "events", "kind").With(`key"down`).Inc()
	r.RegisterGauge("workers", "workers").Set(2)
	r.RegisterHistogram("took_seconds", "took", []float64{0.5}).Observe(0.25)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()

	assert.Less(t, strings.Index(out, "atbridge_a_total"), strings.Index(out, "atbridge_b_total"))
	assert.Contains(t, out, "# TYPE atbridge_b_total counter\natbridge_b_total 3\n")
	assert.Contains(t, out, `atbridge_events_total{kind="key\"down"} 1`)
	assert.Contains(t, out, "atbridge_workers 2\n")
	assert.Contains(t, out, `atbridge_took_seconds_bucket{le="0.5"} 1`)
	assert.Contains(t, out, `atbridge_took_seconds_bucket{le="+Inf"} 1`)
	assert.Contains(t, out, "atbridge_took_seconds_count 1\n")
}

func TestHTTPHandlerNegotiates(t *testing.T) {
	r := NewRegistry("x")
	r.RegisterCounter("c_total", "c").Inc()

	rec := httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "x_c_total 1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, req)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.EqualValues(t, 1, snap["x_c_total"])
}

func TestBridgeObservesEngineAndClient(t *testing.T) {
	r := NewRegistry("atbridge")
	b := NewBridge(r)

	b.InputEvent(input.Event{Kind: input.EventKeyDown})
	b.InputEvent(input.Event{Kind: input.EventKeyDown})
	b.InputEvent(input.Event{Kind: input.EventGesture})
	b.ReadError("/dev/input/event0", errors.New("EIO"))
	b.HandlerFailed(&listener.HandlerError{Key: "x"})
	b.ListenerFailed(&listener.HandlerError{Key: "focus-changed"})
	b.WorkersChanged(3)
	b.AccessibilityEvent(a11y.EventFocusChanged)
	b.QueryFailed("focused_node", errors.New("timeout"))
	b.ConnectionOpened()
	b.ConnectionOpened()
	b.ConnectionClosed()
	b.Request("status", 2*time.Millisecond)

	snap := r.Snapshot()
	assert.EqualValues(t, 2, snap[`atbridge_input_events_total{kind="`+input.EventKeyDown.String()+`"}`])
	assert.EqualValues(t, 1, snap["atbridge_input_read_errors_total"])
	assert.EqualValues(t, 1, snap[`atbridge_handler_failures_total{source="input"}`])
	assert.EqualValues(t, 1, snap[`atbridge_handler_failures_total{source="a11y"}`])
	assert.EqualValues(t, 3, snap["atbridge_input_workers"])
	assert.EqualValues(t, 1, snap[`atbridge_a11y_events_total{type="focus-changed"}`])
	assert.EqualValues(t, 1, snap[`atbridge_a11y_query_failures_total{op="focused_node"}`])
	assert.EqualValues(t, 1, snap["atbridge_ipc_connections"])
	assert.EqualValues(t, 1, snap["atbridge_ipc_request_duration_seconds_count"])
	assert.Contains(t, snap, "atbridge_uptime_seconds")
}
