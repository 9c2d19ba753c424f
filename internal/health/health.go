// Package health aggregates component checks into liveness and readiness
// reports for the daemon's HTTP endpoint and control socket.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// DefaultTimeout bounds a check that does not set its own.
const DefaultTimeout = 5 * time.Second

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

// Check performs one health check.
type Check func(ctx context.Context) CheckResult

// Component is a named check. A failing critical component makes the
// overall status unhealthy; a failing non-critical one only degrades it.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker runs registered checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]Component
	startTime  time.Time
	ready      bool
}

// NewChecker creates an empty, not-ready Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]Component),
		startTime:  time.Now(),
	}
}

// Register adds or replaces a component.
func (c *Checker) Register(comp Component) {
	if comp.Timeout <= 0 {
		comp.Timeout = DefaultTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[comp.Name] = comp
}

// RegisterFunc registers check under name with the default timeout.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(Component{Name: name, Critical: critical, Check: check})
}

// Unregister removes a component.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.components, name)
}

// Names lists registered components in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for n := range c.components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetReady sets the readiness state.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady returns the readiness state.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Report is the outcome of one round of checks.
type Report struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Check runs every component concurrently and aggregates the results.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	comps := make([]Component, 0, len(c.components))
	for _, comp := range c.components {
		comps = append(comps, comp)
	}
	ready := c.ready
	uptime := time.Since(c.startTime)
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(comps))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, comp := range comps {
		wg.Add(1)
		go func(comp Component) {
			defer wg.Done()
			res := run(ctx, comp)
			mu.Lock()
			results[comp.Name] = res
			mu.Unlock()
		}(comp)
	}
	wg.Wait()

	return Report{
		Status:     Aggregate(comps, results),
		Ready:      ready,
		Uptime:     uptime.Round(time.Second).String(),
		Components: results,
		Timestamp:  time.Now(),
	}
}

// run executes one check with panic recovery and its timeout. A check that
// ignores its context is left running and reported as timed out.
func run(ctx context.Context, comp Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- CheckResult{
					Status:  StatusUnhealthy,
					Message: "check panicked",
					Error:   fmt.Sprintf("%v", r),
				}
			}
		}()
		ch <- comp.Check(ctx)
	}()

	var res CheckResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = CheckResult{
			Status:  StatusUnhealthy,
			Message: "check timed out",
			Error:   ctx.Err().Error(),
		}
	}
	if res.Status == "" {
		res.Status = StatusUnknown
	}
	res.LastChecked = start
	res.Duration = time.Since(start)
	return res
}

// Aggregate folds component results into one status.
func Aggregate(comps []Component, results map[string]CheckResult) Status {
	unknown, degraded := false, false
	for _, comp := range comps {
		switch results[comp.Name].Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			degraded = true
		case StatusDegraded:
			degraded = true
		case StatusUnknown, "":
			if comp.Critical {
				unknown = true
			}
		}
	}
	switch {
	case unknown:
		return StatusUnknown
	case degraded:
		return StatusDegraded
	}
	return StatusHealthy
}

// Healthy is a convenience result.
func Healthy(msg string) CheckResult {
	return CheckResult{Status: StatusHealthy, Message: msg}
}

// Failed reports err as unhealthy.
func Failed(msg string, err error) CheckResult {
	res := CheckResult{Status: StatusUnhealthy, Message: msg}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// Pinger is anything with a cheap round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck is healthy while p answers.
func PingCheck(p Pinger) Check {
	return func(ctx context.Context) CheckResult {
		if err := p.Ping(ctx); err != nil {
			return Failed("not responding", err)
		}
		return Healthy("responding")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// LivenessHandler answers 200 while the process is serving.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "alive", "timestamp": time.Now()})
	})
}

// ReadinessHandler answers 503 until SetReady(true) and while a critical
// component is unhealthy.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "timestamp": time.Now()})
			return
		}
		rep := c.Check(r.Context())
		code := http.StatusOK
		if rep.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": rep.Status, "timestamp": rep.Timestamp})
	})
}

// HealthHandler serves the full report.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rep := c.Check(r.Context())
		code := http.StatusOK
		if rep.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	})
}

// Mux mounts the three handlers under /healthz, /readyz and /health.
func (c *Checker) Mux(mux *http.ServeMux) {
	mux.Handle("/healthz", c.LivenessHandler())
	mux.Handle("/readyz", c.ReadinessHandler())
	mux.Handle("/health", c.HealthHandler())
}
