package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckAggregates(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		result   Status
		want     Status
	}{
		{"critical healthy", true, StatusHealthy, StatusHealthy},
		{"critical unhealthy", true, StatusUnhealthy, StatusUnhealthy},
		{"optional unhealthy", false, StatusUnhealthy, StatusDegraded},
		{"optional degraded", false, StatusDegraded, StatusDegraded},
		{"critical unknown", true, StatusUnknown, StatusUnknown},
		{"optional unknown", false, StatusUnknown, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.RegisterFunc("base", true, func(context.Context) CheckResult { return Healthy("") })
			c.RegisterFunc("x", tt.critical, func(context.Context) CheckResult { return CheckResult{Status: tt.result} })
			rep := c.Check(context.Background())
			assert.Equal(t, tt.want, rep.Status)
			assert.Len(t, rep.Components, 2)
		})
	}
}

func TestCheckRecoversPanicsAndTimesOut(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("boom", false, func(context.Context) CheckResult { panic("kaput") })
	block := make(chan struct{})
	defer close(block)
	c.Register(Component{Name: "slow", Critical: true, Timeout: 20 * time.Millisecond, Check: func(context.Context) CheckResult {
		<-block
		return Healthy("")
	}})

	rep := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, rep.Status)
	assert.Equal(t, "check panicked", rep.Components["boom"].Message)
	assert.Equal(t, "kaput", rep.Components["boom"].Error)
	assert.Equal(t, "check timed out", rep.Components["slow"].Message)
	assert.Equal(t, []string{"boom", "slow"}, c.Names())
}

func TestPingCheck(t *testing.T) {
	assert.Equal(t, StatusHealthy, PingCheck(pinger{})(context.Background()).Status)
	res := PingCheck(pinger{err: errors.New("bus gone")})(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "bus gone", res.Error)
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("bus", true, PingCheck(pinger{}))
	mux := http.NewServeMux()
	c.Mux(mux)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	c.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, StatusHealthy, rep.Status)
	assert.True(t, rep.Ready)

	c.RegisterFunc("bus", true, PingCheck(pinger{err: errors.New("down")}))
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
}
