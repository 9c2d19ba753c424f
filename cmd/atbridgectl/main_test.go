package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atbridge/internal/a11y"
	"atbridge/internal/a11y/a11ytest"
	"atbridge/internal/bridge"
	"atbridge/internal/config"
	"atbridge/internal/input/inputtest"
	"atbridge/internal/ipc"
	"atbridge/internal/logging"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fixture struct {
	socket string
	svc    *a11ytest.Service
}

func serve(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{socket: filepath.Join(t.TempDir(), "ctl.sock"), svc: a11ytest.Desktop()}
	log := logging.Discard()

	m := bridge.New(f.svc, inputtest.NewSource(), bridge.WithLogger(log))
	cfg := config.DefaultConfig()
	cfg.Capture.Hotplug = false
	require.NoError(t, m.Initialize(context.Background(), cfg))

	scfg := ipc.DefaultServerConfig(f.socket)
	scfg.Logger = log
	srv := ipc.NewServer(scfg, ipc.NewRequestHandler(m, log))
	require.NoError(t, srv.Start())
	stop := ipc.Publish(m, srv)
	t.Cleanup(func() {
		stop()
		_ = srv.Stop()
		_ = m.Cleanup()
	})
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(append([]string{"--socket", f.socket}, args...))
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	f := serve(t)
	out, err := f.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ACCESSIBILITY")
	assert.Contains(t, out, "CAPTURE")

	out, err = f.run(t, "--json", "status")
	require.NoError(t, err)
	var st ipc.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Bridge.Initialized)
	assert.Equal(t, 1, st.Clients)
}

func TestQueryCommands(t *testing.T) {
	f := serve(t)

	out, err := f.run(t, "focus")
	require.NoError(t, err)
	assert.Contains(t, out, "[push button] OK")

	out, err = f.run(t, "apps")
	require.NoError(t, err)
	assert.Contains(t, out, "Editor")
	assert.Contains(t, out, "Mail")

	out, err = f.run(t, "tree", "--depth", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "[frame] Untitled")
	assert.Contains(t, out, "      [entry] Body")

	out, err = f.run(t, "text", ":1.1", "/app/editor/entry")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)

	out, err = f.run(t, "--json", "actions", ":1.1", "/app/editor/ok")
	require.NoError(t, err)
	var acts ipc.ActionsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &acts))
	assert.Equal(t, []string{"click", "press"}, acts.Actions)

	out, err = f.run(t, "at", "5", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing at that point")

	_, err = f.run(t, "at", "five", "5")
	assert.Error(t, err)
}

func TestDoCommand(t *testing.T) {
	f := serve(t)

	out, err := f.run(t, "do", ":1.1", "/app/editor/ok", "click")
	require.NoError(t, err)
	assert.Contains(t, out, "performed click")
	assert.Equal(t, []string{"/app/editor/ok#click"}, f.svc.Performed())

	_, err = f.run(t, "do", ":1.1", "/app/editor/ok", "explode")
	assert.Error(t, err)

	_, err = f.run(t, "text", ":1.1", "/nowhere")
	var rerr *ipc.ErrorResponse
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ipc.CodeNotFound, rerr.Code)
}

func TestWatchCommand(t *testing.T) {
	f := serve(t)
	out := &syncBuffer{}
	g := &globals{socket: f.socket, json: true, timeout: 5 * time.Second, out: out}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.watch(ctx, []ipc.EventType{ipc.EventFocusChanged}) }()

	// the subscription may still be in flight; keep emitting until it shows
	require.Eventually(t, func() bool {
		f.svc.Emit(a11y.Event{Type: a11y.EventFocusChanged, Source: a11ytest.Ref("/app/editor/ok")})
		time.Sleep(20 * time.Millisecond)
		return strings.Contains(out.String(), `"focus-changed"`)
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchRejectsUnknownEvent(t *testing.T) {
	f := serve(t)
	_, err := f.run(t, "watch", "--events", "window-moved")
	assert.Error(t, err)
}

func TestDaemonNotRunning(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs([]string{"--socket", filepath.Join(t.TempDir(), "none.sock"), "status"})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	assert.ErrorIs(t, err, ipc.ErrDaemonNotRunning)
}
