package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atbridge/internal/a11y"
	"atbridge/internal/a11y/a11ytest"
	"atbridge/internal/config"
	"atbridge/internal/input"
	"atbridge/internal/input/inputtest"
	"atbridge/internal/ipc"
	"atbridge/internal/logging"
)

func testDaemonConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Capture.Hotplug = false
	cfg.Capture.StopTimeoutMs = 200
	cfg.IPC.SocketPath = filepath.Join(t.TempDir(), "atbridge.sock")
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"
	return cfg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestDaemonLifecycle(t *testing.T) {
	cfg := testDaemonConfig(t)
	kbd := inputtest.Keyboard("/dev/input/event3")
	d := newDaemon(cfg, a11ytest.Desktop(), inputtest.NewSource(kbd), logging.Discard())
	ctx := context.Background()

	require.NoError(t, d.start(ctx, true))
	defer d.stop()
	assert.True(t, d.manager.Capturing())

	c, err := ipc.Dial(ctx, ipc.DefaultClientConfig(cfg.IPC.SocketPath))
	require.NoError(t, err)
	defer c.Close()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Version, st.Version)
	assert.True(t, st.Bridge.Capture.Running)
	assert.Equal(t, 1, st.Bridge.Capture.Workers)

	_, err = c.Subscribe(ctx, ipc.EventCaptureState, ipc.EventKeyDown)
	require.NoError(t, err)
	kbd.Press(input.KeyA)
	select {
	case ev := <-c.Events():
		assert.Equal(t, ipc.EventKeyDown, ev.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("no key event")
	}

	base := "http://" + d.httpLn.Addr().String()
	code, body := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `atbridge_input_events_total{kind="key_down"} 1`)
	assert.Contains(t, body, "atbridge_ipc_connections 1")

	code, body = get(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)
	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &rep))
	assert.Equal(t, "healthy", rep["status"])

	code, _ = get(t, base+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	next := cfg.Clone()
	next.Capture.Enabled = false
	d.reconfigure(ctx, cfg, next)
	assert.False(t, d.manager.Capturing())
	select {
	case ev := <-c.Events():
		assert.Equal(t, ipc.EventCaptureState, ev.Type)
		var data ipc.CaptureData
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.False(t, data.Running)
	case <-time.After(3 * time.Second):
		t.Fatal("no capture-state event")
	}

	require.NoError(t, d.stop())
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("client still connected after stop")
	}
}

func TestDaemonWithoutCapture(t *testing.T) {
	cfg := testDaemonConfig(t)
	cfg.Metrics.Enabled = false
	d := newDaemon(cfg, a11ytest.Desktop(), inputtest.NewSource(inputtest.Keyboard("/dev/input/event0")), logging.Discard())

	require.NoError(t, d.start(context.Background(), false))
	defer d.stop()
	assert.False(t, d.manager.Capturing())
	assert.Nil(t, d.http)
}

func TestDaemonStartFailsWithoutBus(t *testing.T) {
	cfg := testDaemonConfig(t)
	svc := a11ytest.Desktop()
	svc.ConnectErr = io.ErrClosedPipe
	d := newDaemon(cfg, svc, inputtest.NewSource(), logging.Discard())

	err := d.start(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, a11y.ErrServiceUnavailable)
	assert.Nil(t, d.server)
}

func TestDaemonBadPermissions(t *testing.T) {
	cfg := testDaemonConfig(t)
	cfg.IPC.Permissions = "rw"
	d := newDaemon(cfg, a11ytest.Desktop(), inputtest.NewSource(), logging.Discard())
	assert.Error(t, d.start(context.Background(), false))
	assert.False(t, d.manager.Initialized())
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"config", "no-capture", "log-level", "no-watch"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestWriteConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "atbridge.yaml")
	write := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := newRootCommand()
		cmd.SetOut(&out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(append([]string{"write-config", "--config", path}, args...))
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := write()
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	def := config.DefaultConfig()
	assert.Equal(t, def.Keyboard.RepeatDelayMs, cfg.Keyboard.RepeatDelayMs)
	assert.Equal(t, def.IPC.SocketPath, cfg.IPC.SocketPath)

	_, err = write()
	assert.ErrorContains(t, err, "exists")
	_, err = write("--force")
	assert.NoError(t, err)
}
