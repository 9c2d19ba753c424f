package atspi

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atbridge/internal/a11y"
	"atbridge/internal/logging"
)

const busConfig = `<!DOCTYPE busconfig PUBLIC "-//freedesktop//DTD D-Bus Bus Configuration 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/busconfig.dtd">
<busconfig>
  <type>session</type>
  <listen>unix:tmpdir=%s</listen>
  <auth>EXTERNAL</auth>
  <policy context="default">
    <allow send_destination="*" eavesdrop="true"/>
    <allow eavesdrop="true"/>
    <allow own="*"/>
  </policy>
</busconfig>
`

// startBus runs a private bus daemon and returns its address and a func
// that kills it.
func startBus(t *testing.T) (string, func()) {
	t.Helper()
	bin, err := exec.LookPath("dbus-daemon")
	if err != nil {
		t.Skip("dbus-daemon not installed")
	}
	dir := t.TempDir()
	conf := filepath.Join(dir, "bus.conf")
	require.NoError(t, os.WriteFile(conf, []byte(fmt.Sprintf(busConfig, dir)), 0o600))

	cmd := exec.Command(bin, "--config-file="+conf, "--nofork", "--print-address")
	out, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	var once sync.Once
	kill := func() {
		once.Do(func() {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		})
	}
	t.Cleanup(kill)

	line, err := bufio.NewReader(out).ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSpace(line), kill
}

func busBackend(t *testing.T, addr string) *Backend {
	t.Helper()
	b := New(Config{BusAddress: addr, Logger: logging.Discard()})
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackendOutlivesConnectContext(t *testing.T) {
	addr, _ := startBus(t)
	b := busBackend(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Connect(ctx))
	cancel()

	assert.Never(t, func() bool { return !b.Connected() }, 300*time.Millisecond, 20*time.Millisecond)

	conn, err := b.connection()
	require.NoError(t, err)
	var id string
	require.NoError(t, conn.BusObject().Call("org.freedesktop.DBus.GetId", 0).Store(&id))
	assert.NotEmpty(t, id)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.False(t, b.Connected())
	assert.ErrorIs(t, b.Ping(context.Background()), a11y.ErrNotConnected)
}

func TestBackendConnectContextExpired(t *testing.T) {
	addr, _ := startBus(t)
	b := busBackend(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Connect(ctx)
	require.Error(t, err)
	assert.False(t, b.Connected())
}

func TestBackendCloseAfterBusDrops(t *testing.T) {
	addr, kill := startBus(t)
	b := busBackend(t, addr)
	require.NoError(t, b.Connect(context.Background()))

	kill()
	require.Eventually(t, func() bool { return !b.Connected() }, 5*time.Second, 20*time.Millisecond)
	assert.ErrorIs(t, b.Ping(context.Background()), a11y.ErrNotConnected)

	assert.NotPanics(t, func() { _ = b.Close() })
	assert.NotPanics(t, func() { _ = b.Close() })
}

func emitStateChanged(t *testing.T, conn *dbus.Conn, detail string, set int32) {
	t.Helper()
	require.NoError(t, conn.Emit("/org/a11y/atspi/accessible/7", ObjectEventInterface+".StateChanged",
		detail, set, int32(0), dbus.MakeVariant(int32(0))))
}

func TestBackendListenOnBus(t *testing.T) {
	addr, _ := startBus(t)
	b := busBackend(t, addr)
	require.NoError(t, b.Connect(context.Background()))

	app, err := dbus.Connect(addr)
	require.NoError(t, err)
	defer app.Close()
	source := a11y.Ref{Bus: app.Names()[0], Path: "/org/a11y/atspi/accessible/7"}

	events := make(chan a11y.Event, 8)
	stop, err := b.Listen(context.Background(), func(ev a11y.Event) { events <- ev })
	require.NoError(t, err)

	emitStateChanged(t, app, "focused", 1)
	for _, want := range []a11y.EventType{a11y.EventStateChanged, a11y.EventFocusChanged} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.Type)
			assert.Equal(t, source, ev.Source)
		case <-time.After(5 * time.Second):
			t.Fatalf("no %s event", want)
		}
	}
	b.focusMu.Lock()
	assert.Equal(t, source, b.lastFocus)
	b.focusMu.Unlock()

	stop()
	stop()
	emitStateChanged(t, app, "checked", 1)
	select {
	case ev := <-events:
		t.Fatalf("event after stop: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBackendListenEndsWithContext(t *testing.T) {
	addr, _ := startBus(t)
	b := busBackend(t, addr)
	require.NoError(t, b.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := b.Listen(ctx, func(a11y.Event) {})
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		b.sinkMu.RLock()
		defer b.sinkMu.RUnlock()
		return len(b.sinks) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBackendListenRequiresConnection(t *testing.T) {
	b := New(Config{Logger: logging.Discard()})
	_, err := b.Listen(context.Background(), func(a11y.Event) {})
	assert.ErrorIs(t, err, a11y.ErrNotConnected)
}
