package atspi

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atbridge/internal/a11y"
	"atbridge/internal/logging"
)

func TestRoleFromAtspi(t *testing.T) {
	tests := []struct {
		num  uint32
		name string
		want a11y.Role
	}{
		{43, "push button", a11y.RolePushButton},
		{75, "application", a11y.RoleApplication},
		{14, "desktop frame", a11y.RoleDesktopFrame},
		{0, "", a11y.RoleUnknown},
		{500, "heading", a11y.RoleHeading},
		{500, "math fraction", a11y.RoleOther},
		{500, "", a11y.RoleOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, roleFromAtspi(tt.num, tt.name), "role %d %q", tt.num, tt.name)
	}
}

func stateSignal(detail string, detail1 int32) *dbus.Signal {
	return &dbus.Signal{
		Sender: ":1.42",
		Path:   "/org/a11y/atspi/accessible/7",
		Name:   ObjectEventInterface + ".StateChanged",
		Body:   []any{detail, detail1, int32(0), dbus.MakeVariant(int32(0))},
	}
}

func TestParseStateChanged(t *testing.T) {
	ev, ok := parseStateChanged(stateSignal("focused", 1))
	require.True(t, ok)
	assert.Equal(t, a11y.EventStateChanged, ev.Type)
	assert.Equal(t, a11y.Ref{Bus: ":1.42", Path: "/org/a11y/atspi/accessible/7"}, ev.Source)
	assert.Equal(t, a11y.StateFocused, ev.State)
	assert.True(t, ev.Enabled)
	assert.Equal(t, "focused", ev.Detail)

	ev, ok = parseStateChanged(stateSignal("checked", 0))
	require.True(t, ok)
	assert.Equal(t, a11y.StateChecked, ev.State)
	assert.False(t, ev.Enabled)

	ev, ok = parseStateChanged(stateSignal("something-new", 1))
	require.True(t, ok)
	assert.Equal(t, a11y.StateInvalid, ev.State)
	assert.Equal(t, "something-new", ev.Detail)
}

func TestParseStateChangedRejectsMalformed(t *testing.T) {
	_, ok := parseStateChanged(nil)
	assert.False(t, ok)

	sig := stateSignal("focused", 1)
	sig.Name = ObjectEventInterface + ".PropertyChange"
	_, ok = parseStateChanged(sig)
	assert.False(t, ok)

	sig = stateSignal("focused", 1)
	sig.Body = []any{"focused"}
	_, ok = parseStateChanged(sig)
	assert.False(t, ok)

	sig = stateSignal("focused", 1)
	sig.Body[1] = "1"
	_, ok = parseStateChanged(sig)
	assert.False(t, ok)
}

func TestSignalLoopTracksFocus(t *testing.T) {
	b := New(Config{Logger: logging.Discard()})

	var got []a11y.Event
	b.sinks[0] = func(ev a11y.Event) { got = append(got, ev) }

	signals := make(chan *dbus.Signal, 4)
	done := make(chan struct{})
	signals <- stateSignal("focused", 1)
	signals <- stateSignal("focused", 0)
	signals <- &dbus.Signal{Name: "org.example.Other"}
	close(signals)
	b.signalLoop(signals, done)
	<-done

	require.Len(t, got, 3)
	assert.Equal(t, a11y.EventStateChanged, got[0].Type)
	assert.Equal(t, a11y.EventFocusChanged, got[1].Type)
	assert.Equal(t, a11y.EventStateChanged, got[2].Type)
	assert.False(t, got[2].Enabled)
	assert.Equal(t, "/org/a11y/atspi/accessible/7", b.lastFocus.Path)
}

func TestNotifyEvent(t *testing.T) {
	var got []a11y.Event
	l := &keystrokeListener{emit: func(ev a11y.Event) { got = append(got, ev) }, log: logging.Discard()}

	consumed, derr := l.NotifyEvent(deviceEvent{
		Type: keyPressedEvent, ID: 0x61, HwCode: 38, Modifiers: 4, EventString: "a", IsText: true,
	})
	assert.Nil(t, derr)
	assert.False(t, consumed)

	_, _ = l.NotifyEvent(deviceEvent{Type: keyReleasedEvent, ID: 0x61, HwCode: 38})
	_, _ = l.NotifyEvent(deviceEvent{Type: 7})

	require.Len(t, got, 2)
	ks := got[0].Keystroke
	require.NotNil(t, ks)
	assert.Equal(t, a11y.EventKeystroke, got[0].Type)
	assert.True(t, ks.Pressed)
	assert.Equal(t, 38, ks.KeyCode)
	assert.Equal(t, 0x61, ks.KeySym)
	assert.Equal(t, uint32(4), ks.Modifiers)
	assert.Equal(t, "a", ks.Text)
	assert.True(t, ks.IsText)
	assert.False(t, got[1].Keystroke.Pressed)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	err := mapError(dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownMethod"})
	assert.ErrorIs(t, err, a11y.ErrNoInterface)

	err = mapError(&dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownObject"})
	assert.ErrorIs(t, err, a11y.ErrNotFound)

	plain := errors.New("boom")
	assert.Equal(t, plain, mapError(plain))

	other := dbus.Error{Name: "org.a11y.atspi.Error.Failed"}
	assert.False(t, errors.Is(mapError(other), a11y.ErrNotFound))
}

func TestQueriesRequireConnection(t *testing.T) {
	b := New(Config{Logger: logging.Discard()})
	ctx := context.Background()

	_, err := b.Focused(ctx)
	assert.ErrorIs(t, err, a11y.ErrNotConnected)
	_, err = b.Desktop(ctx, 0)
	assert.ErrorIs(t, err, a11y.ErrNotConnected)
	_, err = b.Listen(ctx, func(a11y.Event) {})
	assert.ErrorIs(t, err, a11y.ErrNotConnected)
	assert.ErrorIs(t, b.Ping(ctx), a11y.ErrNotConnected)
	assert.NoError(t, b.Close())
}
