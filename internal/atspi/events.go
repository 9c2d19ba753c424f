package atspi

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"

	"atbridge/internal/a11y"
	"atbridge/internal/logging"
)

func (b *Backend) signalLoop(signals <-chan *dbus.Signal, done chan<- struct{}) {
	defer close(done)
	for sig := range signals {
		ev, ok := parseStateChanged(sig)
		if !ok {
			continue
		}
		b.emit(ev)
		if ev.State == a11y.StateFocused && ev.Enabled {
			b.setFocus(ev.Source)
			focus := ev
			focus.Type = a11y.EventFocusChanged
			b.emit(focus)
		}
	}
}

// parseStateChanged decodes an Object.StateChanged signal. The body is
// (detail string, detail1 int32, detail2 int32, any_data variant, ...);
// detail names the state and detail1 is 1 when it was set.
func parseStateChanged(sig *dbus.Signal) (a11y.Event, bool) {
	if sig == nil || sig.Name != ObjectEventInterface+".StateChanged" || len(sig.Body) < 2 {
		return a11y.Event{}, false
	}
	detail, ok := sig.Body[0].(string)
	if !ok {
		return a11y.Event{}, false
	}
	detail1, ok := sig.Body[1].(int32)
	if !ok {
		return a11y.Event{}, false
	}
	flag, known := a11y.StateFlagFromName(detail)
	if !known {
		flag = a11y.StateInvalid
	}
	return a11y.Event{
		Type:    a11y.EventStateChanged,
		Source:  a11y.Ref{Bus: sig.Sender, Path: string(sig.Path)},
		State:   flag,
		Enabled: detail1 != 0,
		Detail:  detail,
		Time:    time.Now(),
	}, true
}

// Device event types.
const (
	keyPressedEvent  uint32 = 0
	keyReleasedEvent uint32 = 1
)

// deviceEvent is the AT-SPI DeviceEvent struct, signature (uinnisb).
type deviceEvent struct {
	Type        uint32
	ID          int32
	HwCode      int16
	Modifiers   int16
	Timestamp   int32
	EventString string
	IsText      bool
}

type keyDefinition struct {
	Keycode   int32
	Keysym    int32
	Keystring string
	Unused    int32
}

type listenerMode struct {
	Synchronous bool
	Preemptive  bool
	Global      bool
}

// keystrokeListener is exported on the bus as a DeviceEventListener.
type keystrokeListener struct {
	emit func(a11y.Event)
	log  *logging.Logger
}

// NotifyEvent is called by the registry for each key event. Returning
// false lets the event reach the application.
func (l *keystrokeListener) NotifyEvent(ev deviceEvent) (bool, *dbus.Error) {
	if ev.Type != keyPressedEvent && ev.Type != keyReleasedEvent {
		return false, nil
	}
	l.emit(a11y.Event{
		Type:      a11y.EventKeystroke,
		Keystroke: keystrokeFromDevice(ev),
		Time:      time.Now(),
	})
	return false, nil
}

func keystrokeFromDevice(ev deviceEvent) *a11y.Keystroke {
	return &a11y.Keystroke{
		Pressed:   ev.Type == keyPressedEvent,
		KeyCode:   int(ev.HwCode),
		KeySym:    int(ev.ID),
		Modifiers: uint32(uint16(ev.Modifiers)),
		Text:      ev.EventString,
		IsText:    ev.IsText,
	}
}

// maxModifierMask covers every combination of the eight X modifier bits.
// The registry matches listeners on the exact mask, so one registration per
// mask is needed to see all keys.
const maxModifierMask = 0xff

func (b *Backend) registerKeystrokes(conn *dbus.Conn, l *keystrokeListener) {
	if err := conn.Export(l, keystrokeListenerPath, DeviceListenerInterface); err != nil {
		l.log.Warn("export keystroke listener failed", "error", err)
		return
	}

	dec := conn.Object(RegistryService, DeviceController)
	types := []uint32{keyPressedEvent, keyReleasedEvent}
	mode := listenerMode{Global: true}
	registered := 0
	for mask := uint32(0); mask <= maxModifierMask; mask++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var ok bool
		err := dec.CallWithContext(ctx, DeviceControllerInterface+".RegisterKeystrokeListener", 0,
			dbus.ObjectPath(keystrokeListenerPath), []keyDefinition{}, mask, types, mode).Store(&ok)
		cancel()
		if err != nil {
			if registered == 0 {
				l.log.Warn("keystroke listener registration failed", "error", mapError(err))
				return
			}
			l.log.Debug("keystroke mask registration failed", "mask", mask, "error", err)
			continue
		}
		if ok {
			registered++
		}
	}
	l.log.Debug("keystroke listener registered", "masks", registered)
}
