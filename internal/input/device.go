// Package input captures keyboard input from raw OS devices.
//
// Devices are discovered through a Source, classified as keyboards by
// capability, and read by one worker goroutine each. Raw key records feed a
// shared KeyState, which derives key-down, modifier, repeat and gesture
// events for registered handlers.
//
// Reading /dev/input requires membership of the input group (or root).
package input

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"atbridge/internal/logging"
)

var (
	ErrNoKeyboardDevice    = errors.New("input: no keyboard device found")
	ErrNotInitialized      = errors.New("input: engine not initialized")
	ErrAlreadyRunning      = errors.New("input: capture already running")
	ErrWorkerSpawn         = errors.New("input: cannot start device worker")
	ErrUnknownKey          = errors.New("input: unknown key")
	ErrUnsupportedPlatform = errors.New("input: raw device capture not supported on this platform")
	ErrDeviceClosed        = errors.New("input: device closed")
)

// DeviceReadError is a failed read on one device. It is transient: the
// worker backs off and retries the same device.
type DeviceReadError struct {
	Path string
	Err  error
}

func (e *DeviceReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *DeviceReadError) Unwrap() error {
	return e.Err
}

// Raw key values as reported by the kernel.
const (
	ValueUp     int32 = 0
	ValueDown   int32 = 1
	ValueRepeat int32 = 2
)

// RawKey is one key record read from a device.
type RawKey struct {
	Code  KeyCode
	Value int32
	Time  time.Time
}

// ConnectionType is how a device is attached.
type ConnectionType int

const (
	ConnectionUnknown ConnectionType = iota
	ConnectionUSB
	ConnectionBluetooth
	ConnectionPS2
	ConnectionVirtual
)

func (ct ConnectionType) String() string {
	switch ct {
	case ConnectionUSB:
		return "usb"
	case ConnectionBluetooth:
		return "bluetooth"
	case ConnectionPS2:
		return "ps2"
	case ConnectionVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// DeviceInfo identifies a device.
type DeviceInfo struct {
	Path       string         `json:"path"`
	Name       string         `json:"name"`
	Connection ConnectionType `json:"-"`
	Vendor     uint16         `json:"vendor,omitempty"`
	Product    uint16         `json:"product,omitempty"`
	Keyboard   bool           `json:"keyboard"`
}

// Device is an open raw input device.
type Device interface {
	Info() DeviceInfo
	// HasKeyEvents reports key-event capability.
	HasKeyEvents() bool
	// KeyCodes lists the key codes the device can emit.
	KeyCodes() []KeyCode
	// ReadKey blocks until the next key record. Non-key records are
	// skipped. After Close it returns an error.
	ReadKey() (RawKey, error)
	Close() error
}

// Source is the OS input layer.
type Source interface {
	// List returns the paths of all candidate devices.
	List() ([]string, error)
	Open(path string) (Device, error)
}

// DeviceHandle owns one open device for a capture session.
type DeviceHandle struct {
	dev  Device
	info DeviceInfo

	closeOnce sync.Once
	closeErr  error
	isClosed  atomic.Bool
}

func newHandle(dev Device) *DeviceHandle {
	return &DeviceHandle{dev: dev, info: dev.Info()}
}

// Path returns the device path.
func (h *DeviceHandle) Path() string { return h.info.Path }

// Info returns the device description with its classification.
func (h *DeviceHandle) Info() DeviceInfo { return h.info }

// IsKeyboard reports the classification result.
func (h *DeviceHandle) IsKeyboard() bool { return h.info.Keyboard }

// ReadKey reads from the underlying device.
func (h *DeviceHandle) ReadKey() (RawKey, error) { return h.dev.ReadKey() }

// Close closes the device once; later calls return the first result.
func (h *DeviceHandle) Close() error {
	h.closeOnce.Do(func() {
		h.isClosed.Store(true)
		h.closeErr = h.dev.Close()
	})
	return h.closeErr
}

func (h *DeviceHandle) closed() bool {
	return h.isClosed.Load()
}

// Classify reports whether dev is a keyboard: it has key-event capability
// and can emit at least one probe code (A, Space, Enter). Extra devices
// such as power buttons with an Enter key are accepted.
func Classify(dev Device) bool {
	if !dev.HasKeyEvents() {
		return false
	}
	for _, code := range dev.KeyCodes() {
		for _, probe := range probeCodes {
			if code == probe {
				return true
			}
		}
	}
	return false
}

// Enumerate opens every device src lists. Devices that fail to open are
// logged and skipped.
func Enumerate(src Source, log *logging.Logger) ([]*DeviceHandle, error) {
	paths, err := src.List()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}

	handles := make([]*DeviceHandle, 0, len(paths))
	for _, path := range paths {
		dev, err := src.Open(path)
		if err != nil {
			log.Debug("skipping input device", "path", path, "error", err)
			continue
		}
		h := newHandle(dev)
		h.info.Keyboard = Classify(dev)
		handles = append(handles, h)
	}
	return handles, nil
}

// Discover enumerates devices and keeps the keyboards, closing the rest.
// It fails with ErrNoKeyboardDevice when none classify.
func Discover(src Source, log *logging.Logger) ([]*DeviceHandle, error) {
	all, err := Enumerate(src, log)
	if err != nil {
		return nil, err
	}

	var keyboards []*DeviceHandle
	for _, h := range all {
		if h.IsKeyboard() {
			log.Info("keyboard found", "path", h.Path(), "name", h.info.Name,
				"connection", h.info.Connection.String())
			keyboards = append(keyboards, h)
			continue
		}
		if err := h.Close(); err != nil {
			log.Debug("closing non-keyboard device failed", "path", h.Path(), "error", err)
		}
	}
	if len(keyboards) == 0 {
		return nil, fmt.Errorf("%w among %d devices", ErrNoKeyboardDevice, len(all))
	}
	return keyboards, nil
}
