// Package inputtest provides fake input devices for tests.
package inputtest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"atbridge/internal/input"
)

type result struct {
	raw input.RawKey
	err error
}

// Device is a scripted input device. Records queued with Press, Release,
// Send or Fail are returned by ReadKey in order.
type Device struct {
	info      input.DeviceInfo
	keyEvents bool
	codes     []input.KeyCode

	queue     chan result
	closed    chan struct{}
	closeOnce sync.Once
	release   chan struct{}
	relOnce   sync.Once

	// Stuck makes ReadKey ignore Close, like a driver that never returns
	// from read. Call Unstick to let it go.
	Stuck    bool
	CloseErr error

	closes atomic.Int32
	reads  atomic.Int32
}

// NewDevice creates a device with the given capabilities.
func NewDevice(path, name string, keyEvents bool, codes ...input.KeyCode) *Device {
	return &Device{
		info:      input.DeviceInfo{Path: path, Name: name},
		keyEvents: keyEvents,
		codes:     codes,
		queue:     make(chan result, 256),
		closed:    make(chan struct{}),
		release:   make(chan struct{}),
	}
}

// Keyboard is a device with letter, space and enter keys.
func Keyboard(path string) *Device {
	codes := []input.KeyCode{input.KeyEnter, input.KeySpace}
	for _, name := range []string{"A", "C", "L", "Q", "X", "Z"} {
		k, _ := input.ParseKey(name)
		codes = append(codes, k)
	}
	codes = append(codes, input.ModifierCodes()...)
	return NewDevice(path, "Fake Keyboard "+path, true, codes...)
}

// Mouse has key events (buttons) but none of the keyboard probe codes.
func Mouse(path string) *Device {
	return NewDevice(path, "Fake Mouse "+path, true, 0x110, 0x111, 0x112)
}

func (d *Device) Info() input.DeviceInfo { return d.info }

func (d *Device) HasKeyEvents() bool { return d.keyEvents }

func (d *Device) KeyCodes() []input.KeyCode { return append([]input.KeyCode(nil), d.codes...) }

func (d *Device) ReadKey() (input.RawKey, error) {
	d.reads.Add(1)
	if d.Stuck {
		select {
		case r := <-d.queue:
			return r.raw, r.err
		case <-d.release:
			return input.RawKey{}, input.ErrDeviceClosed
		}
	}
	select {
	case r := <-d.queue:
		return r.raw, r.err
	case <-d.closed:
		return input.RawKey{}, input.ErrDeviceClosed
	}
}

func (d *Device) Close() error {
	d.closes.Add(1)
	d.closeOnce.Do(func() { close(d.closed) })
	return d.CloseErr
}

// Unstick releases a Stuck reader.
func (d *Device) Unstick() {
	d.relOnce.Do(func() { close(d.release) })
}

// Closes returns how often Close was called.
func (d *Device) Closes() int { return int(d.closes.Load()) }

// Reads returns how often ReadKey was entered.
func (d *Device) Reads() int { return int(d.reads.Load()) }

// IsClosed reports whether Close was called.
func (d *Device) IsClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// Send queues a raw record.
func (d *Device) Send(code input.KeyCode, value int32) {
	d.queue <- result{raw: input.RawKey{Code: code, Value: value, Time: time.Now()}}
}

// SendAt queues a raw record with an explicit timestamp.
func (d *Device) SendAt(code input.KeyCode, value int32, at time.Time) {
	d.queue <- result{raw: input.RawKey{Code: code, Value: value, Time: at}}
}

// Press queues a key-down.
func (d *Device) Press(code input.KeyCode) { d.Send(code, input.ValueDown) }

// Release queues a key-up.
func (d *Device) Release(code input.KeyCode) { d.Send(code, input.ValueUp) }

// Fail queues a read error.
func (d *Device) Fail(err error) {
	d.queue <- result{err: err}
}

// Source is a fake input.Source.
type Source struct {
	mu      sync.Mutex
	devices map[string]*Device
	OpenErr map[string]error
	ListErr error
	opened  []string
}

// NewSource returns a source serving devs.
func NewSource(devs ...*Device) *Source {
	s := &Source{devices: make(map[string]*Device), OpenErr: make(map[string]error)}
	for _, d := range devs {
		s.Add(d)
	}
	return s
}

// Add makes d available; it is returned by later List and Open calls.
func (s *Source) Add(d *Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.info.Path] = d
}

// Remove withdraws the device at path.
func (s *Source) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, path)
}

func (s *Source) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	paths := make([]string, 0, len(s.devices))
	for p := range s.devices {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Source) Open(path string) (input.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.OpenErr[path]; err != nil {
		return nil, err
	}
	d, ok := s.devices[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, errNoDevice)
	}
	s.opened = append(s.opened, path)
	return d, nil
}

// Opened lists every successfully opened path in order.
func (s *Source) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...)
}

var errNoDevice = errors.New("no such device")
