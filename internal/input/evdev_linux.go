//go:build linux

package input

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	evdev "github.com/holoplot/go-evdev"
)

// DefaultInputDir is where the kernel exposes event devices.
const DefaultInputDir = "/dev/input"

// Bus types from linux/input.h.
const (
	busUSB       = 0x03
	busBluetooth = 0x05
	busVirtual   = 0x06
	busI8042     = 0x11
)

// EvdevSource lists and opens /dev/input/event* devices.
type EvdevSource struct {
	Dir string
}

// NewSource returns the evdev source for dir ("" for /dev/input).
func NewSource(dir string) *EvdevSource {
	if dir == "" {
		dir = DefaultInputDir
	}
	return &EvdevSource{Dir: dir}
}

func (s *EvdevSource) List() ([]string, error) {
	if s.Dir == DefaultInputDir {
		paths, err := evdev.ListDevicePaths()
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			out = append(out, p.Path)
		}
		sort.Strings(out)
		return out, nil
	}
	out, err := filepath.Glob(filepath.Join(s.Dir, "event*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *EvdevSource) Open(path string) (Device, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	d := &evdevDevice{dev: dev, info: DeviceInfo{Path: path}}
	if name, err := dev.Name(); err == nil {
		d.info.Name = name
	}
	if id, err := dev.InputID(); err == nil {
		d.info.Vendor = id.Vendor
		d.info.Product = id.Product
		d.info.Connection = connectionFromBus(id.BusType)
	}
	return d, nil
}

func connectionFromBus(bus uint16) ConnectionType {
	switch bus {
	case busUSB:
		return ConnectionUSB
	case busBluetooth:
		return ConnectionBluetooth
	case busI8042:
		return ConnectionPS2
	case busVirtual:
		return ConnectionVirtual
	}
	return ConnectionUnknown
}

type evdevDevice struct {
	dev    *evdev.InputDevice
	info   DeviceInfo
	closed atomic.Bool
}

func (d *evdevDevice) Info() DeviceInfo { return d.info }

func (d *evdevDevice) HasKeyEvents() bool {
	for _, t := range d.dev.CapableTypes() {
		if t == evdev.EV_KEY {
			return true
		}
	}
	return false
}

func (d *evdevDevice) KeyCodes() []KeyCode {
	codes := d.dev.CapableEvents(evdev.EV_KEY)
	out := make([]KeyCode, len(codes))
	for i, c := range codes {
		out[i] = KeyCode(c)
	}
	return out
}

func (d *evdevDevice) ReadKey() (RawKey, error) {
	for {
		ev, err := d.dev.ReadOne()
		if err != nil {
			if d.closed.Load() || errors.Is(err, os.ErrClosed) {
				return RawKey{}, ErrDeviceClosed
			}
			return RawKey{}, err
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		return RawKey{
			Code:  KeyCode(ev.Code),
			Value: ev.Value,
			Time:  time.Unix(int64(ev.Time.Sec), int64(ev.Time.Usec)*int64(time.Microsecond)),
		}, nil
	}
}

func (d *evdevDevice) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.dev.Close()
}
