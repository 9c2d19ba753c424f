//go:build linux

package input

import (
	evdev "github.com/holoplot/go-evdev"
)

func init() {
	for name, code := range evdev.KEYFromString {
		registerKeyName(KeyCode(code), name)
	}
	for code, name := range evdev.KEYToString {
		keyNames[KeyCode(code)] = name
	}
}
