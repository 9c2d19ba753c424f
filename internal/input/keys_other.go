//go:build !linux

package input

import "fmt"

// Without evdev only the names gestures commonly use are known.
func init() {
	for i, c := range "ABCDEFGHIJKLMNOPQRSTUVWXYZ" {
		registerKeyName(letterCodes[i], fmt.Sprintf("KEY_%c", c))
	}
	for i, code := range []KeyCode{11, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		registerKeyName(code, fmt.Sprintf("KEY_%d", i))
	}
	for code, name := range map[KeyCode]string{
		1: "KEY_ESC", 14: "KEY_BACKSPACE", 15: "KEY_TAB", KeyEnter: "KEY_ENTER",
		KeySpace: "KEY_SPACE", KeyLeftCtrl: "KEY_LEFTCTRL", KeyRightCtrl: "KEY_RIGHTCTRL",
		KeyLeftShift: "KEY_LEFTSHIFT", KeyRightShift: "KEY_RIGHTSHIFT",
		KeyLeftAlt: "KEY_LEFTALT", KeyRightAlt: "KEY_RIGHTALT",
		KeyLeftMeta: "KEY_LEFTMETA", KeyRightMeta: "KEY_RIGHTMETA",
		103: "KEY_UP", 105: "KEY_LEFT", 106: "KEY_RIGHT", 108: "KEY_DOWN",
	} {
		registerKeyName(code, name)
	}
}

var letterCodes = [26]KeyCode{
	30, 48, 46, 32, 18, 33, 34, 35, 23, 36, 37, 38, 50,
	49, 24, 25, 16, 19, 31, 20, 22, 47, 17, 45, 21, 44,
}
