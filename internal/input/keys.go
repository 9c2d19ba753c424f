package input

import (
	"fmt"
	"sort"
	"strings"
)

// KeyCode is a Linux input event code (KEY_*).
type KeyCode uint16

// Codes the engine treats specially. Values follow linux/input-event-codes.h.
const (
	KeyEnter      KeyCode = 28
	KeyLeftCtrl   KeyCode = 29
	KeyA          KeyCode = 30
	KeyLeftShift  KeyCode = 42
	KeyRightShift KeyCode = 54
	KeyLeftAlt    KeyCode = 56
	KeySpace      KeyCode = 57
	KeyRightCtrl  KeyCode = 97
	KeyRightAlt   KeyCode = 100
	KeyLeftMeta   KeyCode = 125
	KeyRightMeta  KeyCode = 126
)

// modifierCodes is the Shift/Ctrl/Alt/Meta family, left and right.
var modifierCodes = map[KeyCode]bool{
	KeyLeftShift:  true,
	KeyRightShift: true,
	KeyLeftCtrl:   true,
	KeyRightCtrl:  true,
	KeyLeftAlt:    true,
	KeyRightAlt:   true,
	KeyLeftMeta:   true,
	KeyRightMeta:  true,
}

// probeCodes identify a keyboard: any one of them is enough.
var probeCodes = []KeyCode{KeyA, KeySpace, KeyEnter}

// IsModifier reports whether k is one of the eight modifier keys.
func (k KeyCode) IsModifier() bool {
	return modifierCodes[k]
}

// ModifierCodes returns the modifier keys in ascending order.
func ModifierCodes() []KeyCode {
	out := make([]KeyCode, 0, len(modifierCodes))
	for k := range modifierCodes {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String returns the kernel name, for example "KEY_LEFTCTRL".
func (k KeyCode) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KEY_%d", uint16(k))
}

// ParseKey resolves a key name. "KEY_LEFTCTRL", "LEFTCTRL" and "leftctrl"
// are the same key.
func ParseKey(name string) (KeyCode, error) {
	norm := strings.ToUpper(strings.TrimSpace(name))
	if norm == "" {
		return 0, fmt.Errorf("%w: empty name", ErrUnknownKey)
	}
	if !strings.HasPrefix(norm, "KEY_") {
		norm = "KEY_" + norm
	}
	if k, ok := keyCodes[norm]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// ParseKeys resolves every name, failing on the first unknown one.
func ParseKeys(names []string) ([]KeyCode, error) {
	out := make([]KeyCode, 0, len(names))
	for _, n := range names {
		k, err := ParseKey(n)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// keyNames and keyCodes are filled per platform.
var (
	keyNames = map[KeyCode]string{}
	keyCodes = map[string]KeyCode{}
)

func registerKeyName(code KeyCode, name string) {
	if _, ok := keyNames[code]; !ok {
		keyNames[code] = name
	}
	keyCodes[name] = code
}
