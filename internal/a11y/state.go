package a11y

import (
	"math/bits"
	"strings"
)

// StateFlag is one accessibility state. Bit positions follow the AT-SPI
// state numbering so platform state words convert without a table.
type StateFlag uint8

const (
	StateInvalid StateFlag = iota
	StateActive
	StateArmed
	StateBusy
	StateChecked
	StateCollapsed
	StateDefunct
	StateEditable
	StateEnabled
	StateExpandable
	StateExpanded
	StateFocusable
	StateFocused
	StateHasTooltip
	StateHorizontal
	StateIconified
	StateModal
	StateMultiLine
	StateMultiselectable
	StateOpaque
	StatePressed
	StateResizable
	StateSelectable
	StateSelected
	StateSensitive
	StateShowing
	StateSingleLine
	StateStale
	StateTransient
	StateVertical
	StateVisible
	StateManagesDescendants
	StateIndeterminate
	StateRequired
	StateTruncated
	StateAnimated
	StateInvalidEntry
	StateSupportsAutocompletion
	StateSelectableText
	StateIsDefault
	StateVisited
	StateCheckable
	StateHasPopup
	StateReadOnly
	stateCount
)

var stateNames = [stateCount]string{
	"invalid", "active", "armed", "busy", "checked", "collapsed", "defunct",
	"editable", "enabled", "expandable", "expanded", "focusable", "focused",
	"has-tooltip", "horizontal", "iconified", "modal", "multi-line",
	"multiselectable", "opaque", "pressed", "resizable", "selectable",
	"selected", "sensitive", "showing", "single-line", "stale", "transient",
	"vertical", "visible", "manages-descendants", "indeterminate", "required",
	"truncated", "animated", "invalid-entry", "supports-autocompletion",
	"selectable-text", "is-default", "visited", "checkable", "has-popup",
	"read-only",
}

func (f StateFlag) String() string {
	if f < stateCount {
		return stateNames[f]
	}
	return "invalid"
}

// StateFlagFromName parses a name produced by StateFlag.String.
func StateFlagFromName(name string) (StateFlag, bool) {
	name = strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	for i, n := range stateNames {
		if n == name {
			return StateFlag(i), true
		}
	}
	return StateInvalid, false
}

// StateSet is a set of StateFlags.
type StateSet uint64

// NewStateSet builds a set from flags.
func NewStateSet(flags ...StateFlag) StateSet {
	var s StateSet
	for _, f := range flags {
		s = s.With(f)
	}
	return s
}

// StateSetFromWords builds a set from 32-bit state words, low word first,
// as the accessibility bus reports them. Unknown bits are dropped.
func StateSetFromWords(words []uint32) StateSet {
	var raw uint64
	if len(words) > 0 {
		raw = uint64(words[0])
	}
	if len(words) > 1 {
		raw |= uint64(words[1]) << 32
	}
	return StateSet(raw & (1<<stateCount - 1))
}

// Has reports whether f is in the set.
func (s StateSet) Has(f StateFlag) bool {
	return f < stateCount && s&(1<<f) != 0
}

// With returns the set plus f.
func (s StateSet) With(f StateFlag) StateSet {
	if f >= stateCount {
		return s
	}
	return s | 1<<f
}

// Without returns the set minus f.
func (s StateSet) Without(f StateFlag) StateSet {
	return s &^ (1 << f)
}

// Len returns the number of flags in the set.
func (s StateSet) Len() int {
	return bits.OnesCount64(uint64(s))
}

// Flags lists the set's flags in ascending order.
func (s StateSet) Flags() []StateFlag {
	out := make([]StateFlag, 0, s.Len())
	for f := StateFlag(0); f < stateCount; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Names lists the set's flag names in ascending flag order.
func (s StateSet) Names() []string {
	flags := s.Flags()
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = f.String()
	}
	return out
}

func (s StateSet) String() string {
	return "{" + strings.Join(s.Names(), ",") + "}"
}
