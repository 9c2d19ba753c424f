package input

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, name string) KeyCode {
	t.Helper()
	k, err := ParseKey(name)
	require.NoError(t, err)
	return k
}

func TestParseKeyForms(t *testing.T) {
	for _, name := range []string{"KEY_LEFTCTRL", "LEFTCTRL", "leftctrl", " LeftCtrl "} {
		k, err := ParseKey(name)
		require.NoError(t, err, name)
		assert.Equal(t, KeyLeftCtrl, k)
	}
	assert.Equal(t, "KEY_LEFTCTRL", KeyLeftCtrl.String())
	assert.Equal(t, "KEY_A", KeyA.String())

	_, err := ParseKey("NOPE")
	assert.ErrorIs(t, err, ErrUnknownKey)
	_, err = ParseKey("")
	assert.ErrorIs(t, err, ErrUnknownKey)

	keys, err := ParseKeys([]string{"leftctrl", "leftalt", "l"})
	require.NoError(t, err)
	assert.Equal(t, []KeyCode{KeyLeftCtrl, KeyLeftAlt, mustKey(t, "L")}, keys)
}

func TestModifierCodes(t *testing.T) {
	mods := ModifierCodes()
	assert.Len(t, mods, 8)
	for _, m := range mods {
		assert.True(t, m.IsModifier())
	}
	assert.False(t, KeyA.IsModifier())
}

func kinds(evs []Event) []EventKind {
	out := make([]EventKind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

func TestCtrlCSequence(t *testing.T) {
	s := NewKeyState(KeyStateConfig{RepeatDelay: 500 * time.Millisecond, RepeatRate: 30 * time.Millisecond})
	c := mustKey(t, "C")

	var got []Event
	for _, raw := range []RawKey{
		{Code: KeyLeftCtrl, Value: ValueDown},
		{Code: c, Value: ValueDown},
		{Code: c, Value: ValueUp},
		{Code: KeyLeftCtrl, Value: ValueUp},
	} {
		got = append(got, s.Apply(raw, "kbd0")...)
	}

	require.Equal(t, []EventKind{EventModifierChanged, EventKeyDown, EventModifierChanged}, kinds(got))
	assert.Equal(t, KeyLeftCtrl, got[0].Key)
	assert.True(t, got[0].Pressed)
	assert.Equal(t, c, got[1].Key)
	assert.Equal(t, KeyLeftCtrl, got[2].Key)
	assert.False(t, got[2].Pressed)
	assert.Equal(t, "kbd0", got[1].Device)

	snap := s.Snapshot()
	assert.Empty(t, snap.Pressed)
	assert.Empty(t, snap.Modifiers)
	assert.True(t, snap.LastEventTime.IsZero())
}

func TestGestureAnyOrderFiresOnce(t *testing.T) {
	l := mustKey(t, "L")
	x := mustKey(t, "X")
	orders := [][]KeyCode{
		{KeyLeftCtrl, KeyLeftAlt, l},
		{l, KeyLeftCtrl, KeyLeftAlt},
		{KeyLeftAlt, l, KeyLeftCtrl},
	}
	for _, order := range orders {
		s := NewKeyState(KeyStateConfig{Gestures: []Gesture{
			{Name: "read-line", Keys: []KeyCode{KeyLeftCtrl, KeyLeftAlt, l}},
		}})

		fired := 0
		count := func(evs []Event) {
			for _, e := range evs {
				if e.Kind == EventGesture {
					assert.Equal(t, "read-line", e.Gesture)
					fired++
				}
			}
		}
		for _, k := range order {
			count(s.Apply(RawKey{Code: k, Value: ValueDown}, ""))
		}
		assert.Equal(t, 1, fired, "order %v", order)

		count(s.Apply(RawKey{Code: x, Value: ValueDown}, ""))
		count(s.Apply(RawKey{Code: l, Value: ValueRepeat}, ""))
		count(s.Apply(RawKey{Code: x, Value: ValueUp}, ""))
		assert.Equal(t, 1, fired, "no re-fire while held, order %v", order)
	}
}

func TestModifiersSubsetOfPressed(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	keys := append(ModifierCodes(), KeyA, KeySpace, KeyEnter, mustKey(t, "Z"))
	s := NewKeyState(KeyStateConfig{EmitRepeats: true})

	for i := 0; i < 5000; i++ {
		raw := RawKey{
			Code:  keys[rng.Intn(len(keys))],
			Value: int32(rng.Intn(3)),
			Time:  time.Unix(0, int64(i)*int64(time.Millisecond)),
		}
		s.Apply(raw, "")

		snap := s.Snapshot()
		pressed := map[KeyCode]bool{}
		for _, k := range snap.Pressed {
			pressed[k] = true
		}
		for _, m := range snap.Modifiers {
			require.True(t, pressed[m], "modifier %s not pressed after step %d", m, i)
			require.True(t, m.IsModifier())
		}
	}
}

func TestLastEventTime(t *testing.T) {
	s := NewKeyState(KeyStateConfig{})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Apply(RawKey{Code: KeyA, Value: ValueDown, Time: at}, "")
	assert.Equal(t, at, s.Snapshot().LastEventTime)

	s.Apply(RawKey{Code: KeyA, Value: ValueUp, Time: at.Add(time.Second)}, "")
	assert.True(t, s.Snapshot().LastEventTime.IsZero())
}

func TestRepeatSchedule(t *testing.T) {
	s := NewKeyState(KeyStateConfig{
		RepeatDelay: 500 * time.Millisecond,
		RepeatRate:  30 * time.Millisecond,
		EmitRepeats: true,
	})
	t0 := time.Unix(1000, 0)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	s.Apply(RawKey{Code: KeyA, Value: ValueDown, Time: at(0)}, "")
	assert.Empty(t, s.Apply(RawKey{Code: KeyA, Value: ValueRepeat, Time: at(400)}, ""), "before delay")

	evs := s.Apply(RawKey{Code: KeyA, Value: ValueRepeat, Time: at(500)}, "")
	require.Len(t, evs, 1)
	assert.Equal(t, EventKeyRepeat, evs[0].Kind)

	assert.Empty(t, s.Apply(RawKey{Code: KeyA, Value: ValueRepeat, Time: at(520)}, ""), "faster than rate")
	assert.Len(t, s.Apply(RawKey{Code: KeyA, Value: ValueRepeat, Time: at(530)}, ""), 1)

	assert.Empty(t, s.Apply(RawKey{Code: KeySpace, Value: ValueRepeat, Time: at(2000)}, ""), "not held")
}

func TestRepeatsSuppressedByDefault(t *testing.T) {
	s := NewKeyState(KeyStateConfig{})
	s.Apply(RawKey{Code: KeyA, Value: ValueDown, Time: time.Unix(0, 0)}, "")
	assert.Empty(t, s.Apply(RawKey{Code: KeyA, Value: ValueRepeat, Time: time.Unix(10, 0)}, ""))
}

func TestResetKeepsGestures(t *testing.T) {
	q := mustKey(t, "Q")
	s := NewKeyState(KeyStateConfig{Gestures: []Gesture{{Name: "quit", Keys: []KeyCode{KeyLeftCtrl, q}}}})
	s.Apply(RawKey{Code: KeyLeftCtrl, Value: ValueDown}, "")
	s.Reset()
	assert.Empty(t, s.Snapshot().Modifiers)

	s.Apply(RawKey{Code: KeyLeftCtrl, Value: ValueDown}, "")
	evs := s.Apply(RawKey{Code: q, Value: ValueDown}, "")
	assert.Equal(t, []EventKind{EventKeyDown, EventGesture}, kinds(evs))
}

func TestReleaseDevice(t *testing.T) {
	l := mustKey(t, "L")
	s := NewKeyState(KeyStateConfig{Gestures: []Gesture{{Name: "alt-l", Keys: []KeyCode{KeyLeftAlt, l}}}})

	s.Apply(RawKey{Code: KeyLeftCtrl, Value: ValueDown}, "kbd0")
	s.Apply(RawKey{Code: KeyLeftCtrl, Value: ValueDown}, "kbd1")
	s.Apply(RawKey{Code: KeyA, Value: ValueDown}, "kbd0")

	assert.Empty(t, s.ReleaseDevice("kbd0"), "ctrl still held on kbd1")
	snap := s.Snapshot()
	assert.Equal(t, []KeyCode{KeyLeftCtrl}, snap.Pressed)
	assert.Equal(t, []KeyCode{KeyLeftCtrl}, snap.Modifiers)

	evs := s.ReleaseDevice("kbd1")
	require.Len(t, evs, 1)
	assert.Equal(t, EventModifierChanged, evs[0].Kind)
	assert.Equal(t, KeyLeftCtrl, evs[0].Key)
	assert.False(t, evs[0].Pressed)
	assert.Equal(t, "kbd1", evs[0].Device)
	assert.Empty(t, s.Snapshot().Pressed)
	assert.Empty(t, s.ReleaseDevice("kbd1"))

	s.Apply(RawKey{Code: KeyLeftAlt, Value: ValueDown}, "kbd0")
	s.ReleaseDevice("kbd0")
	s.Apply(RawKey{Code: KeyLeftAlt, Value: ValueDown}, "kbd1")
	assert.Equal(t, []EventKind{EventKeyDown, EventGesture}, kinds(s.Apply(RawKey{Code: l, Value: ValueDown}, "kbd1")))
}
