package listener

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atbridge/internal/logging"
)

func newTestRegistry(opts ...Option) *Registry[string, int] {
	return New[string, int](append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func TestDispatchOrder(t *testing.T) {
	r := newTestRegistry()
	var got []string

	r.Register("focus", func(int) error { got = append(got, "first"); return nil })
	r.Register("focus", func(int) error { got = append(got, "second"); return nil })
	r.Register("other", func(int) error { got = append(got, "other"); return nil })

	res := r.Dispatch("focus", 1)
	assert.Equal(t, []string{"first", "second"}, got)
	assert.Equal(t, 2, res.Invoked)
	assert.True(t, res.OK())
}

func TestDispatchNoHandlers(t *testing.T) {
	r := newTestRegistry()
	res := r.Dispatch("nothing", 0)
	assert.Equal(t, 0, res.Invoked)
	assert.True(t, res.OK())
}

func TestDuplicateRegistrationsAreIndependent(t *testing.T) {
	r := newTestRegistry()
	calls := 0
	h := func(int) error { calls++; return nil }

	id1 := r.Register("k", h)
	id2 := r.Register("k", h)
	require.NotEqual(t, id1, id2)

	r.Dispatch("k", 0)
	assert.Equal(t, 2, calls)

	assert.True(t, r.Unregister("k", id1))
	r.Dispatch("k", 0)
	assert.Equal(t, 3, calls)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	id := r.Register("k", func(int) error { return nil })

	assert.True(t, r.Unregister("k", id))
	assert.False(t, r.Unregister("k", id))
	assert.False(t, r.Unregister("missing", id))
	assert.Equal(t, 0, r.Len("k"))
	assert.Empty(t, r.Keys())
}

func TestFailureIsolation(t *testing.T) {
	var hooked []*HandlerError
	r := newTestRegistry(WithFailureHook(func(h *HandlerError) { hooked = append(hooked, h) }))

	boom := errors.New("boom")
	var ran []int
	r.Register("k", func(p int) error { ran = append(ran, 1); return boom })
	r.Register("k", func(p int) error { ran = append(ran, 2); panic("kaboom") })
	r.Register("k", func(p int) error { ran = append(ran, 3); return nil })

	res := r.Dispatch("k", 7)

	assert.Equal(t, []int{1, 2, 3}, ran)
	require.Len(t, res.Failures, 2)
	assert.ErrorIs(t, res.Failures[0], boom)
	assert.False(t, res.Failures[0].Panicked)
	assert.True(t, res.Failures[1].Panicked)
	assert.Equal(t, "kaboom", res.Failures[1].Recovered)
	assert.NotEmpty(t, res.Failures[1].Stack)
	assert.Len(t, hooked, 2)
	assert.Contains(t, res.Failures[1].Error(), "panicked")
}

func TestRegisterDuringDispatchAppliesNextTime(t *testing.T) {
	r := newTestRegistry()
	late := 0
	r.Register("k", func(int) error {
		r.Register("k", func(int) error { late++; return nil })
		return nil
	})

	r.Dispatch("k", 0)
	assert.Equal(t, 0, late)
	assert.Equal(t, 2, r.Len("k"))

	r.Dispatch("k", 0)
	assert.Equal(t, 1, late)
}

func TestUnregisterDuringDispatchKeepsSnapshot(t *testing.T) {
	r := newTestRegistry()
	var second RegistrationID
	secondRan := 0
	r.Register("k", func(int) error {
		r.Unregister("k", second)
		return nil
	})
	second = r.Register("k", func(int) error { secondRan++; return nil })

	r.Dispatch("k", 0)
	assert.Equal(t, 1, secondRan)

	r.Dispatch("k", 0)
	assert.Equal(t, 1, secondRan)
}

func TestClear(t *testing.T) {
	r := newTestRegistry()
	r.Register("a", func(int) error { return nil })
	r.Register("b", func(int) error { return nil })
	assert.Equal(t, 2, r.Total())
	assert.Equal(t, []string{"a", "b"}, r.Keys())

	r.Clear()
	assert.Equal(t, 0, r.Total())
	assert.False(t, r.Has("a"))
}

func TestConcurrentDispatchAndRegister(t *testing.T) {
	r := newTestRegistry()
	var mu sync.Mutex
	count := 0
	r.Register("k", func(int) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Dispatch("k", j)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := r.Register("k", func(int) error { return nil })
				r.Unregister("k", id)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, count)
	assert.Equal(t, 1, r.Len("k"))
}
