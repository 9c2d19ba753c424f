// Package a11ytest provides an in-memory a11y.Service for tests.
package a11ytest

import (
	"context"
	"fmt"
	"sync"

	"atbridge/internal/a11y"
)

// Object is one fake accessible object.
type Object struct {
	Ref         a11y.Ref
	Role        a11y.Role
	RoleName    string
	Name        string
	Description string
	States      a11y.StateSet
	PID         int
	Text        *string
	Actions     []string
	Children    []a11y.Ref

	// Fail makes the named method ("name", "role", "pid", ...) fail for
	// this object.
	Fail map[string]error
}

// Service is a fake accessibility service. The zero value is not usable;
// call New.
type Service struct {
	mu         sync.Mutex
	objects    map[a11y.Ref]*Object
	desktops   []a11y.Ref
	focused    a11y.Ref
	points     map[[2]int]a11y.Ref
	connected  bool
	ConnectErr error
	PingErr    error
	sinks      map[int]func(a11y.Event)
	nextSink   int
	performed  []string
	calls      map[string]int
	concurrent bool
}

// New returns an empty fake with no desktops.
func New() *Service {
	return &Service{
		objects: make(map[a11y.Ref]*Object),
		points:  make(map[[2]int]a11y.Ref),
		sinks:   make(map[int]func(a11y.Event)),
		calls:   make(map[string]int),
	}
}

// Ref builds a ref on the fake bus.
func Ref(path string) a11y.Ref {
	return a11y.Ref{Bus: ":1.1", Path: path}
}

// SetConcurrentSafe controls the a11y.ConcurrentService answer.
func (s *Service) SetConcurrentSafe(v bool) { s.concurrent = v }

// ConcurrentSafe implements a11y.ConcurrentService.
func (s *Service) ConcurrentSafe() bool { return s.concurrent }

// AddDesktop registers a desktop root object.
func (s *Service) AddDesktop(obj *Object) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Ref] = obj
	s.desktops = append(s.desktops, obj.Ref)
	return obj
}

// Add registers obj as the last child of parent.
func (s *Service) Add(parent a11y.Ref, obj *Object) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Ref] = obj
	if p, ok := s.objects[parent]; ok {
		p.Children = append(p.Children, obj.Ref)
	}
	return obj
}

// Object returns the registered object for ref.
func (s *Service) Object(ref a11y.Ref) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[ref]
}

// SetFocus makes ref the focused object. A zero ref clears focus.
func (s *Service) SetFocus(ref a11y.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = ref
}

// SetPoint maps screen coordinates to ref.
func (s *Service) SetPoint(x, y int, ref a11y.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[[2]int{x, y}] = ref
}

// Performed lists "path#action" for every DoAction call.
func (s *Service) Performed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.performed...)
}

// Calls returns how often method was called.
func (s *Service) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Connected reports whether the fake holds a session.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Drop ends the session as if the service went away, without Close.
func (s *Service) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// Listeners returns the number of active Listen sinks.
func (s *Service) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

// Emit delivers ev to every active sink.
func (s *Service) Emit(ev a11y.Event) {
	s.mu.Lock()
	sinks := make([]func(a11y.Event), 0, len(s.sinks))
	for _, fn := range s.sinks {
		sinks = append(sinks, fn)
	}
	s.mu.Unlock()
	for _, fn := range sinks {
		fn(ev)
	}
}

func (s *Service) lookup(method string, ref a11y.Ref) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	if !s.connected {
		return nil, a11y.ErrNotConnected
	}
	obj, ok := s.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, a11y.ErrNotFound)
	}
	if err := obj.Fail[method]; err != nil {
		return nil, err
	}
	return obj, nil
}

func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["connect"]++
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connected = true
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["close"]++
	s.connected = false
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return a11y.ErrNotConnected
	}
	return s.PingErr
}

func (s *Service) DesktopCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, a11y.ErrNotConnected
	}
	return len(s.desktops), nil
}

func (s *Service) Desktop(ctx context.Context, index int) (a11y.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return a11y.Ref{}, a11y.ErrNotConnected
	}
	if index < 0 || index >= len(s.desktops) {
		return a11y.Ref{}, fmt.Errorf("desktop %d: %w", index, a11y.ErrNotFound)
	}
	return s.desktops[index], nil
}

func (s *Service) Focused(ctx context.Context) (a11y.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return a11y.Ref{}, a11y.ErrNotConnected
	}
	if s.focused.IsZero() {
		return a11y.Ref{}, a11y.ErrNotFound
	}
	return s.focused, nil
}

func (s *Service) AccessibleAtPoint(ctx context.Context, x, y int) (a11y.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return a11y.Ref{}, a11y.ErrNotConnected
	}
	ref, ok := s.points[[2]int{x, y}]
	if !ok {
		return a11y.Ref{}, a11y.ErrNotFound
	}
	return ref, nil
}

func (s *Service) Role(ctx context.Context, ref a11y.Ref) (a11y.Role, string, error) {
	obj, err := s.lookup("role", ref)
	if err != nil {
		return a11y.RoleUnknown, "", err
	}
	return obj.Role, obj.RoleName, nil
}

func (s *Service) Name(ctx context.Context, ref a11y.Ref) (string, error) {
	obj, err := s.lookup("name", ref)
	if err != nil {
		return "", err
	}
	return obj.Name, nil
}

func (s *Service) Description(ctx context.Context, ref a11y.Ref) (string, error) {
	obj, err := s.lookup("description", ref)
	if err != nil {
		return "", err
	}
	return obj.Description, nil
}

func (s *Service) States(ctx context.Context, ref a11y.Ref) (a11y.StateSet, error) {
	obj, err := s.lookup("states", ref)
	if err != nil {
		return 0, err
	}
	return obj.States, nil
}

func (s *Service) Children(ctx context.Context, ref a11y.Ref) ([]a11y.Ref, error) {
	obj, err := s.lookup("children", ref)
	if err != nil {
		return nil, err
	}
	return append([]a11y.Ref(nil), obj.Children...), nil
}

func (s *Service) ProcessID(ctx context.Context, ref a11y.Ref) (int, error) {
	obj, err := s.lookup("pid", ref)
	if err != nil {
		return 0, err
	}
	return obj.PID, nil
}

func (s *Service) Text(ctx context.Context, ref a11y.Ref) (string, error) {
	obj, err := s.lookup("text", ref)
	if err != nil {
		return "", err
	}
	if obj.Text == nil {
		return "", a11y.ErrNoInterface
	}
	return *obj.Text, nil
}

func (s *Service) Actions(ctx context.Context, ref a11y.Ref) ([]string, error) {
	obj, err := s.lookup("actions", ref)
	if err != nil {
		return nil, err
	}
	if obj.Actions == nil {
		return nil, a11y.ErrNoInterface
	}
	return append([]string(nil), obj.Actions...), nil
}

func (s *Service) DoAction(ctx context.Context, ref a11y.Ref, index int) (bool, error) {
	obj, err := s.lookup("do_action", ref)
	if err != nil {
		return false, err
	}
	if index < 0 || index >= len(obj.Actions) {
		return false, nil
	}
	s.mu.Lock()
	s.performed = append(s.performed, ref.Path+"#"+obj.Actions[index])
	s.mu.Unlock()
	return true, nil
}

func (s *Service) Listen(ctx context.Context, sink func(a11y.Event)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, a11y.ErrNotConnected
	}
	id := s.nextSink
	s.nextSink++
	s.sinks[id] = sink

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.sinks, id)
			s.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}

// StringPtr returns &s.
func StringPtr(s string) *string { return &s }

// Desktop builds a typical desktop: one desktop with an editor application
// (pid 4242) whose frame holds a focused "OK" push button and a text
// entry, and a second application "Mail".
func Desktop() *Service {
	s := New()
	desktop := s.AddDesktop(&Object{Ref: Ref("/root"), Role: a11y.RoleDesktopFrame, Name: "main"})
	editor := s.Add(desktop.Ref, &Object{
		Ref: Ref("/app/editor"), Role: a11y.RoleApplication, Name: "Editor",
		Description: "text editor", PID: 4242,
	})
	frame := s.Add(editor.Ref, &Object{
		Ref: Ref("/app/editor/frame"), Role: a11y.RoleFrame, Name: "Untitled",
		States: a11y.NewStateSet(a11y.StateActive, a11y.StateShowing, a11y.StateVisible),
	})
	s.Add(frame.Ref, &Object{
		Ref: Ref("/app/editor/ok"), Role: a11y.RolePushButton, Name: "OK",
		States:  a11y.NewStateSet(a11y.StateFocused, a11y.StateFocusable, a11y.StateEnabled, a11y.StateVisible, a11y.StateShowing),
		Actions: []string{"click", "press"},
	})
	s.Add(frame.Ref, &Object{
		Ref: Ref("/app/editor/entry"), Role: a11y.RoleEntry, Name: "Body",
		States:  a11y.NewStateSet(a11y.StateEditable, a11y.StateEnabled, a11y.StateVisible),
		Text:    StringPtr("hello world"),
		Actions: []string{"activate"},
	})
	s.Add(desktop.Ref, &Object{
		Ref: a11y.Ref{Bus: ":1.2", Path: "/app/mail"}, Role: a11y.RoleApplication, Name: "Mail",
		Description: "", PID: 5151,
	})
	s.SetFocus(Ref("/app/editor/ok"))
	return s
}
