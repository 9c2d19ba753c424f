package a11y_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atbridge/internal/a11y"
	"atbridge/internal/a11y/a11ytest"
	"atbridge/internal/logging"
)

func connectedClient(t *testing.T, svc *a11ytest.Service, opts ...a11y.ClientOption) *a11y.Client {
	t.Helper()
	opts = append([]a11y.ClientOption{a11y.WithClientLogger(logging.Discard())}, opts...)
	c := a11y.NewClient(svc, opts...)
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestConnectFailureIsServiceUnavailable(t *testing.T) {
	svc := a11ytest.New()
	svc.ConnectErr = errors.New("no bus")
	c := a11y.NewClient(svc, a11y.WithClientLogger(logging.Discard()))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, a11y.ErrServiceUnavailable)
	assert.False(t, c.Connected())
}

func TestFocusedNode(t *testing.T) {
	svc := a11ytest.Desktop()
	c := connectedClient(t, svc)

	n, ok := c.FocusedNode(context.Background())
	require.True(t, ok)
	assert.Equal(t, "OK", n.Name())
	assert.Equal(t, a11y.RolePushButton, n.Role())
	assert.True(t, n.IsFocused())
	assert.True(t, n.IsEnabled())
}

func TestFocusedNodeAbsent(t *testing.T) {
	svc := a11ytest.Desktop()
	svc.SetFocus(a11y.Ref{})

	var failures []string
	c := connectedClient(t, svc, a11y.WithQueryFailureHook(func(op string, err error) { failures = append(failures, op) }))

	n, ok := c.FocusedNode(context.Background())
	assert.False(t, ok)
	assert.True(t, n.IsZero())
	assert.Equal(t, []string{"focused"}, failures)
}

func TestQueriesBeforeConnect(t *testing.T) {
	svc := a11ytest.Desktop()
	c := a11y.NewClient(svc, a11y.WithClientLogger(logging.Discard()))
	ctx := context.Background()

	_, ok := c.FocusedNode(ctx)
	assert.False(t, ok)
	_, ok = c.NodeAtPoint(ctx, 1, 1)
	assert.False(t, ok)
	assert.Empty(t, c.ListApplications(ctx))
	_, err := c.DesktopRoot(ctx, 0)
	assert.ErrorIs(t, err, a11y.ErrNotConnected)
	assert.ErrorIs(t, c.Ping(ctx), a11y.ErrNotConnected)
	assert.Equal(t, 0, svc.Calls("role"))
}

func TestNodeAtPoint(t *testing.T) {
	svc := a11ytest.Desktop()
	svc.SetPoint(100, 200, a11ytest.Ref("/app/editor/entry"))
	c := connectedClient(t, svc)

	n, ok := c.NodeAtPoint(context.Background(), 100, 200)
	require.True(t, ok)
	assert.Equal(t, "Body", n.Name())

	_, ok = c.NodeAtPoint(context.Background(), 5, 5)
	assert.False(t, ok)
}

func TestDesktopRootParentLinks(t *testing.T) {
	svc := a11ytest.Desktop()
	c := connectedClient(t, svc)

	root, err := c.DesktopRoot(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "main", root.Name())

	children := root.Children()
	require.Len(t, children, 2)
	for _, child := range children {
		p, ok := child.Parent()
		require.True(t, ok)
		assert.Equal(t, root.Ref(), p.Ref())
		assert.False(t, child.Expanded())
	}

	_, err = c.DesktopRoot(context.Background(), 3)
	assert.ErrorIs(t, err, a11y.ErrNotFound)
}

func TestTreeDepth(t *testing.T) {
	svc := a11ytest.Desktop()
	c := connectedClient(t, svc)

	root, err := c.Tree(context.Background(), a11y.Ref{}, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, root.Snapshot().Len())

	shallow, err := c.Tree(context.Background(), a11ytest.Ref("/app/editor"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, shallow.Snapshot().Len())
	assert.Equal(t, 1, shallow.ChildCount())
}

func TestTreeSkipsUnreadableChild(t *testing.T) {
	svc := a11ytest.Desktop()
	svc.Object(a11ytest.Ref("/app/editor/entry")).Fail = map[string]error{"states": errors.New("stale")}
	c := connectedClient(t, svc)

	frame, err := c.Tree(context.Background(), a11ytest.Ref("/app/editor/frame"), 1)
	require.NoError(t, err)
	children := frame.Children()
	require.Len(t, children, 1)
	assert.Equal(t, "OK", children[0].Name())
	assert.Equal(t, 2, frame.ChildCount())
}

func TestListApplicationsSkipsPartialFailures(t *testing.T) {
	svc := a11ytest.Desktop()
	second := svc.AddDesktop(&a11ytest.Object{Ref: a11ytest.Ref("/root2"), Role: a11y.RoleDesktopFrame})
	svc.Add(second.Ref, &a11ytest.Object{
		Ref: a11ytest.Ref("/app/term"), Role: a11y.RoleApplication, Name: "Terminal", PID: 77,
	})
	svc.Add(second.Ref, &a11ytest.Object{
		Ref: a11ytest.Ref("/app/broken"), Role: a11y.RoleApplication, Name: "Broken",
		Fail: map[string]error{"pid": errors.New("gone")},
	})
	svc.Add(second.Ref, &a11ytest.Object{
		Ref: a11ytest.Ref("/panel"), Role: a11y.RoleFrame, Name: "Panel", PID: 12,
	})
	c := connectedClient(t, svc)

	apps := c.ListApplications(context.Background())
	names := make([]string, 0, len(apps))
	for _, a := range apps {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"Editor", "Mail", "Terminal"}, names)
	assert.Equal(t, 4242, apps[0].PID)
	assert.Equal(t, "application", apps[0].Role)
	assert.Equal(t, "text editor", apps[0].Description)
}

func TestNodeTextAndActions(t *testing.T) {
	svc := a11ytest.Desktop()
	c := connectedClient(t, svc)
	ctx := context.Background()

	entry, ok := c.Resolve(ctx, a11ytest.Ref("/app/editor/entry"))
	require.True(t, ok)
	assert.Equal(t, "hello world", c.NodeText(ctx, entry))
	assert.Equal(t, []string{"activate"}, c.NodeActions(ctx, entry))

	button, ok := c.FocusedNode(ctx)
	require.True(t, ok)
	assert.Equal(t, "", c.NodeText(ctx, button), "no text interface")
	assert.Equal(t, []string{"click", "press"}, c.NodeActions(ctx, button))

	app, ok := c.Resolve(ctx, a11ytest.Ref("/app/editor"))
	require.True(t, ok)
	actions := c.NodeActions(ctx, app)
	assert.NotNil(t, actions)
	assert.Empty(t, actions)

	assert.Equal(t, "", c.NodeText(ctx, a11y.Node{}))
}

func TestPerformActionExactMatch(t *testing.T) {
	svc := a11ytest.Desktop()
	c := connectedClient(t, svc)
	ctx := context.Background()

	button, ok := c.FocusedNode(ctx)
	require.True(t, ok)

	assert.True(t, c.PerformAction(ctx, button, "press"))
	assert.False(t, c.PerformAction(ctx, button, "Press"))
	assert.False(t, c.PerformAction(ctx, button, "pre"))
	assert.Equal(t, []string{"/app/editor/ok#press"}, svc.Performed())
}

func TestListenResolvesSource(t *testing.T) {
	svc := a11ytest.Desktop()
	c := connectedClient(t, svc)

	got := make(chan a11y.Event, 1)
	stop, err := c.Listen(context.Background(), func(ev a11y.Event) { got <- ev })
	require.NoError(t, err)
	defer stop()

	svc.Emit(a11y.Event{Type: a11y.EventFocusChanged, Source: a11ytest.Ref("/app/editor/entry")})

	select {
	case ev := <-got:
		assert.Equal(t, a11y.EventFocusChanged, ev.Type)
		assert.Equal(t, "Body", ev.Node.Name())
		assert.False(t, ev.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	stop()
	assert.Equal(t, 0, svc.Listeners())
}

func TestCloseIsIdempotent(t *testing.T) {
	svc := a11ytest.Desktop()
	c := connectedClient(t, svc)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, svc.Calls("close"))
	assert.False(t, c.Connected())
}

func TestDroppedSessionReconnects(t *testing.T) {
	svc := a11ytest.Desktop()
	c := connectedClient(t, svc)

	svc.Drop()
	assert.False(t, c.Connected())
	_, ok := c.FocusedNode(context.Background())
	assert.False(t, ok)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	assert.Equal(t, 2, svc.Calls("connect"))
	assert.Equal(t, 1, svc.Calls("close"))
}

func TestConcurrentQueries(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		svc := a11ytest.Desktop()
		svc.SetConcurrentSafe(concurrent)
		c := connectedClient(t, svc)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					_, ok := c.FocusedNode(context.Background())
					assert.True(t, ok)
					c.ListApplications(context.Background())
				}
			}()
		}
		wg.Wait()
	}
}

func TestEventTypeNames(t *testing.T) {
	names := make([]string, 0, 3)
	for _, et := range a11y.EventTypes() {
		names = append(names, et.String())
	}
	assert.Equal(t, []string{"focus-changed", "state-changed", "keystroke"}, names)
	assert.Equal(t, "unknown", a11y.EventType(0).String())
}
