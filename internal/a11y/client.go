package a11y

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"atbridge/internal/logging"
)

// Client answers accessibility queries over a Service. Query methods never
// fail loudly: a service error is logged and the query degrades to an
// empty result.
type Client struct {
	svc       Service
	log       *logging.Logger
	serialize bool
	mu        sync.Mutex

	connected atomic.Bool
	timeout   time.Duration
	depth     int
	onFailure func(op string, err error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client's logger.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithCallTimeout bounds each query. Zero disables the bound.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithQueryDepth sets how many levels of children focus and hit-test
// snapshots capture.
func WithQueryDepth(depth int) ClientOption {
	return func(c *Client) { c.depth = depth }
}

// WithQueryFailureHook is called for every degraded query.
func WithQueryFailureHook(fn func(op string, err error)) ClientOption {
	return func(c *Client) { c.onFailure = fn }
}

// NewClient wraps svc.
func NewClient(svc Service, opts ...ClientOption) *Client {
	c := &Client{
		svc:     svc,
		timeout: 2 * time.Second,
		depth:   1,
	}
	if cs, ok := svc.(ConcurrentService); !ok || !cs.ConcurrentSafe() {
		c.serialize = true
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.Default().WithComponent("a11y")
	}
	return c
}

func (c *Client) lock() func() {
	if !c.serialize {
		return func() {}
	}
	c.mu.Lock()
	return c.mu.Unlock
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) degrade(op string, err error, args ...any) {
	args = append([]any{"op", op, "error", err}, args...)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoInterface) {
		c.log.Debug("query returned nothing", args...)
	} else {
		c.log.Warn("query failed", args...)
	}
	if c.onFailure != nil {
		c.onFailure(op, err)
	}
}

// Connect establishes the service session.
func (c *Client) Connect(ctx context.Context) error {
	unlock := c.lock()
	defer unlock()

	if c.connected.Load() {
		if c.live() {
			return nil
		}
		c.log.Warn("accessibility session lost, reconnecting")
		_ = c.svc.Close()
		c.connected.Store(false)
	}
	if err := c.svc.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	c.connected.Store(true)
	c.log.Info("connected to accessibility service")
	return nil
}

// Connected reports whether Connect succeeded, Close has not run and the
// service still holds its session.
func (c *Client) Connected() bool {
	return c.connected.Load() && c.live()
}

func (c *Client) live() bool {
	if r, ok := c.svc.(SessionReporter); ok {
		return r.Connected()
	}
	return true
}

// Close ends the service session. It is safe to call repeatedly.
func (c *Client) Close() error {
	unlock := c.lock()
	defer unlock()

	if !c.connected.Swap(false) {
		return nil
	}
	return c.svc.Close()
}

// Ping checks the service is responsive.
func (c *Client) Ping(ctx context.Context) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()
	return c.svc.Ping(ctx)
}

// DesktopRoot returns a snapshot rooted at desktop index with one level of
// children.
func (c *Client) DesktopRoot(ctx context.Context, index int) (Node, error) {
	if !c.connected.Load() {
		return Node{}, ErrNotConnected
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()

	ref, err := c.svc.Desktop(ctx, index)
	if err != nil {
		return Node{}, fmt.Errorf("desktop %d: %w", index, err)
	}
	return c.snapshot(ctx, ref, 1)
}

// Tree returns a snapshot rooted at ref with up to depth levels of
// descendants. A zero ref selects desktop 0.
func (c *Client) Tree(ctx context.Context, ref Ref, depth int) (Node, error) {
	if !c.connected.Load() {
		return Node{}, ErrNotConnected
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()

	if ref.IsZero() {
		var err error
		if ref, err = c.svc.Desktop(ctx, 0); err != nil {
			return Node{}, fmt.Errorf("desktop 0: %w", err)
		}
	}
	return c.snapshot(ctx, ref, depth)
}

// FocusedNode returns the object holding keyboard focus.
func (c *Client) FocusedNode(ctx context.Context) (Node, bool) {
	if !c.connected.Load() {
		c.degrade("focused", ErrNotConnected)
		return Node{}, false
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()

	ref, err := c.svc.Focused(ctx)
	if err != nil {
		c.degrade("focused", err)
		return Node{}, false
	}
	n, err := c.snapshot(ctx, ref, c.depth)
	if err != nil {
		c.degrade("focused", err, "ref", ref.String())
		return Node{}, false
	}
	return n, true
}

// NodeAtPoint returns the deepest object at screen coordinates x, y.
func (c *Client) NodeAtPoint(ctx context.Context, x, y int) (Node, bool) {
	if !c.connected.Load() {
		c.degrade("at_point", ErrNotConnected)
		return Node{}, false
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()

	ref, err := c.svc.AccessibleAtPoint(ctx, x, y)
	if err != nil {
		c.degrade("at_point", err, "x", x, "y", y)
		return Node{}, false
	}
	n, err := c.snapshot(ctx, ref, c.depth)
	if err != nil {
		c.degrade("at_point", err, "ref", ref.String())
		return Node{}, false
	}
	return n, true
}

// Resolve captures the object behind ref, with the client's query depth.
func (c *Client) Resolve(ctx context.Context, ref Ref) (Node, bool) {
	if !c.connected.Load() {
		c.degrade("resolve", ErrNotConnected)
		return Node{}, false
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()

	n, err := c.snapshot(ctx, ref, c.depth)
	if err != nil {
		c.degrade("resolve", err, "ref", ref.String())
		return Node{}, false
	}
	return n, true
}

// ListApplications lists the application children of every desktop.
// Children with another role, and applications whose attributes cannot all
// be read, are skipped.
func (c *Client) ListApplications(ctx context.Context) []AppSummary {
	apps := []AppSummary{}
	if !c.connected.Load() {
		c.degrade("applications", ErrNotConnected)
		return apps
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()

	count, err := c.svc.DesktopCount(ctx)
	if err != nil {
		c.degrade("applications", err)
		return apps
	}
	for d := 0; d < count; d++ {
		desktop, err := c.svc.Desktop(ctx, d)
		if err != nil {
			c.degrade("applications", err, "desktop", d)
			continue
		}
		children, err := c.svc.Children(ctx, desktop)
		if err != nil {
			c.degrade("applications", err, "desktop", d)
			continue
		}
		for _, ref := range children {
			app, err := c.summarize(ctx, ref)
			if err != nil {
				c.log.Debug("skipping application", "ref", ref.String(), "error", err)
				continue
			}
			apps = append(apps, app)
		}
	}
	return apps
}

var errNotApplication = errors.New("not an application")

func (c *Client) summarize(ctx context.Context, ref Ref) (AppSummary, error) {
	role, roleName, err := c.svc.Role(ctx, ref)
	if err != nil {
		return AppSummary{}, fmt.Errorf("role: %w", err)
	}
	if role != RoleApplication {
		return AppSummary{}, fmt.Errorf("%w: %s", errNotApplication, role)
	}
	name, err := c.svc.Name(ctx, ref)
	if err != nil {
		return AppSummary{}, fmt.Errorf("name: %w", err)
	}
	pid, err := c.svc.ProcessID(ctx, ref)
	if err != nil {
		return AppSummary{}, fmt.Errorf("pid: %w", err)
	}
	desc, err := c.svc.Description(ctx, ref)
	if err != nil {
		return AppSummary{}, fmt.Errorf("description: %w", err)
	}
	if roleName == "" {
		roleName = role.String()
	}
	return AppSummary{Ref: ref, Name: name, PID: pid, Role: roleName, Description: desc}, nil
}

// NodeText returns the node's text content, or "" when it has none.
func (c *Client) NodeText(ctx context.Context, n Node) string {
	if n.IsZero() || !c.connected.Load() {
		return ""
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()

	text, err := c.svc.Text(ctx, n.Ref())
	if err != nil {
		c.degrade("text", err, "ref", n.Ref().String())
		return ""
	}
	return text
}

// NodeActions returns the names of the node's actions in index order.
func (c *Client) NodeActions(ctx context.Context, n Node) []string {
	if n.IsZero() || !c.connected.Load() {
		return []string{}
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()

	actions, err := c.actions(ctx, n.Ref())
	if err != nil {
		c.degrade("actions", err, "ref", n.Ref().String())
		return []string{}
	}
	return actions
}

func (c *Client) actions(ctx context.Context, ref Ref) ([]string, error) {
	actions, err := c.svc.Actions(ctx, ref)
	if err != nil {
		return nil, err
	}
	if actions == nil {
		actions = []string{}
	}
	return actions, nil
}

// PerformAction invokes the action whose name equals name exactly. It
// reports whether the service accepted the invocation.
func (c *Client) PerformAction(ctx context.Context, n Node, name string) bool {
	if n.IsZero() || !c.connected.Load() {
		return false
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()

	actions, err := c.actions(ctx, n.Ref())
	if err != nil {
		c.degrade("perform", err, "ref", n.Ref().String())
		return false
	}
	for i, a := range actions {
		if a != name {
			continue
		}
		ok, err := c.svc.DoAction(ctx, n.Ref(), i)
		if err != nil {
			c.degrade("perform", err, "ref", n.Ref().String(), "action", name)
			return false
		}
		return ok
	}
	c.log.Debug("action not offered", "ref", n.Ref().String(), "action", name)
	return false
}

// Listen forwards service events to sink. Events with a source are
// resolved into a shallow node before delivery when possible.
func (c *Client) Listen(ctx context.Context, sink func(Event)) (func(), error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	return c.svc.Listen(ctx, func(ev Event) {
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		if !ev.Source.IsZero() && ev.Node.IsZero() && c.connected.Load() {
			if n, err := c.resolveShallow(ctx, ev.Source); err == nil {
				ev.Node = n
			} else {
				c.log.Debug("event source unresolved", "ref", ev.Source.String(), "error", err)
			}
		}
		sink(ev)
	})
}

func (c *Client) resolveShallow(ctx context.Context, ref Ref) (Node, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	unlock := c.lock()
	defer unlock()
	return c.snapshot(ctx, ref, 0)
}
