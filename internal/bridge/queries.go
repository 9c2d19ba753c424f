package bridge

import (
	"context"

	"atbridge/internal/a11y"
)

// session returns the connected client, or nil with a log line naming op.
func (m *Manager) session(op string) *a11y.Client {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	if c == nil {
		m.log.Warn("query before initialize", "op", op)
	}
	return c
}

// FocusedNode returns the node holding keyboard focus.
func (m *Manager) FocusedNode(ctx context.Context) (a11y.Node, bool) {
	c := m.session("focused_node")
	if c == nil {
		return a11y.Node{}, false
	}
	return c.FocusedNode(ctx)
}

// NodeAtPoint returns the deepest node at screen coordinates x, y.
func (m *Manager) NodeAtPoint(ctx context.Context, x, y int) (a11y.Node, bool) {
	c := m.session("node_at_point")
	if c == nil {
		return a11y.Node{}, false
	}
	return c.NodeAtPoint(ctx, x, y)
}

// ListApplications summarizes running accessible applications.
func (m *Manager) ListApplications(ctx context.Context) []a11y.AppSummary {
	c := m.session("list_applications")
	if c == nil {
		return []a11y.AppSummary{}
	}
	return c.ListApplications(ctx)
}

// DesktopRoot returns the desktop at index with its applications.
func (m *Manager) DesktopRoot(ctx context.Context, index int) (a11y.Node, error) {
	c := m.session("desktop_root")
	if c == nil {
		return a11y.Node{}, ErrNotInitialized
	}
	return c.DesktopRoot(ctx, index)
}

// Tree captures ref and depth levels of descendants. A negative depth uses
// the configured default; a zero ref means the first desktop.
func (m *Manager) Tree(ctx context.Context, ref a11y.Ref, depth int) (a11y.Node, error) {
	c := m.session("tree")
	if c == nil {
		return a11y.Node{}, ErrNotInitialized
	}
	if depth < 0 {
		m.mu.Lock()
		if m.cfg != nil {
			depth = m.cfg.Accessibility.TreeDepth
		}
		m.mu.Unlock()
	}
	return c.Tree(ctx, ref, depth)
}

// Resolve reads a single node by reference.
func (m *Manager) Resolve(ctx context.Context, ref a11y.Ref) (a11y.Node, bool) {
	c := m.session("resolve")
	if c == nil {
		return a11y.Node{}, false
	}
	return c.Resolve(ctx, ref)
}

// NodeText returns the text content of n, or "".
func (m *Manager) NodeText(ctx context.Context, n a11y.Node) string {
	c := m.session("node_text")
	if c == nil {
		return ""
	}
	return c.NodeText(ctx, n)
}

// NodeActions lists the actions n offers.
func (m *Manager) NodeActions(ctx context.Context, n a11y.Node) []string {
	c := m.session("node_actions")
	if c == nil {
		return []string{}
	}
	return c.NodeActions(ctx, n)
}

// PerformAction invokes the named action on n.
func (m *Manager) PerformAction(ctx context.Context, n a11y.Node, name string) bool {
	c := m.session("perform_action")
	if c == nil {
		return false
	}
	return c.PerformAction(ctx, n, name)
}
