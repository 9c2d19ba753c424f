// Package a11y models the desktop accessibility tree and wraps the platform
// accessibility service behind a small client.
//
// Query results are immutable snapshots. A Snapshot owns every node it
// captured in a flat arena; a Node is a value handle into that arena, so
// parent and child navigation are index lookups and no node holds a
// pointer to another. A node's parent is only known within the snapshot
// that produced it: the root of a query has no parent.
package a11y

import (
	"fmt"
	"strings"
)

// Ref identifies an accessible object on the platform service. For AT-SPI
// Bus is the unique bus name of the owning application and Path its object
// path.
type Ref struct {
	Bus  string `json:"bus"`
	Path string `json:"path"`
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.Bus == "" && r.Path == ""
}

func (r Ref) String() string {
	return r.Bus + ":" + r.Path
}

// ParseRef parses the "bus:path" form produced by Ref.String.
func ParseRef(s string) (Ref, error) {
	i := strings.LastIndex(s, ":/")
	if i <= 0 {
		return Ref{}, fmt.Errorf("invalid node reference %q", s)
	}
	return Ref{Bus: s[:i], Path: s[i+1:]}, nil
}

// NodeID indexes a node inside its Snapshot.
type NodeID int32

const noNode NodeID = -1

type nodeRecord struct {
	ref         Ref
	role        Role
	roleName    string
	name        string
	description string
	states      StateSet
	parent      NodeID
	children    []NodeID
	childCount  int
	expanded    bool
}

// Snapshot is an immutable capture of part of the accessibility tree.
type Snapshot struct {
	nodes []nodeRecord
}

// Root returns the node the snapshot was captured from.
func (s *Snapshot) Root() Node {
	if s == nil || len(s.nodes) == 0 {
		return Node{}
	}
	return Node{snap: s, id: 0}
}

// Len returns the number of nodes in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.nodes)
}

// Node is a read-only view of one accessible object. The zero Node is
// valid and reports empty values.
type Node struct {
	snap *Snapshot
	id   NodeID
}

func (n Node) rec() *nodeRecord {
	if n.snap == nil || n.id < 0 || int(n.id) >= len(n.snap.nodes) {
		return nil
	}
	return &n.snap.nodes[n.id]
}

// IsZero reports whether n refers to nothing.
func (n Node) IsZero() bool {
	return n.rec() == nil
}

// ID returns the node's index in its snapshot.
func (n Node) ID() NodeID {
	return n.id
}

// Snapshot returns the arena that owns n.
func (n Node) Snapshot() *Snapshot {
	return n.snap
}

// Ref returns the platform handle for n.
func (n Node) Ref() Ref {
	if r := n.rec(); r != nil {
		return r.ref
	}
	return Ref{}
}

// Role returns the node's role.
func (n Node) Role() Role {
	if r := n.rec(); r != nil {
		return r.role
	}
	return RoleUnknown
}

// RoleName returns the role name reported by the platform, falling back to
// the canonical name of Role.
func (n Node) RoleName() string {
	if r := n.rec(); r != nil {
		if r.roleName != "" {
			return r.roleName
		}
		return r.role.String()
	}
	return RoleUnknown.String()
}

// Name returns the accessible name.
func (n Node) Name() string {
	if r := n.rec(); r != nil {
		return r.name
	}
	return ""
}

// Description returns the accessible description.
func (n Node) Description() string {
	if r := n.rec(); r != nil {
		return r.description
	}
	return ""
}

// States returns the node's state set.
func (n Node) States() StateSet {
	if r := n.rec(); r != nil {
		return r.states
	}
	return 0
}

// Is reports whether the node has state f.
func (n Node) Is(f StateFlag) bool {
	return n.States().Has(f)
}

func (n Node) IsFocused() bool { return n.Is(StateFocused) }
func (n Node) IsVisible() bool { return n.Is(StateVisible) }
func (n Node) IsEnabled() bool { return n.Is(StateEnabled) }

// Children returns the captured children in platform order. The slice is
// freshly allocated on every call.
func (n Node) Children() []Node {
	r := n.rec()
	if r == nil {
		return []Node{}
	}
	out := make([]Node, len(r.children))
	for i, id := range r.children {
		out[i] = Node{snap: n.snap, id: id}
	}
	return out
}

// ChildCount returns how many children the platform reported, which may
// exceed len(Children()) when the snapshot stopped at a depth limit.
func (n Node) ChildCount() int {
	if r := n.rec(); r != nil {
		return r.childCount
	}
	return 0
}

// Expanded reports whether the node's children were captured.
func (n Node) Expanded() bool {
	if r := n.rec(); r != nil {
		return r.expanded
	}
	return false
}

// Parent returns the node's parent within the snapshot. The snapshot root
// has no parent.
func (n Node) Parent() (Node, bool) {
	r := n.rec()
	if r == nil || r.parent == noNode {
		return Node{}, false
	}
	return Node{snap: n.snap, id: r.parent}, true
}

// Walk visits n and its captured descendants depth first. Returning false
// from fn skips the visited node's children.
func (n Node) Walk(fn func(node Node, depth int) bool) {
	if n.IsZero() {
		return
	}
	var visit func(Node, int)
	visit = func(cur Node, depth int) {
		if !fn(cur, depth) {
			return
		}
		for _, c := range cur.Children() {
			visit(c, depth+1)
		}
	}
	visit(n, 0)
}

// Find returns the first node in depth-first order matching pred.
func (n Node) Find(pred func(Node) bool) (Node, bool) {
	var found Node
	ok := false
	n.Walk(func(cur Node, _ int) bool {
		if ok {
			return false
		}
		if pred(cur) {
			found, ok = cur, true
			return false
		}
		return true
	})
	return found, ok
}

func (n Node) String() string {
	if n.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("[%s] %q", n.RoleName(), n.Name())
}

// NodeData carries the attributes of one node into a SnapshotBuilder.
type NodeData struct {
	Ref         Ref
	Role        Role
	RoleName    string
	Name        string
	Description string
	States      StateSet
	ChildCount  int
}

// SnapshotBuilder assembles a Snapshot. Nodes must be added parent first.
type SnapshotBuilder struct {
	snap *Snapshot
}

// NewSnapshotBuilder starts a snapshot whose root is described by root.
func NewSnapshotBuilder(root NodeData) *SnapshotBuilder {
	b := &SnapshotBuilder{snap: &Snapshot{}}
	b.add(noNode, root)
	return b
}

// RootID returns the id of the snapshot root.
func (b *SnapshotBuilder) RootID() NodeID {
	return 0
}

// AddChild appends a child of parent and returns its id.
func (b *SnapshotBuilder) AddChild(parent NodeID, data NodeData) NodeID {
	id := b.add(parent, data)
	p := &b.snap.nodes[parent]
	p.children = append(p.children, id)
	p.expanded = true
	return id
}

// MarkExpanded records that parent's children were captured, even if it
// ended up with none.
func (b *SnapshotBuilder) MarkExpanded(parent NodeID) {
	b.snap.nodes[parent].expanded = true
}

func (b *SnapshotBuilder) add(parent NodeID, d NodeData) NodeID {
	id := NodeID(len(b.snap.nodes))
	b.snap.nodes = append(b.snap.nodes, nodeRecord{
		ref:         d.Ref,
		role:        d.Role,
		roleName:    d.RoleName,
		name:        d.Name,
		description: d.Description,
		states:      d.States,
		parent:      parent,
		childCount:  d.ChildCount,
	})
	return id
}

// Build returns the finished snapshot. The builder must not be used after.
func (b *SnapshotBuilder) Build() *Snapshot {
	s := b.snap
	b.snap = nil
	return s
}
