package a11y

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// maxSnapshotNodes caps a single snapshot so a runaway tree (a spreadsheet,
// a huge web document) cannot stall the caller.
const maxSnapshotNodes = 5000

// snapshot captures ref and up to depth levels of descendants. The caller
// holds the service lock. Failure to read the root is an error; a child
// that cannot be read is left out.
func (c *Client) snapshot(ctx context.Context, ref Ref, depth int) (Node, error) {
	root, children, err := c.readNode(ctx, ref)
	if err != nil {
		return Node{}, err
	}
	b := NewSnapshotBuilder(root)

	type pending struct {
		id       NodeID
		children []Ref
		depth    int
	}
	queue := []pending{{id: b.RootID(), children: children, depth: 0}}
	total := 1

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p.depth >= depth {
			continue
		}
		b.MarkExpanded(p.id)
		for _, cref := range p.children {
			if total >= maxSnapshotNodes {
				c.log.Warn("snapshot truncated", "root", ref.String(), "nodes", total)
				return b.Build().Root(), nil
			}
			if ctx.Err() != nil {
				return Node{}, ctx.Err()
			}
			data, grand, err := c.readNode(ctx, cref)
			if err != nil {
				c.log.Debug("skipping unreadable child", "ref", cref.String(), "error", err)
				continue
			}
			id := b.AddChild(p.id, data)
			total++
			queue = append(queue, pending{id: id, children: grand, depth: p.depth + 1})
		}
	}
	return b.Build().Root(), nil
}

func (c *Client) readNode(ctx context.Context, ref Ref) (NodeData, []Ref, error) {
	role, roleName, err := c.svc.Role(ctx, ref)
	if err != nil {
		return NodeData{}, nil, fmt.Errorf("role of %s: %w", ref, err)
	}
	name, err := c.svc.Name(ctx, ref)
	if err != nil {
		return NodeData{}, nil, fmt.Errorf("name of %s: %w", ref, err)
	}
	desc, err := c.svc.Description(ctx, ref)
	if err != nil {
		return NodeData{}, nil, fmt.Errorf("description of %s: %w", ref, err)
	}
	states, err := c.svc.States(ctx, ref)
	if err != nil {
		return NodeData{}, nil, fmt.Errorf("states of %s: %w", ref, err)
	}
	children, err := c.svc.Children(ctx, ref)
	if err != nil {
		return NodeData{}, nil, fmt.Errorf("children of %s: %w", ref, err)
	}
	return NodeData{
		Ref:         ref,
		Role:        role,
		RoleName:    roleName,
		Name:        name,
		Description: desc,
		States:      states,
		ChildCount:  len(children),
	}, children, nil
}

// FormatTree writes an indented outline of n and its captured descendants.
func FormatTree(w io.Writer, n Node) error {
	var err error
	n.Walk(func(cur Node, depth int) bool {
		if err != nil {
			return false
		}
		line := strings.Repeat("  ", depth) + cur.String()
		if states := cur.States(); states.Len() > 0 {
			line += " " + states.String()
		}
		if !cur.Expanded() && cur.ChildCount() > 0 {
			line += fmt.Sprintf(" (+%d)", cur.ChildCount())
		}
		_, err = fmt.Fprintln(w, line)
		return true
	})
	return err
}
