package vfs

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ParentDirName is the name of a [ParentDirNode].
const ParentDirName = ".."

var _ Node = (*ParentDirNode)(nil)

// ParentDirNode presents the parent of a node as a pseudo-child named "..",
// for listings that offer upward navigation. It represents the parent:
// everything but its name is that of the parent.
type ParentDirNode struct {
	child  Node
	parent Node
}

// NewParentDir returns the [ParentDirNode] for the parent of the child.
// For nodes without a parent, [ErrNotApplicable] is returned.
func NewParentDir(ctx context.Context, child Node) (*ParentDirNode, error) {
	if !child.HasParent() {
		return nil, fmt.Errorf("%w: %q has no parent", ErrNotApplicable, child.FullPath())
	}

	parent, err := child.Parent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent: %w", err)
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: %q is at the root", ErrNotApplicable, child.FullPath())
	}

	return &ParentDirNode{child: child, parent: parent}, nil
}

// Unwrap returns the parent node that is represented.
func (p *ParentDirNode) Unwrap() Node {
	return p.parent
}

// Child returns the node the [ParentDirNode] was created for.
func (p *ParentDirNode) Child() Node {
	return p.child
}

func (p *ParentDirNode) Kind() Kind {
	return p.parent.Kind()
}

func (p *ParentDirNode) Name() string {
	return ParentDirName
}

func (p *ParentDirNode) FullPath() string {
	return p.parent.FullPath()
}

func (p *ParentDirNode) IsDir() bool {
	return true
}

func (p *ParentDirNode) HasParent() bool {
	return p.parent.HasParent()
}

func (p *ParentDirNode) Size() int64 {
	return p.parent.Size()
}

func (p *ParentDirNode) ModTime() time.Time {
	return p.parent.ModTime()
}

func (p *ParentDirNode) Parent(ctx context.Context) (Node, error) {
	return p.parent.Parent(ctx) //nolint:wrapcheck
}

func (p *ParentDirNode) Children(ctx context.Context) ([]Node, error) {
	return p.parent.Children(ctx) //nolint:wrapcheck
}

func (p *ParentDirNode) Content(ctx context.Context) (io.ReadCloser, error) {
	return p.parent.Content(ctx) //nolint:wrapcheck
}

// unwrap returns the node represented by a possible [ParentDirNode].
func unwrap(n Node) Node {
	for {
		p, ok := n.(*ParentDirNode)
		if !ok {
			return n
		}
		n = p.parent
	}
}

// Equal reports if two nodes represent the same location: the same kind,
// the same normalized full path and the same directory flag, and for
// archived nodes also an equal owning archive.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	a, b = unwrap(a), unwrap(b)

	if a.Kind() != b.Kind() || a.IsDir() != b.IsDir() {
		return false
	}
	if normalizeFullPath(a) != normalizeFullPath(b) {
		return false
	}

	aa, ok := a.(*ArchivedNode)
	if !ok {
		return true
	}
	bb, ok := b.(*ArchivedNode)
	if !ok {
		return false
	}

	return Equal(aa.owner, bb.owner)
}

func normalizeFullPath(n Node) string {
	if n.Kind() == KindLocal {
		return filepath.Clean(n.FullPath())
	}

	p := strings.ReplaceAll(n.FullPath(), "\\", "/")
	if trimmed := strings.TrimRight(p, "/"); trimmed != "" {
		return trimmed
	}

	return p
}

// SortNodes orders nodes for presentation: a [ParentDirNode] first,
// then directories, then all other nodes, each group by name.
func SortNodes(nodes []Node) {
	rank := func(n Node) int {
		switch {
		case n.Name() == ParentDirName:
			return 0
		case n.IsDir():
			return 1
		default:
			return 2
		}
	}

	slices.SortStableFunc(nodes, func(a, b Node) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}

		return strings.Compare(a.Name(), b.Name())
	})
}
