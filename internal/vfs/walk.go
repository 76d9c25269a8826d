package vfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// WalkFunc gets called on each visited [Node] as part of a [FS.Walk].
// The path is relative to the walked root, which itself is visited as "/".
// Returning [fs.SkipDir] skips the children of the visited node.
type WalkFunc func(path string, n Node) error

// Walk walks the tree below root, calling walkFn on each visited [Node].
// Archives are descended into as directories when descendArchives is set.
func (fsys *FS) Walk(ctx context.Context, root Node, descendArchives bool, walkFn WalkFunc) error {
	err := fsys.walkNode(ctx, "/", root, descendArchives, walkFn)
	if errors.Is(err, fs.SkipDir) {
		return nil
	}

	return err
}

func (fsys *FS) walkNode(ctx context.Context, path string, n Node, descendArchives bool, walkFn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if err := walkFn(path, n); err != nil {
		if errors.Is(err, fs.SkipDir) {
			return nil
		}

		return fmt.Errorf("walkfn error at %q: %w", path, err)
	}

	if !n.IsDir() && (!descendArchives || !fsys.IsArchive(n)) {
		return nil
	}

	children, err := n.Children(ctx)
	if err != nil {
		return fmt.Errorf("children error at %q: %w", path, err)
	}
	SortNodes(children)

	for _, child := range children {
		childPath := path
		if path != "/" {
			childPath += "/"
		}
		childPath += child.Name()

		if err := fsys.walkNode(ctx, childPath, child, descendArchives, walkFn); err != nil {
			return err
		}
	}

	return nil
}

// Lookup returns the child of a directory or archive with the given name.
// The name ".." returns the parent.
func Lookup(ctx context.Context, n Node, name string) (Node, error) {
	if name == ParentDirName {
		parent, err := n.Parent(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get parent: %w", err)
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: %q has no parent", ErrNotFound, n.FullPath())
		}

		return parent, nil
	}

	children, err := n.Children(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get children: %w", err)
	}

	for _, c := range children {
		if c.Name() == name {
			return c, nil
		}
	}

	return nil, fmt.Errorf("%w: %q in %q", ErrNotFound, name, n.FullPath())
}

// Resolve returns the node at a slash-separated path relative to root,
// descending into archives (and archives inside of them) as needed.
func Resolve(ctx context.Context, root Node, rel string) (Node, error) {
	n := root

	for seg := range strings.SplitSeq(strings.ReplaceAll(rel, "\\", "/"), "/") {
		if seg == "" || seg == "." {
			continue
		}

		next, err := Lookup(ctx, n, seg)
		if err != nil {
			return nil, err
		}
		n = next
	}

	return n, nil
}
