package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/desertwitch/filebrowser/internal/vfs"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
)

const timeFormat = "2006-01-02 15:04"

func lsCmd(p *program) *cobra.Command {
	var argAll bool
	var argQuote bool

	cmd := &cobra.Command{
		Use:   "ls <location>",
		Short: "list the children of a directory or archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.ls(cmd.Context(), args[0], argAll, argQuote)
		},
	}
	cmd.Flags().BoolVarP(&argAll, "all", "a", false, "Include entries whose names start with a dot")
	cmd.Flags().BoolVarP(&argQuote, "quote", "q", false, "Quote names for use in a shell")

	return cmd
}

func catCmd(p *program) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <location>",
		Short: "write the content of a file to standard output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.cat(cmd.Context(), args[0])
		},
	}
}

func statCmd(p *program) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <location>",
		Short: "show the attributes and detected type of a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.stat(cmd.Context(), args[0])
		},
	}
}

func treeCmd(p *program) *cobra.Command {
	var argArchives bool

	cmd := &cobra.Command{
		Use:   "tree <location>",
		Short: "show the tree below a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.tree(cmd.Context(), args[0], argArchives)
		},
	}
	cmd.Flags().BoolVarP(&argArchives, "archives", "r", false, "Descend into archives")

	return cmd
}

func findCmd(p *program) *cobra.Command {
	var argArchives bool

	cmd := &cobra.Command{
		Use:   "find <location> <glob>",
		Short: "find paths below a location matching a glob (e.g. **/*.txt)",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.find(cmd.Context(), args[0], args[1], argArchives)
		},
	}
	cmd.Flags().BoolVarP(&argArchives, "archives", "r", false, "Descend into archives")

	return cmd
}

func pingCmd(p *program) *cobra.Command {
	return &cobra.Command{
		Use:   "ping <ftp-url>",
		Short: "test the connection to an FTP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.ping(cmd.Context(), args[0])
		},
	}
}

func (p *program) ls(ctx context.Context, loc string, all bool, quote bool) error {
	n, err := p.resolve(ctx, loc)
	if err != nil {
		return err
	}

	children, err := n.Children(ctx)
	switch {
	case errors.Is(err, vfs.ErrNotApplicable):
		children = []vfs.Node{n}

	case err != nil:
		return fmt.Errorf("failed to list %q: %w", loc, err)

	default:
		if !all {
			children = slices.DeleteFunc(children, func(c vfs.Node) bool {
				return strings.HasPrefix(c.Name(), ".")
			})
		}

		pd, err := vfs.NewParentDir(ctx, n)
		if err == nil {
			children = append(children, pd)
		} else if !errors.Is(err, vfs.ErrNotApplicable) {
			p.rbuf.Debugf("%q->ParentDir: %v\n", n.FullPath(), err)
		}
	}
	vfs.SortNodes(children)

	tw := tabwriter.NewWriter(p.stdout, 0, 0, 2, ' ', 0) //nolint:mnd
	for _, c := range children {
		name := c.Name()
		if quote {
			name = shellescape.Quote(name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.typeOf(c), sizeOf(c), timeOf(c.ModTime()), name)
	}

	return tw.Flush() //nolint:wrapcheck
}

func (p *program) cat(ctx context.Context, loc string) error {
	n, err := p.resolve(ctx, loc)
	if err != nil {
		return err
	}

	rc, err := n.Content(ctx)
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", loc, err)
	}
	defer rc.Close()

	if _, err := io.Copy(p.stdout, rc); err != nil {
		return fmt.Errorf("failed to copy %q: %w", loc, err)
	}

	return nil
}

func (p *program) stat(ctx context.Context, loc string) error {
	n, err := p.resolve(ctx, loc)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(p.stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", n.Name())
	fmt.Fprintf(tw, "Path:\t%s\n", n.FullPath())
	fmt.Fprintf(tw, "Backend:\t%s\n", n.Kind())
	fmt.Fprintf(tw, "Type:\t%s\n", typeName(p.typeOf(n)))
	fmt.Fprintf(tw, "Size:\t%s\n", sizeOf(n))
	fmt.Fprintf(tw, "Modified:\t%s\n", timeOf(n.ModTime()))
	fmt.Fprintf(tw, "MIME:\t%s\n", p.mimeOf(ctx, n))

	return tw.Flush() //nolint:wrapcheck
}

func (p *program) tree(ctx context.Context, loc string, archives bool) error {
	n, err := p.resolve(ctx, loc)
	if err != nil {
		return err
	}

	return p.fsys.Walk(ctx, n, archives, func(path string, c vfs.Node) error { //nolint:wrapcheck
		if path == "/" {
			fmt.Fprintln(p.stdout, c.FullPath())

			return nil
		}

		depth := strings.Count(path, "/")
		name := c.Name()
		if p.typeOf(c) != "-" {
			name += "/"
		}
		fmt.Fprintf(p.stdout, "%s%s\n", strings.Repeat("  ", depth), name)

		return nil
	})
}

func (p *program) find(ctx context.Context, loc string, pattern string, archives bool) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("%w: bad pattern %q", errInvalidArgument, pattern)
	}

	n, err := p.resolve(ctx, loc)
	if err != nil {
		return err
	}

	return p.fsys.Walk(ctx, n, archives, func(path string, _ vfs.Node) error { //nolint:wrapcheck
		if path == "/" {
			return nil
		}

		rel := strings.TrimPrefix(path, "/")
		if ok, _ := doublestar.Match(pattern, rel); ok {
			fmt.Fprintln(p.stdout, rel)
		}

		return nil
	})
}

func (p *program) ping(ctx context.Context, loc string) error {
	if !isRemote(loc) {
		return fmt.Errorf("%w: not an ftp url: %q", errInvalidArgument, loc)
	}

	o, _, err := p.origin(loc)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := o.TestConnection(ctx); err != nil {
		return fmt.Errorf("failed to reach %s: %w", o.Key(), err)
	}
	elapsed := time.Since(start)

	dir, err := o.InitialDirectory(ctx)
	if err != nil {
		return fmt.Errorf("failed to get initial directory of %s: %w", o.Key(), err)
	}

	fmt.Fprintf(p.stdout, "%s is reachable (%s), initial directory %s\n",
		o.Key(), elapsed.Round(time.Millisecond), dir.Path())

	return nil
}

// typeOf returns "d" for directories, "a" for archives and "-" for files.
func (p *program) typeOf(n vfs.Node) string {
	switch {
	case n.IsDir():
		return "d"
	case p.fsys.IsArchive(n):
		return "a"
	default:
		return "-"
	}
}

func typeName(t string) string {
	switch t {
	case "d":
		return "directory"
	case "a":
		return "archive"
	default:
		return "file"
	}
}

// mimeOf returns the detected media type of the content of a node.
func (p *program) mimeOf(ctx context.Context, n vfs.Node) string {
	if n.IsDir() {
		return "inode/directory"
	}

	rc, err := n.Content(ctx)
	if err != nil {
		p.rbuf.Debugf("%q->MIME: %v\n", n.FullPath(), err)

		return "-"
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return "-"
	}

	return mt.String()
}

func sizeOf(n vfs.Node) string {
	switch size := n.Size(); {
	case n.IsDir():
		return "-"
	case size < 0:
		return "?"
	default:
		return humanize.IBytes(uint64(size))
	}
}

func timeOf(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.Local().Format(timeFormat)
}
