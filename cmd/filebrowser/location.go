package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertwitch/filebrowser/internal/ftpclient"
	"github.com/desertwitch/filebrowser/internal/vfs"
)

const ftpScheme = "ftp://"

func isRemote(loc string) bool {
	return strings.HasPrefix(strings.ToLower(loc), ftpScheme)
}

// origin returns the [vfs.Origin] and remote path of an FTP location.
func (p *program) origin(loc string) (*vfs.Origin, string, error) {
	cfg, rpath, err := ftpclient.ParseURL(loc, p.cfg.FTPDefaults())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errInvalidArgument, err)
	}

	dialer, err := p.dial(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create client: %w", err)
	}

	return p.fsys.Remote(dialer), rpath, nil
}

// resolve returns the node of a location, walking into archives
// for all path segments that do not exist on disk or on the server.
func (p *program) resolve(ctx context.Context, loc string) (vfs.Node, error) {
	if isRemote(loc) {
		o, rpath, err := p.origin(loc)
		if err != nil {
			return nil, err
		}

		if rpath == "/" && !strings.HasSuffix(loc, "/") {
			n, err := o.InitialDirectory(ctx)
			if err != nil {
				return nil, err //nolint:wrapcheck
			}

			return n, nil
		}

		return vfs.Resolve(ctx, o.Root(), rpath) //nolint:wrapcheck
	}

	base, rest, err := splitLocal(loc)
	if err != nil {
		return nil, err
	}

	root, err := p.fsys.Local(base)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", base, err)
	}

	return vfs.Resolve(ctx, root, rest) //nolint:wrapcheck
}

// splitLocal splits a local location into its longest existing path
// and the remaining slash-separated segments below it.
func splitLocal(loc string) (string, string, error) {
	abs, err := filepath.Abs(loc)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", errInvalidArgument, err)
	}

	base := abs
	var rest []string

	for {
		if _, err := os.Stat(base); err == nil {
			break
		}

		parent := filepath.Dir(base)
		if parent == base {
			return "", "", fmt.Errorf("%w: %q", vfs.ErrNotFound, loc)
		}

		rest = append([]string{filepath.Base(base)}, rest...)
		base = parent
	}

	return base, strings.Join(rest, "/"), nil
}
