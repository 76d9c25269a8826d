package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/filebrowser/internal/config"
	"github.com/desertwitch/filebrowser/internal/fusefs"
	"github.com/desertwitch/filebrowser/internal/webserver"
	"github.com/spf13/cobra"
)

const helperFdEnv = "FILEBROWSER_HELPER_FD"

type mountOpts struct {
	location         string
	mountDir         string
	streamThreshold  string
	dashboardAddress string
}

func mountCmd(p *program) *cobra.Command {
	var argThreshold string
	var argDashAddress string

	cmd := &cobra.Command{
		Use:   "mount <location> <mountpoint>",
		Short: "mount a location as a read-only FUSE filesystem",
		Long:  helpTextMountLong,
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.mount(cmd.Context(), mountOpts{
				location:         args[0],
				mountDir:         args[1],
				streamThreshold:  argThreshold,
				dashboardAddress: argDashAddress,
			})
		},
	}
	cmd.Flags().StringVarP(&argThreshold, "memsize", "m", "", "Size cutoff for loading a file fully into RAM (streaming instead)")
	cmd.Flags().StringVarP(&argDashAddress, "webaddr", "w", "", "Address to serve the diagnostics dashboard on (e.g. :8000; but disabled when empty)")

	return cmd
}

// newMount returns the [fusefs.FS] for a location, with its streaming
// threshold taken from the flag or else from the configuration.
func (p *program) newMount(ctx context.Context, opts mountOpts) (*fusefs.FS, error) {
	threshold := p.cfg.StreamingThresholdBytes()
	if opts.streamThreshold != "" {
		v, err := config.ParseSize(opts.streamThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to parse threshold: %w", err)
		}
		threshold = v
	}

	root, err := p.resolve(ctx, opts.location)
	if err != nil {
		return nil, err
	}
	if !root.IsDir() && !p.fsys.IsArchive(root) {
		return nil, fmt.Errorf("%w: %q is neither a directory nor an archive", errInvalidArgument, opts.location)
	}

	mount, err := fusefs.New(p.fsys, root, p.rbuf)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem: %w", err)
	}
	mount.StreamingThreshold.Store(threshold)

	return mount, nil
}

func (p *program) mount(ctx context.Context, opts mountOpts) error {
	mount, err := p.newMount(ctx, opts)
	if err != nil {
		return err
	}

	c, err := fuse.Mount(opts.mountDir, fuse.ReadOnly(), fuse.AllowOther(), fuse.FSName("filebrowser"))
	if err != nil {
		return fmt.Errorf("fs mount error: %w", err)
	}
	defer c.Close()
	defer fuse.Unmount(opts.mountDir) //nolint:errcheck

	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	wg.Go(func() {
		defer close(errChan)
		if err := fs.Serve(c, mount); err != nil {
			errChan <- fmt.Errorf("fs serve error: %w", err)
		}
	})

	addr := opts.dashboardAddress
	if addr == "" {
		addr = p.cfg.WebAddr
	}
	if addr != "" {
		dash, err := webserver.NewFSDashboard(p.fsys, mount, p.rbuf, Version)
		if err != nil {
			return fmt.Errorf("failed to create dashboard: %w", err)
		}
		srv := dash.Serve(addr)
		defer srv.Close()
	}

	p.rbuf.Printf("Mounted %q at %q\n", opts.location, opts.mountDir)
	if err := notifyHelper(); err != nil {
		p.rbuf.Printf("Error: Mount helper->Notify: %v\n", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		for range sig {
			p.rbuf.Println("Signal received, unmounting the filesystem...")

			if err := fuse.Unmount(opts.mountDir); err != nil {
				p.rbuf.Printf("Unmount error: %v (try again later)\n", err)

				continue
			}

			return
		}
	}()

	sig1 := make(chan os.Signal, 1)
	signal.Notify(sig1, syscall.SIGUSR1)
	defer signal.Stop(sig1)
	go func() {
		for range sig1 {
			p.rbuf.Println("Signal received, forcing garbage collection...")
			runtime.GC()
			debug.FreeOSMemory()
		}
	}()

	sig2 := make(chan os.Signal, 1)
	signal.Notify(sig2, syscall.SIGUSR2)
	defer signal.Stop(sig2)
	go func() {
		for range sig2 {
			p.rbuf.Println("Signal received, printing stacktrace (to stderr)...")
			buf := make([]byte, stackTraceBuffer)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen]) //nolint:errcheck
		}
	}()

	wg.Wait()

	return <-errChan
}

// notifyHelper tells a waiting mount helper that the mount is ready,
// writing one byte to the file descriptor named in [helperFdEnv].
func notifyHelper() error {
	v := os.Getenv(helperFdEnv)
	if v == "" {
		return nil
	}
	os.Unsetenv(helperFdEnv)

	fd, err := strconv.Atoi(v)
	if err != nil || fd < 0 {
		return fmt.Errorf("%w: %s=%q", errInvalidArgument, helperFdEnv, v)
	}

	f := os.NewFile(uintptr(fd), "helper")
	if f == nil {
		return fmt.Errorf("%w: %s=%q", errInvalidArgument, helperFdEnv, v)
	}
	defer f.Close()

	if _, err := f.Write([]byte{1}); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}

	return nil
}
