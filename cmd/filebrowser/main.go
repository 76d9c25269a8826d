/*
filebrowser browses local directories, FTP servers and ZIP archives as one
uniform tree. Archives (and archives inside of archives) are entered like
directories, remote content is fetched on demand into a local cache store.

Locations are either local paths or URLs of the form
"ftp://[user[:pass]@]host[:port]/path"; any path segment past an archive
walks into that archive, e.g. "/tmp/outer.zip/inner.zip/leaf.txt".

The following environment variables configure the defaults:
  - FILEBROWSER_CACHE_TTL for the freshness of remote local copies
  - FILEBROWSER_CONTENT_CEILING for the largest archive entry read into memory
  - FILEBROWSER_TEMP_DIR for the location of the cache store
  - FILEBROWSER_FTP_USER, FILEBROWSER_FTP_PASSWORD, FILEBROWSER_FTP_TIMEOUT
  - FILEBROWSER_LOG_FILE for an additional rotating log file
  - FILEBROWSER_WEB_ADDR for the diagnostics dashboard of mounts
*/
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/desertwitch/filebrowser/internal/config"
	"github.com/desertwitch/filebrowser/internal/ftpclient"
	"github.com/desertwitch/filebrowser/internal/logging"
	"github.com/desertwitch/filebrowser/internal/vfs"
	"github.com/spf13/cobra"
)

const (
	stackTraceBuffer = 1 << 24
)

// Version is the program version (filled in from the Makefile).
var Version string

var errInvalidArgument = errors.New("invalid argument")

// program holds everything the commands share for one invocation.
type program struct {
	stdout io.Writer
	logOut io.Writer // Standard error plus log file when nil.

	cfg    *config.Config
	rbuf   *logging.RingBuffer
	fsys   *vfs.FS
	closer io.Closer

	// dial returns the dialer for an FTP location.
	dial func(cfg ftpclient.Config) (vfs.Dialer, error)

	argVerbose bool
	argCeiling string
	argTTL     time.Duration
}

func newProgram(stdout, logOut io.Writer) *program {
	return &program{
		stdout: stdout,
		logOut: logOut,
		dial: func(cfg ftpclient.Config) (vfs.Dialer, error) {
			c, err := ftpclient.New(cfg)
			if err != nil {
				return nil, err //nolint:wrapcheck
			}

			return c, nil
		},
	}
}

// setup loads the configuration and creates the filesystem.
func (p *program) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return err //nolint:wrapcheck
	}
	if p.argCeiling != "" {
		cfg.ContentCeiling = p.argCeiling
	}
	if p.argTTL > 0 {
		cfg.TTL = p.argTTL
	}
	p.cfg = cfg

	opts, err := cfg.VFSOptions()
	if err != nil {
		return err //nolint:wrapcheck
	}

	out := p.logOut
	if out == nil {
		out, p.closer = logging.NewOutput(cfg.Rotation())
	}
	p.rbuf = logging.NewRingBuffer(max(1, cfg.BufferSize), out)
	p.rbuf.Verbose.Store(cfg.Verbose || p.argVerbose)

	fsys, err := vfs.NewFS(opts, p.rbuf)
	if err != nil {
		return fmt.Errorf("failed to create filesystem: %w", err)
	}
	p.fsys = fsys

	return nil
}

// close removes the scratch storage and closes the log file.
func (p *program) close() {
	if p.fsys != nil {
		p.fsys.Cleanup()
		p.fsys = nil
	}
	if p.closer != nil {
		_ = p.closer.Close()
		p.closer = nil
	}
}

func rootCmd(p *program) *cobra.Command {
	cmd := &cobra.Command{
		Use:           helpTextUse,
		Short:         helpTextShort,
		Long:          helpTextLong,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return p.setup()
		},
	}
	cmd.SetOut(p.stdout)

	cmd.PersistentFlags().BoolVarP(&p.argVerbose, "verbose", "v", false, "Log debug messages")
	cmd.PersistentFlags().StringVarP(&p.argCeiling, "ceiling", "c", "", "Largest archive entry read into memory (e.g. 30MiB)")
	cmd.PersistentFlags().DurationVar(&p.argTTL, "cache-ttl", 0, "Time for which local copies of remote content stay fresh")

	cmd.AddCommand(
		lsCmd(p),
		catCmd(p),
		statCmd(p),
		treeCmd(p),
		findCmd(p),
		pingCmd(p),
		mountCmd(p),
	)

	return cmd
}

func main() {
	p := newProgram(os.Stdout, nil)

	err := rootCmd(p).Execute()
	p.close()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
