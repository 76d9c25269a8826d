// Package ftpclient implements the remote sessions of the virtual filesystem
// over FTP, with every session being a separate logged-in connection.
package ftpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/desertwitch/filebrowser/internal/vfs"
	"github.com/jlaffaye/ftp"
)

const (
	// DefaultPort is the default FTP control port.
	DefaultPort = 21

	// DefaultTimeout is the default timeout for establishing a session.
	DefaultTimeout = 30 * time.Second

	anonymousUser = "anonymous"
	anonymousPass = "anonymous"
)

var (
	_ vfs.Dialer  = (*Client)(nil)
	_ vfs.Session = (*session)(nil)

	errMissingArgument = errors.New("missing argument")

	// ErrInvalidURL occurs when a location cannot be parsed as an FTP URL.
	ErrInvalidURL = errors.New("invalid ftp url")
)

// Config contains the settings for establishing sessions with a server.
type Config struct {
	Host     string
	Port     int
	Username string // "anonymous" when empty.
	Password string // "anonymous" when empty.
	Timeout  time.Duration
}

// Client dials sessions with one FTP server.
type Client struct {
	cfg Config
}

// New returns a pointer to a new [Client], filling in the defaults.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: need a host", errMissingArgument)
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Username == "" {
		cfg.Username = anonymousUser
		if cfg.Password == "" {
			cfg.Password = anonymousPass
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{cfg: cfg}, nil
}

// ParseURL returns a [Config] and the remote path from a location of the form
// "ftp://[user[:pass]@]host[:port]/path". The defaults fill in what is absent.
func ParseURL(raw string, defaults Config) (Config, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "ftp" || u.Hostname() == "" {
		return Config{}, "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	cfg := defaults
	cfg.Host = u.Hostname()

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Config{}, "", fmt.Errorf("%w: port %q", ErrInvalidURL, p)
		}
		cfg.Port = port
	}

	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}

	p := u.Path
	if p == "" {
		p = "/"
	}

	return cfg, p, nil
}

// Origin returns the "host:port" key of the server.
func (c *Client) Origin() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// URL returns the location of the server, without any password.
func (c *Client) URL() string {
	u := url.URL{
		Scheme: "ftp",
		User:   url.User(c.cfg.Username),
		Host:   c.Origin(),
	}

	return u.String()
}

// Dial returns a new, logged-in session with the server.
func (c *Client) Dial(ctx context.Context) (vfs.Session, error) {
	conn, err := ftp.Dial(c.Origin(),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = conn.Quit()

		return nil, fmt.Errorf("failed to login as %q: %w", c.cfg.Username, err)
	}

	return &session{conn: conn}, nil
}

// serverConn is the subset of [ftp.ServerConn] a session needs.
type serverConn interface {
	List(path string) ([]*ftp.Entry, error)
	CurrentDir() (string, error)
	ChangeDir(path string) error
	ChangeDirToParent() error
	Retr(path string) (*ftp.Response, error)
	NoOp() error
	Quit() error
}

// session is one logged-in connection to the server.
type session struct {
	conn serverConn
}

func (s *session) List(ctx context.Context, path string) ([]vfs.RemoteEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	entries, err := s.conn.List(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list: %w", err)
	}

	out := make([]vfs.RemoteEntry, 0, len(entries))
	for _, e := range entries {
		re := vfs.RemoteEntry{
			Name:    e.Name,
			IsDir:   e.Type == ftp.EntryTypeFolder,
			Size:    -1,
			ModTime: e.Time,
		}
		if !re.IsDir && e.Size <= uint64(1<<63-1) {
			re.Size = int64(e.Size) //nolint:gosec
		}
		out = append(out, re)
	}

	return out, nil
}

func (s *session) CurrentDir(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context error: %w", err)
	}

	dir, err := s.conn.CurrentDir()
	if err != nil {
		return "", fmt.Errorf("failed to pwd: %w", err)
	}

	return dir, nil
}

func (s *session) ChangeDir(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context error: %w", err)
	}

	err := s.conn.ChangeDir(path)
	if denied(err) {
		return false, fmt.Errorf("%w: %w", vfs.ErrPermission, err)
	}

	return refused(err)
}

func (s *session) ChangeDirToParent(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context error: %w", err)
	}

	return refused(s.conn.ChangeDirToParent())
}

func (s *session) Retrieve(ctx context.Context, path string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	resp, err := s.conn.Retr(path)
	if denied(err) {
		return fmt.Errorf("%w: %w", vfs.ErrPermission, err)
	}
	if err != nil {
		return fmt.Errorf("failed to retrieve: %w", err)
	}

	_, err = io.Copy(w, resp)
	if cerr := resp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to transfer: %w", err)
	}

	return nil
}

func (s *session) NoOp(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	return s.conn.NoOp() //nolint:wrapcheck
}

func (s *session) Close() error {
	return s.conn.Quit() //nolint:wrapcheck
}

// denied reports if the server refused an action for lack of permission,
// which servers only tell apart from absence in the text of a 550 reply.
func denied(err error) bool {
	var perr *textproto.Error
	if !errors.As(err, &perr) || perr.Code != ftp.StatusFileUnavailable {
		return false
	}

	msg := strings.ToLower(perr.Msg)

	return strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "access is denied")
}

// refused turns a permanent negative reply of the server into a refusal,
// which is not a failure of the session itself.
func refused(err error) (bool, error) {
	if err == nil {
		return true, nil
	}

	var perr *textproto.Error
	if errors.As(err, &perr) && perr.Code >= 500 && perr.Code < 600 {
		return false, nil
	}

	return false, fmt.Errorf("failed to change dir: %w", err)
}
