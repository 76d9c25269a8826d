package config

import (
	"testing"
	"time"

	"github.com/desertwitch/filebrowser/internal/vfs"
	"github.com/stretchr/testify/require"
)

// Expectation: Load should apply the defaults without any environment.
func Test_Load_Defaults_Success(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 3*time.Minute, cfg.CacheConfig.TTL)
	require.Equal(t, uint64(128), cfg.CacheConfig.IndexSize)
	require.Equal(t, 30*time.Second, cfg.FTPConfig.Timeout)
	require.Equal(t, 500, cfg.LogConfig.BufferSize)
	require.Empty(t, cfg.WebAddr)
	require.Equal(t, int64(10*1024*1024), cfg.StreamingThresholdBytes())

	opts, err := cfg.VFSOptions()
	require.NoError(t, err)
	require.Equal(t, int64(30*1024*1024), opts.ContentCeiling.Load())
	require.Equal(t, 3*time.Minute, opts.CacheTTL)
}

// Expectation: Load should read the prefixed environment variables.
func Test_Load_Environment_Success(t *testing.T) {
	t.Setenv("FILEBROWSER_CACHE_TTL", "5s")
	t.Setenv("FILEBROWSER_CONTENT_CEILING", "1 MB")
	t.Setenv("FILEBROWSER_FTP_USER", "bob")
	t.Setenv("FILEBROWSER_FTP_TIMEOUT", "2s")
	t.Setenv("FILEBROWSER_LOG_FILE", "/tmp/filebrowser.log")
	t.Setenv("FILEBROWSER_WEB_ADDR", ":8000")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.CacheConfig.TTL)
	require.Equal(t, ":8000", cfg.WebAddr)

	opts, err := cfg.VFSOptions()
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), opts.ContentCeiling.Load())

	ftp := cfg.FTPDefaults()
	require.Equal(t, "bob", ftp.Username)
	require.Equal(t, 2*time.Second, ftp.Timeout)

	require.Equal(t, "/tmp/filebrowser.log", cfg.Rotation().File)
}

// Expectation: Archive sniffing should switch the archive predicate.
func Test_Config_VFSOptions_Sniffing_Success(t *testing.T) {
	t.Setenv("FILEBROWSER_SNIFF_ARCHIVES", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.CacheConfig.SniffArchives)

	opts, err := cfg.VFSOptions()
	require.NoError(t, err)
	require.NotNil(t, opts.ArchivePredicate)

	var _ vfs.ArchivePredicate = opts.ArchivePredicate
}

// Expectation: Load should refuse sizes that cannot be parsed.
func Test_Load_InvalidSize_Error(t *testing.T) {
	t.Setenv("FILEBROWSER_CONTENT_CEILING", "lots")

	_, err := Load()
	require.Error(t, err)
}

// Expectation: Load should refuse malformed durations.
func Test_Load_InvalidDuration_Error(t *testing.T) {
	t.Setenv("FILEBROWSER_CACHE_TTL", "soon")

	_, err := Load()
	require.Error(t, err)
}

// Expectation: ParseSize should parse human-readable sizes.
func Test_ParseSize_Success(t *testing.T) {
	t.Parallel()

	v, err := ParseSize("2KiB")
	require.NoError(t, err)
	require.Equal(t, int64(2048), v)

	_, err = ParseSize("")
	require.Error(t, err)
}
