package vfs

import (
	"path"
	"strings"
)

// NormalizeArchivePath returns the canonical form of an archive entry name:
// slash-separated, cleaned, and without leading or trailing separators.
// Names that cannot address an entry (such as "/") normalize to "".
func NormalizeArchivePath(name string) string {
	p := strings.Trim(strings.ReplaceAll(name, "\\", "/"), "/")
	if p == "" {
		return ""
	}

	p = path.Clean(p)
	for strings.HasPrefix(p, "../") {
		p = p[3:]
	}
	if p == "." || p == ".." {
		return ""
	}

	return p
}

// NestingLevel returns the amount of separators in a normalized archive
// path, which is zero for the top-level entries of an archive.
func NestingLevel(p string) int {
	return strings.Count(p, "/")
}

// TrimSeparators strips all leading and trailing separators of a path.
func TrimSeparators(p string) string {
	return strings.Trim(p, "/\\")
}

// BaseName returns the last segment of a path, ignoring trailing separators.
func BaseName(p string) string {
	p = strings.TrimRight(p, "/\\")
	if i := strings.LastIndexAny(p, "/\\"); i >= 0 {
		return p[i+1:]
	}

	return p
}

// JoinRemote joins a remote directory and an entry name,
// without ever producing a doubled separator.
func JoinRemote(dir, name string) string {
	name = strings.Trim(name, "/")
	if dir == "" {
		dir = "/"
	}
	if name == "" {
		return dir
	}
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}

	return dir + "/" + name
}

// archiveParentPath returns the normalized parent path of a normalized
// archive path, which is "" for the top-level entries.
func archiveParentPath(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i]
	}

	return ""
}

// cleanRemote returns the cleaned absolute form of a remote path.
func cleanRemote(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}
