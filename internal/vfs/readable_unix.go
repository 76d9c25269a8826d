//go:build unix

package vfs

import "golang.org/x/sys/unix"

// readable reports if the current user may read at the path.
func readable(p string) bool {
	return unix.Access(p, unix.R_OK) == nil
}
