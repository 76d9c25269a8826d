//go:build !unix

package vfs

import "os"

// readable reports if the current user may read at the path.
func readable(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	_ = f.Close()

	return true
}
