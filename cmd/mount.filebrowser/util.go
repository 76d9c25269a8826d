package main

import (
	"fmt"
	"os/user"
	"strconv"
)

// resolveUser returns the uid and gid of a username or numeric uid.
// A numeric uid without a passwd entry uses the uid as its gid.
func resolveUser(name string) (uint32, uint32, error) {
	var u *user.User

	if uid, err := strconv.ParseUint(name, 10, 32); err == nil {
		u, err = user.LookupId(name)
		if err != nil {
			return uint32(uid), uint32(uid), nil
		}
	} else {
		u, err = user.Lookup(name)
		if err != nil {
			return 0, 0, fmt.Errorf("lookup user %q failed: %w", name, err)
		}
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid uid %q: %w", u.Uid, err)
	}

	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid gid %q: %w", u.Gid, err)
	}

	return uint32(uid), uint32(gid), nil
}
