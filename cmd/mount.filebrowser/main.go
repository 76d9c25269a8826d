/*
mount.filebrowser is the helper for mounting filebrowser locations
through mount(8) and fstab. It translates the mount options into
flags of "filebrowser mount", starts the filesystem in the background
and returns once the mountpoint appears (or the mount timed out).
*/
//nolint:mnd,err113
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultType    = "filebrowser"
	defaultLog     = "/var/log/filebrowser.log"
	defaultTimeout = 20 * time.Second
)

var (
	// Version is the program version (filled in from the Makefile).
	Version string

	// allowedKeys are the flags of "filebrowser mount" that can be
	// passed as mount options, all others are silently dropped.
	allowedKeys = map[string]struct{}{
		"verbose":   {},
		"ceiling":   {},
		"cache-ttl": {},
		"memsize":   {},
		"webaddr":   {},
	}
)

// MountHelper holds a parsed mount(8) invocation.
type MountHelper struct {
	Program    string
	Type       string
	Binary     string
	Source     string
	Mountpoint string
	Options    map[string]string
	Setuid     string
	LogFile    string
	Timeout    time.Duration
}

func newMountHelper(args []string) (*MountHelper, error) {
	if len(args) < 3 {
		return nil, errors.New("not enough arguments were given")
	}

	mh := &MountHelper{
		Program:    args[0],
		Source:     args[1],
		Type:       defaultType,
		Mountpoint: args[2],
		Options:    make(map[string]string),
		LogFile:    defaultLog,
		Timeout:    defaultTimeout,
	}

	if mh.Source == "" {
		return nil, errors.New("no source argument was given")
	}
	if mh.Mountpoint == "" {
		return nil, errors.New("no mountpoint argument was given")
	}

	basename := filepath.Base(mh.Program)
	if basename == "mount.fuse" || basename == "mount.fuseblk" {
		mh.Type = ""
	} else if after, ok := strings.CutPrefix(basename, "mount.fuse."); ok {
		mh.Type = after
	} else if after, ok := strings.CutPrefix(basename, "mount.fuseblk."); ok {
		mh.Type = after
	}

	if err := mh.parseOptions(args[3:]); err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}

	if mh.Type == "" {
		if err := mh.deriveTypeFromSource(); err != nil {
			return nil, fmt.Errorf("failed to derive fs type: %w", err)
		}
	}

	if mh.Binary == "" {
		mh.Binary = mh.Type
	}

	return mh, nil
}

func (mh *MountHelper) parseOptions(args []string) error {
	for i := 0; i < len(args); i++ { //nolint:intrange
		arg := args[i]

		if arg == "-v" || arg == "-o" {
			continue
		}

		if arg == "-t" {
			if err := mh.deriveTypeFromArg(&i, args); err != nil {
				return fmt.Errorf("failed to derive type: %w", err)
			}

			continue
		}

		for opt := range strings.SplitSeq(arg, ",") {
			if opt == "" {
				continue
			}
			if err := mh.parseOption(opt); err != nil {
				return err
			}
		}
	}

	return nil
}

func (mh *MountHelper) parseOption(opt string) error {
	opt = strings.TrimPrefix(opt, "--")

	key, val, hasVal := strings.Cut(opt, "=")
	key = strings.ReplaceAll(key, "_", "-")

	switch key {
	case "setuid":
		mh.Setuid = val

	case "xbin":
		if val == "" {
			return errors.New("empty value for option 'xbin'")
		}
		mh.Binary = val

	case "xlog":
		if val == "" {
			return errors.New("empty value for option 'xlog'")
		}
		mh.LogFile = val

	case "xtim":
		secs, err := strconv.Atoi(val)
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid value for option 'xtim': %q", val)
		}
		mh.Timeout = time.Duration(secs) * time.Second

	default:
		if _, ok := allowedKeys[key]; !ok {
			return nil
		}
		if hasVal {
			mh.Options[key] = val
		} else {
			mh.Options[key] = ""
		}
	}

	return nil
}

func (mh *MountHelper) deriveTypeFromArg(i *int, args []string) error {
	*i++
	if *i >= len(args) {
		return errors.New("missing value to argument '-t'")
	}
	t := args[*i]
	if after, ok := strings.CutPrefix(t, "fuse."); ok {
		t = after
	} else if after, ok := strings.CutPrefix(t, "fuseblk."); ok {
		t = after
	}
	if t == "" {
		return errors.New("missing value to argument '-t'")
	}
	if t == "fuse" || t == "fuseblk" {
		t = "" // Generic, the type follows from "type#source".
	}
	mh.Type = t

	return nil
}

func (mh *MountHelper) deriveTypeFromSource() error {
	typ, src, ok := strings.Cut(mh.Source, "#")
	if !ok {
		return errors.New("source argument is not in format 'type#source'")
	}
	if typ == "" {
		return errors.New("empty type before '#' in source argument")
	}
	if src == "" {
		return errors.New("empty source after '#' in source argument")
	}
	mh.Type, mh.Source = typ, src

	return nil
}

func main() {
	if len(os.Args) < 3 {
		progName := filepath.Base(os.Args[0])
		fmt.Fprintf(os.Stderr, helpTextLong, progName, Version, progName, progName, defaultLog)
		os.Exit(1)
	}

	helper, err := newMountHelper(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mount.filebrowser error: %v\n", err)
		os.Exit(1)
	}

	if err := helper.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mount.filebrowser error: %v\n", err)
		os.Exit(1)
	}
}
