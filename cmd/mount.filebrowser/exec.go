//nolint:mnd,err113
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"
	"time"

	"al.essio.dev/pkg/shellescape"
)

const (
	helperFdEnv   = "FILEBROWSER_HELPER_FD"
	logFileEnv    = "FILEBROWSER_LOG_FILE"
	mountInfoFile = "/proc/self/mountinfo"
	pollInterval  = 200 * time.Millisecond
)

var errMountTimeout = errors.New("timed out: mountpoint not found")

// BuildCommand returns the command line of the filesystem process.
func (mh *MountHelper) BuildCommand() []string {
	parts := []string{mh.Binary, "mount", mh.Source, mh.Mountpoint}

	return append(parts, mh.BuildOptions()...)
}

// BuildOptions returns the mount options as flags, sorted by name.
func (mh *MountHelper) BuildOptions() []string {
	parts := []string{}

	keys := make([]string, 0, len(mh.Options))
	for k := range mh.Options {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if val := mh.Options[key]; val != "" {
			parts = append(parts, "--"+key+"="+val) // Also keeps "verbose=false" a flag value.
		} else {
			parts = append(parts, "--"+key)
		}
	}

	return parts
}

// Execute starts the filesystem process in its own session and waits
// for it to signal readiness or for the mountpoint to appear.
func (mh *MountHelper) Execute() error {
	mh.setupEnvironment()

	if _, err := exec.LookPath(mh.Binary); err != nil {
		return fmt.Errorf(helpErrNotFound, mh.Binary)
	}

	cmdArgs := mh.BuildCommand()
	cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...) //nolint:gosec,noctx

	spa := &syscall.SysProcAttr{Setsid: true}
	if mh.Setuid != "" {
		uid, gid, err := resolveUser(mh.Setuid)
		if err == nil {
			spa.Credential = &syscall.Credential{Uid: uid, Gid: gid}
		} else {
			cmd = exec.Command("/bin/sh", "-c", suCommandLine(mh.Setuid, cmdArgs)) //nolint:gosec,noctx
		}
	}
	cmd.SysProcAttr = spa

	fd, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer fd.Close()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = fd, fd, fd

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pipe error: %w", err)
	}
	defer r.Close()
	cmd.Env = append(os.Environ(), helperFdEnv+"=3", logFileEnv+"="+mh.LogFile)
	cmd.ExtraFiles = []*os.File{w}

	if err := cmd.Start(); err != nil {
		w.Close()

		return fmt.Errorf("process error: %w", err)
	}
	_ = cmd.Process.Release()
	w.Close()

	if err := mh.waitForMount(r, mountInfoFile); err != nil {
		if errors.Is(err, errMountTimeout) {
			return fmt.Errorf(helpErrMountTimeout, int(mh.Timeout.Seconds()), mh.LogFile)
		}

		return fmt.Errorf("mount error: %w", err)
	}

	return nil
}

// suCommandLine returns the shell command line running args as user.
func suCommandLine(user string, args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellescape.Quote(arg)
	}
	inner := strings.Join(quoted, " ")

	return fmt.Sprintf("su - %s -c %s", shellescape.Quote(user), shellescape.Quote(inner))
}

func (mh *MountHelper) setupEnvironment() {
	if mh.Setuid == "" && os.Getenv("HOME") == "" {
		os.Setenv("HOME", "/root")
	}

	currentPath := os.Getenv("PATH")
	additionalPath := "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	if currentPath == "" {
		os.Setenv("PATH", additionalPath)
	} else {
		os.Setenv("PATH", currentPath+":"+additionalPath)
	}
}

// waitForMount returns once a byte arrives on r or the mountpoint shows
// up in the mount table. A closed pipe without a byte only stops the
// pipe from being watched, the mount table is still polled until timeout.
func (mh *MountHelper) waitForMount(r io.Reader, mountTable string) error {
	signalDone := make(chan error, 1)
	go func() {
		defer close(signalDone)
		buf := make([]byte, 1)
		_, err := r.Read(buf)
		signalDone <- err
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	totalTimeout := time.After(mh.Timeout)
	for {
		select {
		case signalErr := <-signalDone:
			if signalErr == nil {
				return nil
			}
			signalDone = nil

		case <-ticker.C:
			if isMounted, _ := mh.checkMountTable(mountTable); isMounted {
				return nil
			}

		case <-totalTimeout:
			if isMounted, _ := mh.checkMountTable(mountTable); isMounted {
				return nil
			}

			return errMountTimeout
		}
	}
}

func (mh *MountHelper) checkMountTable(mountTable string) (bool, error) {
	f, err := os.Open(mountTable)
	if err != nil {
		return false, fmt.Errorf("cannot open %s: %w", mountTable, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), " "+mh.Mountpoint+" ") {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("error reading %s: %w", mountTable, err)
	}

	return false, nil
}
