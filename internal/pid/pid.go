// Package pid guards against two daemons feeding the same hardware.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/racedash/internal/errors"
)

// Path resolves name against the temp directory unless it is absolute.
func Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}

	return filepath.Join(os.TempDir(), name)
}

// Write records the current process ID in the PID file at path. It fails with
// ErrAlreadyRunning if the file names a live process. A stale or unreadable
// file is replaced.
func Write(path string) error {
	errFactory := errors.New()

	if running, pid := alive(path); running {
		return errFactory.WithData(errors.ErrAlreadyRunning, pid)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func alive(path string) (bool, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	return process.Signal(syscall.Signal(0)) == nil, pid
}
