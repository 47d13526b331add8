// Package preflight checks the conditions the tracer needs before the loop
// starts: root privileges and a running target process.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	ErrNotRoot         = errors.New("this program must be run as root")
	ErrProcessNotFound = errors.New("process not running")
)

// euid is swapped in tests.
var euid = os.Geteuid

// procRoot is swapped in tests.
var procRoot = "/proc"

// RequireRoot fails unless the effective user is root.
func RequireRoot() error {
	if euid() != 0 {
		return ErrNotRoot
	}
	return nil
}

// RequireProcess fails unless a process whose command name is name is
// running. It returns the matching pids.
func RequireProcess(name string) ([]int, error) {
	pids, err := FindProcess(name)
	if err != nil {
		return nil, err
	}
	if len(pids) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, name)
	}
	return pids, nil
}

// FindProcess lists the pids whose /proc/<pid>/comm equals name. The kernel
// truncates comm to 15 bytes, so name is compared the same way.
func FindProcess(name string) ([]int, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	want := name
	if len(want) > 15 {
		want = want[:15]
	}

	var pids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join(procRoot, e.Name(), "comm"))
		if err != nil {
			// raced with the process exiting
			continue
		}
		if strings.TrimSpace(string(comm)) == want {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
