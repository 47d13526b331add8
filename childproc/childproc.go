// Package childproc wraps os/exec with the handful of lifecycle calls the
// collector needs: start, ask to stop, kill, and a bounded wait.
package childproc

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// ErrNotExited is returned by Stdout/Stderr while the child is still running.
var ErrNotExited = errors.New("child process has not exited")

// Handle is a started child process. The process runs in its own process
// group so signals reach helpers it spawns (sudo, interpreters).
type Handle struct {
	cmd  *exec.Cmd
	argv []string

	stdout bytes.Buffer
	stderr bytes.Buffer

	done    chan struct{}
	waitErr error

	stopOnce sync.Once
	stopErr  error
}

// Start launches argv[0] with the remaining arguments in dir.
func Start(argv []string, dir string) (*Handle, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("empty command")
	}
	h := &Handle{argv: argv, done: make(chan struct{})}

	h.cmd = exec.Command(argv[0], argv[1:]...)
	h.cmd.Dir = dir
	h.cmd.Stdout = &h.stdout
	h.cmd.Stderr = &h.stderr
	setProcessGroup(h.cmd)

	if err := h.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	go func() {
		h.waitErr = h.cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// Pid of the child.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Done is closed once the child has exited and its output is fully captured.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has already exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// RequestStop sends an interrupt to the child's process group. Repeated
// calls are no-ops.
func (h *Handle) RequestStop() error {
	h.stopOnce.Do(func() {
		if h.Exited() {
			return
		}
		h.stopErr = interruptGroup(h.cmd)
	})
	return h.stopErr
}

// Kill terminates the child's process group outright.
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}
	return killGroup(h.cmd)
}

// WaitTimeout waits up to d for the child to exit. It returns false if the
// child is still running; otherwise true and the exit error, if any.
func (h *Handle) WaitTimeout(d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.done:
		return true, h.waitErr
	case <-timer.C:
		return false, nil
	}
}

// Stdout returns everything the child wrote to standard output.
func (h *Handle) Stdout() ([]byte, error) {
	if !h.Exited() {
		return nil, ErrNotExited
	}
	return h.stdout.Bytes(), nil
}

// Stderr returns everything the child wrote to standard error.
func (h *Handle) Stderr() ([]byte, error) {
	if !h.Exited() {
		return nil, ErrNotExited
	}
	return h.stderr.Bytes(), nil
}

func (h *Handle) String() string {
	return fmt.Sprintf("%v (pid %d)", h.argv, h.Pid())
}
