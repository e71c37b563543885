// Package daemon tracks a background prguard server through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrNotRunning is returned when the PID file names no live process.
var ErrNotRunning = errors.New("not running")

// AlreadyRunningError is returned by Claim when another live process holds
// the PID file.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("already running (pid %d)", e.PID)
}

// PIDFile records the PID of a running server.
type PIDFile struct {
	Path string
}

// New creates a PIDFile for the given path.
func New(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Read returns the PID stored in the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file content in %s", p.Path)
	}
	return pid, nil
}

// Write stores pid in the file.
func (p *PIDFile) Write(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Running returns the recorded PID and whether that process is alive.
func (p *PIDFile) Running() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, alive(pid)
}

// Claim records the current process, replacing a stale file. It fails with
// *AlreadyRunningError while another live process holds it.
func (p *PIDFile) Claim() error {
	if pid, ok := p.Running(); ok && pid != os.Getpid() {
		return &AlreadyRunningError{PID: pid}
	}
	return p.Write(os.Getpid())
}

// Release removes the file if it still names the current process.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil || pid != os.Getpid() {
		return err
	}
	return os.Remove(p.Path)
}

// Stop asks the recorded process to terminate and waits up to grace for it
// to exit before killing it. A stale file is removed and ErrNotRunning
// returned.
func (p *PIDFile) Stop(grace time.Duration) error {
	pid, ok := p.Running()
	if !ok {
		_ = p.remove()
		return ErrNotRunning
	}
	if err := terminate(pid); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return p.remove()
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := kill(pid); err != nil && alive(pid) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return p.remove()
}

func (p *PIDFile) remove() error {
	err := os.Remove(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
