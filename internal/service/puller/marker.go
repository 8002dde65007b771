package puller

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/wazuh-puller/internal/logger"
)

const (
	// MarkerFilename marks that a puller is running against a backup root.
	MarkerFilename = ".wazuh-puller.lock"

	// defaultExecutable is the process name assumed when the own binary cannot be resolved.
	defaultExecutable = "wazuh-puller"

	markerMode os.FileMode = 0o640
)

var (
	// ErrAlreadyRunning is returned when another live puller holds the marker.
	ErrAlreadyRunning = errors.New("another puller is already running")
	// errMarkerContended is returned when the marker keeps reappearing while being replaced.
	errMarkerContended = errors.New("run marker is contended")
)

// processFinder looks up a process by PID; it returns nil for a missing process.
type processFinder func(pid int) (ps.Process, error)

// runGuard owns the run marker of one backup root.
type runGuard struct {
	path        string
	findProcess processFinder
	executable  string
	pid         int
}

// newRunGuard creates a guard for the backup root dir.
func newRunGuard(dir string) *runGuard {
	return &runGuard{
		path:        filepath.Join(dir, MarkerFilename),
		findProcess: ps.FindProcess,
		executable:  currentExecutable(),
		pid:         os.Getpid(),
	}
}

// Acquire writes the marker holding the current PID.
// A marker left by a process that is gone, or that is not a puller, is replaced.
func (g *runGuard) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o750); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}

	for range 2 {
		err := g.create()
		if err == nil {
			logger.DebugKV(ctx, "Run marker created", "path", g.path)
			return nil
		}

		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create run marker: %w", err)
		}

		if g.isHeld(ctx) {
			return ErrAlreadyRunning
		}

		logger.InfoKV(ctx, "The run marker is stale, replacing it", "path", g.path)

		if err = os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale run marker: %w", err)
		}
	}

	return errMarkerContended
}

// Release removes the marker if it still belongs to this process.
func (g *runGuard) Release(ctx context.Context) {
	pid, err := g.readPID()
	if err != nil || pid != g.pid {
		return
	}

	if err = os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove run marker", "path", g.path, "error", err)
	}
}

func (g *runGuard) create() error {
	marker, err := os.OpenFile(g.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerMode)
	if err != nil {
		return err
	}

	_, err = marker.WriteString(strconv.Itoa(g.pid))
	if closeErr := marker.Close(); err == nil {
		err = closeErr
	}

	return err
}

// isHeld reports whether the marker belongs to another live puller.
func (g *runGuard) isHeld(ctx context.Context) bool {
	pid, err := g.readPID()
	if err != nil {
		logger.WarnKV(ctx, "Unable to read run marker", "path", g.path, "error", err)
		return false
	}

	if pid == g.pid {
		return false
	}

	process, err := g.findProcess(pid)
	if err != nil {
		// Without a process list the marker cannot be proven stale.
		logger.WarnKV(ctx, "Unable to inspect marker owner", "pid", pid, "error", err)
		return true
	}

	if process == nil {
		return false
	}

	return process.Executable() == g.executable
}

func (g *runGuard) readPID() (int, error) {
	contents, err := os.ReadFile(g.path)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(strings.TrimSpace(string(contents)))
}

// currentExecutable returns the process name of this binary as go-ps reports it.
func currentExecutable() string {
	path, err := os.Executable()
	if err != nil {
		return defaultExecutable
	}

	return filepath.Base(path)
}
