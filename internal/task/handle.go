package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/fgsvc/internal/detector"
	"github.com/loykin/fgsvc/internal/env"
)

// reapTimeout bounds how long Release waits for a killed process to be reaped.
const reapTimeout = 3 * time.Second

// ErrNotReaped is returned by Release when the process outlived SIGKILL.
var ErrNotReaped = errors.New("process did not exit after kill")

// Handle is the opaque OS-level instance of a running task. The supervisor
// owns it exclusively and releases it exactly once.
type Handle interface {
	PID() int
	StartedAt() time.Time
	// Alive consults the OS and reports which probe confirmed the process.
	Alive() (bool, string)
	// Release hard-stops the process. Calls after the first are no-ops.
	Release(wait time.Duration) error
}

// Launcher acquires a new Handle for spec.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, spec Spec) (Handle, error)

func (f LauncherFunc) Launch(ctx context.Context, spec Spec) (Handle, error) { return f(ctx, spec) }

// ExecLauncher starts the task as a child process in its own process group.
type ExecLauncher struct {
	// Env is the base environment; nil means os.Environ().
	Env []string
}

func (l ExecLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	base := l.Env
	if base == nil {
		base = os.Environ()
	}
	cmd.Env = env.Merge(base, spec.Env)
	cmd.SysProcAttr = sysProcAttr()

	closers, err := attachOutput(cmd, spec)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("exec %q: %w", spec.Command, err)
	}
	if spec.Detached {
		// the child holds its own descriptors now
		closeAll(closers)
		closers = nil
	}

	h := &execHandle{
		spec:      spec,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		closers:   closers,
	}
	h.startUnix = detector.ProcStartUnix(h.pid)
	go h.reap()

	if err := detector.WritePIDFile(spec.PIDFile, h.pid, detector.PIDMeta{Name: spec.Name, StartUnix: h.startUnix}); err != nil {
		_ = h.Release(0)
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return h, nil
}

// attachOutput wires the task's stdout and stderr. A detached task gets
// append-mode files so its output survives this process exiting; rotation
// is not applied to them. Otherwise output is copied through rotating writers.
func attachOutput(cmd *exec.Cmd, spec Spec) ([]io.Closer, error) {
	var closers []io.Closer
	if spec.Detached {
		outF, errF, err := spec.Log.ProcessFiles(spec.Name)
		if err != nil {
			return nil, err
		}
		if outF != nil {
			cmd.Stdout = outF
			closers = append(closers, outF)
		}
		if errF != nil {
			cmd.Stderr = errF
			closers = append(closers, errF)
		}
		return closers, nil
	}

	outW, errW, err := spec.Log.ProcessWriters(spec.Name)
	if err != nil {
		return nil, err
	}
	if outW != nil {
		cmd.Stdout = outW
		closers = append(closers, outW)
	}
	if errW != nil {
		cmd.Stderr = errW
		closers = append(closers, errW)
	}
	return closers, nil
}

type execHandle struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	startUnix int64
	closers   []io.Closer

	done    chan struct{} // closed once cmd.Wait returns
	mu      sync.Mutex
	exitErr error

	once       sync.Once
	releaseErr error
}

func (h *execHandle) PID() int             { return h.pid }
func (h *execHandle) StartedAt() time.Time { return h.startedAt }

// reap is the single waiter for the child.
func (h *execHandle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.exitErr = err
	h.mu.Unlock()
	closeAll(h.closers)
	close(h.done)
}

// ExitErr returns the error from cmd.Wait once the process has been reaped.
func (h *execHandle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *execHandle) Alive() (bool, string) {
	select {
	case <-h.done:
		return false, ""
	default:
	}
	if ok, by := detector.FirstAlive(detector.TableDetector{PID: h.pid, StartUnix: h.startUnix}); ok {
		return true, by
	}
	return detector.FirstAlive(h.spec.Detectors...)
}

func (h *execHandle) Release(wait time.Duration) error {
	h.once.Do(func() {
		h.releaseErr = h.release(wait)
		removePIDFile(h.spec.PIDFile)
	})
	return h.releaseErr
}

func (h *execHandle) release(wait time.Duration) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	if wait > 0 {
		_ = terminateGroup(h.pid)
		select {
		case <-h.done:
			return nil
		case <-time.After(wait):
		}
	}
	_ = killGroup(h.pid)
	select {
	case <-h.done:
		return nil
	case <-time.After(reapTimeout):
		return fmt.Errorf("pid %d: %w", h.pid, ErrNotReaped)
	}
}

func removePIDFile(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}
