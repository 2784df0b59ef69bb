package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/loykin/fgsvc/internal/detector"
)

// Adopt returns a Handle for a task instance left running by a previous
// daemon, as recorded in spec.PIDFile. It returns false when there is no PID
// file or the recorded process is gone or was replaced by an unrelated one.
func Adopt(spec Spec) (Handle, bool) {
	if spec.PIDFile == "" {
		return nil, false
	}
	pid, meta, err := detector.ReadPIDFile(spec.PIDFile)
	if err != nil || pid <= 0 {
		return nil, false
	}
	if meta.Name != "" && meta.Name != spec.Name {
		return nil, false
	}
	if ok, _ := (detector.PIDFileDetector{PIDFile: spec.PIDFile}).Alive(); !ok {
		return nil, false
	}
	if ok, _ := (detector.TableDetector{PID: pid, StartUnix: meta.StartUnix}).Alive(); !ok {
		return nil, false
	}
	started := time.Now()
	if meta.StartUnix > 0 {
		started = time.Unix(meta.StartUnix, 0)
	}
	return &adoptedHandle{spec: spec, pid: pid, startUnix: meta.StartUnix, startedAt: started}, true
}

// adoptedHandle controls a process this daemon did not spawn, so it cannot
// wait on it and polls the process table instead.
type adoptedHandle struct {
	spec      Spec
	pid       int
	startUnix int64
	startedAt time.Time

	once       sync.Once
	releaseErr error
}

func (h *adoptedHandle) PID() int             { return h.pid }
func (h *adoptedHandle) StartedAt() time.Time { return h.startedAt }

func (h *adoptedHandle) Alive() (bool, string) {
	dets := append([]detector.Detector{detector.TableDetector{PID: h.pid, StartUnix: h.startUnix}}, h.spec.Detectors...)
	return detector.FirstAlive(dets...)
}

func (h *adoptedHandle) Release(wait time.Duration) error {
	h.once.Do(func() {
		h.releaseErr = h.release(wait)
		removePIDFile(h.spec.PIDFile)
	})
	return h.releaseErr
}

func (h *adoptedHandle) release(wait time.Duration) error {
	if wait > 0 {
		_ = terminateGroup(h.pid)
		if h.waitGone(wait) {
			return nil
		}
	}
	_ = killGroup(h.pid)
	if h.waitGone(reapTimeout) {
		return nil
	}
	return fmt.Errorf("pid %d: %w", h.pid, ErrNotReaped)
}

func (h *adoptedHandle) waitGone(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if ok, _ := h.Alive(); !ok {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
