package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/fgsvc/internal/history"
	"github.com/loykin/fgsvc/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle is an in-memory task instance. kill simulates the OS reclaiming it.
type fakeHandle struct {
	pid      int
	started  time.Time
	dead     atomic.Bool
	released atomic.Int32
	owner    *fakeLauncher
}

func (h *fakeHandle) PID() int             { return h.pid }
func (h *fakeHandle) StartedAt() time.Time { return h.started }
func (h *fakeHandle) Alive() (bool, string) {
	if h.dead.Load() {
		return false, ""
	}
	return true, "fake"
}
func (h *fakeHandle) Release(time.Duration) error {
	if h.released.Add(1) == 1 {
		h.owner.live.Add(-1)
	}
	return nil
}
func (h *fakeHandle) kill() { h.dead.Store(true) }

// fakeLauncher counts live handles so tests can assert there is never more than one.
type fakeLauncher struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	live     atomic.Int32
	maxLive  atomic.Int32
	launches atomic.Int32
	fail     atomic.Bool
	lastSpec task.Spec
}

func (l *fakeLauncher) Launch(ctx context.Context, spec task.Spec) (task.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.fail.Load() {
		return nil, errors.New("resource unavailable")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSpec = spec
	h := &fakeHandle{pid: 1000 + len(l.handles), started: time.Now(), owner: l}
	l.handles = append(l.handles, h)
	l.launches.Add(1)
	n := l.live.Add(1)
	for {
		m := l.maxLive.Load()
		if n <= m || l.maxLive.CompareAndSwap(m, n) {
			break
		}
	}
	return h, nil
}

func (l *fakeLauncher) last() *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.handles) == 0 {
		return nil
	}
	return l.handles[len(l.handles)-1]
}

// recordingSink keeps every event it is sent.
type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) types() []history.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]history.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// waitFor blocks until at least n events arrived and returns their types.
func (r *recordingSink) waitFor(t *testing.T, n int) []history.EventType {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.types()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.types()
}

// blockingSink holds every Send until release is closed.
type blockingSink struct {
	release chan struct{}
	sent    atomic.Int32
}

func (b *blockingSink) Send(ctx context.Context, _ history.Event) error {
	select {
	case <-b.release:
		b.sent.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestSupervisor(t *testing.T, delay time.Duration, opts ...Option) (*Supervisor, *fakeLauncher) {
	t.Helper()
	l := &fakeLauncher{}
	base := []Option{WithLauncher(l), WithLogger(quietLogger()), WithAdopt(false)}
	s, err := New(task.Spec{Name: "svc", Command: "sleep 30", RestartDelay: delay}, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, l
}

func status(t *testing.T, s *Supervisor) bool {
	t.Helper()
	ok, err := s.Status(context.Background())
	require.NoError(t, err)
	return ok
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(task.Spec{Name: "svc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires command")
}

func TestStart_Idempotent(t *testing.T) {
	s, l := newTestSupervisor(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, int32(1), l.launches.Load())
	assert.Equal(t, int32(1), l.live.Load())
	assert.True(t, status(t, s))
}

func TestStop_WhenStoppedIsNoop(t *testing.T) {
	sink := &recordingSink{}
	s, l := newTestSupervisor(t, 0, WithHistory(sink))
	ctx := context.Background()

	require.NoError(t, s.Stop(ctx))
	assert.False(t, status(t, s))
	assert.Empty(t, sink.types())

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.False(t, status(t, s))
	assert.Equal(t, int32(0), l.live.Load())
	assert.Equal(t, []history.EventType{history.EventStart, history.EventStop}, sink.waitFor(t, 2))
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.NotEmpty(t, sink.events[0].ID)
	assert.NotEqual(t, sink.events[0].ID, sink.events[1].ID)
}

func TestConcurrentStartStop_NoLeak(t *testing.T) {
	s, l := newTestSupervisor(t, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, s.Start(ctx))
			} else {
				assert.NoError(t, s.Stop(ctx))
			}
		}(i)
	}
	wg.Wait()

	live := l.live.Load()
	assert.Contains(t, []int32{0, 1}, live)
	assert.LessOrEqual(t, l.maxLive.Load(), int32(1))
	assert.Equal(t, live == 1, status(t, s))
}

func TestStatus_ReflectsOS(t *testing.T) {
	sink := &recordingSink{}
	s, l := newTestSupervisor(t, 0, WithHistory(sink))
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.True(t, status(t, s))

	l.last().kill()
	assert.False(t, status(t, s), "reclaimed task must report not running")

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", snap.State)
	assert.Zero(t, snap.PID)
	assert.Equal(t, int32(0), l.live.Load(), "reclaimed handle is released")
	assert.Contains(t, sink.waitFor(t, 2), history.EventReclaimed)

	// Start after reclamation acquires a new handle
	require.NoError(t, s.Start(ctx))
	assert.True(t, status(t, s))
	assert.Equal(t, int32(2), l.launches.Load())
}

func TestStart_FailureIsStartFailed(t *testing.T) {
	sink := &recordingSink{}
	s, l := newTestSupervisor(t, 0, WithHistory(sink))
	l.fail.Store(true)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.Contains(t, err.Error(), "resource unavailable")
	assert.False(t, status(t, s))

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "resource unavailable", snap.LastError)
	assert.Equal(t, []history.EventType{history.EventStartFailed}, sink.waitFor(t, 1))
}

func TestRestart_DeferredStart(t *testing.T) {
	s, l := newTestSupervisor(t, 100*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	first := l.last()

	require.NoError(t, s.Restart(ctx))
	assert.Equal(t, int32(1), first.released.Load(), "restart releases the old handle")

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "restarting", snap.State)
	assert.True(t, snap.Running)

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		return err == nil && snap.State == "running"
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotSame(t, first, l.last())
	assert.Equal(t, int32(1), l.live.Load())

	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Starts)
	assert.Equal(t, 1, snap.Restarts)
}

func TestRestart_WhileRestartingIsNoop(t *testing.T) {
	s, l := newTestSupervisor(t, 100*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Restart(ctx))
	require.NoError(t, s.Restart(ctx))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(2), l.launches.Load())
	assert.Equal(t, int32(1), l.live.Load())
}

func TestRestart_EarlierTimerDoesNotShortenDelay(t *testing.T) {
	const delay = 400 * time.Millisecond
	s, l := newTestSupervisor(t, delay)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Restart(ctx)) // first timer due at +400ms
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Start(ctx))
	require.Equal(t, int32(2), l.launches.Load())

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, s.Restart(ctx)) // second timer due at +700ms
	secondRestart := time.Now()

	// the first timer fires inside the second restart window
	time.Sleep(200 * time.Millisecond)
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "restarting", snap.State)
	assert.Equal(t, int32(2), l.launches.Load(), "no acquisition before the second delay elapsed")

	require.Eventually(t, func() bool { return l.launches.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	l.mu.Lock()
	reacquired := l.handles[2].started
	l.mu.Unlock()
	assert.GreaterOrEqual(t, reacquired.Sub(secondRestart), delay)
	assert.Equal(t, int32(1), l.live.Load())
}

func TestRestart_StopKeepsPendingStart(t *testing.T) {
	s, l := newTestSupervisor(t, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Restart(ctx))
	require.NoError(t, s.Stop(ctx))
	require.Eventually(t, func() bool { return l.launches.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, status(t, s))
}

func TestRestart_FromStoppedStarts(t *testing.T) {
	s, l := newTestSupervisor(t, 50*time.Millisecond)
	require.NoError(t, s.Restart(context.Background()))
	require.Eventually(t, func() bool { return l.live.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, status(t, s))
}

func TestRestart_DeferredFailureRecorded(t *testing.T) {
	sink := &recordingSink{}
	s, l := newTestSupervisor(t, 50*time.Millisecond, WithHistory(sink))
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	l.fail.Store(true)
	require.NoError(t, s.Restart(ctx), "restart itself succeeds; the deferred start fails later")

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		return err == nil && snap.State == "stopped"
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "resource unavailable", snap.LastError)
	assert.Contains(t, sink.waitFor(t, 3), history.EventRestartFailed)
}

func TestStartDuringRestartIsNoop(t *testing.T) {
	s, l := newTestSupervisor(t, 100*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Restart(ctx))
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, int32(0), l.launches.Load())

	require.Eventually(t, func() bool { return l.launches.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), l.live.Load())
}

func TestScenario_StartStopRestart(t *testing.T) {
	s, _ := newTestSupervisor(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.True(t, status(t, s))
	require.NoError(t, s.Stop(ctx))
	assert.False(t, status(t, s))
	require.NoError(t, s.Restart(ctx))
	time.Sleep(2 * time.Second)
	assert.True(t, status(t, s))
}

func TestHistory_SlowSinkDoesNotBlockOperations(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	s, _ := newTestSupervisor(t, 0, WithHistory(sink))
	ctx := context.Background()

	begin := time.Now()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.False(t, status(t, s))
	assert.Less(t, time.Since(begin), time.Second)

	close(sink.release)
	require.Eventually(t, func() bool { return sink.sent.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdown_DrainsHistory(t *testing.T) {
	sink := &recordingSink{}
	s, _ := newTestSupervisor(t, 0, WithHistory(sink))
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, []history.EventType{history.EventStart, history.EventStop}, sink.types())
	require.NoError(t, s.Shutdown(ctx), "second shutdown is a no-op")
}

func TestShutdown(t *testing.T) {
	s, l := newTestSupervisor(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Shutdown(ctx))
	<-s.Done()
	assert.Equal(t, int32(0), l.live.Load())

	assert.ErrorIs(t, s.Start(ctx), ErrShutdown)
	_, err := s.Status(ctx)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.NoError(t, s.Shutdown(ctx), "second shutdown is a no-op")
}

func TestShutdown_KeepRunning(t *testing.T) {
	s, l := newTestSupervisor(t, 0, WithKeepOnShutdown(true))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, int32(1), l.live.Load())
	assert.Zero(t, l.last().released.Load())
	l.mu.Lock()
	assert.True(t, l.lastSpec.Detached, "a task left running must not depend on daemon-owned pipes")
	l.mu.Unlock()
}

func TestSend_ContextCancelled(t *testing.T) {
	s, _ := newTestSupervisor(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Start(ctx)
	// either the enqueue or the launch observes the cancelled context
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "restarting", StateRestarting.String())
	assert.Equal(t, "unknown", State(9).String())
}
