package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/fgsvc/internal/history"
	"github.com/loykin/fgsvc/internal/metrics"
	"github.com/loykin/fgsvc/internal/task"
)

var (
	// ErrStartFailed wraps every failure to acquire a task handle.
	ErrStartFailed = errors.New("start failed")
	// ErrShutdown is returned by operations issued after Shutdown.
	ErrShutdown = errors.New("supervisor shut down")
)

const (
	historyTimeout = 2 * time.Second
	historyBuffer  = 64
)

type op int

const (
	opStart op = iota
	opStop
	opRestart
	opSnapshot
	opDeferredStart
	opShutdown
)

type message struct {
	op    op
	ctx   context.Context
	gen   uint64     // restart generation, opDeferredStart only
	reply chan reply // nil for fire-and-forget messages
}

type reply struct {
	err  error
	snap Snapshot
}

// Supervisor owns the lifecycle of one task. Every operation is a message on
// a single channel drained by one goroutine, so state and handle are only
// touched there and transitions are atomic with respect to each other.
//
// Lock Hierarchy: none. All loop-owned fields below msgs are confined to run.
type Supervisor struct {
	spec           task.Spec
	launcher       task.Launcher
	log            *slog.Logger
	history        history.Sink
	keepOnShutdown bool
	adopt          bool

	msgs    chan message
	done    chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc

	// history events leave the loop through events and are sent by
	// drainHistory, so a slow sink never delays an operation.
	events      chan history.Event
	historyDone chan struct{}

	state     State
	handle    task.Handle
	starts    int
	restarts  int
	restartID uint64 // bumped by every accepted Restart
	startedAt time.Time
	stoppedAt time.Time
	lastErr   error
}

// New validates spec and starts the supervisor loop. Unless disabled with
// WithAdopt(false), a live instance recorded in spec.PIDFile is adopted as Running.
func New(spec task.Spec, opts ...Option) (*Supervisor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		spec:     spec,
		launcher: task.ExecLauncher{},
		log:      slog.Default(),
		adopt:    true,
		msgs:     make(chan message, 16),
		done:     make(chan struct{}),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("task", spec.Name)
	if s.keepOnShutdown {
		s.spec.Detached = true
	}

	if s.adopt {
		s.adoptExisting()
	}
	if s.history != nil {
		s.events = make(chan history.Event, historyBuffer)
		s.historyDone = make(chan struct{})
		go s.drainHistory()
	}
	go s.run()
	return s, nil
}

// Name returns the task identity.
func (s *Supervisor) Name() string { return s.spec.Name }

// Start acquires the task if it is stopped. It is a no-op while running or
// restarting. Acquisition failures match ErrStartFailed.
func (s *Supervisor) Start(ctx context.Context) error {
	r, err := s.send(ctx, opStart)
	if err != nil {
		return err
	}
	return r.err
}

// Stop hard-stops the task. It is a no-op when already stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	r, err := s.send(ctx, opStop)
	if err != nil {
		return err
	}
	return r.err
}

// Restart stops the task and schedules a start after the task's restart
// delay. It returns before the deferred start runs; failures of that start
// are logged and recorded but not returned to anyone.
func (s *Supervisor) Restart(ctx context.Context) error {
	r, err := s.send(ctx, opRestart)
	if err != nil {
		return err
	}
	return r.err
}

// Status reports whether the task is running or restarting. A running task is
// verified against the OS; if it was reclaimed the supervisor moves to Stopped.
func (s *Supervisor) Status(ctx context.Context) (bool, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return snap.Running, nil
}

// Snapshot returns the full view after the same OS check Status performs.
func (s *Supervisor) Snapshot(ctx context.Context) (Snapshot, error) {
	r, err := s.send(ctx, opSnapshot)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snap, nil
}

// Shutdown stops the task (unless WithKeepOnShutdown) and ends the loop.
// Operations issued afterwards return ErrShutdown.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	r, err := s.send(ctx, opShutdown)
	if errors.Is(err, ErrShutdown) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.historyDone != nil {
		select {
		case <-s.historyDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.err
}

// Done is closed once the loop has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// send enqueues a message and waits for its reply. Abandoning the wait via
// ctx does not cancel an operation that was already enqueued.
func (s *Supervisor) send(ctx context.Context, o op) (reply, error) {
	m := message{op: o, ctx: ctx, reply: make(chan reply, 1)}
	select {
	case s.msgs <- m:
	case <-s.done:
		return reply{}, ErrShutdown
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	select {
	case r := <-m.reply:
		return r, nil
	case <-s.done:
		// the loop may have answered just before exiting
		select {
		case r := <-m.reply:
			return r, nil
		default:
			return reply{}, ErrShutdown
		}
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// post enqueues a fire-and-forget message; it is dropped after shutdown.
func (s *Supervisor) post(m message) {
	m.ctx = s.baseCtx
	select {
	case s.msgs <- m:
	case <-s.done:
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	for m := range s.msgs {
		var r reply
		switch m.op {
		case opStart:
			r.err = s.handleStart(m.ctx)
		case opStop:
			s.handleStop()
		case opRestart:
			s.handleRestart()
		case opSnapshot:
			r.snap = s.handleSnapshot()
		case opDeferredStart:
			s.handleDeferredStart(m.gen)
		case opShutdown:
			s.handleShutdown()
			if m.reply != nil {
				m.reply <- r
			}
			return
		}
		if m.reply != nil {
			m.reply <- r
		}
	}
}

func (s *Supervisor) handleStart(ctx context.Context) error {
	s.reconcile()
	if s.state != StateStopped {
		return nil
	}
	return s.acquire(ctx)
}

func (s *Supervisor) handleStop() {
	if s.state == StateStopped {
		return
	}
	s.release()
	s.setState(StateStopped)
	metrics.IncStop(s.spec.Name)
	s.log.Info("task stopped")
	s.emit(history.EventStop, nil)
}

func (s *Supervisor) handleRestart() {
	if s.state == StateRestarting {
		return
	}
	s.release()
	s.setState(StateRestarting)
	s.restarts++
	s.restartID++
	gen := s.restartID
	metrics.IncRestart(s.spec.Name)

	delay := s.spec.Delay()
	s.log.Info("task restart scheduled", "delay", delay)
	s.emit(history.EventRestart, nil)
	time.AfterFunc(delay, func() { s.post(message{op: opDeferredStart, gen: gen}) })
}

// handleDeferredStart runs once its delay elapses, even after a Stop. Like
// Start it does nothing when the task is already up again. A timer left over
// from an earlier restart is ignored so it cannot cut a newer delay short.
func (s *Supervisor) handleDeferredStart(gen uint64) {
	if gen != s.restartID {
		s.log.Debug("stale deferred start ignored", "restart", gen, "latest", s.restartID)
		return
	}
	s.reconcile()
	if s.state == StateRunning {
		return
	}
	if err := s.acquire(s.baseCtx); err != nil {
		metrics.IncRestartFailure(s.spec.Name)
		s.log.Error("deferred restart failed", "error", err)
		s.emit(history.EventRestartFailed, err)
	}
}

func (s *Supervisor) handleSnapshot() Snapshot {
	by := s.reconcile()
	snap := Snapshot{
		Name:       s.spec.Name,
		State:      s.state.String(),
		Running:    s.state != StateStopped,
		StartedAt:  s.startedAt,
		StoppedAt:  s.stoppedAt,
		Starts:     s.starts,
		Restarts:   s.restarts,
		DetectedBy: by,
	}
	if s.handle != nil {
		snap.PID = s.handle.PID()
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func (s *Supervisor) handleShutdown() {
	defer s.cancel()
	if s.events != nil {
		defer close(s.events)
	}
	if s.keepOnShutdown && s.state == StateRunning {
		s.log.Info("supervisor shutting down, task left running", "pid", s.handle.PID())
		return
	}
	s.handleStop()
}

// acquire launches a new handle. On failure the state settles to Stopped.
func (s *Supervisor) acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = s.baseCtx
	}
	h, err := s.launcher.Launch(ctx, s.spec)
	if err != nil {
		s.lastErr = err
		s.setState(StateStopped)
		metrics.IncStartFailure(s.spec.Name)
		s.log.Warn("task start failed", "error", err)
		s.emit(history.EventStartFailed, err)
		return fmt.Errorf("%w: task %s: %w", ErrStartFailed, s.spec.Name, err)
	}

	s.handle = h
	s.starts++
	s.startedAt = h.StartedAt()
	s.lastErr = nil
	s.setState(StateRunning)

	metrics.IncStart(s.spec.Name)
	s.log.Info("task started", "pid", h.PID())
	s.emit(history.EventStart, nil)
	return nil
}

// release gives the handle back exactly once. Release errors are logged only.
func (s *Supervisor) release() {
	if s.handle == nil {
		return
	}
	if err := s.handle.Release(s.spec.StopWait); err != nil {
		s.log.Warn("task release incomplete", "pid", s.handle.PID(), "error", err)
	}
	s.handle = nil
	s.stoppedAt = time.Now()
}

// reconcile checks a running task against the OS and moves to Stopped when it
// has been reclaimed. It returns the probe that confirmed liveness.
func (s *Supervisor) reconcile() string {
	if s.state != StateRunning || s.handle == nil {
		return ""
	}
	alive, by := s.handle.Alive()
	if alive {
		return by
	}
	pid := s.handle.PID()
	var exitErr error
	if ex, ok := s.handle.(interface{ ExitErr() error }); ok {
		exitErr = ex.ExitErr()
	}
	s.release()
	s.setState(StateStopped)
	metrics.IncReclaim(s.spec.Name)
	s.log.Warn("task reclaimed by OS", "pid", pid, "exit", exitErr)
	s.emitPID(history.EventReclaimed, exitErr, pid)
	return ""
}

func (s *Supervisor) adoptExisting() {
	h, ok := task.Adopt(s.spec)
	if !ok {
		return
	}
	s.handle = h
	s.startedAt = h.StartedAt()
	s.setState(StateRunning)
	s.log.Info("adopted running task", "pid", h.PID())
}

func (s *Supervisor) setState(next State) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	metrics.RecordTransition(s.spec.Name, prev.String(), next.String())
	s.log.Debug("state transition", "from", prev.String(), "to", next.String())
}

func (s *Supervisor) emit(t history.EventType, cause error) {
	pid := 0
	if s.handle != nil {
		pid = s.handle.PID()
	}
	s.emitPID(t, cause, pid)
}

func (s *Supervisor) emitPID(t history.EventType, cause error, pid int) {
	if s.history == nil {
		return
	}
	rec := history.Record{Name: s.spec.Name, PID: pid, State: s.state.String()}
	if s.state == StateRunning {
		rec.StartedAt = s.startedAt
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	ev := history.Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC(), Record: rec}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("history queue full, event dropped", "event", string(t))
	}
}

// drainHistory sends queued events until Shutdown closes the queue. Each send
// is bounded by historyTimeout and outlives the supervisor's own context so
// the final stop event still reaches the sinks.
func (s *Supervisor) drainHistory() {
	defer close(s.historyDone)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := s.history.Send(ctx, ev); err != nil {
			s.log.Warn("history send failed", "event", string(ev.Type), "error", err)
		}
		cancel()
	}
}
