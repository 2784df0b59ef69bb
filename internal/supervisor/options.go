package supervisor

import (
	"log/slog"

	"github.com/loykin/fgsvc/internal/history"
	"github.com/loykin/fgsvc/internal/task"
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher replaces the default task.ExecLauncher.
func WithLauncher(l task.Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithHistory sets the sink that receives lifecycle events.
func WithHistory(h history.Sink) Option {
	return func(s *Supervisor) { s.history = h }
}

// WithKeepOnShutdown leaves the task running when the supervisor shuts down,
// so that the next supervisor for the same PID file adopts it.
func WithKeepOnShutdown(keep bool) Option {
	return func(s *Supervisor) { s.keepOnShutdown = keep }
}

// WithAdopt controls whether New adopts a live instance recorded in the PID file.
func WithAdopt(adopt bool) Option {
	return func(s *Supervisor) { s.adopt = adopt }
}
