package fgsvc

import (
	"context"
	"log/slog"
	"net/http"

	cfg "github.com/loykin/fgsvc/internal/config"
	"github.com/loykin/fgsvc/internal/history"
	"github.com/loykin/fgsvc/internal/history/factory"
	"github.com/loykin/fgsvc/internal/metrics"
	iapi "github.com/loykin/fgsvc/internal/server"
	"github.com/loykin/fgsvc/internal/supervisor"
	"github.com/loykin/fgsvc/internal/task"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = task.Spec

type Snapshot = supervisor.Snapshot

type State = supervisor.State

type Config = cfg.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

const (
	StateStopped    = supervisor.StateStopped
	StateRunning    = supervisor.StateRunning
	StateRestarting = supervisor.StateRestarting
)

var (
	ErrStartFailed = supervisor.ErrStartFailed
	ErrShutdown    = supervisor.ErrShutdown
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

type Option = supervisor.Option

func WithLogger(l *slog.Logger) Option    { return supervisor.WithLogger(l) }
func WithHistory(h HistorySink) Option    { return supervisor.WithHistory(h) }
func WithKeepOnShutdown(keep bool) Option { return supervisor.WithKeepOnShutdown(keep) }
func WithAdopt(adopt bool) Option         { return supervisor.WithAdopt(adopt) }
func WithLauncher(l task.Launcher) Option { return supervisor.WithLauncher(l) }

// New validates spec and starts a supervisor for it.
func New(spec Spec, opts ...Option) (*Supervisor, error) {
	s, err := supervisor.New(spec, opts...)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: s}, nil
}

func (s *Supervisor) Name() string                             { return s.inner.Name() }
func (s *Supervisor) Start(ctx context.Context) error          { return s.inner.Start(ctx) }
func (s *Supervisor) Stop(ctx context.Context) error           { return s.inner.Stop(ctx) }
func (s *Supervisor) Restart(ctx context.Context) error        { return s.inner.Restart(ctx) }
func (s *Supervisor) Status(ctx context.Context) (bool, error) { return s.inner.Status(ctx) }
func (s *Supervisor) Snapshot(ctx context.Context) (Snapshot, error) {
	return s.inner.Snapshot(ctx)
}
func (s *Supervisor) Shutdown(ctx context.Context) error { return s.inner.Shutdown(ctx) }

// Handler returns the control API for s mounted under basePath. engine is
// "gin" (default) or "echo".
func (s *Supervisor) Handler(basePath, engine string) http.Handler {
	return iapi.NewRouter(s.inner, basePath).HandlerFor(engine)
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySinks opens one sink per DSN (sqlite://, postgres://, clickhouse://, opensearch://).
func NewHistorySinks(dsns []string) (history.Multi, error) { return factory.NewSinks(dsns) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
