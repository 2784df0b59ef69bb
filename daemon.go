package fgsvc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/fgsvc/internal/history"
	"github.com/loykin/fgsvc/internal/history/factory"
	"github.com/loykin/fgsvc/internal/metrics"
	iapi "github.com/loykin/fgsvc/internal/server"
	"github.com/loykin/fgsvc/internal/supervisor"
	itls "github.com/loykin/fgsvc/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 10 * time.Second

// Daemon is the host process: one supervisor plus its control API, metrics
// listener and history sinks, all built from a Config.
type Daemon struct {
	cfg   *Config
	log   *slog.Logger
	sup   *supervisor.Supervisor
	sinks history.Multi
	tls   *tls.Config
}

// NewDaemon builds the supervisor described by c. Nothing is started until Run.
// Construction adopts a task left running by a previous daemon.
func NewDaemon(c *Config, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}
	spec, err := c.TaskSpec()
	if err != nil {
		return nil, fmt.Errorf("task config: %w", err)
	}
	tlsCfg, err := itls.Setup(c.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("server tls: %w", err)
	}

	if c.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	sinks, err := factory.NewSinks(c.History.DSNs)
	if err != nil {
		return nil, fmt.Errorf("history sinks: %w", err)
	}

	opts := []supervisor.Option{
		supervisor.WithLogger(log),
		supervisor.WithKeepOnShutdown(c.Task.KeepRunning),
	}
	if len(sinks) > 0 {
		opts = append(opts, supervisor.WithHistory(sinks))
	}
	sup, err := supervisor.New(spec, opts...)
	if err != nil {
		_ = sinks.Close()
		return nil, err
	}
	return &Daemon{cfg: c, log: log, sup: sup, sinks: sinks, tls: tlsCfg}, nil
}

// Supervisor exposes the daemon's supervisor for embedding.
func (d *Daemon) Supervisor() *Supervisor { return &Supervisor{inner: d.sup} }

// Run starts the task, serves the control API (and metrics when enabled) and
// blocks until ctx is done. It then shuts everything down. A failed initial
// start is logged; the daemon keeps serving so the task can be started later.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.sup.Start(ctx); err != nil {
		d.log.Error("initial start failed", "error", err)
	}

	sc := d.cfg.Server
	router := iapi.NewRouter(d.sup, sc.BasePath,
		iapi.WithLogger(d.log),
		iapi.WithRateLimit(sc.RateLimit, sc.Burst),
	)
	servers := []*http.Server{iapi.NewTLSServer(sc.Listen, router.HandlerFor(sc.Engine), d.tls, d.log)}
	d.log.Info("control API listening", "addr", sc.Listen, "base", sc.BasePath, "engine", sc.Engine, "tls", d.tls != nil)

	if d.cfg.Metrics.Enabled && d.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		servers = append(servers, iapi.NewServer(d.cfg.Metrics.Listen, mux, d.log))
		d.log.Info("metrics listening", "addr", d.cfg.Metrics.Listen)
	}

	<-ctx.Done()
	d.log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	for _, s := range servers {
		if err := s.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.sup.Shutdown(sctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.sinks.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
