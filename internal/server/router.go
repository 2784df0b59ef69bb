package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/fgsvc/internal/supervisor"
	"golang.org/x/time/rate"
)

// Controller is the supervisor surface exposed over HTTP.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Snapshot(ctx context.Context) (supervisor.Snapshot, error)
}

// Router provides embeddable HTTP handlers for controlling the task.
// Endpoints:
//
//	POST {basePath}/start    200 {"ok":true} | 500 when the start failed
//	POST {basePath}/stop     200 {"ok":true}
//	POST {basePath}/restart  202 {"ok":true}, the start runs after the restart delay
//	GET  {basePath}/status   {"running":bool}; ?detail=true returns the snapshot
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	basePath string
	limiter  *rate.Limiter
	timeout  time.Duration
	log      *slog.Logger
}

type RouterOption func(*Router)

// WithRateLimit enables a token bucket shared by all routes. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) RouterOption {
	return func(r *Router) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout bounds how long a request waits for the supervisor to answer.
func WithTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.timeout = d }
}

func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

// NewRouter constructs a Router. Example basePath "/api" results in
// /api/start, /api/stop, /api/restart and /api/status.
func NewRouter(ctl Controller, basePath string, opts ...RouterOption) *Router {
	r := &Router{
		ctl:      ctl,
		basePath: sanitizeBase(basePath),
		timeout:  10 * time.Second,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.ginLimit)
	group := g.Group(r.basePath)
	group.POST("/start", r.ginAction(actionStart))
	group.POST("/stop", r.ginAction(actionStop))
	group.POST("/restart", r.ginAction(actionRestart))
	group.GET("/status", func(c *gin.Context) {
		code, body := r.status(c.Request.Context(), c.Query("detail"))
		writeJSON(c, code, body)
	})
	return g
}

// HandlerFor returns the handler for engine ("gin" or "echo"; empty means gin).
func (r *Router) HandlerFor(engine string) http.Handler {
	if engine == "echo" {
		return r.EchoHandler()
	}
	return r.Handler()
}

func (r *Router) ginLimit(c *gin.Context) {
	if !r.allow() {
		writeJSON(c, http.StatusTooManyRequests, errorResp{Error: "rate limit exceeded"})
		c.Abort()
		return
	}
	c.Next()
}

func (r *Router) ginAction(a action) gin.HandlerFunc {
	return func(c *gin.Context) {
		code, body := r.act(c.Request.Context(), a)
		writeJSON(c, code, body)
	}
}

// NewServer starts a standalone HTTP server on addr serving h.
// Callers stop it with Shutdown or Close.
func NewServer(addr string, h http.Handler, log *slog.Logger) *http.Server {
	return NewTLSServer(addr, h, nil, log)
}

// NewTLSServer is NewServer over HTTPS. A nil tlsCfg serves plain HTTP.
// tlsCfg must carry its certificates (Certificates or GetCertificate).
func NewTLSServer(addr string, h http.Handler, tlsCfg *tls.Config, log *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		var err error
		if tlsCfg != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return server
}

// --- engine independent handling ---

type action string

const (
	actionStart   action = "start"
	actionStop    action = "stop"
	actionRestart action = "restart"
)

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Running bool `json:"running"`
}

func (r *Router) allow() bool {
	return r.limiter == nil || r.limiter.Allow()
}

func (r *Router) act(ctx context.Context, a action) (int, any) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var err error
	code := http.StatusOK
	switch a {
	case actionStart:
		err = r.ctl.Start(ctx)
	case actionStop:
		err = r.ctl.Stop(ctx)
	case actionRestart:
		err = r.ctl.Restart(ctx)
		code = http.StatusAccepted
	}
	if err != nil {
		r.log.Warn("control request failed", "action", string(a), "error", err)
		return errorCode(err), errorResp{Error: err.Error()}
	}
	return code, okResp{OK: true}
}

func (r *Router) status(ctx context.Context, detail string) (int, any) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snap, err := r.ctl.Snapshot(ctx)
	if err != nil {
		return errorCode(err), errorResp{Error: err.Error()}
	}
	if full, _ := strconv.ParseBool(detail); full {
		return http.StatusOK, snap
	}
	return http.StatusOK, statusResp{Running: snap.Running}
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
