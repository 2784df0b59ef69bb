package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/fgsvc/internal/server"
	"github.com/loykin/fgsvc/internal/supervisor"
	"github.com/loykin/fgsvc/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandle struct {
	started time.Time
	gone    bool
}

func (h *stubHandle) PID() int                    { return 77 }
func (h *stubHandle) StartedAt() time.Time        { return h.started }
func (h *stubHandle) Alive() (bool, string)       { return !h.gone, "stub" }
func (h *stubHandle) Release(time.Duration) error { h.gone = true; return nil }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newDaemon(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	launcher := task.LauncherFunc(func(context.Context, task.Spec) (task.Handle, error) {
		return &stubHandle{started: time.Now()}, nil
	})
	sup, err := supervisor.New(
		task.Spec{Name: "svc", Command: "sleep 1", RestartDelay: 50 * time.Millisecond},
		supervisor.WithLauncher(launcher), supervisor.WithLogger(quiet()), supervisor.WithAdopt(false),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })

	srv := httptest.NewServer(server.NewRouter(sup, "/api", server.WithLogger(quiet())).Handler())
	t.Cleanup(srv.Close)
	return srv.URL + "/api"
}

func TestClientRoundTrip(t *testing.T) {
	c, err := New(Config{BaseURL: newDaemon(t), Logger: quiet()})
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))

	running, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, c.Start(ctx))
	running, err = c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, running)

	st, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "svc", st.Name)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, 77, st.PID)
	assert.Equal(t, 1, st.Starts)

	require.NoError(t, c.Stop(ctx))
	running, err = c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, c.Restart(ctx))
	require.Eventually(t, func() bool {
		st, err := c.Snapshot(ctx)
		return err == nil && st.State == "running"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/start":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"start failed: boom"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/api/", Logger: quiet()})
	require.NoError(t, err)

	err = c.Start(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "start failed: boom", apiErr.Message)
	assert.Contains(t, err.Error(), "HTTP 500")

	_, err = c.Status(context.Background())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "HTTP 502", apiErr.Error())
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, Timeout: time.Second, Logger: quiet()})
	require.NoError(t, err)
	assert.False(t, c.IsReachable(context.Background()))
	assert.Error(t, c.Stop(context.Background()))
}

func TestNewTLSConfig(t *testing.T) {
	_, err := New(Config{TLS: &TLSClientConfig{CACert: filepath.Join(t.TempDir(), "missing.pem")}})
	assert.Error(t, err)

	c, err := New(Config{Insecure: true})
	require.NoError(t, err)
	tr := c.client.Transport.(*http.Transport)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)

	c, err = New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, c.baseURL)
}
