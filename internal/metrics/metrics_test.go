package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// register resets the package gate so each test binds a fresh registry.
func register(t *testing.T) *prometheus.Registry {
	t.Helper()
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg), "second register must be a no-op")
	t.Cleanup(func() { regOK.Store(false) })
	return reg
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	// must not panic or record anything
	IncStart("nobody")
	RecordTransition("nobody", "stopped", "running")
}

func TestCountersAndTransitions(t *testing.T) {
	reg := register(t)

	IncStart("svc")
	IncStart("svc")
	IncStartFailure("svc")
	IncStop("svc")
	IncRestart("svc")
	IncRestartFailure("svc")
	IncReclaim("svc")
	RecordTransition("svc", "stopped", "running")
	RecordTransition("svc", "running", "restarting")

	assert.Equal(t, 2.0, testutil.ToFloat64(taskStarts.WithLabelValues("svc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(taskRestartFailures.WithLabelValues("svc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(currentState.WithLabelValues("svc", "restarting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(currentState.WithLabelValues("svc", "running")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"fgsvc_task_starts_total",
		"fgsvc_task_start_failures_total",
		"fgsvc_task_stops_total",
		"fgsvc_task_restarts_total",
		"fgsvc_task_restart_failures_total",
		"fgsvc_task_reclaims_total",
		"fgsvc_task_state_transitions_total",
		"fgsvc_task_current_state",
	} {
		assert.True(t, names[n], "missing metric %s", n)
	}
}

func TestRegister_EachRegistryGetsCollectors(t *testing.T) {
	first := register(t)
	second := prometheus.NewRegistry()
	require.NoError(t, Register(second))

	IncReclaim("svc")

	for _, reg := range []*prometheus.Registry{first, second} {
		mfs, err := reg.Gather()
		require.NoError(t, err)
		found := false
		for _, mf := range mfs {
			if mf.GetName() == "fgsvc_task_reclaims_total" {
				found = true
			}
		}
		assert.True(t, found, "registry is missing the reclaim counter")
	}
}

func TestHandlerForServesRegistry(t *testing.T) {
	reg := register(t)
	IncStop("svc")

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), `fgsvc_task_stops_total{name="svc"}`)
}
