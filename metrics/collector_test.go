package metrics

import (
	nethttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/middleware"
)

func newAttached(t *testing.T) (*Collector, *middleware.Manager, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, "")
	m := middleware.NewManager()
	t.Cleanup(c.Attach(m))
	return c, m, reg
}

func TestCollectorCountsEvents(t *testing.T) {
	c, m, _ := newAttached(t)

	rc := middleware.NewRequestContext(middleware.Request{Method: nethttp.MethodGet, Path: "/api/v1/usage"})
	m.Notify(middleware.RequestStart{Request: rc})
	m.Notify(middleware.RetryAttempt{
		Request: rc,
		Err:     apierror.NewServer("unavailable", 503),
		Delay:   200 * time.Millisecond,
	})
	retry := rc.Derive(1)
	m.Notify(middleware.RequestStart{Request: retry})
	m.Notify(middleware.RequestEnd{Response: middleware.ResponseContext{
		Request:    retry,
		StatusCode: 200,
		Elapsed:    50 * time.Millisecond,
	}})

	assert.InDelta(t, 2, testutil.ToFloat64(c.Requests.WithLabelValues(nethttp.MethodGet)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.Responses.WithLabelValues(nethttp.MethodGet, "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.Retries.WithLabelValues("server")), 0)
	assert.Equal(t, 0, testutil.CollectAndCount(c.Errors))
	assert.Equal(t, 1, testutil.CollectAndCount(c.Latency))
}

func TestCollectorErrorsByKind(t *testing.T) {
	c, m, _ := newAttached(t)

	rc := middleware.NewRequestContext(middleware.Request{Method: nethttp.MethodPost, Path: "/api/v1/usage"})
	kinds := []*apierror.Error{
		apierror.NewNotFound("missing", "u-1"),
		apierror.NewNotFound("missing", "u-2"),
		apierror.NewAuthentication("bad key"),
	}
	for _, err := range kinds {
		m.Notify(middleware.RequestError{Error: middleware.NewErrorContext(rc, err)})
	}
	m.Notify(middleware.RequestError{Error: middleware.ErrorContext{Request: rc}})

	tests := []struct {
		kind     string
		expected float64
	}{
		{kind: "not_found", expected: 2},
		{kind: "authentication", expected: 1},
		{kind: "unknown", expected: 1},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.InDelta(t, tt.expected, testutil.ToFloat64(c.Errors.WithLabelValues(tt.kind)), 0)
		})
	}
}

func TestCollectorExposition(t *testing.T) {
	_, m, reg := newAttached(t)

	m.Notify(middleware.RetryAttempt{Err: apierror.NewRateLimit("slow down", time.Second), Delay: time.Second})

	expected := `
# HELP costops_retries_total Total number of retries scheduled
# TYPE costops_retries_total counter
costops_retries_total{kind="rate_limit"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "costops_retries_total")
	require.NoError(t, err)
}

func TestCollectorDetach(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, "client")
	m := middleware.NewManager()

	detach := c.Attach(m)
	m.Notify(middleware.RequestStart{})
	detach()
	m.Notify(middleware.RequestStart{})

	assert.InDelta(t, 1, testutil.ToFloat64(c.Requests.WithLabelValues("")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		assert.True(t, strings.HasPrefix(mf.GetName(), "client_"), mf.GetName())
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg, "")
	assert.Panics(t, func() { NewCollector(reg, "") })
}
