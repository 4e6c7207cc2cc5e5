package observability_test

import (
	"context"
	nethttp "net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/backoff"
	"github.com/gaborage/go-costops/middleware"
	"github.com/gaborage/go-costops/observability"
	obtest "github.com/gaborage/go-costops/observability/testing"
	"github.com/gaborage/go-costops/retry"
	"github.com/gaborage/go-costops/testing/fixtures"
)

const (
	testUsagePath = "/api/v1/usage/usage-123"
)

func statusTransport(statuses ...int) retry.Transport {
	replies := make([]*retry.Reply, len(statuses))
	for i, status := range statuses {
		replies[i] = fixtures.StatusReply(status)
	}
	return fixtures.Sequence(replies...)
}

func setup(t *testing.T, maxRetries int) (*retry.Controller, *obtest.TestTraceProvider, *obtest.TestMeterProvider) {
	t.Helper()
	tp := obtest.NewTestTraceProvider()
	mp := obtest.NewTestMeterProvider()
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	manager := middleware.NewManager()
	inst, err := observability.Instrument(manager, tp, mp)
	require.NoError(t, err)
	t.Cleanup(inst.Close)

	cfg := retry.Config{MaxRetries: maxRetries, Backoff: backoff.New(10*time.Millisecond, time.Second), Timeout: time.Second}
	return retry.New(manager, cfg, retry.WithSleeper((&fixtures.RecordingSleeper{}).Sleep)), tp, mp
}

func usageRequest() middleware.Request {
	return middleware.Request{Method: nethttp.MethodGet, Path: testUsagePath}
}

func TestInstrumentRecordsRetriedSuccess(t *testing.T) {
	ctrl, tp, mp := setup(t, 3)

	resp, err := ctrl.Execute(context.Background(), retry.Static(usageRequest()), statusTransport(503, 503, 200))
	require.NoError(t, err)
	require.NotNil(t, resp)

	spans := obtest.NewSpanCollector(t, tp.Exporter).WithName(observability.SpanName)
	spans.AssertCount(3)
	spans.WithStatus(codes.Error).AssertCount(2)
	ok := spans.WithStatus(codes.Ok).AssertCount(1).First()
	obtest.AssertSpanAttribute(t, &ok, string(observability.AttrAttempt), 2)
	obtest.AssertSpanAttribute(t, &ok, string(observability.AttrStatus), 200)
	obtest.AssertSpanAttribute(t, &ok, string(observability.AttrMethod), nethttp.MethodGet)

	rm := mp.Collect(t)
	obtest.AssertCounterTotal(t, rm, observability.MetricRequests, 3)
	obtest.AssertCounterTotal(t, rm, observability.MetricRetries, 2,
		observability.AttrKind.String(apierror.KindServer.String()))
	assert.Nil(t, obtest.FindMetric(rm, observability.MetricErrors))

	count, err := obtest.HistogramCount(rm, observability.MetricDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestInstrumentParentsAttemptSpansUnderCaller(t *testing.T) {
	ctrl, tp, _ := setup(t, 1)

	ctx, parent := tp.Tracer("caller").Start(context.Background(), "list-usage")
	_, err := ctrl.Execute(ctx, retry.Static(usageRequest()), statusTransport(503, 200))
	parent.End()
	require.NoError(t, err)

	spans := obtest.NewSpanCollector(t, tp.Exporter).WithName(observability.SpanName).AssertCount(2)
	for _, span := range spans.Spans() {
		assert.Equal(t, parent.SpanContext().TraceID(), span.SpanContext.TraceID())
		assert.Equal(t, parent.SpanContext().SpanID(), span.Parent.SpanID())
	}
}

func TestInstrumentRecordsTerminalFailure(t *testing.T) {
	ctrl, tp, mp := setup(t, 3)

	_, err := ctrl.Execute(context.Background(), retry.Static(usageRequest()), statusTransport(404))
	require.Error(t, err)

	span := obtest.NewSpanCollector(t, tp.Exporter).AssertCount(1).First()
	obtest.AssertSpanError(t, &span, "")
	obtest.AssertSpanAttribute(t, &span, string(observability.AttrKind), apierror.KindNotFound.String())
	obtest.AssertSpanAttribute(t, &span, string(observability.AttrStatus), 404)
	assert.NotEmpty(t, span.Events, "error should be recorded on the span")

	rm := mp.Collect(t)
	obtest.AssertCounterTotal(t, rm, observability.MetricErrors, 1,
		observability.AttrKind.String(apierror.KindNotFound.String()))
	obtest.AssertCounterTotal(t, rm, observability.MetricRequests, 1)
}

func TestInstrumentRecordsExhaustion(t *testing.T) {
	ctrl, tp, mp := setup(t, 1)

	_, err := ctrl.Execute(context.Background(), retry.Static(usageRequest()), statusTransport(500))
	require.True(t, apierror.IsKind(err, apierror.KindRetryExhausted))

	collector := obtest.NewSpanCollector(t, tp.Exporter)
	collector.AssertCount(2)
	collector.WithStatus(codes.Error).AssertCount(2)

	rm := mp.Collect(t)
	obtest.AssertCounterTotal(t, rm, observability.MetricRetries, 1)
	obtest.AssertCounterTotal(t, rm, observability.MetricErrors, 1,
		observability.AttrKind.String(apierror.KindRetryExhausted.String()))
}

func TestInstrumentRequestChainFailureHasNoSpan(t *testing.T) {
	ctrl, tp, mp := setup(t, 3)
	ctrl.Manager().AddRequestInterceptor(func(_ context.Context, rc middleware.RequestContext) (middleware.RequestContext, error) {
		return rc, apierror.NewAuthentication("missing key")
	})

	_, err := ctrl.Execute(context.Background(), retry.Static(usageRequest()), statusTransport(200))
	require.Error(t, err)

	assert.Equal(t, 0, obtest.NewSpanCollector(t, tp.Exporter).Len())
	obtest.AssertCounterTotal(t, mp.Collect(t), observability.MetricErrors, 1,
		observability.AttrKind.String(apierror.KindAuthentication.String()))
}

func TestInstrumentCloseStopsRecording(t *testing.T) {
	tp := obtest.NewTestTraceProvider()
	mp := obtest.NewTestMeterProvider()
	manager := middleware.NewManager()

	inst, err := observability.Instrument(manager, tp, mp)
	require.NoError(t, err)

	rc := middleware.NewRequestContext(usageRequest())
	manager.Notify(middleware.RequestStart{Request: rc})
	inst.Close()
	manager.Notify(middleware.RequestStart{Request: rc.Derive(1)})

	// the in-flight span is ended by Close
	obtest.NewSpanCollector(t, tp.Exporter).AssertCount(1)
	obtest.AssertCounterTotal(t, mp.Collect(t), observability.MetricRequests, 1)
}
