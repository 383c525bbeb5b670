package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordExecutionStart()
	m.RecordExecutionSuccess(time.Second)
	m.RecordExecutionFailure(time.Second)
	m.RecordSourceFetch("ulsan", time.Second, errors.New("boom"))
	m.RecordSourceAttempt("gyeongnam", time.Second, nil)
	m.RecordSourceOutcome("ulsan", "ok")
	m.RecordPostings("ulsan", 3, 1)
	m.RecordDelivery("fcm", time.Millisecond, nil)
	m.RecordMirrorPublish("ntfy", nil)
	m.RecordDestinations(2)
	m.RecordStoreError("get")
	m.RecordStoreConnectionRetries(1)
	require.NoError(t, m.Push(context.Background()))
	require.Nil(t, m.Registry())
}

func TestRecorders(t *testing.T) {
	m := NewMetrics("", "")

	m.RecordSourceAttempt("gyeongnam", time.Second, errors.New("no token"))
	m.RecordSourceAttempt("gyeongnam", time.Second, nil)
	m.RecordSourceAttempt("gyeongnam", time.Second, nil)
	require.Equal(t, 1.0, testutil.ToFloat64(m.SourceAttemptsTotal.WithLabelValues("gyeongnam", "failure")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.SourceAttemptsTotal.WithLabelValues("gyeongnam", "success")))

	m.RecordDelivery("fcm", time.Millisecond, nil)
	m.RecordDelivery("fcm", time.Millisecond, errors.New("unregistered"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("fcm", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("fcm", "success")))

	m.RecordPostings("ulsan", 12, 2)
	require.Equal(t, 12.0, testutil.ToFloat64(m.SourcePostingsCurrent.WithLabelValues("ulsan")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.PostingsNewTotal.WithLabelValues("ulsan")))

	require.Equal(t, 2.0, testutil.ToFloat64(m.ErrorsTotal))
}

func TestPushWithoutGateway(t *testing.T) {
	m := NewMetrics("", "")
	require.NoError(t, m.Push(context.Background()))
}

func TestPushToGateway(t *testing.T) {
	var gotPath string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	m := FromSettings(Settings{PushgatewayURL: gateway.URL, JobName: "shinbo-test", GroupingKey: "ci"})
	m.RecordExecutionStart()
	require.NoError(t, m.Push(context.Background()))
	require.True(t, strings.HasPrefix(gotPath, "/metrics/job/shinbo-test"), gotPath)
	require.Contains(t, gotPath, "/instance/ci")
}
