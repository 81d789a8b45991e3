package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caihongdao/antbox-monitor/internal/scanner"
)

func TestMetrics_ScanEvents(t *testing.T) {
	m := New()

	require.NoError(t, m.HandleResult(1, scanner.ProbeOutcome{Category: scanner.CategoryAntBox, Status: scanner.StatusOnline}))
	require.NoError(t, m.HandleResult(1, scanner.ProbeOutcome{Category: scanner.CategoryAntBox, Status: scanner.StatusOnline}))
	require.NoError(t, m.HandleResult(1, scanner.ProbeOutcome{Category: scanner.CategoryMiner, Status: scanner.StatusAPIOnly}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.devicesFound.WithLabelValues("antbox", "online")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.devicesFound.WithLabelValues("miner", "api_only")))

	require.NoError(t, m.HandleProgress(scanner.ProgressSnapshot{
		Status:     scanner.SessionScanning,
		Total:      200,
		Percent:    25,
		Counters:   scanner.Counters{Scanned: 50},
		Throughput: 12.5,
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeScans))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.addressesScanned))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.progressPercent))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.throughput))

	require.NoError(t, m.HandleSummary(scanner.Summary{
		Status:         scanner.SessionStopped,
		Total:          200,
		Counters:       scanner.Counters{Scanned: 60},
		ElapsedSeconds: 4.2,
	}))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeScans))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.addressesScanned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scansTotal.WithLabelValues("stopped")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.scanDuration))
}

func TestMetrics_HandlerServes(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `antbox_http_requests_total{method="GET",path="/health",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
