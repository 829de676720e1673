package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/flemzord/memoir/internal/metrics"
)

func TestManager_Disabled(t *testing.T) {
	t.Parallel()

	for _, m := range []*metrics.Manager{metrics.NoOpManager(), metrics.NewManager(metrics.Config{}), nil} {
		m.RecordPreTurn(true, time.Millisecond)
		m.RecordRecall("hit", 0)
		m.RecordStageFailure("recall")
		m.SetIndexChunks(3)
		if m.Enabled() || m.Registry() != nil {
			t.Error("disabled manager reports enabled")
		}
	}

	rec := httptest.NewRecorder()
	metrics.NoOpManager().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestManager_Records(t *testing.T) {
	t.Parallel()

	m := metrics.NewManager(metrics.DefaultConfig())
	m.RecordPreTurn(true, 10*time.Millisecond)
	m.RecordPreTurn(false, time.Millisecond)
	m.RecordRecall("miss", 2)
	m.RecordRecall("hit", 0)
	m.RecordCompaction()
	m.RecordSummaryWritten()
	m.RecordStageFailure("recall")
	m.RecordJobRun("summary", nil)
	m.RecordJobRun("summary", errors.New("x"))
	m.SetIndexChunks(42)
	m.SetCacheEntries(2)
	m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)

	n, err := testutil.GatherAndCount(m.Registry(), "memoir_pre_turn_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pre_turn series = %d, want 2", n)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`memoir_index_searches_total 2`,
		`memoir_index_chunks 42`,
		`memoir_stage_failures_total{stage="recall"} 1`,
		`memoir_job_runs_total{job="summary",status="error"} 1`,
		`memoir_http_requests_total{method="GET",path="/health",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output lacks %q", want)
		}
	}
}
