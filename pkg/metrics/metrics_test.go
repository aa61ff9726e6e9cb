package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordImport(t *testing.T) {
	before := testutil.ToFloat64(ImportTotal.WithLabelValues(StatusSuccess))
	added := testutil.ToFloat64(ImportRows.WithLabelValues("added"))

	RecordImport(StatusSuccess, 7, 2, 1, 50*time.Millisecond)

	if got := testutil.ToFloat64(ImportTotal.WithLabelValues(StatusSuccess)); got != before+1 {
		t.Errorf("import_total = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(ImportRows.WithLabelValues("added")); got != added+7 {
		t.Errorf("rows added = %v, want %v", got, added+7)
	}
}

func TestRecordQuery(t *testing.T) {
	before := testutil.ToFloat64(QueryErrors.WithLabelValues("total_count"))
	RecordQuery("total_count", time.Millisecond, nil)
	RecordQuery("total_count", time.Millisecond, errors.New("boom"))
	if got := testutil.ToFloat64(QueryErrors.WithLabelValues("total_count")); got != before+1 {
		t.Errorf("query errors = %v, want %v", got, before+1)
	}
}

func TestLint(t *testing.T) {
	RecordAPIRequest("GET", "/v1/health", 200, time.Millisecond)
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Fatalf("GatherAndLint: %v", err)
	}
	for _, p := range problems {
		t.Errorf("metric %s: %s", p.Metric, p.Text)
	}
}
