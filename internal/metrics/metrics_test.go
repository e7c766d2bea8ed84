package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	frames := testutil.ToFloat64(FramesExtractedTotal)
	succeeded := testutil.ToFloat64(JobsTotal.WithLabelValues("convert", "succeeded"))

	JobStarted("convert")
	require.Equal(t, 1.0, testutil.ToFloat64(ActiveJobs.WithLabelValues("convert")))

	JobFinished("convert", "succeeded", 12, 0, 2*time.Second)
	require.Equal(t, 0.0, testutil.ToFloat64(ActiveJobs.WithLabelValues("convert")))
	require.Equal(t, succeeded+1, testutil.ToFloat64(JobsTotal.WithLabelValues("convert", "succeeded")))
	require.Equal(t, frames+12, testutil.ToFloat64(FramesExtractedTotal))
}

func TestExportBytes(t *testing.T) {
	bytes := testutil.ToFloat64(ArchivedBytesTotal)

	JobStarted("export")
	JobFinished("export", "succeeded", 3, 4096, time.Second)

	require.Equal(t, bytes+4096, testutil.ToFloat64(ArchivedBytesTotal))
}

func TestHandler(t *testing.T) {
	ProgressEventsTotal.WithLabelValues("conversion-progress").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "mp42png_progress_events_total"))
}
