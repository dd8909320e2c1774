package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.RecordsPushed.Add(3)
	m.Requests.WithLabelValues("Push", "OK").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsPushed))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gophvault_sync_records_pushed_total 3")
	assert.Contains(t, string(body), `gophvault_sync_requests_total{code="OK",method="Push"} 1`)
}
