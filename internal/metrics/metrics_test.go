package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		UEvent("add")
		Scan("registered")
		Registered("he910")
		TornDown()
	})
}

func TestPrometheusExport(t *testing.T) {
	h, err := InitPrometheus()
	require.NoError(t, err)
	require.NoError(t, Init())

	UEvent("add")
	Scan("registered")
	Registered("he910")
	SetState(3)
	assert.Equal(t, 3, State())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "uevents")
	assert.Contains(t, string(body), `family="he910"`)
	assert.Contains(t, string(body), "registry")
}
