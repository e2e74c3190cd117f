package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveMirroredImages(t *testing.T) {
	Init()

	before := testutil.ToFloat64(imagesMirroredTotal.WithLabelValues("lxhentai"))
	bytesBefore := testutil.ToFloat64(bytesMirroredTotal.WithLabelValues("lxhentai"))

	ObserveMirroredImages("lxhentai", 3, 4096)

	require.Equal(t, before+3, testutil.ToFloat64(imagesMirroredTotal.WithLabelValues("lxhentai")))
	require.Equal(t, bytesBefore+4096, testutil.ToFloat64(bytesMirroredTotal.WithLabelValues("lxhentai")))
}

func TestObserveIngestRunEmptyHalt(t *testing.T) {
	Init()

	before := testutil.ToFloat64(ingestRunsTotal.WithLabelValues("hentaivn", "none"))
	ObserveIngestRun("hentaivn", "")
	require.Equal(t, before+1, testutil.ToFloat64(ingestRunsTotal.WithLabelValues("hentaivn", "none")))
}

func TestObserveDoesNotPanic(t *testing.T) {
	// Observation must be safe whether or not Init already ran.
	ObservePageFetch("lxhentai", "ok")
	ObserveChapters("lxhentai", "committed", 1)
	ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/ingest", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "202"))

	resp, err := http.Post(ts.URL+"/v1/ingest", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "202")))
}
