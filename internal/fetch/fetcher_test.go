package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hxlab/bookmirror/internal/ingest"
)

func newTestFetcher() *PageFetcher {
	return NewPageFetcher(Config{Timeout: 5 * time.Second}, zap.NewNop())
}

func TestFetchReturnsBodyAndOrigin(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	page, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/book/1", "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, []byte("<html>ok</html>"), page.Body)
	require.Equal(t, srv.URL, page.Origin)
}

func TestFetchSendsSpoofedHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/page", "https://ref.example")
	require.NoError(t, err)

	require.Equal(t, "https://ref.example", got.Get("Referer"))
	require.Equal(t, secChUA, got.Get("Sec-Ch-Ua"))
	require.Equal(t, secChUAMobile, got.Get("Sec-Ch-Ua-Mobile"))
	require.Equal(t, secChUAPlatform, got.Get("Sec-Ch-Ua-Platform"))
	ua := got.Get("User-Agent")
	require.True(t, strings.HasPrefix(ua, "Mozilla/5.0"), "user agent %q should look like a browser", ua)
}

func TestFetchDefaultsRefererToOrigin(t *testing.T) {
	t.Parallel()

	var referer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/deep/page", "")
	require.NoError(t, err)
	require.Equal(t, srv.URL, referer)
}

func TestFetchNon2xxIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/page", "")
	var fetchErr *ingest.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
}

func TestFetchRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	_, err := newTestFetcher().Fetch(context.Background(), "/not-absolute", "")
	var fetchErr *ingest.FetchError
	require.ErrorAs(t, err, &fetchErr)
}
