package collyprovider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	page := func(title, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, `<html><head><title>%s</title><meta name="description" content="about %s"></head><body>%s</body></html>`,
				title, title, body)
		}
	}
	mux.HandleFunc("/", page("Home", `<h1>Welcome</h1><a href="/a">A</a><a href="/b">B</a><a href="https://elsewhere.example/x">X</a>`))
	mux.HandleFunc("/a", page("A", `<p>alpha</p><a href="/c">C</a>`))
	mux.HandleFunc("/b", page("B", `<p>beta</p>`))
	mux.HandleFunc("/c", page("C", `<p>gamma</p>`))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCrawlFollowsSameHostLinks(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	p := New(Config{UserAgent: "scrapeflow-test"}, zap.NewNop())

	res, err := p.Crawl(context.Background(), srv.URL+"/", task.CrawlOptions{
		Limit:   10,
		Formats: []string{"markdown", "html"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.Len(t, res.Data, 4)
	require.Equal(t, 4, res.Completed)
	require.Equal(t, string(task.StatusCompleted), res.Status)

	first := res.Data[0]
	require.Equal(t, srv.URL+"/", first["url"])
	require.Equal(t, "Home", first["title"])
	require.Contains(t, first["markdown"], "Welcome")
	require.Contains(t, first["html"], "<h1>Welcome</h1>")
	meta := first["metadata"].(map[string]any)
	require.Equal(t, "about Home", meta["description"])
	require.Equal(t, http.StatusOK, meta["statusCode"])
	require.Contains(t, first["links"], "https://elsewhere.example/x")
}

func TestCrawlRespectsLimit(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	p := New(Config{}, nil)

	res, err := p.Crawl(context.Background(), srv.URL+"/", task.CrawlOptions{Limit: 2, Formats: []string{"markdown"}})
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	_, hasHTML := res.Data[0]["html"]
	require.False(t, hasHTML)
}

func TestCrawlRootFailureIsProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(Config{}, nil).Crawl(context.Background(), srv.URL+"/missing", task.CrawlOptions{Limit: 5})
	require.ErrorIs(t, err, task.ErrProvider)
}

func TestCrawlCanceledContext(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Config{}, nil).Crawl(ctx, srv.URL+"/", task.CrawlOptions{Limit: 5})
	require.ErrorIs(t, err, task.ErrProvider)
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	root, _ := http.NewRequest(http.MethodGet, "http://example.com:8080/", nil)
	require.True(t, sameHost(root.URL, "http://example.com:8080/a"))
	require.False(t, sameHost(root.URL, "http://example.com/a"))
	require.False(t, sameHost(root.URL, "mailto:a@example.com"))
	require.False(t, sameHost(root.URL, ""))
}
