package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapeflow/internal/config"
)

// stubConfig swaps the config loader for the duration of a test. Tests that
// call it must not run in parallel.
func stubConfig(t *testing.T, serverURL string) {
	t.Helper()
	prev := loadConfig
	loadConfig = func(string) (config.Config, error) {
		return config.Config{
			Poller: config.PollerConfig{
				ServerURL:   serverURL,
				Token:       "tok-alice",
				Interval:    time.Millisecond,
				MaxAttempts: 3,
			},
			Logging: config.LoggingConfig{Level: "error"},
		}, nil
	}
	t.Cleanup(func() { loadConfig = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeBody(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestWatchCommandExportsFinishedTask(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-alice", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/crawl":
			writeBody(t, w, http.StatusOK, map[string]any{"success": true, "taskId": "t-1", "status": "processing"})
		case "/v1/crawl/status":
			status := "processing"
			if polls.Add(1) >= 2 {
				status = "completed"
			}
			writeBody(t, w, http.StatusOK, map[string]any{
				"success": true,
				"task":    map[string]any{"id": "t-1", "status": status, "completed": 1, "total": 1},
				"data":    []map[string]any{{"id": 1, "task_id": "t-1", "data": map[string]any{"markdown": "# hi"}}},
			})
		case "/v1/tasks/t-1/export":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"markdown":"# hi"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	stubConfig(t, srv.URL)

	path := filepath.Join(t.TempDir(), "export.json")
	out, err := execute(t, "watch", "https://example.com", "--quiet", "--export", path)
	require.NoError(t, err)
	require.Contains(t, out, "task t-1 completed: 1 pages after 2 polls")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `[{"markdown":"# hi"}]`, string(data))
}

func TestWatchCommandReportsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/crawl":
			writeBody(t, w, http.StatusOK, map[string]any{"success": true, "taskId": "t-2", "status": "processing"})
		default:
			writeBody(t, w, http.StatusOK, map[string]any{
				"success": true,
				"task":    map[string]any{"id": "t-2", "status": "processing"},
				"data":    []any{},
			})
		}
	}))
	t.Cleanup(srv.Close)
	stubConfig(t, srv.URL)

	_, err := execute(t, "watch", "https://example.com", "--quiet")
	require.Error(t, err)
	require.Contains(t, err.Error(), "task t-2 timed_out")
}

func TestWatchCommandRejectsBadURL(t *testing.T) {
	stubConfig(t, "http://127.0.0.1:1")

	_, err := execute(t, "watch", "ftp://example.com", "--quiet")
	require.Error(t, err)
	require.Contains(t, err.Error(), "submit ftp://example.com")
}

func TestVerifyKeyCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/keys/verify", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer key-live" {
			writeBody(t, w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid API key"})
			return
		}
		writeBody(t, w, http.StatusOK, map[string]any{"success": true, "user_id": "alice"})
	}))
	t.Cleanup(srv.Close)
	stubConfig(t, srv.URL)

	out, err := execute(t, "verify-key", "key-live")
	require.NoError(t, err)
	require.Equal(t, "alice\n", out)

	_, err = execute(t, "verify-key", "key-nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid API key")
}

func TestTasksCommandPrintsTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tasks", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		writeBody(t, w, http.StatusOK, map[string]any{
			"success": true,
			"tasks": []map[string]any{{
				"id": "t-9", "url": "https://example.com", "status": "completed",
				"completed": 3, "total": 3, "created_at": "2025-03-04T10:00:00Z",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	stubConfig(t, srv.URL)

	out, err := execute(t, "tasks", "--limit", "2")
	require.NoError(t, err)
	require.Contains(t, out, "ID")
	require.Contains(t, out, "t-9")
	require.Contains(t, out, "3/3")
	require.Contains(t, out, "2025-03-04T10:00:00Z")
}

func TestRootFailsWhenConfigInvalid(t *testing.T) {
	prev := loadConfig
	loadConfig = func(string) (config.Config, error) { return config.Config{}, errors.New("boom") }
	t.Cleanup(func() { loadConfig = prev })

	_, err := execute(t, "tasks")
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config: boom")
}
