package admin_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline/internal/admin"
	"jobmate/pipeline/internal/queue"
)

func newServer(t *testing.T, checks map[string]admin.Check) (*httptest.Server, *queue.MemoryQueue) {
	t.Helper()
	q := queue.NewMemoryQueue()
	mux := http.NewServeMux()
	admin.NewHandler(q, nil, "test", checks).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, q
}

func TestEnqueue(t *testing.T) {
	srv, q := newServer(t, nil)

	resp, err := http.Post(srv.URL+"/tasks/scrape", "application/json",
		strings.NewReader(`{"userId":"u1","searchConfigId":"c1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var task queue.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	assert.Equal(t, queue.KindScrape, task.Kind)
	assert.Equal(t, queue.StatusWaiting, task.Status)

	got, err := q.Dequeue(context.Background(), queue.KindScrape)
	require.NoError(t, err)
	require.NotNil(t, got)
	var p queue.ScrapePayload
	require.NoError(t, got.Decode(&p))
	assert.Equal(t, queue.ScrapePayload{UserID: "u1", SearchConfigID: "c1"}, p)
}

func TestEnqueue_EmptyBodyBecomesEmptyObject(t *testing.T) {
	srv, _ := newServer(t, nil)

	resp, err := http.Post(srv.URL+"/tasks/batch-scrape", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var task queue.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	assert.JSONEq(t, `{}`, string(task.Payload))
}

func TestEnqueue_Rejections(t *testing.T) {
	srv, _ := newServer(t, nil)
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown kind", http.MethodPost, "/tasks/send-sms", `{}`, http.StatusNotFound},
		{"invalid json", http.MethodPost, "/tasks/scrape", `{"userId":`, http.StatusBadRequest},
		{"too large", http.MethodPost, "/tasks/scrape", `"` + strings.Repeat("x", 70<<10) + `"`, http.StatusRequestEntityTooLarge},
		{"nested path", http.MethodPost, "/tasks/scrape/extra", `{}`, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/tasks/scrape", ``, http.StatusMethodNotAllowed},
		{"unknown task", http.MethodGet, "/tasks/does-not-exist", ``, http.StatusNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req, err := http.NewRequest(c.method, srv.URL+c.path, strings.NewReader(c.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, c.want, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatsAndGet(t *testing.T) {
	srv, q := newServer(t, nil)
	task, err := q.Enqueue(context.Background(), queue.KindAIMatch, queue.AIMatchPayload{UserID: "u1"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/tasks/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[queue.Kind]queue.Counts
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.EqualValues(t, 1, stats[queue.KindAIMatch].Waiting)
	assert.Len(t, stats, len(queue.Kinds()))

	resp2, err := http.Get(srv.URL + "/tasks/" + task.ID)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var got queue.Task
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&got))
	assert.Equal(t, task.ID, got.ID)
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv, _ := newServer(t, map[string]admin.Check{
			"postgres": func(context.Context) error { return nil },
		})
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "test", body["version"])
	})

	t.Run("degraded", func(t *testing.T) {
		srv, _ := newServer(t, map[string]admin.Check{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		})
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "ok", body.Checks["postgres"])
		assert.Equal(t, "connection refused", body.Checks["redis"])
	})
}
