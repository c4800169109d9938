package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchtrack/patchtrack/internal/ingester/model"
)

func TestFetchPatchPage(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects/rust-for-linux/patches/", r.URL.Path)
		gotQuery = map[string]string{
			"page":     r.URL.Query().Get("page"),
			"per_page": r.URL.Query().Get("per_page"),
			"order":    r.URL.Query().Get("order"),
		}
		writeJson(t, w, map[string]interface{}{
			"count": 45,
			"results": []*model.RawPatch{
				{Id: 1, Name: "[PATCH] first"},
				{Id: 2, Name: "[PATCH] second"},
			},
		})
	}))
	defer server.Close()

	client := NewPatchworkClient(server.URL, "rust-for-linux", time.Second)
	page, err := client.FetchPatchPage(context.Background(), 2, 20)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"page": "2", "per_page": "20", "order": "-date"}, gotQuery)
	require.Len(t, page.Patches, 2)
	assert.Equal(t, 1, page.Patches[0].Id)
	// 2 pages of 20 seen, 45 total: more remain.
	assert.True(t, page.HasNext)
}

func TestFetchPatchPage_LastPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJson(t, w, map[string]interface{}{
			"count":   40,
			"results": []*model.RawPatch{{Id: 1}},
		})
	}))
	defer server.Close()

	client := NewPatchworkClient(server.URL, "rust-for-linux", time.Second)
	page, err := client.FetchPatchPage(context.Background(), 2, 20)
	require.NoError(t, err)
	assert.False(t, page.HasNext)
}

func TestFetchDiscussions(t *testing.T) {
	since := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/patches/1234/comments/", r.URL.Path)
		assert.Equal(t, "2024-03-01T12:00:00Z", r.URL.Query().Get("since"))
		writeJson(t, w, []*model.RawDiscussion{
			{Id: 1, MessageId: "<m1@example.com>"},
		})
	}))
	defer server.Close()

	client := NewPatchworkClient(server.URL, "rust-for-linux", time.Second)
	discussions, err := client.FetchDiscussions(context.Background(), "1234", &since)
	require.NoError(t, err)
	require.Len(t, discussions, 1)
	assert.Equal(t, "<m1@example.com>", discussions[0].MessageId)
}

func TestErrorClassification(t *testing.T) {
	tests := map[string]struct {
		status    int
		permanent bool
	}{
		"not found":    {http.StatusNotFound, true},
		"bad request":  {http.StatusBadRequest, true},
		"throttled":    {http.StatusTooManyRequests, false},
		"server error": {http.StatusInternalServerError, false},
		"bad gateway":  {http.StatusBadGateway, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			client := NewPatchworkClient(server.URL, "rust-for-linux", time.Second)
			_, err := client.FetchPatchPage(context.Background(), 1, 10)
			require.Error(t, err)
			assert.Equal(t, tc.permanent, IsPermanent(err))
		})
	}
}

func TestErrorClassification_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewPatchworkClient(server.URL, "rust-for-linux", time.Second)
	_, err := client.FetchPatchPage(context.Background(), 1, 10)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func writeJson(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}
