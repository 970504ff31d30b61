package refs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimpse-app/glimpse/internal/cache"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/vault"
)

func newTestClient(t *testing.T, baseURL string) (*Client, *vault.Vault) {
	t.Helper()

	v, err := vault.New(t.TempDir(), []byte("test-master-secret"), logging.NewDefault())
	require.NoError(t, err)

	c := cache.New[[]Paper](0)
	t.Cleanup(c.Close)

	return NewClient(baseURL, "owner1", v, c, time.Minute, logging.NewDefault()), v
}

func TestSearch_UsesStoredCredential(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		assert.Equal(t, "tracking", r.URL.Query().Get("query"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"p1","title":"Attention Is All You Need","authors":["Vaswani"],"year":2017}]`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	require.NoError(t, client.SetCredentials(context.Background(), map[string]any{"api_key": "key-123"}))

	papers, err := client.Search(context.Background(), "tracking")
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "Attention Is All You Need", papers[0].Title)
	assert.Equal(t, int64(1), calls.Load())
}

func TestSearch_SecondCallServedFromCache(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`[{"id":"p1","title":"Paper","year":2020}]`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	require.NoError(t, client.SetCredentials(context.Background(), map[string]any{"api_key": "key-123"}))

	for i := 0; i < 3; i++ {
		papers, err := client.Search(context.Background(), "same query")
		require.NoError(t, err)
		assert.Len(t, papers, 1)
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestSearch_NoCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected without a credential")
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)

	_, err := client.Search(context.Background(), "anything")
	assert.Error(t, err)
}

func TestSearch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	require.NoError(t, client.SetCredentials(context.Background(), map[string]any{"api_key": "stale"}))

	_, err := client.Search(context.Background(), "anything")
	assert.ErrorContains(t, err, "status 401")
}

func TestSetCredentials_InvalidatesCache(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	require.NoError(t, client.SetCredentials(context.Background(), map[string]any{"api_key": "key-1"}))

	_, err := client.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	// A credential change drops cached responses; the next search refetches.
	require.NoError(t, client.SetCredentials(context.Background(), map[string]any{"api_key": "key-2"}))

	_, err = client.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestClearCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client, v := newTestClient(t, srv.URL)
	require.NoError(t, client.SetCredentials(context.Background(), map[string]any{"api_key": "key-1"}))
	require.NoError(t, client.ClearCredentials(context.Background()))

	_, err := v.Get(context.Background(), Service, "owner1")
	assert.Error(t, err)

	_, err = client.Search(context.Background(), "q")
	assert.Error(t, err)
}
