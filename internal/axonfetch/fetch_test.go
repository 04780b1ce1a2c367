package axonfetch_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/axon/internal/axonfetch"
	"github.com/wuxler/axon/internal/axonstore"
	"github.com/wuxler/axon/internal/blobengine"
	"github.com/wuxler/axon/internal/hashlock"
	"github.com/wuxler/axon/internal/xos"
)

func newTestFetcher(t *testing.T) (*axonfetch.Fetcher, *blobengine.Engine) {
	t.Helper()
	dir := t.TempDir()
	store, err := axonstore.Open(filepath.Join(dir, "data"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	engine := blobengine.New(store, hashlock.New(), blobengine.Limits{})
	return axonfetch.New(engine, xos.NewTemper(t.TempDir())), engine
}

func TestFetchStoresBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("abc"))
	}))
	defer srv.Close()

	fetcher, engine := newTestFetcher(t)
	result, err := fetcher.Fetch(context.Background(), axonfetch.Request{URL: srv.URL})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, http.StatusOK, result.Code)
	assert.Equal(t, int64(3), result.Size)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", result.Hashes["sha256"])

	rc, err := engine.Get(context.Background(), "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestFetchNonOKStatusStillStores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer srv.Close()

	fetcher, _ := newTestFetcher(t)
	result, err := fetcher.Fetch(context.Background(), axonfetch.Request{URL: srv.URL})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, http.StatusNotFound, result.Code)
	assert.Equal(t, int64(7), result.Size)
}

func TestFetchTransportFailureFoldsIntoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close() // now nothing is listening

	fetcher, _ := newTestFetcher(t)
	result, err := fetcher.Fetch(context.Background(), axonfetch.Request{URL: addr})
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Mesg)
}

func TestFetchContextCanceled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	fetcher, _ := newTestFetcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := fetcher.Fetch(ctx, axonfetch.Request{URL: srv.URL})
	assert.Error(t, err)
}

func TestFetchQueryAndHeaders(t *testing.T) {
	var gotQuery, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotHeader = r.Header.Get("X-Test")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	fetcher, _ := newTestFetcher(t)
	_, err := fetcher.Fetch(context.Background(), axonfetch.Request{
		URL:     srv.URL,
		Query:   map[string][]string{"q": {"hello"}},
		Headers: map[string][]string{"X-Test": {"value"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", gotQuery)
	assert.Equal(t, "value", gotHeader)
}
