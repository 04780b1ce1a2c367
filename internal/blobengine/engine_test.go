package blobengine_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/axon/internal/axonerr"
	"github.com/wuxler/axon/internal/axonstore"
	"github.com/wuxler/axon/internal/blobengine"
	"github.com/wuxler/axon/internal/hashlock"
)

func newEngine(t *testing.T, limits blobengine.Limits) *blobengine.Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := axonstore.Open(filepath.Join(dir, "data"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return blobengine.New(store, hashlock.New(), limits)
}

// S1
func TestPutEmptyBlob(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	size, d, err := e.Put(context.Background(), []byte{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
	assert.Equal(t, digest.Digest("sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"), d)

	rc, err := e.Get(context.Background(), d)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, data)
}

// S2
func TestPutIdempotent(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	ctx := context.Background()

	size1, d1, err := e.Put(ctx, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), size1)
	assert.Equal(t, digest.Digest("sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"), d1)

	metrics, err := e.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics["file:count"])

	size2, d2, err := e.Put(ctx, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, size1, size2)
	assert.Equal(t, d1, d2)

	metrics, err = e.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics["file:count"])
}

// S3
func TestPutLargeBlobChunking(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	data := make([]byte, 20*1024*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	size, d, err := e.Put(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	rc, err := e.Get(context.Background(), d)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

// S4
func TestDeleteCompleteness(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	ctx := context.Background()
	_, d, err := e.Put(ctx, []byte("abc"))
	require.NoError(t, err)

	ok, err := e.Delete(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Delete(ctx, d)
	require.NoError(t, err)
	assert.False(t, ok)

	has, err := e.Has(ctx, d)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = e.Get(ctx, d)
	assert.ErrorIs(t, err, axonerr.ErrNotFound)
}

// S5
func TestLimitEnforcement(t *testing.T) {
	e := newEngine(t, blobengine.Limits{MaxCount: 1})
	ctx := context.Background()

	_, _, err := e.Put(ctx, []byte("A content"))
	require.NoError(t, err)

	_, _, err = e.Put(ctx, []byte("B different content"))
	assert.ErrorIs(t, err, axonerr.ErrLimitExceeded)

	metrics, err := e.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics["file:count"])
}

// S6
func TestCancelMidStreamLeavesNoPartialBlob(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	data := make([]byte, 64*1024*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)
	d := digest.FromBytes(data)

	ctx, cancel := context.WithCancel(context.Background())
	r := &cancelAfterChunkReader{r: bytes.NewReader(data), cancel: cancel, after: blobengine.ChunkSize}
	err = e.Save(ctx, d, int64(len(data)), r)
	assert.ErrorIs(t, err, axonerr.ErrAborted)

	has, err := e.Has(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, has)

	size, gotD, err := e.Put(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	assert.Equal(t, d, gotD)

	has, err = e.Has(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, has)
}

// cancelAfterChunkReader cancels its own context once after bytes have
// been read, simulating a caller that disconnects partway through a
// save: Save's next loop iteration observes the cancellation before
// reading another chunk, rather than this reader racing Save's own
// cancellation check.
type cancelAfterChunkReader struct {
	r      io.Reader
	cancel context.CancelFunc
	after  int
	read   int
}

func (c *cancelAfterChunkReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	if c.read >= c.after {
		c.cancel()
	}
	return n, err
}

func TestWantsPreservesOrder(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	ctx := context.Background()
	_, d1, err := e.Put(ctx, []byte("present"))
	require.NoError(t, err)
	d2 := digest.FromBytes([]byte("absent-1"))
	d3 := digest.FromBytes([]byte("absent-2"))

	wants, err := e.Wants(ctx, []digest.Digest{d1, d2, d3})
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{d2, d3}, wants)
}

func TestHashesMonotonic(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, err := e.Put(ctx, []byte{byte(i)})
		require.NoError(t, err)
	}

	var offsets []uint64
	err := e.Hashes(ctx, 0, func(entry blobengine.HashesEntry) (bool, error) {
		offsets = append(offsets, entry.Offset)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, offsets, 5)
	for i := 1; i < len(offsets); i++ {
		assert.Greater(t, offsets[i], offsets[i-1])
	}
}

func TestConcurrentPutIdempotence(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	ctx := context.Background()
	data := []byte("concurrent payload")

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.Put(ctx, data)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	metrics, err := e.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics["file:count"])
}

func TestSizeCacheInvalidatesAcrossSaveAndDelete(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	ctx := context.Background()
	d := digest.FromBytes([]byte("cached"))

	has, err := e.Has(ctx, d)
	require.NoError(t, err)
	assert.False(t, has)

	_, _, err = e.Put(ctx, []byte("cached"))
	require.NoError(t, err)

	has, err = e.Has(ctx, d)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = e.Delete(ctx, d)
	require.NoError(t, err)

	has, err = e.Has(ctx, d)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestHashesSeqMatchesCallback(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := e.Put(ctx, []byte{byte(i)})
		require.NoError(t, err)
	}

	var entries []blobengine.HashesEntry
	var seqErr error
	e.HashesSeq(ctx, 0)(func(entry blobengine.HashesEntry, err error) bool {
		if err != nil {
			seqErr = err
			return false
		}
		entries = append(entries, entry)
		return true
	})
	require.NoError(t, seqErr)
	require.Len(t, entries, 3)

	var viaCallback []blobengine.HashesEntry
	err = e.Hashes(ctx, 0, func(entry blobengine.HashesEntry) (bool, error) {
		viaCallback = append(viaCallback, entry)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, viaCallback, entries)
}

func TestDeletesOrder(t *testing.T) {
	e := newEngine(t, blobengine.Limits{})
	ctx := context.Background()
	_, d1, err := e.Put(ctx, []byte("one"))
	require.NoError(t, err)
	d2 := digest.FromBytes([]byte("missing"))

	results, err := e.Deletes(ctx, []digest.Digest{d1, d2})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, results)
}
