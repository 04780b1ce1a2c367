package axonstore_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/axon/internal/axonstore"
)

func openTestStore(t *testing.T, clk clock.Clock) *axonstore.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := axonstore.Open(filepath.Join(dir, "data"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCommitSaveAndGetSize(t *testing.T) {
	s := openTestStore(t, nil)
	digest := []byte("01234567890123456789012345678901")

	has, err := s.HasSize(digest)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.CommitSave(digest, 42))

	has, err = s.HasSize(digest)
	require.NoError(t, err)
	assert.True(t, has)

	size, found, err := s.GetSize(digest)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(42), size)

	metrics, err := s.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics["file:count"])
	assert.Equal(t, int64(42), metrics["size:bytes"])
}

func TestCommitDelete(t *testing.T) {
	s := openTestStore(t, nil)
	digest := []byte("01234567890123456789012345678901")
	require.NoError(t, s.CommitSave(digest, 42))

	size, existed, err := s.CommitDelete(digest)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, uint64(42), size)

	_, existed, err = s.CommitDelete(digest)
	require.NoError(t, err)
	assert.False(t, existed)

	metrics, err := s.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(0), metrics["file:count"])
	assert.Equal(t, int64(0), metrics["size:bytes"])
}

func TestHashesSkipsTombstones(t *testing.T) {
	s := openTestStore(t, nil)
	d1 := []byte("11111111111111111111111111111111")
	d2 := []byte("22222222222222222222222222222222")
	require.NoError(t, s.CommitSave(d1, 1))
	require.NoError(t, s.CommitSave(d2, 2))
	_, _, err := s.CommitDelete(d1)
	require.NoError(t, err)

	var seen []uint64
	err = s.Hashes(0, func(e axonstore.SeqEntry) (bool, error) {
		seen = append(seen, e.Offset)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, uint64(1), seen[0])
}

func TestHistoryRange(t *testing.T) {
	clk := clock.NewMock()
	s := openTestStore(t, clk)

	d1 := []byte("11111111111111111111111111111111")
	require.NoError(t, s.CommitSave(d1, 1))

	clk.Add(time.Second)
	d2 := []byte("22222222222222222222222222222222")
	require.NoError(t, s.CommitSave(d2, 2))

	var got []axonstore.HistEntry
	err := s.History(500, 0, func(e axonstore.HistEntry) (bool, error) {
		got = append(got, e)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d2, got[0].Digest)
}

func TestChunksRoundTrip(t *testing.T) {
	s := openTestStore(t, nil)
	digest := []byte("33333333333333333333333333333333")
	key0 := append(append([]byte{}, digest...), 0, 0, 0, 0, 0, 0, 0, 0)
	require.NoError(t, s.PutChunk(key0, []byte("hello")))

	keys, err := s.ChunkKeys(digest)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	val, err := s.ChunkValue(keys[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), val)

	require.NoError(t, s.DeleteChunks(digest))
	keys, err = s.ChunkKeys(digest)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
