package upload_test

import (
	"context"
	"crypto/rand"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/axon/internal/axonstore"
	"github.com/wuxler/axon/internal/blobengine"
	"github.com/wuxler/axon/internal/hashlock"
	"github.com/wuxler/axon/internal/upload"
	"github.com/wuxler/axon/internal/xos"
)

func newTestEngine(t *testing.T) *blobengine.Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := axonstore.Open(filepath.Join(dir, "data"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return blobengine.New(store, hashlock.New(), blobengine.Limits{})
}

func TestSessionRoundTripEmpty(t *testing.T) {
	engine := newTestEngine(t)
	temp := xos.NewTemper(t.TempDir())
	sess := upload.NewSession(engine, temp)
	defer sess.Close()

	size, d, err := sess.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
	assert.Equal(t, "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", d.String())
}

func TestSessionRoundTripAbc(t *testing.T) {
	engine := newTestEngine(t)
	temp := xos.NewTemper(t.TempDir())
	sess := upload.NewSession(engine, temp)
	defer sess.Close()

	_, err := sess.Write([]byte("abc"))
	require.NoError(t, err)

	size, d, err := sess.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
	assert.Equal(t, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", d.String())

	rc, err := engine.Get(context.Background(), d)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestSessionDedup(t *testing.T) {
	engine := newTestEngine(t)
	temp := xos.NewTemper(t.TempDir())

	for i := 0; i < 2; i++ {
		sess := upload.NewSession(engine, temp)
		_, err := sess.Write([]byte("abc"))
		require.NoError(t, err)
		_, _, err = sess.Save(context.Background())
		require.NoError(t, err)
		require.NoError(t, sess.Close())
	}

	metrics, err := engine.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics["file:count"])
}

func TestSessionSpillsToDisk(t *testing.T) {
	engine := newTestEngine(t)
	temp := xos.NewTemper(t.TempDir())
	sess := upload.NewSession(engine, temp)
	defer sess.Close()

	data := make([]byte, upload.MaxSpoolSize+1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	_, err = sess.Write(data)
	require.NoError(t, err)

	size, d, err := sess.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	rc, err := engine.Get(context.Background(), d)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSessionWriteAfterCloseFails(t *testing.T) {
	engine := newTestEngine(t)
	temp := xos.NewTemper(t.TempDir())
	sess := upload.NewSession(engine, temp)
	require.NoError(t, sess.Close())

	_, err := sess.Write([]byte("x"))
	assert.Error(t, err)
}
