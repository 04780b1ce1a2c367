package axonhttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauspost/compress/zstd"

	"github.com/wuxler/axon/internal/axonhttp"
	"github.com/wuxler/axon/internal/axonstore"
	"github.com/wuxler/axon/internal/blobengine"
	"github.com/wuxler/axon/internal/hashlock"
	"github.com/wuxler/axon/internal/xos"
)

func newTestRouter(t *testing.T, permitter axonhttp.Permitter) (*gin.Engine, *blobengine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	store, err := axonstore.Open(filepath.Join(dir, "data"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	engine := blobengine.New(store, hashlock.New(), blobengine.Limits{})
	srv := axonhttp.New(engine, xos.NewTemper(t.TempDir()), permitter)
	return srv.Router(), engine
}

func TestPutHasGetDelete(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	putReq := httptest.NewRequest(http.MethodPut, "/api/v1/axon/files/put", bytes.NewReader([]byte("abc")))
	putRec := httptest.NewRecorder()
	router.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusOK, putRec.Code)

	var putBody struct {
		Status string `json:"status"`
		Result struct {
			Size   int64  `json:"size"`
			SHA256 string `json:"sha256"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(putRec.Body.Bytes(), &putBody))
	assert.Equal(t, "ok", putBody.Status)
	assert.Equal(t, int64(3), putBody.Result.Size)
	hex := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	assert.Equal(t, hex, putBody.Result.SHA256)

	hasReq := httptest.NewRequest(http.MethodGet, "/api/v1/axon/files/has/sha256/"+hex, nil)
	hasRec := httptest.NewRecorder()
	router.ServeHTTP(hasRec, hasReq)
	require.Equal(t, http.StatusOK, hasRec.Code)
	assert.Contains(t, hasRec.Body.String(), `"has":true`)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/axon/files/by/sha256/"+hex, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "abc", getRec.Body.String())

	delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/axon/files/by/sha256/"+hex, nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	getReq2 := httptest.NewRequest(http.MethodGet, "/api/v1/axon/files/by/sha256/"+hex, nil)
	getRec2 := httptest.NewRecorder()
	router.ServeHTTP(getRec2, getReq2)
	assert.Equal(t, http.StatusNotFound, getRec2.Code)
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	hex := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/axon/files/by/sha256/"+hex, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelsBatch(t *testing.T) {
	router, engine := newTestRouter(t, nil)
	_, d, err := engine.Put(context.Background(), []byte("one"))
	require.NoError(t, err)

	body, err := json.Marshal(map[string][]string{
		"sha256s": {d.Encoded(), "0000000000000000000000000000000000000000000000000000000000000000"[:64]},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/axon/files/del", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Result struct {
			Deleted []struct {
				SHA256  string `json:"sha256"`
				Deleted bool   `json:"deleted"`
			} `json:"deleted"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Result.Deleted, 2)
	assert.Equal(t, d.Encoded(), resp.Result.Deleted[0].SHA256)
	assert.True(t, resp.Result.Deleted[0].Deleted)
	assert.Equal(t, "0000000000000000000000000000000000000000000000000000000000000000"[:64], resp.Result.Deleted[1].SHA256)
	assert.False(t, resp.Result.Deleted[1].Deleted)
}

type denyAll struct{}

func (denyAll) Allowed(_ context.Context, _, _ string) bool { return false }

func TestPermitterDeniesWithForbidden(t *testing.T) {
	router, _ := newTestRouter(t, denyAll{})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/axon/files/put", bytes.NewReader([]byte("abc")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"Unauthorized"`)
}

func TestPutZstdEncodedGetZstdAccepted(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll([]byte("compressed payload"), nil)
	require.NoError(t, enc.Close())

	putReq := httptest.NewRequest(http.MethodPut, "/api/v1/axon/files/put", bytes.NewReader(compressed))
	putReq.Header.Set("Content-Encoding", "zstd")
	putRec := httptest.NewRecorder()
	router.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusOK, putRec.Code)

	var putBody struct {
		Result struct {
			SHA256 string `json:"sha256"`
			Size   int64  `json:"size"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(putRec.Body.Bytes(), &putBody))
	assert.Equal(t, int64(len("compressed payload")), putBody.Result.Size)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/axon/files/by/sha256/"+putBody.Result.SHA256, nil)
	getReq.Header.Set("Accept-Encoding", "zstd")
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "zstd", getRec.Header().Get("Content-Encoding"))

	dec, err := zstd.NewReader(getRec.Body)
	require.NoError(t, err)
	defer dec.Close()
	got, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, "compressed payload", string(got))
}

func TestBadDigestHex(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/axon/files/has/sha256/not-hex", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"BadDigest"`)
}
