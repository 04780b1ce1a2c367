// Package blobengine implements the content-addressed blob store core:
// chunked on-disk representation, the save/get/delete algorithms, and the
// invariants binding the size-index to the blob-chunk table.
package blobengine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/wuxler/axon/internal/axonerr"
	"github.com/wuxler/axon/internal/axonlog"
	"github.com/wuxler/axon/internal/axonstore"
	"github.com/wuxler/axon/internal/hashlock"
	"github.com/wuxler/axon/internal/xcache"
	"github.com/wuxler/axon/internal/xcontext"
	"github.com/wuxler/axon/internal/xio"
)

// ChunkSize is the fixed chunk size C used to split blobs for storage:
// 16 MiB. The final chunk of a blob may be shorter.
const ChunkSize = 16 * 1024 * 1024

const (
	metricKeyFileCount = "file:count"
	metricKeySizeBytes = "size:bytes"
)

// Limits bounds what a store may accept. Zero means unbounded.
type Limits struct {
	MaxBytes int64
	MaxCount int64
}

// sizeEntry is what the size cache holds: a resolved size lookup,
// including the not-found case, so repeated Wants() calls against
// absent digests don't keep re-hitting bbolt either.
type sizeEntry struct {
	size  int64
	found bool
}

// Engine owns the on-disk tables (via axonstore.Store) and the hash-lock
// registry that serializes per-digest writes. It has no mutable
// singleton state of its own: every dependency is passed in at
// construction, matching spec.md §9 ("no global mutable singletons").
type Engine struct {
	store  *axonstore.Store
	locks  *hashlock.Registry
	limits Limits
	sizes  xcache.Cache[sizeEntry]
}

// New returns an Engine backed by store and locks. Size/Has lookups are
// read-through cached in memory, since a digest's size never changes
// while the blob exists.
func New(store *axonstore.Store, locks *hashlock.Registry, limits Limits) *Engine {
	return &Engine{store: store, locks: locks, limits: limits, sizes: xcache.NewMemory[sizeEntry]()}
}

func decodeDigest(d digest.Digest) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, axonerr.NewE(axonerr.ErrBadDigest, err)
	}
	if d.Algorithm() != digest.SHA256 {
		return nil, axonerr.Newf(axonerr.ErrBadDigest, "unsupported digest algorithm %q", d.Algorithm())
	}
	raw, err := hex.DecodeString(d.Encoded())
	if err != nil {
		return nil, axonerr.NewE(axonerr.ErrBadDigest, err)
	}
	if len(raw) != 32 {
		return nil, axonerr.Newf(axonerr.ErrBadDigest, "digest %q is not 32 bytes", d)
	}
	return raw, nil
}

func chunkKey(raw []byte, ordinal uint64) []byte {
	key := make([]byte, len(raw)+8)
	copy(key, raw)
	binary.BigEndian.PutUint64(key[len(raw):], ordinal)
	return key
}

// Has reports whether digest has a size-index entry.
func (e *Engine) Has(ctx context.Context, d digest.Digest) (bool, error) {
	_, found, err := e.Size(ctx, d)
	return found, err
}

// Size returns the stored size of digest, and whether it exists. The
// result is cached in memory, keyed by the raw digest bytes, since a
// digest's size is immutable for as long as the blob exists.
func (e *Engine) Size(ctx context.Context, d digest.Digest) (int64, bool, error) {
	raw, err := decodeDigest(d)
	if err != nil {
		return 0, false, err
	}
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return 0, false, axonerr.NewE(axonerr.ErrAborted, err)
	}

	var loadErr error
	entry, _ := e.sizes.Get(ctx, string(raw), xcache.WithLoader(func(_ context.Context, _ string) (sizeEntry, bool) {
		size, found, err := e.store.GetSize(raw)
		if err != nil {
			loadErr = err
			return sizeEntry{}, false
		}
		return sizeEntry{size: int64(size), found: found}, true
	}))
	if loadErr != nil {
		return 0, false, loadErr
	}
	return entry.size, entry.found, nil
}

func (e *Engine) invalidateSize(raw []byte) {
	e.sizes.Delete(context.Background(), string(raw))
}

// Get returns a reader that streams digest's chunks in order. It fails
// with axonerr.ErrNotFound if the digest is absent.
func (e *Engine) Get(ctx context.Context, d digest.Digest) (io.ReadCloser, error) {
	raw, err := decodeDigest(d)
	if err != nil {
		return nil, err
	}
	has, err := e.store.HasSize(raw)
	if err != nil {
		return nil, axonerr.NewE(axonerr.ErrInternal, err)
	}
	if !has {
		return nil, axonerr.Newf(axonerr.ErrNotFound, "no such blob %s", d)
	}
	keys, err := e.store.ChunkKeys(raw)
	if err != nil {
		return nil, axonerr.NewE(axonerr.ErrInternal, err)
	}
	rc := &chunkReader{ctx: ctx, store: e.store, keys: keys}
	measured := xio.NewMeasuredReader(rc)
	return readCloser{Reader: measured, closer: rc.Close}, nil
}

// readCloser pairs a Reader with an independent close function, so Get
// can hand back a measured view over chunkReader while routing Close
// through chunkReader's own (unmeasured) Close method.
type readCloser struct {
	io.Reader
	closer func() error
}

func (r readCloser) Close() error {
	return r.closer()
}

// Save commits a blob of the given size, reading its bytes from r. It is
// idempotent: concurrent or repeated saves of the same digest are
// serialized by the hash-lock and only the first writes anything.
func (e *Engine) Save(ctx context.Context, d digest.Digest, size int64, r io.Reader) error {
	raw, err := decodeDigest(d)
	if err != nil {
		return err
	}

	release, err := e.locks.Hold(ctx, string(raw))
	if err != nil {
		return axonerr.NewE(axonerr.ErrAborted, err)
	}
	defer release()

	has, err := e.store.HasSize(raw)
	if err != nil {
		return axonerr.NewE(axonerr.ErrInternal, err)
	}
	if has {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return axonerr.NewE(axonerr.ErrInternal, err)
		}
		return nil
	}

	if err := e.checkLimits(); err != nil {
		return err
	}

	ordinal := uint64(0)
	remaining := size
	for remaining > 0 {
		if err := xcontext.NonBlockingCheck(ctx); err != nil {
			return axonerr.NewE(axonerr.ErrAborted, err)
		}
		n := int64(ChunkSize)
		if n > remaining {
			n = remaining
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return axonerr.NewE(axonerr.ErrAborted, err)
		}
		if err := e.store.PutChunk(chunkKey(raw, ordinal), buf); err != nil {
			return axonerr.NewE(axonerr.ErrInternal, err)
		}
		ordinal++
		remaining -= n
	}

	if err := e.store.CommitSave(raw, uint64(size)); err != nil {
		return axonerr.NewE(axonerr.ErrInternal, err)
	}
	e.invalidateSize(raw)
	axonlog.C(ctx).Debug("saved blob", "digest", d.String(), "size", size)
	return nil
}

func (e *Engine) checkLimits() error {
	if e.limits.MaxBytes <= 0 && e.limits.MaxCount <= 0 {
		return nil
	}
	metrics, err := e.store.Metrics()
	if err != nil {
		return axonerr.NewE(axonerr.ErrInternal, err)
	}
	if e.limits.MaxBytes > 0 && metrics[metricKeySizeBytes] >= e.limits.MaxBytes {
		return axonerr.Newf(axonerr.ErrLimitExceeded, "max:bytes=%d reached", e.limits.MaxBytes)
	}
	if e.limits.MaxCount > 0 && metrics[metricKeyFileCount] >= e.limits.MaxCount {
		return axonerr.Newf(axonerr.ErrLimitExceeded, "max:count=%d reached", e.limits.MaxCount)
	}
	return nil
}

// Delete removes digest's size-index entry and sweeps its chunks.
// Returns false if no entry existed.
func (e *Engine) Delete(ctx context.Context, d digest.Digest) (bool, error) {
	raw, err := decodeDigest(d)
	if err != nil {
		return false, err
	}
	release, err := e.locks.Hold(ctx, string(raw))
	if err != nil {
		return false, axonerr.NewE(axonerr.ErrAborted, err)
	}
	defer release()

	_, existed, err := e.store.CommitDelete(raw)
	if err != nil {
		return false, axonerr.NewE(axonerr.ErrInternal, err)
	}
	if !existed {
		return false, nil
	}
	if err := e.store.DeleteChunks(raw); err != nil {
		return true, axonerr.NewE(axonerr.ErrInternal, err)
	}
	e.invalidateSize(raw)
	axonlog.C(ctx).Debug("deleted blob", "digest", d.String())
	return true, nil
}

// Deletes calls Delete for each digest in order, returning a same-order
// slice of results.
func (e *Engine) Deletes(ctx context.Context, ds []digest.Digest) ([]bool, error) {
	out := make([]bool, len(ds))
	for i, d := range ds {
		if err := xcontext.NonBlockingCheck(ctx); err != nil {
			return out, axonerr.NewE(axonerr.ErrAborted, err)
		}
		ok, err := e.Delete(ctx, d)
		if err != nil {
			return out, err
		}
		out[i] = ok
	}
	return out, nil
}

// Wants filters ds down to the digests not already present, preserving
// input order.
func (e *Engine) Wants(ctx context.Context, ds []digest.Digest) ([]digest.Digest, error) {
	var out []digest.Digest
	for _, d := range ds {
		if err := xcontext.NonBlockingCheck(ctx); err != nil {
			return out, axonerr.NewE(axonerr.ErrAborted, err)
		}
		has, err := e.Has(ctx, d)
		if err != nil {
			return out, err
		}
		if !has {
			out = append(out, d)
		}
	}
	return out, nil
}

// Put stores a small in-memory payload directly, a convenience wrapper
// around Save for callers that already hold the whole blob in memory.
func (e *Engine) Put(ctx context.Context, data []byte) (int64, digest.Digest, error) {
	d := digest.FromBytes(data)
	if err := e.Save(ctx, d, int64(len(data)), bytes.NewReader(data)); err != nil {
		return 0, "", err
	}
	return int64(len(data)), d, nil
}

// Metrics returns the persisted counters plus the configured limits
// ("max:bytes", "max:count"). It reports no health flag.
func (e *Engine) Metrics() (map[string]int64, error) {
	m, err := e.store.Metrics()
	if err != nil {
		return nil, axonerr.NewE(axonerr.ErrInternal, err)
	}
	m["max:bytes"] = e.limits.MaxBytes
	m["max:count"] = e.limits.MaxCount
	return m, nil
}
