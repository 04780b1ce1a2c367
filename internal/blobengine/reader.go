package blobengine

import (
	"bytes"
	"context"
	"io"

	"github.com/wuxler/axon/internal/axonerr"
	"github.com/wuxler/axon/internal/axonstore"
	"github.com/wuxler/axon/internal/xcontext"
)

// chunkReader streams a blob's chunks in order, fetching one chunk at a
// time from the store rather than holding a single long-lived bbolt
// transaction open for the whole read — this keeps a slow consumer from
// blocking writers, which is the only suspension-point discipline Get
// needs (spec.md §5): ctx is checked between chunks.
type chunkReader struct {
	ctx   context.Context
	store *axonstore.Store
	keys  [][]byte
	idx   int
	cur   *bytes.Reader
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for {
		if err := xcontext.NonBlockingCheck(r.ctx); err != nil {
			return 0, axonerr.NewE(axonerr.ErrAborted, err)
		}
		if r.cur != nil {
			if r.cur.Len() > 0 {
				return r.cur.Read(p)
			}
			r.cur = nil
		}
		if r.idx >= len(r.keys) {
			return 0, io.EOF
		}
		data, err := r.store.ChunkValue(r.keys[r.idx])
		if err != nil {
			return 0, axonerr.NewE(axonerr.ErrInternal, err)
		}
		r.idx++
		r.cur = bytes.NewReader(data)
	}
}

func (r *chunkReader) Close() error {
	return nil
}
