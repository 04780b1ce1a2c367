package blobengine

import (
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/wuxler/axon/internal/axonerr"
	"github.com/wuxler/axon/internal/axonstore"
	"github.com/wuxler/axon/internal/xcontext"
)

// entrySeq is an iterator over a replication or history feed: yield
// returning false stops early, a non-nil error ends the sequence and is
// the last value produced. It has the same shape as iter.Seq2[T, error].
type entrySeq[T any] func(yield func(T, error) bool)

// HashesEntry is one entry of the replication sequence feed.
type HashesEntry struct {
	Offset uint64
	Digest digest.Digest
	Size   int64
}

// Hashes yields sequence entries from offset forward, skipping entries
// whose blob has since been deleted. yield returning false stops
// iteration early; a non-nil error from yield aborts and is returned.
func (e *Engine) Hashes(ctx context.Context, offset uint64, yield func(HashesEntry) (bool, error)) error {
	return e.store.Hashes(offset, func(se axonstore.SeqEntry) (bool, error) {
		if err := xcontext.NonBlockingCheck(ctx); err != nil {
			return false, axonerr.NewE(axonerr.ErrAborted, err)
		}
		return yield(HashesEntry{
			Offset: se.Offset,
			Digest: digest.NewDigestFromBytes(digest.SHA256, se.Digest),
			Size:   int64(se.Size),
		})
	})
}

// HashesSeq adapts Hashes to an entrySeq, for callers that want to
// drain the feed into a slice themselves instead of passing a yield
// callback directly.
func (e *Engine) HashesSeq(ctx context.Context, offset uint64) entrySeq[HashesEntry] {
	return func(yield func(HashesEntry, error) bool) {
		err := e.Hashes(ctx, offset, func(entry HashesEntry) (bool, error) {
			return yield(entry, nil), nil
		})
		if err != nil {
			yield(HashesEntry{}, err)
		}
	}
}

// HistoryEntry is one entry of the time-bucketed history index.
type HistoryEntry struct {
	TimestampMS int64
	Digest      digest.Digest
	Size        int64
}

// History yields entries with tick <= time < tock, in ascending time
// order. tock <= 0 means open-ended.
func (e *Engine) History(ctx context.Context, tick, tock int64, yield func(HistoryEntry) (bool, error)) error {
	return e.store.History(tick, tock, func(he axonstore.HistEntry) (bool, error) {
		if err := xcontext.NonBlockingCheck(ctx); err != nil {
			return false, axonerr.NewE(axonerr.ErrAborted, err)
		}
		return yield(HistoryEntry{
			TimestampMS: he.TimestampMS,
			Digest:      digest.NewDigestFromBytes(digest.SHA256, he.Digest),
			Size:        int64(he.Size),
		})
	})
}
