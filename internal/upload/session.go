// Package upload implements the spooled upload buffer and the
// de-duplicating save path: a stateful Session bound to one
// blob-in-progress, plus a HashSet for secondary digest accumulation
// used by the HTTP upload path and the URL fetcher.
package upload

import (
	"context"
	"crypto/sha256"
	"hash"
	"io"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/wuxler/axon/internal/axonerr"
	"github.com/wuxler/axon/internal/xio"
	"github.com/wuxler/axon/internal/xos"
)

// Engine is the subset of *blobengine.Engine a Session needs to
// dedup-check and commit a finished upload.
type Engine interface {
	Has(ctx context.Context, d digest.Digest) (bool, error)
	Save(ctx context.Context, d digest.Digest, size int64, r io.Reader) error
}

// Session is a stateful object bound to one blob-in-progress: a spooled
// buffer, a running size, and an in-progress SHA-256. It is not safe for
// concurrent use by multiple goroutines.
type Session struct {
	engine Engine
	buf    *spoolBuffer
	rate   xio.MeasurableWriter
	sha    hash.Hash
	closed bool
}

// NewSession returns a Session that spills to temp.
func NewSession(engine Engine, temp xos.Temper) *Session {
	buf := newSpoolBuffer(temp)
	return &Session{
		engine: engine,
		buf:    buf,
		rate:   xio.NewMeasuredWriter(buf),
		sha:    sha256.New(),
	}
}

// Write appends p to the buffer and folds it into the running digest.
// It performs no I/O beyond buffer writes and is not a cancellation
// point, matching spec.md §5.
func (s *Session) Write(p []byte) (int, error) {
	if s.closed {
		return 0, axonerr.Newf(axonerr.ErrAborted, "upload session is closed")
	}
	n, err := s.rate.Write(p)
	if n > 0 {
		s.sha.Write(p[:n]) //nolint:errcheck // hash.Hash.Write never fails
	}
	return n, err
}

// Save finalizes the digest and commits the buffered bytes to the
// engine. If the engine already has the digest, the session is reset
// and the size/digest are returned without writing anything. After a
// successful Save the session is reset and ready for reuse.
func (s *Session) Save(ctx context.Context) (int64, digest.Digest, error) {
	if s.closed {
		return 0, "", axonerr.Newf(axonerr.ErrAborted, "upload session is closed")
	}

	d := digest.NewDigestFromBytes(digest.SHA256, s.sha.Sum(nil))
	size := s.rate.Total()

	has, err := s.engine.Has(ctx, d)
	if err != nil {
		return 0, "", err
	}
	if has {
		if err := s.Reset(); err != nil {
			return 0, "", err
		}
		return size, d, nil
	}

	r, err := s.buf.Reader()
	if err != nil {
		return 0, "", axonerr.NewE(axonerr.ErrInternal, err)
	}
	if err := s.engine.Save(ctx, d, size, r); err != nil {
		return 0, "", err
	}
	if err := s.Reset(); err != nil {
		return 0, "", err
	}
	return size, d, nil
}

// Reset discards the buffer contents and restarts size and digest
// state, so the Session can be reused for another upload.
func (s *Session) Reset() error {
	if s.closed {
		return axonerr.Newf(axonerr.ErrAborted, "upload session is closed")
	}
	s.sha = sha256.New()
	s.rate = xio.NewMeasuredWriter(s.buf)
	return s.buf.Reset()
}

// Close releases all resources held by the session. Subsequent
// operations fail.
func (s *Session) Close() error {
	s.closed = true
	return s.buf.Close()
}

// Size returns the number of bytes written since the last reset.
func (s *Session) Size() int64 {
	return s.rate.Total()
}

// Rate returns the write throughput over the given period, in bytes
// per period, since the last Reset.
func (s *Session) Rate(period time.Duration) float64 {
	return s.rate.BytesPer(period)
}
