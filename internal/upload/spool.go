package upload

import (
	"bytes"
	"io"
	"os"

	"github.com/wuxler/axon/internal/blobengine"
	"github.com/wuxler/axon/internal/xos"
)

// MaxSpoolSize is the in-memory threshold past which a spoolBuffer spills
// its contents to a temporary file. 512 MiB, matching the original
// tempfile.SpooledTemporaryFile threshold.
const MaxSpoolSize = blobengine.ChunkSize * 32

// spoolBuffer is a write-once, read-after-write buffer that stays
// in-memory up to MaxSpoolSize bytes and spills to a temp file beyond
// that point. The transition from memory to disk is one-way within a
// session; Reset collapses back to an empty in-memory buffer.
type spoolBuffer struct {
	temper xos.Temper

	mem    *bytes.Buffer
	file   *os.File
	onDisk bool
}

func newSpoolBuffer(temper xos.Temper) *spoolBuffer {
	return &spoolBuffer{
		temper: temper,
		mem:    new(bytes.Buffer),
	}
}

// Write appends p, spilling to a temp file the moment the in-memory
// buffer would exceed MaxSpoolSize.
func (b *spoolBuffer) Write(p []byte) (int, error) {
	if b.onDisk {
		return b.file.Write(p)
	}
	if int64(b.mem.Len()+len(p)) <= MaxSpoolSize {
		return b.mem.Write(p)
	}
	if err := b.spill(); err != nil {
		return 0, err
	}
	return b.file.Write(p)
}

func (b *spoolBuffer) spill() error {
	fd, err := b.temper.CreateTemp("axon-upload-*")
	if err != nil {
		return err
	}
	if _, err := fd.Write(b.mem.Bytes()); err != nil {
		fd.Close() //nolint:errcheck // best-effort cleanup on error path
		return err
	}
	b.file = fd
	b.onDisk = true
	b.mem = nil
	return nil
}

// Reader returns a reader over everything written so far, positioned at
// the start. Calling Reader does not consume write state; callers that
// intend to keep writing afterward must not rely on the returned reader
// remaining valid once Reset is called.
func (b *spoolBuffer) Reader() (io.Reader, error) {
	if b.onDisk {
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return b.file, nil
	}
	return bytes.NewReader(b.mem.Bytes()), nil
}

// Reset discards all buffered content. If the buffer has rolled to disk,
// the backing temp file is closed and removed; otherwise the in-memory
// buffer is truncated in place to avoid reallocation.
func (b *spoolBuffer) Reset() error {
	if b.onDisk {
		name := b.file.Name()
		err := b.file.Close()
		if rerr := os.Remove(name); err == nil {
			err = rerr
		}
		b.file = nil
		b.onDisk = false
		b.mem = new(bytes.Buffer)
		return err
	}
	b.mem.Reset()
	return nil
}

// Close releases all resources held by the buffer.
func (b *spoolBuffer) Close() error {
	if b.onDisk {
		name := b.file.Name()
		err := b.file.Close()
		if rerr := os.Remove(name); err == nil {
			err = rerr
		}
		return err
	}
	return nil
}
