// Package axonstore provides the bbolt-backed persistence layer for Axon:
// the size-index, the append-only sequence, time-bucketed history,
// persisted metrics counters, and the blob chunk table.
//
// It is the Go analog of the original's two LMDB environments
// (axon.lmdb, blob.lmdb): axon.db holds the sizes/history/axonseqn/metrics
// buckets, blob.db holds the blobs bucket.
package axonstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"go.etcd.io/bbolt"

	"github.com/wuxler/axon/internal/axonlog"
)

var (
	bucketSizes   = []byte("sizes")
	bucketHistory = []byte("history")
	bucketSeq     = []byte("axonseqn")
	bucketMetrics = []byte("metrics")
	bucketBlobs   = []byte("blobs")
)

const (
	metricKeyFileCount = "file:count"
	metricKeySizeBytes = "size:bytes"
)

// isEmptyDir reports whether root exists and contains no entries, so
// Open can tell a first-run store apart from a reopened one for logging.
// A root that doesn't exist yet counts as not fresh (MkdirAll will
// create it right after this check), not empty.
func isEmptyDir(root string) bool {
	f, err := os.Open(root)
	if err != nil {
		return false
	}
	defer f.Close() //nolint:errcheck // read-only directory handle

	_, err = f.Readdirnames(1)
	return errors.Is(err, io.EOF)
}

// Store opens the two bbolt files that back an Axon instance.
type Store struct {
	clock  clock.Clock
	axonDB *bbolt.DB
	blobDB *bbolt.DB
}

// Open creates the root directory if needed and opens axon.db and
// blob.db inside it, creating their buckets on first use. A nil clock
// defaults to the real wall clock.
func Open(root string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.New()
	}
	fresh := isEmptyDir(root)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store root %s: %w", root, err)
	}
	if fresh {
		axonlog.Debugf("initializing new axon store at %s", root)
	}

	axonDB, err := bbolt.Open(filepath.Join(root, "axon.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open axon.db: %w", err)
	}
	if err := axonDB.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSizes, bucketHistory, bucketSeq, bucketMetrics} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		axonDB.Close() //nolint:errcheck // best-effort cleanup on error path
		return nil, fmt.Errorf("failed to initialize axon.db buckets: %w", err)
	}

	blobDB, err := bbolt.Open(filepath.Join(root, "blob.db"), 0o600, nil)
	if err != nil {
		axonDB.Close() //nolint:errcheck // best-effort cleanup on error path
		return nil, fmt.Errorf("failed to open blob.db: %w", err)
	}
	if err := blobDB.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlobs)
		return err
	}); err != nil {
		axonDB.Close() //nolint:errcheck // best-effort cleanup on error path
		blobDB.Close()  //nolint:errcheck // best-effort cleanup on error path
		return nil, fmt.Errorf("failed to initialize blob.db buckets: %w", err)
	}

	return &Store{clock: clk, axonDB: axonDB, blobDB: blobDB}, nil
}

// Close releases both underlying bbolt files.
func (s *Store) Close() error {
	errAxon := s.axonDB.Close()
	errBlob := s.blobDB.Close()
	if errAxon != nil {
		return errAxon
	}
	return errBlob
}

func encodeBE64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeBE64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// HasSize reports whether digest has a size-index entry.
func (s *Store) HasSize(digest []byte) (bool, error) {
	var found bool
	err := s.axonDB.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSizes).Get(digest)
		found = v != nil
		return nil
	})
	return found, err
}

// GetSize returns the stored size for digest, and whether it was found.
func (s *Store) GetSize(digest []byte) (uint64, bool, error) {
	var size uint64
	var found bool
	err := s.axonDB.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSizes).Get(digest)
		if v == nil {
			return nil
		}
		found = true
		size = decodeBE64(v)
		return nil
	})
	return size, found, err
}

// Metrics returns a snapshot of the persisted counters.
func (s *Store) Metrics() (map[string]int64, error) {
	out := map[string]int64{}
	err := s.axonDB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetrics)
		out[metricKeyFileCount] = int64(getCounter(b, metricKeyFileCount))
		out[metricKeySizeBytes] = int64(getCounter(b, metricKeySizeBytes))
		return nil
	})
	return out, err
}

func getCounter(b *bbolt.Bucket, key string) uint64 {
	v := b.Get([]byte(key))
	if v == nil {
		return 0
	}
	return decodeBE64(v)
}

func addCounter(b *bbolt.Bucket, key string, delta int64) error {
	cur := int64(getCounter(b, key))
	next := cur + delta
	if next < 0 {
		next = 0
	}
	return b.Put([]byte(key), encodeBE64(uint64(next)))
}

// CommitSave writes the size-index entry, the sequence entry, the
// history entry, and increments the metrics counters in a single bbolt
// transaction, so a blob becomes visible via Has/Hashes/History/Metrics
// atomically. This single-transaction design resolves the open question
// in spec.md §9 about metrics/size-index ordering: there is no crash
// window here.
func (s *Store) CommitSave(digest []byte, size uint64) error {
	nowMS := uint64(s.clock.Now().UnixMilli())
	return s.axonDB.Update(func(tx *bbolt.Tx) error {
		sizes := tx.Bucket(bucketSizes)
		if err := sizes.Put(digest, encodeBE64(size)); err != nil {
			return err
		}

		seq := tx.Bucket(bucketSeq)
		offset, err := seq.NextSequence()
		if err != nil {
			return err
		}
		// NextSequence starts at 1; offsets are dense from 0.
		offset--
		seqVal := append(append([]byte{}, digest...), encodeBE64(size)...)
		if err := seq.Put(encodeBE64(offset), seqVal); err != nil {
			return err
		}

		hist := tx.Bucket(bucketHistory)
		histKey := append(encodeBE64(nowMS), encodeBE64(offset)...)
		if err := hist.Put(histKey, seqVal); err != nil {
			return err
		}

		metrics := tx.Bucket(bucketMetrics)
		if err := addCounter(metrics, metricKeyFileCount, 1); err != nil {
			return err
		}
		return addCounter(metrics, metricKeySizeBytes, int64(size))
	})
}

// CommitDelete removes the size-index entry for digest and decrements
// the metrics counters by its size, in one transaction. Returns the
// size that was removed and whether an entry existed at all.
func (s *Store) CommitDelete(digest []byte) (uint64, bool, error) {
	var size uint64
	var existed bool
	err := s.axonDB.Update(func(tx *bbolt.Tx) error {
		sizes := tx.Bucket(bucketSizes)
		v := sizes.Get(digest)
		if v == nil {
			return nil
		}
		existed = true
		size = decodeBE64(v)
		if err := sizes.Delete(digest); err != nil {
			return err
		}
		metrics := tx.Bucket(bucketMetrics)
		if err := addCounter(metrics, metricKeyFileCount, -1); err != nil {
			return err
		}
		return addCounter(metrics, metricKeySizeBytes, -int64(size))
	})
	return size, existed, err
}

// SeqEntry is one entry of the append-only sequence log.
type SeqEntry struct {
	Offset uint64
	Digest []byte
	Size   uint64
}

// Hashes yields sequence entries from offset forward, skipping entries
// whose size-index entry no longer exists (a tombstoned delete).
// Compaction of tombstoned offsets is out of scope, matching the
// original's behavior exactly (spec.md §9).
func (s *Store) Hashes(offset uint64, yield func(SeqEntry) (bool, error)) error {
	return s.axonDB.View(func(tx *bbolt.Tx) error {
		sizes := tx.Bucket(bucketSizes)
		cur := tx.Bucket(bucketSeq).Cursor()
		start := encodeBE64(offset)
		for k, v := cur.Seek(start); k != nil; k, v = cur.Next() {
			entry := SeqEntry{
				Offset: decodeBE64(k),
				Digest: append([]byte{}, v[:32]...),
				Size:   decodeBE64(v[32:40]),
			}
			if sizes.Get(entry.Digest) == nil {
				continue
			}
			cont, err := yield(entry)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// HistEntry is one entry of the time-bucketed history index.
type HistEntry struct {
	TimestampMS int64
	Digest      []byte
	Size        uint64
}

// History yields entries with tick <= time < tock, in ascending time
// order. tock <= 0 means open-ended.
func (s *Store) History(tick, tock int64, yield func(HistEntry) (bool, error)) error {
	return s.axonDB.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketHistory).Cursor()
		start := encodeBE64(uint64(tick))
		for k, v := cur.Seek(start); k != nil; k, v = cur.Next() {
			ts := int64(decodeBE64(k[:8]))
			if tock > 0 && ts >= tock {
				break
			}
			entry := HistEntry{
				TimestampMS: ts,
				Digest:      append([]byte{}, v[:32]...),
				Size:        decodeBE64(v[32:40]),
			}
			cont, err := yield(entry)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// PutChunk writes one chunk into the blob table.
func (s *Store) PutChunk(key, data []byte) error {
	return s.blobDB.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put(key, data)
	})
}

// ChunkValue returns the raw bytes stored under key, or nil if absent.
func (s *Store) ChunkValue(key []byte) ([]byte, error) {
	var out []byte
	err := s.blobDB.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBlobs).Get(key)
		if v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	return out, err
}

// ChunkKeys returns every chunk key with the given digest prefix, in
// ascending (reconstruction) order.
func (s *Store) ChunkKeys(digest []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.blobDB.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketBlobs).Cursor()
		for k, _ := cur.Seek(digest); k != nil && hasPrefix(k, digest); k, _ = cur.Next() {
			keys = append(keys, append([]byte{}, k...))
		}
		return nil
	})
	return keys, err
}

// DeleteChunks removes every chunk with the given digest prefix.
func (s *Store) DeleteChunks(digest []byte) error {
	return s.blobDB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		cur := b.Cursor()
		var toDelete [][]byte
		for k, _ := cur.Seek(digest); k != nil && hasPrefix(k, digest); k, _ = cur.Next() {
			toDelete = append(toDelete, append([]byte{}, k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Recover scans the size-index and recomputes file:count/size:bytes,
// repairing any divergence accumulated across an unclean shutdown.
// The baseline contract (spec.md §4.5) is that counters are correct
// across a clean shutdown; Recover is the recovery path for the case
// they are not.
func (s *Store) Recover(log *axonlog.Logger) error {
	return s.axonDB.Update(func(tx *bbolt.Tx) error {
		sizes := tx.Bucket(bucketSizes)
		metrics := tx.Bucket(bucketMetrics)

		var count, total int64
		if err := sizes.ForEach(func(_, v []byte) error {
			count++
			total += int64(decodeBE64(v))
			return nil
		}); err != nil {
			return err
		}

		wantCount := getCounter(metrics, metricKeyFileCount)
		wantBytes := getCounter(metrics, metricKeySizeBytes)
		if int64(wantCount) == count && int64(wantBytes) == total {
			return nil
		}
		log.Warn("repairing diverged metrics counters",
			"file_count_before", wantCount, "file_count_after", count,
			"size_bytes_before", wantBytes, "size_bytes_after", total)
		if err := metrics.Put([]byte(metricKeyFileCount), encodeBE64(uint64(count))); err != nil {
			return err
		}
		return metrics.Put([]byte(metricKeySizeBytes), encodeBE64(uint64(total)))
	})
}
