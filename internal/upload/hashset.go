package upload

import (
	"crypto/md5" //nolint:gosec // secondary digest, not used for content addressing
	"crypto/sha1" //nolint:gosec // secondary digest, not used for content addressing
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
)

// HashSet fans writes out to the four digests the HTTP upload path and
// the URL fetcher report alongside the canonical SHA-256 content
// address.
type HashSet struct {
	size int64
	md5  hash.Hash
	sha1 hash.Hash
	sha256 hash.Hash
	sha512 hash.Hash
}

// NewHashSet returns a HashSet ready to accumulate writes.
func NewHashSet() *HashSet {
	return &HashSet{
		md5:    md5.New(),  //nolint:gosec // secondary digest
		sha1:   sha1.New(), //nolint:gosec // secondary digest
		sha256: sha256.New(),
		sha512: sha512.New(),
	}
}

// Write implements io.Writer, feeding p into every tracked digest. It
// never returns an error.
func (h *HashSet) Write(p []byte) (int, error) {
	h.size += int64(len(p))
	h.md5.Write(p)    //nolint:errcheck // hash.Hash.Write never fails
	h.sha1.Write(p)   //nolint:errcheck // hash.Hash.Write never fails
	h.sha256.Write(p) //nolint:errcheck // hash.Hash.Write never fails
	h.sha512.Write(p) //nolint:errcheck // hash.Hash.Write never fails
	return len(p), nil
}

// Size returns the total number of bytes written so far.
func (h *HashSet) Size() int64 {
	return h.size
}

// Sums returns the lowercase hex digest for each tracked algorithm.
func (h *HashSet) Sums() map[string]string {
	return map[string]string{
		"md5":    hex.EncodeToString(h.md5.Sum(nil)),
		"sha1":   hex.EncodeToString(h.sha1.Sum(nil)),
		"sha256": hex.EncodeToString(h.sha256.Sum(nil)),
		"sha512": hex.EncodeToString(h.sha512.Sum(nil)),
	}
}
