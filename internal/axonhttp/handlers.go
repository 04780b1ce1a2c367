package axonhttp

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/wuxler/axon/internal/axonerr"
	"github.com/wuxler/axon/internal/axonlog"
	"github.com/wuxler/axon/internal/upload"
	"github.com/wuxler/axon/internal/xio"
)

// handlePut streams the request body into an upload session and
// returns the finished digest and per-algorithm hashes, matching the
// original wget/put info_record shape.
func (s *Server) handlePut(c *gin.Context) {
	if !s.allowed(c, opPut) {
		fail(c, axonerr.Newf(axonerr.ErrUnauthorized, "subject not permitted to put"))
		return
	}

	sess := upload.NewSession(s.engine, s.temp)
	defer xio.CloseAndLogError(sess, "close upload session")

	body, err := decodeRequestBody(c)
	if err != nil {
		fail(c, axonerr.NewE(axonerr.ErrBadRequest, err))
		return
	}
	defer xio.CloseAndLogError(body, "close request body")

	hashes := upload.NewHashSet()
	if _, err := io.Copy(io.MultiWriter(sess, hashes), body); err != nil {
		fail(c, axonerr.NewE(axonerr.ErrBadRequest, err))
		return
	}

	size, d, err := sess.Save(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	sums := hashes.Sums()
	sums["sha256"] = d.Encoded()
	ok(c, gin.H{
		"size":       size,
		"sha256":     d.Encoded(),
		"md5":        sums["md5"],
		"sha1":       sums["sha1"],
		"sha512":     sums["sha512"],
		"descriptor": blobDescriptor(d, size),
	})
}

// blobMediaType is the media type reported for every stored blob: Axon
// has no notion of content type beyond "opaque bytes addressed by their
// digest", so every descriptor carries the same generic value.
const blobMediaType = "application/octet-stream"

// blobDescriptor renders a blob as an OCI content descriptor, the same
// digest+size+mediaType triple registries use to address image layers,
// so a client already speaking OCI can treat an Axon store as another
// content-addressable backend.
func blobDescriptor(d digest.Digest, size int64) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: blobMediaType,
		Digest:    d,
		Size:      size,
	}
}

// decodeRequestBody wraps the request body in a decompressing reader
// when the caller set Content-Encoding to zstd, so a PUT can ship a
// compressed upload without the store needing to know about it beyond
// this one header.
func decodeRequestBody(c *gin.Context) (io.ReadCloser, error) {
	enc := strings.TrimSpace(c.GetHeader("Content-Encoding"))
	if enc == "" {
		return c.Request.Body, nil
	}
	if enc != contentEncodingZstd {
		return nil, fmt.Errorf("unsupported content-encoding %q", enc)
	}
	return decodeZstd(c.Request.Body)
}

func digestFromHex(hex string) (digest.Digest, error) {
	hex = strings.TrimSpace(hex)
	return digest.Digest("sha256:" + hex), nil
}

func (s *Server) handleHas(c *gin.Context) {
	if !s.allowed(c, opHas) {
		fail(c, axonerr.Newf(axonerr.ErrUnauthorized, "subject not permitted to check existence"))
		return
	}
	d, err := digestFromHex(c.Param("hex"))
	if err != nil {
		fail(c, axonerr.NewE(axonerr.ErrBadDigest, err))
		return
	}
	has, err := s.engine.Has(c.Request.Context(), d)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"has": has})
}

func (s *Server) handleGet(c *gin.Context) {
	if !s.allowed(c, opGet) {
		fail(c, axonerr.Newf(axonerr.ErrUnauthorized, "subject not permitted to get"))
		return
	}
	d, err := digestFromHex(c.Param("hex"))
	if err != nil {
		fail(c, axonerr.NewE(axonerr.ErrBadDigest, err))
		return
	}
	rc, err := s.engine.Get(c.Request.Context(), d)
	if err != nil {
		fail(c, err)
		return
	}
	defer xio.CloseAndLogError(rc, "close blob reader")

	c.Header("Content-Type", "application/octet-stream")

	enc := acceptedEncoding(c.GetHeader("Accept-Encoding"))
	if enc == "" {
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, rc); err != nil {
			axonlog.C(c.Request.Context()).Debug("get handler aborted mid-stream", "error", err)
		}
		return
	}

	c.Header("Content-Encoding", enc)
	c.Status(http.StatusOK)
	cw, err := encodeZstd(c.Writer)
	if err != nil {
		axonlog.C(c.Request.Context()).Debug("get handler failed to open compressor", "error", err)
		return
	}
	if _, err := io.Copy(cw, rc); err != nil {
		axonlog.C(c.Request.Context()).Debug("get handler aborted mid-stream", "error", err)
	}
	if err := cw.Close(); err != nil {
		axonlog.C(c.Request.Context()).Debug("get handler failed to flush compressor", "error", err)
	}
}

func (s *Server) handleDelete(c *gin.Context) {
	if !s.allowed(c, opDelete) {
		fail(c, axonerr.Newf(axonerr.ErrUnauthorized, "subject not permitted to delete"))
		return
	}
	d, err := digestFromHex(c.Param("hex"))
	if err != nil {
		fail(c, axonerr.NewE(axonerr.ErrBadDigest, err))
		return
	}
	existed, err := s.engine.Delete(c.Request.Context(), d)
	if err != nil {
		fail(c, err)
		return
	}
	if !existed {
		fail(c, axonerr.Newf(axonerr.ErrNotFound, "no such blob sha256:%s", d.Encoded()))
		return
	}
	ok(c, gin.H{"deleted": true})
}

type delsRequest struct {
	SHA256s []string `json:"sha256s" binding:"required"`
}

func (s *Server) handleDels(c *gin.Context) {
	if !s.allowed(c, opDelete) {
		fail(c, axonerr.Newf(axonerr.ErrUnauthorized, "subject not permitted to delete"))
		return
	}
	var req delsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, axonerr.NewE(axonerr.ErrBadRequest, err))
		return
	}

	ds := make([]digest.Digest, len(req.SHA256s))
	for i, hex := range req.SHA256s {
		d, err := digestFromHex(hex)
		if err != nil {
			fail(c, axonerr.NewE(axonerr.ErrBadDigest, err))
			return
		}
		ds[i] = d
	}

	results, err := s.engine.Deletes(c.Request.Context(), ds)
	if err != nil {
		fail(c, err)
		return
	}

	pairs := make([]delResult, len(req.SHA256s))
	for i, hex := range req.SHA256s {
		pairs[i] = delResult{SHA256: hex, Deleted: results[i]}
	}
	ok(c, gin.H{"deleted": pairs})
}

// delResult pairs a requested digest with whether it was deleted, so a
// batch response is self-describing instead of a bare parallel array the
// caller has to zip against its own request slice.
type delResult struct {
	SHA256  string `json:"sha256"`
	Deleted bool   `json:"deleted"`
}
