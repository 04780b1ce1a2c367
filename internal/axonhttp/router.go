// Package axonhttp serves the blob store over HTTP: streaming
// upload/download by SHA-256 digest, existence checks, and batched
// deletes, all behind a pluggable Permitter.
package axonhttp

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/opencontainers/go-digest"

	"github.com/wuxler/axon/internal/upload"
	"github.com/wuxler/axon/internal/xos"
)

// Engine is the subset of *blobengine.Engine the HTTP layer needs.
type Engine interface {
	upload.Engine
	Get(ctx context.Context, d digest.Digest) (io.ReadCloser, error)
	Delete(ctx context.Context, d digest.Digest) (bool, error)
	Deletes(ctx context.Context, ds []digest.Digest) ([]bool, error)
}

// Server wires an Engine and a Permitter into a gin router.
type Server struct {
	engine    Engine
	permitter Permitter
	temp      xos.Temper
}

// New returns a Server. If permitter is nil, AllowAll is used.
func New(engine Engine, temp xos.Temper, permitter Permitter) *Server {
	if permitter == nil {
		permitter = AllowAll{}
	}
	return &Server{engine: engine, permitter: permitter, temp: temp}
}

// Router builds the gin.Engine exposing the 5 blob endpoints under
// /api/v1/axon/files.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	files := router.Group("/api/v1/axon/files")
	files.PUT("/put", s.handlePut)
	files.POST("/put", s.handlePut)
	files.GET("/has/sha256/:hex", s.handleHas)
	files.GET("/by/sha256/:hex", s.handleGet)
	files.DELETE("/by/sha256/:hex", s.handleDelete)
	files.POST("/del", s.handleDels)

	return router
}

func subjectOf(c *gin.Context) string {
	return c.GetHeader(subjectHeader)
}

func (s *Server) allowed(c *gin.Context, op string) bool {
	return s.permitter.Allowed(c.Request.Context(), subjectOf(c), op)
}
