package axonhttp

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wuxler/axon/internal/axonerr"
	"github.com/wuxler/axon/internal/axonlog"
)

// okEnvelope is the uniform success response shape.
type okEnvelope struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
}

// errEnvelope is the uniform failure response shape.
type errEnvelope struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Mesg   string `json:"mesg"`
}

func ok(c *gin.Context, result any) {
	c.JSON(http.StatusOK, okEnvelope{Status: "ok", Result: result})
}

// fail maps err to an HTTP status and code per the propagation policy
// and writes the error envelope; ErrInternal is additionally logged
// with the request context.
func fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		axonlog.C(c.Request.Context()).Error("internal error", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errEnvelope{Status: "err", Code: code, Mesg: err.Error()})
}

// classify maps err to an HTTP status and envelope code. Per the
// propagation policy, only NotFound and Unauthorized get their own HTTP
// status; every other user-facing error kind rides inside a 200 with
// the failure recorded in the envelope body, and only Internal is a
// 500.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, axonerr.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, axonerr.ErrUnauthorized):
		return http.StatusForbidden, "Unauthorized"
	case errors.Is(err, axonerr.ErrBadDigest):
		return http.StatusOK, "BadDigest"
	case errors.Is(err, axonerr.ErrBadRequest):
		return http.StatusOK, "BadRequest"
	case errors.Is(err, axonerr.ErrLimitExceeded):
		return http.StatusOK, "LimitExceeded"
	case errors.Is(err, axonerr.ErrAborted):
		return http.StatusOK, "Aborted"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}
