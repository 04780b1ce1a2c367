package xio

import (
	"io"
	"strings"

	"github.com/wuxler/axon/internal/axonlog"
)

// CloseAndLogError closes c and logs a warning if it returned an error,
// for defer sites where a close failure (e.g. a spool file that failed
// to flush) shouldn't abort the request but is still worth recording.
// Prefer "defer CloseAndLogError(rc, ...)" over "defer rc.Close()"
// everywhere a Close error would otherwise be silently dropped.
func CloseAndLogError(c io.Closer, messages ...string) {
	var msg string
	if len(messages) > 0 {
		msg = strings.Join(messages, ": ")
	}

	err := c.Close()
	if err == nil {
		return
	}

	if msg == "" {
		axonlog.Warnf("unable to close: %+v", err)
		return
	}
	axonlog.Warnf("unable to close: %s: %+v", msg, err)
}
