package axonhttp

import "context"

// Permitter is the opaque permission oracle of the store: every
// handler calls Allowed before touching the engine, and a false
// result is surfaced as a 403. The store itself carries no notion of
// users, tokens, or roles — whatever sits behind Allowed owns that.
type Permitter interface {
	Allowed(ctx context.Context, subject, op string) bool
}

// AllowAll is a Permitter that permits every operation, useful for
// local development and for tests that don't exercise authorization.
type AllowAll struct{}

func (AllowAll) Allowed(_ context.Context, _, _ string) bool { return true }

const (
	opPut    = "put"
	opGet    = "get"
	opHas    = "has"
	opDelete = "delete"
)

// subjectHeader is the header a caller's identity is read from. The
// value is opaque to the store; it is handed to the Permitter as-is.
const subjectHeader = "X-Axon-Subject"
