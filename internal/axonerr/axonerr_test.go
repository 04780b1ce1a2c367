package axonerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wuxler/axon/internal/axonerr"
)

var errTest = errors.New("this is a test")

func TestErrors(t *testing.T) {
	testcases := []struct {
		name string
		err  error
	}{
		{"NotFound", axonerr.ErrNotFound},
		{"LimitExceeded", axonerr.ErrLimitExceeded},
		{"BadDigest", axonerr.ErrBadDigest},
		{"BadRequest", axonerr.ErrBadRequest},
		{"Unauthorized", axonerr.ErrUnauthorized},
		{"Aborted", axonerr.ErrAborted},
		{"Internal", axonerr.ErrInternal},
	}

	for _, tc := range testcases {
		t.Run("NewE_"+tc.name, func(t *testing.T) {
			assert.NotErrorIs(t, errTest, tc.err)
			e := axonerr.NewE(tc.err, errTest)
			assert.ErrorIs(t, e, tc.err)
		})
	}

	for _, tc := range testcases {
		t.Run("Newf_"+tc.name, func(t *testing.T) {
			e := axonerr.Newf(tc.err, "this is a test")
			assert.ErrorIs(t, e, tc.err)
		})
	}

	t.Run("NewE_nil", func(t *testing.T) {
		assert.NoError(t, axonerr.NewE(axonerr.ErrNotFound, nil))
	})

	t.Run("NewE_already_wrapped", func(t *testing.T) {
		wrapped := axonerr.NewE(axonerr.ErrNotFound, errTest)
		again := axonerr.NewE(axonerr.ErrNotFound, wrapped)
		assert.ErrorIs(t, again, axonerr.ErrNotFound)
	})
}
