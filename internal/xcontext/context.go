package xcontext

import (
	"context"
	"fmt"
	"strings"
)

// NonBlockingCheck checks context as non-blocking select and returns error if context is done.
func NonBlockingCheck(ctx context.Context, msgs ...string) error {
	select {
	case <-ctx.Done():
		if len(msgs) == 0 {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", strings.Join(msgs, ":"), ctx.Err())
	default:
	}
	return nil
}

// valueKey distinguishes WithValue/GetValue slots by the stored type T,
// so each T gets its own key without callers declaring one.
type valueKey[T any] struct{}

// WithValue stores value in ctx under a key derived from T, returning the
// child context. A second WithValue call for the same T overwrites it.
func WithValue[T any](ctx context.Context, value T) context.Context {
	return context.WithValue(ctx, valueKey[T]{}, value)
}

// GetValue retrieves the value of type T previously stored with
// WithValue, reporting whether one was present.
func GetValue[T any](ctx context.Context) (T, bool) {
	value, ok := ctx.Value(valueKey[T]{}).(T)
	return value, ok
}
