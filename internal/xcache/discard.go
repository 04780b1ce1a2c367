package xcache

import "context"

// NewDiscard returns a cache that stores nothing: every Get misses and
// falls through to its loader, every Set/Delete is a no-op.
func NewDiscard[T any]() Cache[T] {
	return discardCacheImpl[T]{}
}

type discardCacheImpl[T any] struct{}

// Get returns the value produced by the loader, if one is given.
func (s discardCacheImpl[T]) Get(ctx context.Context, key string, options ...Option[T]) (T, bool) {
	return MakeOptions(options...).Loader(ctx, key)
}

// Set does nothing.
func (s discardCacheImpl[T]) Set(_ context.Context, key string, value T, options ...Option[T]) {
}

// Delete does nothing.
func (s discardCacheImpl[T]) Delete(_ context.Context, key string) {
}
