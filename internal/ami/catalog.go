package ami

import "context"

// Catalog answers image queries. Implementations return images newest first
// (see SortByRecency) and own their timeouts and retries.
type Catalog interface {
	ListImagesSortedByRecency(ctx context.Context, criteria []Criterion) ([]Image, error)
}

// CatalogFunc adapts a function to the Catalog interface.
type CatalogFunc func(ctx context.Context, criteria []Criterion) ([]Image, error)

func (f CatalogFunc) ListImagesSortedByRecency(ctx context.Context, criteria []Criterion) ([]Image, error) {
	return f(ctx, criteria)
}
