package feed

import (
	"context"
	"time"
)

// Entity is anything a view can order: an identity plus the sort key.
type Entity interface {
	EntityID() string
	SortTime() time.Time
}

// Page is one fetched page. Fetched counts the rows the backend returned
// before hydration dropped any; a page with Fetched < size is the last.
type Page[E Entity] struct {
	Items   []E
	Fetched int
}

// Source is the read side of a remote collection, already hydrated.
//
// FetchPage always returns rows newest-first; views that render
// oldest-first reverse it themselves. FetchByID returns ErrNotFound or
// ErrHydrationGap for rows that cannot be shown, and leaves viewer-relative
// state at its zero value.
type Source[E Entity] interface {
	FetchPage(ctx context.Context, scope string, page, size int) (Page[E], error)
	FetchByID(ctx context.Context, id string) (E, error)
}

// Order is the direction a view renders in.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// before reports whether a sorts strictly ahead of b.
func (o Order) before(a, b time.Time) bool {
	if o == OldestFirst {
		return a.Before(b)
	}
	return a.After(b)
}
