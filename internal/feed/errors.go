package feed

import "errors"

// Failure taxonomy shared by views, remote clients and screens. None of
// these are fatal; a view that hits one keeps a stale but consistent state.
var (
	// ErrNotAuthenticated is returned when a write needs a viewer and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRemoteFetch wraps read failures. The page is treated as empty and
	// the cursor is left where it was so the next attempt retries it.
	ErrRemoteFetch = errors.New("remote fetch failed")
	// ErrRemoteWrite wraps write failures that rolled back an optimistic overlay.
	ErrRemoteWrite = errors.New("remote write failed")
	// ErrHydrationGap marks a row that exists but cannot be joined (missing author).
	ErrHydrationGap = errors.New("hydration gap")
	// ErrNotFound is returned by sources when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMutationPending rejects a second write to a field that already has one in flight.
	ErrMutationPending = errors.New("mutation already pending")
)
