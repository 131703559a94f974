package feed

import "context"

// ProfileFetcher loads a batch of authors in one round trip.
type ProfileFetcher[A Entity] func(ctx context.Context, ids []string) ([]A, error)

// AuthorResolver resolves author ids through a Store first and fetches the
// rest in a single batch, caching what it gets back.
type AuthorResolver[A Entity] struct {
	store *Store[A]
	fetch ProfileFetcher[A]
}

func NewAuthorResolver[A Entity](store *Store[A], fetch ProfileFetcher[A]) *AuthorResolver[A] {
	if store == nil {
		store = NewStore[A]()
	}
	return &AuthorResolver[A]{store: store, fetch: fetch}
}

// Resolve returns the authors it could find. Ids with no row are absent
// from the result, not an error.
func (r *AuthorResolver[A]) Resolve(ctx context.Context, ids []string) (map[string]A, error) {
	ids = dedupe(ids)
	hit, miss := r.store.GetMany(ids)
	if len(miss) == 0 {
		return hit, nil
	}
	rows, err := r.fetch(ctx, miss)
	if err != nil {
		return hit, err
	}
	for _, a := range rows {
		r.store.Upsert(a)
		hit[a.EntityID()] = a
	}
	return hit, nil
}

// Store exposes the backing cache so a session can clear it.
func (r *AuthorResolver[A]) Store() *Store[A] { return r.store }

// JoinAuthors hydrates rows with their authors using one batch lookup.
// Rows whose author does not exist are dropped; the input order is kept.
func JoinAuthors[R any, A any, E any](
	ctx context.Context,
	rows []R,
	authorOf func(R) string,
	lookup func(ctx context.Context, ids []string) (map[string]A, error),
	join func(R, A) E,
) ([]E, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, authorOf(r))
	}
	authors, err := lookup(ctx, dedupe(ids))
	if err != nil {
		return nil, err
	}
	out := make([]E, 0, len(rows))
	for _, r := range rows {
		a, ok := authors[authorOf(r)]
		if !ok {
			continue
		}
		out = append(out, join(r, a))
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
