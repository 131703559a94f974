package feed

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MutationState tags an optimistic overlay.
type MutationState int

const (
	Pending MutationState = iota
	Committed
	RolledBack
)

func (s MutationState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// Mutation changes an entity's mutable fields. Restore copies the fields
// Apply touched from prior back onto current; when nil the whole prior
// value is put back.
type Mutation[E Entity] struct {
	Apply   func(E) E
	Restore func(current, prior E) E
}

// Undo is the token returned by an optimistic mutation. It remembers the
// pre-mutation values and the generation they belong to.
type Undo[E Entity] struct {
	mu      sync.Mutex
	gen     uint64
	ids     []string
	priors  map[string]E
	restore func(current, prior E) E
	state   MutationState
}

func (u *Undo[E]) State() MutationState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Prior returns the value id had before the mutation.
func (u *Undo[E]) Prior(id string) (E, bool) {
	e, ok := u.priors[id]
	return e, ok
}

// IDs lists the entities the mutation touched.
func (u *Undo[E]) IDs() []string { return u.ids }

// ApplyOptimisticMutation applies m to id right away and returns the token
// to resolve once the remote write finishes.
func (v *View[E]) ApplyOptimisticMutation(id string, m Mutation[E]) (*Undo[E], error) {
	u, err := v.MutateWhere(func(e E) bool { return e.EntityID() == id }, m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return u, nil
}

// MutateWhere applies m to every entity matching pred, as one overlay.
func (v *View[E]) MutateWhere(pred func(E) bool, m Mutation[E]) (*Undo[E], error) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return nil, ErrNotFound
	}
	u := &Undo[E]{gen: v.gen, priors: make(map[string]E), restore: m.Restore}
	for i, e := range v.items {
		if !pred(e) {
			continue
		}
		id := e.EntityID()
		u.ids = append(u.ids, id)
		u.priors[id] = e
		v.items[i] = m.Apply(e)
		if v.store != nil {
			v.store.Upsert(v.items[i])
		}
	}
	if len(u.ids) == 0 {
		v.mu.Unlock()
		return nil, ErrNotFound
	}
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.changed.Emit(snap)
	return u, nil
}

// Resolve settles a pending overlay with the outcome of its remote write.
// Success leaves the view as is. Failure restores the prior values of the
// entities still in view, unless the view was reset since, and returns the
// write error wrapped in ErrRemoteWrite.
func (v *View[E]) Resolve(u *Undo[E], writeErr error) error {
	u.mu.Lock()
	if u.state != Pending {
		u.mu.Unlock()
		return writeErr
	}
	if writeErr == nil {
		u.state = Committed
		u.mu.Unlock()
		return nil
	}
	u.state = RolledBack
	u.mu.Unlock()

	v.mu.Lock()
	changed := false
	if !v.disposed && v.gen == u.gen {
		for _, id := range u.ids {
			i := v.indexLocked(id)
			if i < 0 {
				continue
			}
			prior := u.priors[id]
			if u.restore != nil {
				v.items[i] = u.restore(v.items[i], prior)
			} else {
				v.items[i] = prior
			}
			if v.store != nil {
				v.store.Upsert(v.items[i])
			}
			changed = true
		}
	}
	var snap Snapshot[E]
	if changed {
		snap = v.snapshotLocked()
	}
	v.mu.Unlock()
	if changed {
		v.changed.Emit(snap)
	}
	v.log.Warn("optimistic mutation rolled back", zap.Strings("ids", u.ids), zap.Error(writeErr))
	return fmt.Errorf("%w: %v", ErrRemoteWrite, writeErr)
}
