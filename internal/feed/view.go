package feed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ViewConfig holds the non-generic knobs of a view.
type ViewConfig struct {
	Name     string
	PageSize int
	Order    Order
	// Debounce is the quiet period Invalidate waits before reloading.
	Debounce time.Duration
	Logger   *zap.Logger
}

// Option configures the generic parts of a view.
type Option[E Entity] func(*View[E])

// WithInheritance makes realtime inserts copy viewer-relative state from
// an entity already in view that shares a group with the new one (same
// author). inherit receives the fetched entity and the peer.
func WithInheritance[E Entity](sameGroup func(a, b E) bool, inherit func(incoming, peer E) E) Option[E] {
	return func(v *View[E]) {
		v.sameGroup = sameGroup
		v.inherit = inherit
	}
}

// WithStore writes every entity the view holds through to s.
func WithStore[E Entity](s *Store[E]) Option[E] {
	return func(v *View[E]) { v.store = s }
}

// Snapshot is an immutable copy of a view's state.
type Snapshot[E Entity] struct {
	Name           string
	Scope          string
	Items          []E
	Cursor         int
	Exhausted      bool
	LoadingInitial bool
	LoadingMore    bool
	Generation     uint64
}

type lastEvent struct {
	seq     uint64
	deleted bool
}

// View is an ordered, paginated, realtime-augmented projection of one
// collection for one scope. Items are unique by id and sorted by
// SortTime in the configured order; ties keep arrival order.
//
// Every state change happens under mu; fetches run without it and are
// checked against the generation captured before they started.
type View[E Entity] struct {
	cfg       ViewConfig
	src       Source[E]
	log       *zap.Logger
	store     *Store[E]
	sameGroup func(a, b E) bool
	inherit   func(incoming, peer E) E
	debouncer *Debouncer
	changed   Signal[Snapshot[E]]

	mu             sync.Mutex
	scope          string
	items          []E
	ids            map[string]struct{}
	cursor         int
	exhausted      bool
	loadingInitial bool
	loadingMore    bool
	gen            uint64
	seq            uint64
	events         map[string]lastEvent
	inflight       map[string]struct{}
	arrivals       map[string]E
	disposed       bool
}

func NewView[E Entity](cfg ViewConfig, src Source[E], opts ...Option[E]) *View[E] {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	v := &View[E]{
		cfg:       cfg,
		src:       src,
		log:       cfg.Logger.With(zap.String("view", cfg.Name)),
		debouncer: NewDebouncer(cfg.Debounce),
		ids:       make(map[string]struct{}),
		events:    make(map[string]lastEvent),
		inflight:  make(map[string]struct{}),
		arrivals:  make(map[string]E),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *View[E]) Name() string { return v.cfg.Name }

func (v *View[E]) PageSize() int { return v.cfg.PageSize }

// OnChange registers a listener that receives a snapshot after each change.
func (v *View[E]) OnChange(fn func(Snapshot[E])) (cancel func()) {
	return v.changed.Subscribe(fn)
}

// ResetAndLoad clears the view, switches it to scope and loads page 0.
// A reset that is superseded by a later one before its fetch returns is
// discarded and reports no error.
func (v *View[E]) ResetAndLoad(ctx context.Context, scope string) error {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return nil
	}
	v.gen++
	gen := v.gen
	v.scope = scope
	v.clearLocked()
	v.loadingInitial = true
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.changed.Emit(snap)

	page, err := v.src.FetchPage(ctx, scope, 0, v.cfg.PageSize)

	v.mu.Lock()
	if v.disposed || v.gen != gen {
		v.mu.Unlock()
		v.log.Debug("discard stale reset", zap.String("scope", scope), zap.Uint64("gen", gen))
		return nil
	}
	v.loadingInitial = false
	if err != nil {
		v.settleAllLocked()
		snap = v.snapshotLocked()
		v.mu.Unlock()
		v.changed.Emit(snap)
		v.log.Warn("initial load failed", zap.String("scope", scope), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrRemoteFetch, err)
	}

	arrived := v.items
	v.items = nil
	v.ids = make(map[string]struct{}, len(page.Items))
	v.placePageLocked(page.Items)
	// realtime inserts that landed while the page was in flight
	for _, e := range arrived {
		if _, ok := v.arrivals[e.EntityID()]; ok {
			v.insertSortedLocked(e, v.cfg.Order == NewestFirst)
		}
	}
	v.arrivals = make(map[string]E)
	v.exhausted = page.Fetched < v.cfg.PageSize
	v.settleAllLocked()
	snap = v.snapshotLocked()
	v.mu.Unlock()
	v.changed.Emit(snap)
	return nil
}

// Reload resets the view on its current scope.
func (v *View[E]) Reload(ctx context.Context) error {
	return v.ResetAndLoad(ctx, v.Scope())
}

// LoadMore fetches the next page. It does nothing while another load is
// running or once the view is exhausted.
func (v *View[E]) LoadMore(ctx context.Context) error {
	v.mu.Lock()
	if v.disposed || v.loadingMore || v.exhausted || v.loadingInitial {
		v.mu.Unlock()
		return nil
	}
	v.loadingMore = true
	gen := v.gen
	scope := v.scope
	next := v.cursor + 1
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.changed.Emit(snap)

	page, err := v.src.FetchPage(ctx, scope, next, v.cfg.PageSize)

	v.mu.Lock()
	if v.disposed || v.gen != gen {
		v.mu.Unlock()
		return nil
	}
	v.loadingMore = false
	if err != nil {
		v.settleAllLocked()
		snap = v.snapshotLocked()
		v.mu.Unlock()
		v.changed.Emit(snap)
		v.log.Warn("load more failed", zap.String("scope", scope), zap.Int("page", next), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrRemoteFetch, err)
	}
	v.placePageLocked(page.Items)
	v.cursor = next
	v.exhausted = page.Fetched < v.cfg.PageSize
	v.settleAllLocked()
	snap = v.snapshotLocked()
	v.mu.Unlock()
	v.changed.Emit(snap)
	return nil
}

// ApplyRealtimeInsert hydrates id and merges it into the view. Ids already
// present are ignored without a fetch. Rows that vanished or cannot be
// hydrated are dropped; only transport failures are returned.
func (v *View[E]) ApplyRealtimeInsert(ctx context.Context, id string) error {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return nil
	}
	v.seq++
	v.events[id] = lastEvent{seq: v.seq}
	_, present := v.ids[id]
	_, fetching := v.inflight[id]
	if present || fetching {
		v.settleLocked(id)
		v.mu.Unlock()
		return nil
	}
	v.inflight[id] = struct{}{}
	gen := v.gen
	v.mu.Unlock()

	e, err := v.src.FetchByID(ctx, id)

	v.mu.Lock()
	if v.disposed || v.gen != gen {
		v.mu.Unlock()
		return nil
	}
	delete(v.inflight, id)
	ev := v.events[id]
	v.settleLocked(id)
	if err != nil {
		v.mu.Unlock()
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrHydrationGap) {
			v.log.Info("drop realtime insert", zap.String("id", id), zap.Error(err))
			return nil
		}
		v.log.Warn("realtime insert fetch failed", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrRemoteFetch, err)
	}
	if ev.deleted {
		v.mu.Unlock()
		return nil
	}
	if _, ok := v.ids[id]; ok {
		v.mu.Unlock()
		return nil
	}
	if v.inherit != nil {
		for _, peer := range v.items {
			if v.sameGroup(e, peer) {
				e = v.inherit(e, peer)
				break
			}
		}
	}
	// realtime rows go ahead of equal timestamps in a newest-first view
	v.insertSortedLocked(e, v.cfg.Order == NewestFirst)
	if v.loadingInitial {
		v.arrivals[id] = e
	}
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.changed.Emit(snap)
	return nil
}

// ApplyRealtimeDelete removes id if present. A delete that overtakes an
// insert still being hydrated wins.
func (v *View[E]) ApplyRealtimeDelete(id string) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	v.seq++
	v.events[id] = lastEvent{seq: v.seq, deleted: true}
	v.settleLocked(id)
	delete(v.arrivals, id)
	if !v.removeLocked(id) {
		v.mu.Unlock()
		return
	}
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.changed.Emit(snap)
}

// Invalidate schedules one coalesced reload after the quiet period.
func (v *View[E]) Invalidate() {
	v.debouncer.Trigger(func() {
		if err := v.Reload(context.Background()); err != nil {
			v.log.Warn("debounced reload failed", zap.Error(err))
		}
	})
}

// ReloadPending reports whether a debounced reload is scheduled.
func (v *View[E]) ReloadPending() bool { return v.debouncer.Pending() }

// Touch rewrites one entity in place and restores the ordering, which
// moves it if its sort key changed. It reports whether id was present.
func (v *View[E]) Touch(id string, fn func(E) E) bool {
	v.mu.Lock()
	i := v.indexLocked(id)
	if i < 0 || v.disposed {
		v.mu.Unlock()
		return false
	}
	v.items[i] = fn(v.items[i])
	v.resortLocked()
	if v.store != nil {
		v.store.Upsert(v.items[v.indexLocked(id)])
	}
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.changed.Emit(snap)
	return true
}

// Dispose cancels the pending reload and detaches listeners. Later calls
// on the view are no-ops.
func (v *View[E]) Dispose() {
	v.debouncer.Close()
	v.mu.Lock()
	v.disposed = true
	v.gen++
	v.mu.Unlock()
	v.changed.Clear()
}

func (v *View[E]) Snapshot() Snapshot[E] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View[E]) Items() []E {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.items)
}

func (v *View[E]) Get(id string) (E, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexLocked(id); i >= 0 {
		return v.items[i], true
	}
	var zero E
	return zero, false
}

func (v *View[E]) Contains(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.ids[id]
	return ok
}

func (v *View[E]) Scope() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scope
}

func (v *View[E]) clearLocked() {
	v.items = nil
	v.ids = make(map[string]struct{})
	v.cursor = 0
	v.exhausted = false
	v.loadingMore = false
	v.events = make(map[string]lastEvent)
	v.inflight = make(map[string]struct{})
	v.arrivals = make(map[string]E)
}

// placePageLocked merges a newest-first page. Rows are placed by sort key,
// so an older page lands at the tail of a newest-first view and at the
// head of an oldest-first one, and rows that overlap a realtime insert
// still end up in order.
func (v *View[E]) placePageLocked(rows []E) {
	fresh := make([]E, 0, len(rows))
	for _, e := range rows {
		if ev, ok := v.events[e.EntityID()]; ok && ev.deleted {
			continue
		}
		fresh = append(fresh, e)
	}
	if v.cfg.Order == OldestFirst {
		slices.Reverse(fresh)
	}
	for _, e := range fresh {
		v.insertSortedLocked(e, false)
	}
}

// insertSortedLocked places e by sort key. Among equal timestamps it goes
// last, or first when atHead is set, so ties keep arrival order whichever
// end of the view an arrival is added at.
func (v *View[E]) insertSortedLocked(e E, atHead bool) {
	id := e.EntityID()
	if _, dup := v.ids[id]; dup {
		return
	}
	pos := len(v.items)
	for i, it := range v.items {
		ahead := v.cfg.Order.before(e.SortTime(), it.SortTime())
		if atHead {
			ahead = !v.cfg.Order.before(it.SortTime(), e.SortTime())
		}
		if ahead {
			pos = i
			break
		}
	}
	v.items = slices.Insert(v.items, pos, e)
	v.ids[id] = struct{}{}
	if v.store != nil {
		v.store.Upsert(e)
	}
}

// settleLocked forgets the last event for id once no fetch that started
// before it can still land. Tombstones are only needed until then.
func (v *View[E]) settleLocked(id string) {
	if v.loadingInitial || v.loadingMore {
		return
	}
	if _, fetching := v.inflight[id]; fetching {
		return
	}
	delete(v.events, id)
}

func (v *View[E]) settleAllLocked() {
	if v.loadingInitial || v.loadingMore {
		return
	}
	for id := range v.events {
		if _, fetching := v.inflight[id]; !fetching {
			delete(v.events, id)
		}
	}
}

func (v *View[E]) removeLocked(id string) bool {
	i := v.indexLocked(id)
	if i < 0 {
		return false
	}
	v.items = slices.Delete(v.items, i, i+1)
	delete(v.ids, id)
	if v.store != nil {
		v.store.Delete(id)
	}
	return true
}

func (v *View[E]) resortLocked() {
	slices.SortStableFunc(v.items, func(a, b E) int {
		switch {
		case v.cfg.Order.before(a.SortTime(), b.SortTime()):
			return -1
		case v.cfg.Order.before(b.SortTime(), a.SortTime()):
			return 1
		}
		return 0
	})
}

func (v *View[E]) indexLocked(id string) int {
	if _, ok := v.ids[id]; !ok {
		return -1
	}
	for i, e := range v.items {
		if e.EntityID() == id {
			return i
		}
	}
	return -1
}

func (v *View[E]) snapshotLocked() Snapshot[E] {
	return Snapshot[E]{
		Name:           v.cfg.Name,
		Scope:          v.scope,
		Items:          slices.Clone(v.items),
		Cursor:         v.cursor,
		Exhausted:      v.exhausted,
		LoadingInitial: v.loadingInitial,
		LoadingMore:    v.loadingMore,
		Generation:     v.gen,
	}
}
