package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestView(src *fakeSource, pageSize int, opts ...Option[post]) *View[post] {
	return NewView[post](ViewConfig{Name: "test", PageSize: pageSize, Debounce: 20 * time.Millisecond}, src, opts...)
}

func TestLoadMoreShortPageExhausts(t *testing.T) {
	src := newFakeSource()
	src.pages["global"] = [][]post{{p("P1", 100), p("P2", 90)}, {p("P3", 80)}}
	v := newTestView(src, 2)
	ctx := context.Background()

	require.NoError(t, v.ResetAndLoad(ctx, "global"))
	snap := v.Snapshot()
	assert.Equal(t, []string{"P1", "P2"}, ids(snap.Items))
	assert.False(t, snap.Exhausted)

	require.NoError(t, v.LoadMore(ctx))
	snap = v.Snapshot()
	assert.Equal(t, []string{"P1", "P2", "P3"}, ids(snap.Items))
	assert.True(t, snap.Exhausted)
	assert.Equal(t, 1, snap.Cursor)

	before, _ := src.calls()
	require.NoError(t, v.LoadMore(ctx))
	require.NoError(t, v.LoadMore(ctx))
	after, _ := src.calls()
	assert.Equal(t, before, after, "exhausted view issues no fetch")
	assert.Equal(t, []string{"P1", "P2", "P3"}, ids(v.Items()))
}

func TestPageShortenedByHydrationIsNotLast(t *testing.T) {
	src := newFakeSource()
	src.pages["global"] = [][]post{{p("P1", 100)}, {p("P3", 80), p("P4", 70)}, {}}
	src.dropped["global:0"] = 1
	v := newTestView(src, 2)
	ctx := context.Background()

	require.NoError(t, v.ResetAndLoad(ctx, "global"))
	assert.False(t, v.Snapshot().Exhausted, "a full page with one dropped row still has more behind it")

	require.NoError(t, v.LoadMore(ctx))
	assert.Equal(t, []string{"P1", "P3", "P4"}, ids(v.Items()))
	assert.False(t, v.Snapshot().Exhausted)
	require.NoError(t, v.LoadMore(ctx))
	assert.True(t, v.Snapshot().Exhausted)
}

func TestSettledEventsAreForgotten(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("x", 10)}, {p("old", 5)}}
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("n%d", i)
		src.byID[id] = p(id, int64(20+i))
	}
	v := newTestView(src, 1)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "g"))

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("n%d", i)
		require.NoError(t, v.ApplyRealtimeInsert(ctx, id))
		require.NoError(t, v.ApplyRealtimeInsert(ctx, id))
		v.ApplyRealtimeDelete(id)
	}
	v.mu.Lock()
	assert.Empty(t, v.events)
	v.mu.Unlock()

	// a tombstone outlives the page fetch that started before it
	release := src.gate("page:g:1")
	done := make(chan error, 1)
	go func() { done <- v.LoadMore(ctx) }()
	<-src.started
	v.ApplyRealtimeDelete("old")
	v.mu.Lock()
	assert.Len(t, v.events, 1)
	v.mu.Unlock()
	close(release)
	require.NoError(t, <-done)
	assert.False(t, v.Contains("old"))
	v.mu.Lock()
	assert.Empty(t, v.events)
	v.mu.Unlock()
}

func TestRealtimeInsertOfPresentIDSkipsFetch(t *testing.T) {
	src := newFakeSource()
	src.pages["global"] = [][]post{{p("P4", 100), p("P2", 90)}}
	v := newTestView(src, 5)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "global"))

	require.NoError(t, v.ApplyRealtimeInsert(ctx, "P4"))
	_, byID := src.calls()
	assert.Zero(t, byID)
	assert.Equal(t, []string{"P4", "P2"}, ids(v.Items()))
}

func TestStaleResetIsDiscarded(t *testing.T) {
	src := newFakeSource()
	src.pages["A"] = [][]post{{p("a1", 10)}}
	src.pages["B"] = [][]post{{p("b1", 20), p("b2", 15)}}
	release := src.gate("page:A:0")
	v := newTestView(src, 10)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- v.ResetAndLoad(ctx, "A") }()
	require.Equal(t, "page:A:0", <-src.started)

	require.NoError(t, v.ResetAndLoad(ctx, "B"))
	close(release)
	require.NoError(t, <-done)

	snap := v.Snapshot()
	assert.Equal(t, "B", snap.Scope)
	assert.Equal(t, []string{"b1", "b2"}, ids(snap.Items))
	assert.False(t, snap.LoadingInitial)
}

func TestLoadMoreDiscardedAfterReset(t *testing.T) {
	src := newFakeSource()
	src.pages["A"] = [][]post{{p("a1", 10)}, {p("a2", 5)}}
	src.pages["B"] = [][]post{{p("b1", 20)}}
	v := newTestView(src, 1)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "A"))

	release := src.gate("page:A:1")
	done := make(chan error, 1)
	go func() { done <- v.LoadMore(ctx) }()
	<-src.started
	require.NoError(t, v.ResetAndLoad(ctx, "B"))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"b1"}, ids(v.Items()))
	assert.Equal(t, 0, v.Snapshot().Cursor)
}

func TestLoadMoreAtMostOneInFlight(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("a", 10)}, {p("b", 5)}}
	v := newTestView(src, 1)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "g"))

	release := src.gate("page:g:1")
	done := make(chan error, 1)
	go func() { done <- v.LoadMore(ctx) }()
	<-src.started
	before, _ := src.calls()
	require.NoError(t, v.LoadMore(ctx))
	after, _ := src.calls()
	assert.Equal(t, before, after)
	assert.True(t, v.Snapshot().LoadingMore)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"a", "b"}, ids(v.Items()))
}

func TestRealtimeApplyIsIdempotent(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("old", 10)}}
	src.byID["new"] = p("new", 20)
	v := newTestView(src, 10)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "g"))

	require.NoError(t, v.ApplyRealtimeInsert(ctx, "new"))
	once := v.Items()
	require.NoError(t, v.ApplyRealtimeInsert(ctx, "new"))
	assert.Equal(t, once, v.Items())
	assert.Equal(t, []string{"new", "old"}, ids(once))

	v.ApplyRealtimeDelete("new")
	once = v.Items()
	v.ApplyRealtimeDelete("new")
	assert.Equal(t, once, v.Items())
	assert.Equal(t, []string{"old"}, ids(once))
}

func TestInsertDeleteConvergeToLastEvent(t *testing.T) {
	ctx := context.Background()
	setup := func(t *testing.T) (*fakeSource, *View[post]) {
		src := newFakeSource()
		src.pages["g"] = [][]post{{p("x", 10)}}
		src.byID["n"] = p("n", 20)
		v := newTestView(src, 10)
		require.NoError(t, v.ResetAndLoad(ctx, "g"))
		return src, v
	}

	t.Run("delete then insert", func(t *testing.T) {
		_, v := setup(t)
		v.ApplyRealtimeDelete("n")
		require.NoError(t, v.ApplyRealtimeInsert(ctx, "n"))
		assert.True(t, v.Contains("n"))
	})

	t.Run("insert then delete", func(t *testing.T) {
		_, v := setup(t)
		require.NoError(t, v.ApplyRealtimeInsert(ctx, "n"))
		v.ApplyRealtimeDelete("n")
		assert.False(t, v.Contains("n"))
	})

	t.Run("delete overtakes insert hydration", func(t *testing.T) {
		src, v := setup(t)
		release := src.gate("id:n")
		done := make(chan error, 1)
		go func() { done <- v.ApplyRealtimeInsert(ctx, "n") }()
		<-src.started
		v.ApplyRealtimeDelete("n")
		close(release)
		require.NoError(t, <-done)
		assert.False(t, v.Contains("n"))
		assert.Equal(t, []string{"x"}, ids(v.Items()))
	})
}

func TestRealtimeInsertDropsUnhydratable(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("x", 10)}}
	src.byIDErr["gap"] = ErrHydrationGap
	src.byIDErr["down"] = errors.New("connection reset")
	v := newTestView(src, 10)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "g"))

	assert.NoError(t, v.ApplyRealtimeInsert(ctx, "missing"))
	assert.NoError(t, v.ApplyRealtimeInsert(ctx, "gap"))
	assert.ErrorIs(t, v.ApplyRealtimeInsert(ctx, "down"), ErrRemoteFetch)
	assert.Equal(t, []string{"x"}, ids(v.Items()))
}

func TestRealtimeInsertInheritsViewerState(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{
		{id: "p1", at: 10, author: "bob", following: true, liked: true},
		{id: "p2", at: 5, author: "carol"},
	}}
	src.byID["p3"] = post{id: "p3", at: 20, author: "bob"}
	src.byID["p4"] = post{id: "p4", at: 30, author: "dave"}
	v := newTestView(src, 10, WithInheritance(
		func(a, b post) bool { return a.author == b.author },
		func(in, peer post) post { in.following = peer.following; return in },
	))
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "g"))

	require.NoError(t, v.ApplyRealtimeInsert(ctx, "p3"))
	require.NoError(t, v.ApplyRealtimeInsert(ctx, "p4"))
	p3, ok := v.Get("p3")
	require.True(t, ok)
	assert.True(t, p3.following)
	assert.False(t, p3.liked, "like state is never inherited")
	p4, _ := v.Get("p4")
	assert.False(t, p4.following)
	assert.Equal(t, []string{"p4", "p3", "p1", "p2"}, ids(v.Items()))
}

func TestRealtimeInsertDuringInitialLoadIsKept(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("p1", 10)}}
	src.byID["p2"] = p("p2", 20)
	release := src.gate("page:g:0")
	v := newTestView(src, 10)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- v.ResetAndLoad(ctx, "g") }()
	<-src.started
	require.NoError(t, v.ApplyRealtimeInsert(ctx, "p2"))
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"p2", "p1"}, ids(v.Items()))
}

func TestFetchFailureLeavesCursor(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("a", 10)}, {p("b", 5)}}
	v := newTestView(src, 1)
	ctx := context.Background()

	src.pageErr = errors.New("timeout")
	err := v.ResetAndLoad(ctx, "g")
	assert.ErrorIs(t, err, ErrRemoteFetch)
	snap := v.Snapshot()
	assert.Empty(t, snap.Items)
	assert.False(t, snap.Exhausted)
	assert.False(t, snap.LoadingInitial)

	src.pageErr = nil
	require.NoError(t, v.ResetAndLoad(ctx, "g"))
	src.pageErr = errors.New("timeout")
	assert.ErrorIs(t, v.LoadMore(ctx), ErrRemoteFetch)
	snap = v.Snapshot()
	assert.Equal(t, 0, snap.Cursor)
	assert.False(t, snap.Exhausted)
	assert.False(t, snap.LoadingMore)

	src.pageErr = nil
	require.NoError(t, v.LoadMore(ctx))
	assert.Equal(t, []string{"a", "b"}, ids(v.Items()))
}

func TestOldestFirstExtendsAtHead(t *testing.T) {
	src := newFakeSource()
	src.pages["chat"] = [][]post{{p("m4", 40), p("m3", 30)}, {p("m2", 20), p("m1", 10)}, {}}
	src.byID["m5"] = p("m5", 50)
	v := NewView[post](ViewConfig{Name: "thread", PageSize: 2, Order: OldestFirst}, src)
	ctx := context.Background()

	require.NoError(t, v.ResetAndLoad(ctx, "chat"))
	assert.Equal(t, []string{"m3", "m4"}, ids(v.Items()))
	require.NoError(t, v.LoadMore(ctx))
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(v.Items()))
	require.NoError(t, v.ApplyRealtimeInsert(ctx, "m5"))
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, ids(v.Items()))
}

func TestEqualTimestampsKeepArrivalOrder(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("first", 10), p("second", 10)}, {p("third", 10)}}
	src.byID["live"] = p("live", 10)
	src.byID["later"] = p("later", 10)
	v := newTestView(src, 2)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "g"))
	require.NoError(t, v.LoadMore(ctx))
	assert.Equal(t, []string{"first", "second", "third"}, ids(v.Items()), "pages extend the tail")

	require.NoError(t, v.ApplyRealtimeInsert(ctx, "live"))
	require.NoError(t, v.ApplyRealtimeInsert(ctx, "later"))
	assert.Equal(t, []string{"later", "live", "first", "second", "third"}, ids(v.Items()), "realtime rows prepend")
}

func TestOldestFirstRealtimeTieAppends(t *testing.T) {
	src := newFakeSource()
	src.pages["chat"] = [][]post{{p("m2", 10), p("m1", 10)}}
	src.byID["m3"] = p("m3", 10)
	v := NewView[post](ViewConfig{Name: "thread", PageSize: 10, Order: OldestFirst}, src)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "chat"))
	require.NoError(t, v.ApplyRealtimeInsert(ctx, "m3"))
	assert.Equal(t, "m3", ids(v.Items())[2])
}

func TestUniquenessUnderRandomOps(t *testing.T) {
	const pageSize = 3
	src := newFakeSource()
	var all []post
	for i := 0; i < 20; i++ {
		e := p(fmt.Sprintf("p%02d", i), int64(100-i))
		all = append(all, e)
		src.byID[e.id] = e
	}
	// overlapping pages mimic offsets shifting under realtime inserts
	for i := 0; i < len(all); i += pageSize - 1 {
		end := i + pageSize
		if end > len(all) {
			end = len(all)
		}
		src.pages["g"] = append(src.pages["g"], all[i:end])
	}
	v := newTestView(src, pageSize)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "g"))

	rng := rand.New(rand.NewSource(42))
	for step := 0; step < 500; step++ {
		id := all[rng.Intn(len(all))].id
		switch rng.Intn(3) {
		case 0:
			_ = v.LoadMore(ctx)
		case 1:
			_ = v.ApplyRealtimeInsert(ctx, id)
		case 2:
			v.ApplyRealtimeDelete(id)
		}
		items := v.Items()
		seen := map[string]bool{}
		for _, it := range items {
			require.False(t, seen[it.id], "duplicate %s at step %d", it.id, step)
			seen[it.id] = true
		}
		require.True(t, sort.SliceIsSorted(items, func(i, j int) bool { return items[i].at > items[j].at }), "unsorted at step %d", step)
	}
}

func TestOptimisticRollbackRestoresPriorValues(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{{id: "p1", at: 10, author: "a", likes: 3}}}
	v := newTestView(src, 10)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "g"))

	like := Mutation[post]{
		Apply: func(e post) post { e.liked = !e.liked; e.likes++; return e },
		Restore: func(cur, prior post) post {
			cur.liked, cur.likes = prior.liked, prior.likes
			return cur
		},
	}
	u, err := v.ApplyOptimisticMutation("p1", like)
	require.NoError(t, err)
	got, _ := v.Get("p1")
	assert.True(t, got.liked)
	assert.Equal(t, 4, got.likes)
	prior, ok := u.Prior("p1")
	require.True(t, ok)
	assert.False(t, prior.liked)

	err = v.Resolve(u, errors.New("constraint violation"))
	assert.ErrorIs(t, err, ErrRemoteWrite)
	assert.Equal(t, RolledBack, u.State())
	got, _ = v.Get("p1")
	assert.False(t, got.liked)
	assert.Equal(t, 3, got.likes)

	u, err = v.ApplyOptimisticMutation("p1", like)
	require.NoError(t, err)
	require.NoError(t, v.Resolve(u, nil))
	assert.Equal(t, Committed, u.State())
	got, _ = v.Get("p1")
	assert.True(t, got.liked)
	assert.Equal(t, 4, got.likes)
}

func TestRollbackKeepsOtherOverlays(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{
		{id: "p1", at: 10, author: "bob"},
		{id: "p2", at: 5, author: "bob"},
	}}
	v := newTestView(src, 10)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "g"))

	follow, err := v.MutateWhere(func(e post) bool { return e.author == "bob" }, Mutation[post]{
		Apply:   func(e post) post { e.following = true; return e },
		Restore: func(cur, prior post) post { cur.following = prior.following; return cur },
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, follow.IDs())

	like, err := v.ApplyOptimisticMutation("p1", Mutation[post]{
		Apply:   func(e post) post { e.liked = true; return e },
		Restore: func(cur, prior post) post { cur.liked = prior.liked; return cur },
	})
	require.NoError(t, err)

	require.Error(t, v.Resolve(follow, errors.New("boom")))
	require.NoError(t, v.Resolve(like, nil))
	p1, _ := v.Get("p1")
	assert.False(t, p1.following)
	assert.True(t, p1.liked)
}

func TestRollbackAfterResetIsIgnored(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{{id: "p1", at: 10, likes: 1}}}
	v := newTestView(src, 10)
	ctx := context.Background()
	require.NoError(t, v.ResetAndLoad(ctx, "g"))
	u, err := v.ApplyOptimisticMutation("p1", Mutation[post]{Apply: func(e post) post { e.likes = 99; return e }})
	require.NoError(t, err)

	src.pages["g"] = [][]post{{{id: "p1", at: 10, likes: 7}}}
	require.NoError(t, v.Reload(ctx))
	assert.ErrorIs(t, v.Resolve(u, errors.New("late failure")), ErrRemoteWrite)
	got, _ := v.Get("p1")
	assert.Equal(t, 7, got.likes, "server state after reset wins over a stale undo")
}

func TestMutationOfAbsentEntity(t *testing.T) {
	v := newTestView(newFakeSource(), 10)
	_, err := v.ApplyOptimisticMutation("nope", Mutation[post]{Apply: func(e post) post { return e }})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidateCoalesces(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("a", 1)}}
	v := newTestView(src, 10)
	require.NoError(t, v.ResetAndLoad(context.Background(), "g"))

	for i := 0; i < 5; i++ {
		v.Invalidate()
	}
	assert.True(t, v.ReloadPending())
	require.Eventually(t, func() bool {
		n, _ := src.calls()
		return n == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	n, _ := src.calls()
	assert.Equal(t, 2, n)
}

func TestDisposeCancelsReload(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("a", 1)}}
	v := newTestView(src, 10)
	require.NoError(t, v.ResetAndLoad(context.Background(), "g"))
	calls := 0
	v.OnChange(func(Snapshot[post]) { calls++ })

	v.Invalidate()
	v.Dispose()
	assert.False(t, v.ReloadPending())
	time.Sleep(60 * time.Millisecond)
	n, _ := src.calls()
	assert.Equal(t, 1, n)
	assert.Zero(t, calls)
	require.NoError(t, v.ApplyRealtimeInsert(context.Background(), "a"))
	_, byID := src.calls()
	assert.Zero(t, byID)
}

func TestTouchResorts(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("c1", 30), p("c2", 20), p("c3", 10)}}
	v := newTestView(src, 10)
	require.NoError(t, v.ResetAndLoad(context.Background(), "g"))

	assert.True(t, v.Touch("c3", func(e post) post { e.at = 40; return e }))
	assert.Equal(t, []string{"c3", "c1", "c2"}, ids(v.Items()))
	assert.False(t, v.Touch("zz", func(e post) post { return e }))
}

func TestStoreWriteThrough(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("a", 2), p("b", 1)}}
	store := NewStore[post]()
	v := newTestView(src, 10, WithStore(store))
	require.NoError(t, v.ResetAndLoad(context.Background(), "g"))
	assert.Equal(t, 2, store.Len())
	v.ApplyRealtimeDelete("a")
	_, ok := store.Get("a")
	assert.False(t, ok)
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	src := newFakeSource()
	src.pages["g"] = [][]post{{p("a", 2)}}
	v := newTestView(src, 10)
	var snaps []Snapshot[post]
	cancel := v.OnChange(func(s Snapshot[post]) { snaps = append(snaps, s) })
	require.NoError(t, v.ResetAndLoad(context.Background(), "g"))
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].LoadingInitial)
	assert.Equal(t, []string{"a"}, ids(snaps[1].Items))

	cancel()
	v.ApplyRealtimeDelete("a")
	assert.Len(t, snaps, 2)
}
