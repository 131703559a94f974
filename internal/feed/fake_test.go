package feed

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type post struct {
	id        string
	at        int64
	author    string
	liked     bool
	likes     int
	following bool
}

func (p post) EntityID() string    { return p.id }
func (p post) SortTime() time.Time { return time.Unix(p.at, 0) }

func p(id string, at int64) post { return post{id: id, at: at, author: "a"} }

// fakeSource serves scripted pages. A gate blocks the matching call until
// it is closed; started fires when a gated call begins waiting.
type fakeSource struct {
	mu        sync.Mutex
	pages     map[string][][]post
	byID      map[string]post
	byIDErr   map[string]error
	pageErr   error
	dropped   map[string]int // "scope:page" -> rows hydration dropped
	gates     map[string]chan struct{}
	started   chan string
	pageCalls int
	byIDCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages:   make(map[string][][]post),
		byID:    make(map[string]post),
		byIDErr: make(map[string]error),
		dropped: make(map[string]int),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (s *fakeSource) gate(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[key] = ch
	return ch
}

func (s *fakeSource) wait(ctx context.Context, key string) {
	s.mu.Lock()
	ch := s.gates[key]
	s.mu.Unlock()
	if ch == nil {
		return
	}
	s.started <- key
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (s *fakeSource) FetchPage(ctx context.Context, scope string, page, size int) (Page[post], error) {
	s.mu.Lock()
	s.pageCalls++
	s.mu.Unlock()
	s.wait(ctx, fmt.Sprintf("page:%s:%d", scope, page))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pageErr != nil {
		return Page[post]{}, s.pageErr
	}
	pages := s.pages[scope]
	if page >= len(pages) {
		return Page[post]{}, nil
	}
	items := append([]post(nil), pages[page]...)
	return Page[post]{Items: items, Fetched: len(items) + s.dropped[fmt.Sprintf("%s:%d", scope, page)]}, nil
}

func (s *fakeSource) FetchByID(ctx context.Context, id string) (post, error) {
	s.mu.Lock()
	s.byIDCalls++
	s.mu.Unlock()
	s.wait(ctx, "id:"+id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.byIDErr[id]; err != nil {
		return post{}, err
	}
	e, ok := s.byID[id]
	if !ok {
		return post{}, ErrNotFound
	}
	return e, nil
}

func (s *fakeSource) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCalls, s.byIDCalls
}

func ids(items []post) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}
