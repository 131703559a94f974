// Package screen wires views, subscriptions and optimistic writes into the
// four client screens: home feed, profile feed, chat list and chat thread.
package screen

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/realtime"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/session"
)

// FailureReporter receives writes that had to be rolled back.
type FailureReporter func(err error, op string, tags map[string]string)

// Deps are shared by every screen of one client session.
type Deps struct {
	Client  *remote.Client
	Session *session.Session
	Feed    config.FeedConfig
	Logger  *zap.Logger
	Report  FailureReporter
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d Deps) report(err error, op string, tags map[string]string) {
	if d.Report != nil {
		d.Report(err, op, tags)
	}
}

func (d Deps) viewConfig(name string, pageSize int, order feed.Order) feed.ViewConfig {
	return feed.ViewConfig{
		Name:     name,
		PageSize: pageSize,
		Order:    order,
		Debounce: d.Feed.ReloadDebounce,
		Logger:   d.logger(),
	}
}

// subscriptionSlot owns at most one subscription. Replace closes the old
// one before opening the next, on every path.
type subscriptionSlot struct {
	mu  sync.Mutex
	sub *realtime.Subscription
}

func (s *subscriptionSlot) Replace(open func() (*realtime.Subscription, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	if open == nil {
		return nil
	}
	sub, err := open()
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *subscriptionSlot) Release() {
	s.mu.Lock()
	s.releaseLocked()
	s.mu.Unlock()
}

func (s *subscriptionSlot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

func (s *subscriptionSlot) releaseLocked() {
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
}

// inflight guards a key against overlapping writes.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (f *inflight) acquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = make(map[string]struct{})
	}
	if _, busy := f.keys[key]; busy {
		return false
	}
	f.keys[key] = struct{}{}
	return true
}

func (f *inflight) release(key string) {
	f.mu.Lock()
	delete(f.keys, key)
	f.mu.Unlock()
}

// handlerContext is the context realtime handlers run under; it ends when
// the screen closes.
type handlerContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newHandlerContext() handlerContext {
	ctx, cancel := context.WithCancel(context.Background())
	return handlerContext{ctx: ctx, cancel: cancel}
}

// BindCaches registers every client-side cache with the session so a
// viewer change starts from empty caches.
func BindCaches(d Deps, stores ...interface{ Clear() }) {
	d.Session.RegisterCache(d.Client.Authors().Store().Clear)
	for _, s := range stores {
		d.Session.RegisterCache(s.Clear)
	}
}
