package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/app"
	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/session"
	"github.com/d60-Lab/feedsync/pkg/database"
	"github.com/d60-Lab/feedsync/pkg/logger"
	"github.com/d60-Lab/feedsync/pkg/monitor"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// landing pairs, per viewer, when a row was written with when it first
// showed up. Either side may be recorded first.
type landing struct {
	mu      sync.Mutex
	sent    map[string]time.Time
	landed  map[string]time.Time
	samples []time.Duration
}

func newLanding() *landing {
	return &landing{sent: map[string]time.Time{}, landed: map[string]time.Time{}}
}

func (l *landing) expect(key string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.sent[key]; dup {
		return
	}
	l.sent[key] = at
	if seen, ok := l.landed[key]; ok {
		l.samples = append(l.samples, seen.Sub(at))
	}
}

func (l *landing) observe(key string) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.landed[key]; dup {
		return
	}
	l.landed[key] = now
	if st, ok := l.sent[key]; ok {
		l.samples = append(l.samples, now.Sub(st))
	}
}

func (l *landing) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	mustDo(logger.Init(cfg.Log.Level, cfg.Log.Development))
	flush := must(monitor.Init(cfg.Sentry))
	defer flush()

	db := must(database.InitDB(cfg))
	mustDo(database.Migrate(db))
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	// params
	VIEWERS := envInt("VIEWERS", 8) // signed-in clients watching the home feed
	POSTS := envInt("POSTS", 50)    // posts published by the author
	SEED := envInt("SEED", 200)     // older posts already in the table
	MESSAGES := envInt("MESSAGES", 20)

	backend := app.NewBackend(cfg, db, rdb, logger.L())
	stop := backend.Start()
	defer func() { _ = stop(context.Background()) }()

	// seed the author and a backlog of posts
	author := "author-" + uuid.NewString()[:8]
	mustDo(db.Create(&model.Profile{ID: uuid.NewString(), UID: author, Username: author, DisplayName: "Author"}).Error)
	backlog := make([]model.Post, SEED)
	base := time.Now().Add(-time.Hour)
	for i := range backlog {
		backlog[i] = model.Post{ID: uuid.NewString(), UserID: author, Content: fmt.Sprintf("old %d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)}
	}
	mustDo(db.CreateInBatches(&backlog, 500).Error)

	// viewers: sign in, follow the author, open the home feed
	home := newLanding()
	clients := make([]*app.Client, VIEWERS)
	uids := make([]string, VIEWERS)
	for i := range clients {
		c := backend.NewClient(monitor.CaptureWriteFailure)
		defer c.Close()
		uids[i] = fmt.Sprintf("viewer-%d-%s", i, uuid.NewString()[:6])
		token := must(session.IssueToken(cfg.Auth.JWTSecret, uids[i], uids[i]+"@example.com", uids[i], time.Hour))
		must(c.Session.SignIn(ctx, token))
		mustDo(c.Remote.Follow(ctx, author))
		viewer := uids[i]
		c.Home.View().OnChange(func(s feed.Snapshot[model.FeedPost]) {
			for _, p := range s.Items {
				home.observe(viewer + "/" + p.ID)
			}
		})
		mustDo(c.Home.Open(ctx, remote.GlobalScope))
		clients[i] = c
	}

	// publish
	pubDurations := make([]time.Duration, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		p := must(backend.Publisher.CreatePost(ctx, author, fmt.Sprintf("hello %d @%s", i, uids[0]), nil))
		pubDurations = append(pubDurations, time.Since(st))
		for _, uid := range uids {
			home.expect(uid+"/"+p.ID, st)
		}
	}

	// chat: every viewer with the author; the author writes, lists bump
	chats := newLanding()
	for i, c := range clients {
		chatID := "dm-" + uids[i]
		mustDo(backend.CreateChat(ctx, &model.Chat{ID: uuid.NewString(), ChatID: chatID}, []string{uids[i], author}))
		viewer := uids[i]
		c.Chats.List().OnChange(func(s feed.Snapshot[model.ChatSummary]) {
			if len(s.Items) > 0 && s.Items[0].LastMessage != nil {
				chats.observe(viewer + "/" + *s.Items[0].LastMessage)
			}
		})
		mustDo(c.Chats.Open(ctx))
		mustDo(c.Chats.Select(ctx, chatID))
	}
	for i := 0; i < MESSAGES; i++ {
		for j := range clients {
			content := fmt.Sprintf("ping %d", i)
			chats.expect(uids[j]+"/"+content, time.Now())
			must(backend.Publisher.SendMessage(ctx, "dm-"+uids[j], author, content))
		}
	}

	// collect
	relayLand := make([]time.Duration, 0, POSTS)
	timeout := time.After(2 * time.Minute)
	wantFeed, wantChat := POSTS*VIEWERS, MESSAGES*VIEWERS
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for home.count() < wantFeed || chats.count() < wantChat {
		select {
		case d := <-backend.Relay.Metrics():
			relayLand = append(relayLand, d)
		case <-tick.C:
		case <-timeout:
			fmt.Printf("timeout: feed=%d/%d chat=%d/%d\n", home.count(), wantFeed, chats.count(), wantChat)
			goto PRINT
		}
	}

PRINT:
	fmt.Printf("VIEWERS=%d POSTS=%d SEED=%d MESSAGES=%d\n", VIEWERS, POSTS, SEED, MESSAGES)
	fmt.Printf("Publish tx latency: avg=%v p95=%v p99=%v\n", avg(pubDurations), pct(pubDurations, 0.95), pct(pubDurations, 0.99))
	fmt.Printf("Relay landing (outbox->bus): samples=%d avg=%v p95=%v p99=%v\n", len(relayLand), avg(relayLand), pct(relayLand, 0.95), pct(relayLand, 0.99))
	fmt.Printf("Home feed landing (write->view): samples=%d avg=%v p95=%v p99=%v\n", len(home.samples), avg(home.samples), pct(home.samples, 0.95), pct(home.samples, 0.99))
	fmt.Printf("Chat bump landing (write->list top): samples=%d avg=%v p95=%v p99=%v\n", len(chats.samples), avg(chats.samples), pct(chats.samples, 0.95), pct(chats.samples, 0.99))

	// first page read for one viewer, viewer state included
	st := time.Now()
	page := must(clients[0].Remote.PostSource().FetchPage(ctx, remote.GlobalScope, 0, cfg.Feed.PageSize))
	fmt.Printf("Home page read (viewer0, limit=%d): %v, rows=%d\n", cfg.Feed.PageSize, time.Since(st), len(page.Items))
	fmt.Printf("Profile cache: %+v\n", backend.Cache.Counters())
}
