// Package app assembles the backend stand-in and client sessions on top of
// it. Both commands share this wiring.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/mention"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/profilecache"
	"github.com/d60-Lab/feedsync/internal/realtime"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/internal/screen"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/internal/session"
)

// Backend is everything shared by all clients: rows, outbox relay,
// counters and the realtime bus.
type Backend struct {
	cfg *config.Config
	log *zap.Logger

	DB         *gorm.DB
	Redis      *redis.Client
	Bus        *realtime.Bus
	Cache      *profilecache.Cache
	Publisher  *service.Publisher
	Relations  service.RelationshipService
	Profiles   *service.ProfileService
	Relay      *service.OutboxRelay
	Replicator *service.CounterReplicator
	repos      remote.Deps
}

func NewBackend(cfg *config.Config, db *gorm.DB, rdb *redis.Client, log *zap.Logger) *Backend {
	profiles := repository.NewProfileRepository(db)
	follows := repository.NewFollowRepository(db)
	posts := repository.NewPostRepository(db)
	cache := profilecache.New(profiles, rdb, cfg.ProfileCache.TTL, log)
	replicator := service.NewCounterReplicator(profiles, follows, posts, 0)
	pub := service.NewPublisher(db, replicator)
	bus := realtime.NewBus(rdb, cfg.Feed.ChannelPrefix, log)
	relations := service.NewRelationshipService(follows, pub)
	profileSvc := service.NewProfileService(profiles, cache)
	b := &Backend{
		cfg:        cfg,
		log:        log,
		DB:         db,
		Redis:      rdb,
		Bus:        bus,
		Cache:      cache,
		Publisher:  pub,
		Relations:  relations,
		Profiles:   profileSvc,
		Replicator: replicator,
		Relay: service.NewOutboxRelay(repository.NewOutboxRepository(db), bus,
			cfg.Relay.Workers, cfg.Relay.ClaimLimit, cfg.Relay.PollInterval, cfg.Relay.RatePerSecond),
	}
	b.repos = remote.Deps{
		Profiles:  profiles,
		Posts:     posts,
		Likes:     repository.NewLikeRepository(db),
		Follows:   follows,
		Chats:     repository.NewChatRepository(db),
		Messages:  repository.NewMessageRepository(db),
		Cache:     cache,
		Publisher: pub,
		Relations: relations,
		Profile:   profileSvc,
		Bus:       bus,
		Logger:    log,
	}
	return b
}

// Start runs the relay and counter workers. The returned func stops both,
// draining queued recounts first.
func (b *Backend) Start() func(context.Context) error {
	stopRelay := b.Relay.Start()
	stopCounters := b.Replicator.Start(2)
	return func(ctx context.Context) error {
		relayErr := stopRelay(ctx)
		if err := stopCounters(ctx); err != nil {
			return err
		}
		return relayErr
	}
}

// CreateChat creates a chat with its participants.
func (b *Backend) CreateChat(ctx context.Context, chat *model.Chat, members []string) error {
	if err := b.repos.Chats.Create(ctx, chat, members); err != nil {
		return fmt.Errorf("create chat %s: %w", chat.ChatID, err)
	}
	return nil
}

// Client is one signed-in device: a session, its remote client and the
// four screens.
type Client struct {
	Session  *session.Session
	Remote   *remote.Client
	Home     *screen.FeedScreen
	Profile  *screen.FeedScreen
	Chats    *screen.ChatScreen
	Mentions *mention.Resolver
	Posts    *feed.Store[model.FeedPost]
}

// NewClient builds a client session. report receives rolled-back writes.
func (b *Backend) NewClient(report screen.FailureReporter) *Client {
	sess := session.New(b.cfg.Auth.JWTSecret, b.Profiles)
	rc := remote.New(b.repos, sess)
	d := screen.Deps{
		Client:  rc,
		Session: sess,
		Feed:    b.cfg.Feed,
		Logger:  b.log,
		Report:  report,
	}
	store := feed.NewStore[model.FeedPost]()
	screen.BindCaches(d, store)
	return &Client{
		Session:  sess,
		Remote:   rc,
		Home:     screen.NewHomeFeed(d, store),
		Profile:  screen.NewProfileFeed(d, store),
		Chats:    screen.NewChatScreen(d),
		Mentions: mention.NewResolver(rc),
		Posts:    store,
	}
}

func (c *Client) Close() {
	c.Home.Close()
	c.Profile.Close()
	c.Chats.Close()
}
