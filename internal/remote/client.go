// Package remote is the typed client the screens use to reach the backend:
// paged reads, point reads, writes and change subscriptions. Reads come
// back hydrated (rows joined with their authors) and carry viewer-relative
// state computed for the viewer at fetch time.
package remote

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/profilecache"
	"github.com/d60-Lab/feedsync/internal/realtime"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/internal/service"
)

const tracerName = "github.com/d60-Lab/feedsync/internal/remote"

// Viewer reports who is looking. An empty id means signed out.
type Viewer interface {
	ViewerID() string
}

// Deps are the backend pieces a Client is built from.
type Deps struct {
	Profiles  repository.ProfileRepository
	Posts     repository.PostRepository
	Likes     repository.LikeRepository
	Follows   repository.FollowRepository
	Chats     repository.ChatRepository
	Messages  repository.MessageRepository
	Cache     *profilecache.Cache
	Publisher *service.Publisher
	Relations service.RelationshipService
	Profile   *service.ProfileService
	Bus       *realtime.Bus
	Logger    *zap.Logger
}

type Client struct {
	Deps
	viewer  Viewer
	authors *feed.AuthorResolver[model.Profile]
	tracer  trace.Tracer
}

func New(d Deps, viewer Viewer) *Client {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	c := &Client{Deps: d, viewer: viewer, tracer: otel.Tracer(tracerName)}
	c.authors = feed.NewAuthorResolver[model.Profile](nil, c.FetchProfilesByIDs)
	return c
}

// Authors is the in-memory author cache in front of the profile cache.
func (c *Client) Authors() *feed.AuthorResolver[model.Profile] { return c.authors }

func (c *Client) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "remote."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, feed.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Client) requireViewer() (string, error) {
	uid := c.viewer.ViewerID()
	if uid == "" {
		return "", feed.ErrNotAuthenticated
	}
	return uid, nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return feed.ErrNotFound
	}
	return err
}

// FetchProfilesByIDs loads a deduplicated batch of profiles.
func (c *Client) FetchProfilesByIDs(ctx context.Context, uids []string) (out []model.Profile, err error) {
	ctx, span := c.span(ctx, "profiles.FetchByIDs", attribute.Int("count", len(uids)))
	defer func() { endSpan(span, err) }()
	return c.Cache.Load(ctx, uids)
}

// resolveAuthor hydrates one author for a point read. A failed lookup
// yields a placeholder; a missing row is a hydration gap.
func (c *Client) resolveAuthor(ctx context.Context, uid string) (model.Profile, error) {
	found, err := c.authors.Resolve(ctx, []string{uid})
	if err != nil {
		c.Logger.Warn("author lookup failed, using placeholder", zap.String("uid", uid), zap.Error(err))
		return model.UnknownProfile(uid), nil
	}
	p, ok := found[uid]
	if !ok {
		return model.Profile{}, fmt.Errorf("author %s: %w", uid, feed.ErrHydrationGap)
	}
	return p, nil
}

func (c *Client) SearchProfiles(ctx context.Context, prefix string, limit int) (out []model.Profile, err error) {
	ctx, span := c.span(ctx, "profiles.Search", attribute.String("prefix", prefix))
	defer func() { endSpan(span, err) }()
	rows, err := c.Profiles.SearchByUsernamePrefix(ctx, prefix, limit)
	if err != nil {
		return nil, err
	}
	out = make([]model.Profile, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}

func (c *Client) GetProfile(ctx context.Context, uid string) (p *model.Profile, err error) {
	ctx, span := c.span(ctx, "profiles.Get", attribute.String("uid", uid))
	defer func() { endSpan(span, err) }()
	p, err = c.Profiles.GetByUID(ctx, uid)
	return p, notFound(err)
}

func (c *Client) UpdateProfile(ctx context.Context, req service.UpdateProfileRequest) (p *model.Profile, err error) {
	uid, err := c.requireViewer()
	if err != nil {
		return nil, err
	}
	ctx, span := c.span(ctx, "profiles.Update", attribute.String("uid", uid))
	defer func() { endSpan(span, err) }()
	p, err = c.Profile.Update(ctx, uid, req)
	if err == nil {
		c.authors.Store().Upsert(*p)
	}
	return p, err
}

func (c *Client) InsertPost(ctx context.Context, content string, media []string) (p *model.Post, err error) {
	uid, err := c.requireViewer()
	if err != nil {
		return nil, err
	}
	ctx, span := c.span(ctx, "posts.Insert")
	defer func() { endSpan(span, err) }()
	return c.Publisher.CreatePost(ctx, uid, content, media)
}

func (c *Client) DeletePost(ctx context.Context, id string) (err error) {
	uid, err := c.requireViewer()
	if err != nil {
		return err
	}
	ctx, span := c.span(ctx, "posts.Delete", attribute.String("id", id))
	defer func() { endSpan(span, err) }()
	return notFound(c.Publisher.DeletePost(ctx, uid, id))
}

func (c *Client) InsertLike(ctx context.Context, postID string) (err error) {
	uid, err := c.requireViewer()
	if err != nil {
		return err
	}
	ctx, span := c.span(ctx, "likes.Insert", attribute.String("post", postID))
	defer func() { endSpan(span, err) }()
	return notFound(c.Publisher.Like(ctx, uid, postID))
}

func (c *Client) DeleteLike(ctx context.Context, postID string) (err error) {
	uid, err := c.requireViewer()
	if err != nil {
		return err
	}
	ctx, span := c.span(ctx, "likes.Delete", attribute.String("post", postID))
	defer func() { endSpan(span, err) }()
	return c.Publisher.Unlike(ctx, uid, postID)
}

func (c *Client) Follow(ctx context.Context, target string) (err error) {
	uid, err := c.requireViewer()
	if err != nil {
		return err
	}
	ctx, span := c.span(ctx, "follows.Insert", attribute.String("target", target))
	defer func() { endSpan(span, err) }()
	return c.Relations.Follow(ctx, uid, target)
}

func (c *Client) Unfollow(ctx context.Context, target string) (err error) {
	uid, err := c.requireViewer()
	if err != nil {
		return err
	}
	ctx, span := c.span(ctx, "follows.Delete", attribute.String("target", target))
	defer func() { endSpan(span, err) }()
	return c.Relations.Unfollow(ctx, uid, target)
}

func (c *Client) SendMessage(ctx context.Context, chatID, content string) (m *model.Message, err error) {
	uid, err := c.requireViewer()
	if err != nil {
		return nil, err
	}
	ctx, span := c.span(ctx, "messages.Insert", attribute.String("chat", chatID))
	defer func() { endSpan(span, err) }()
	return c.Publisher.SendMessage(ctx, chatID, uid, content)
}

// Handlers receive changes of a subscription. OnInsert and OnDelete see the
// subscribed table; OnOtherTableChange sees every other table listed.
type Handlers struct {
	OnInsert           func(realtime.Change)
	OnDelete           func(realtime.Change)
	OnOtherTableChange func(realtime.Change)
}

// Subscribe opens one subscription to table (narrowed to scope when set)
// plus the unscoped channels of others.
func (c *Client) Subscribe(ctx context.Context, table, scope string, others []string, h Handlers) (*realtime.Subscription, error) {
	topics := []realtime.Topic{{Table: table, Scope: scope}}
	for _, t := range others {
		topics = append(topics, realtime.Topic{Table: t})
	}
	return c.Bus.Subscribe(ctx, func(ch realtime.Change) {
		switch {
		case ch.Table != table:
			if h.OnOtherTableChange != nil {
				h.OnOtherTableChange(ch)
			}
		case ch.Op == model.OpInsert:
			if h.OnInsert != nil {
				h.OnInsert(ch)
			}
		case ch.Op == model.OpDelete:
			if h.OnDelete != nil {
				h.OnDelete(ch)
			}
		}
	}, topics...)
}
