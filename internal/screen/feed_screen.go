package screen

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/mention"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/realtime"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/service"
)

// sideTables change counts and viewer state without touching the post
// rows; any change there reloads the feed.
var sideTables = []string{"likes", "follows"}

// Draft is what the composer submits.
type Draft struct {
	Content   string   `validate:"required_without=MediaURLs,max=2000"`
	MediaURLs []string `validate:"omitempty,max=4,dive,url"`
}

// Published is a created post plus the confirmed mention targets.
type Published struct {
	Post     *model.Post
	Mentions []string
}

// FeedScreen is a post feed: global on the home screen, one author's
// posts on a profile screen.
type FeedScreen struct {
	d        Deps
	view     *feed.View[model.FeedPost]
	sub      subscriptionSlot
	likes    inflight
	follows  inflight
	handlers handlerContext
	validate *validator.Validate
	unwatch  func()
}

// NewHomeFeed builds the global feed. It follows viewer changes by
// reloading with the new viewer's state.
func NewHomeFeed(d Deps, store *feed.Store[model.FeedPost]) *FeedScreen {
	return newFeedScreen(d, "home", store)
}

// NewProfileFeed builds a feed scoped to one author, chosen with Open.
func NewProfileFeed(d Deps, store *feed.Store[model.FeedPost]) *FeedScreen {
	return newFeedScreen(d, "profile", store)
}

func newFeedScreen(d Deps, name string, store *feed.Store[model.FeedPost]) *FeedScreen {
	opts := []feed.Option[model.FeedPost]{feed.WithInheritance(sameAuthor, inheritFollow)}
	if store != nil {
		opts = append(opts, feed.WithStore(store))
	}
	s := &FeedScreen{
		d:        d,
		view:     feed.NewView[model.FeedPost](d.viewConfig(name, d.Feed.PageSize, feed.NewestFirst), d.Client.PostSource(), opts...),
		handlers: newHandlerContext(),
		validate: validator.New(),
	}
	s.unwatch = d.Session.OnViewerChange(func(string) {
		if err := s.view.Reload(s.handlers.ctx); err != nil {
			d.logger().Warn("reload after viewer change failed", zap.String("view", name), zap.Error(err))
		}
	})
	return s
}

func sameAuthor(a, b model.FeedPost) bool { return a.UserID == b.UserID }

// inheritFollow copies is_following from a post by the same author. Like
// state stays false: a freshly inserted post has no likes from the viewer.
func inheritFollow(in, peer model.FeedPost) model.FeedPost {
	in.FollowingAuthor = peer.FollowingAuthor
	return in
}

func (s *FeedScreen) View() *feed.View[model.FeedPost] { return s.view }

// Open subscribes to the scope's changes and loads its first page. scope is
// remote.GlobalScope for the home feed or an author uid.
func (s *FeedScreen) Open(ctx context.Context, scope string) error {
	v := s.view
	err := s.sub.Replace(func() (*realtime.Subscription, error) {
		return s.d.Client.Subscribe(ctx, "posts", scope, sideTables, remote.Handlers{
			OnInsert: func(c realtime.Change) { _ = v.ApplyRealtimeInsert(s.handlers.ctx, c.RowID) },
			OnDelete: func(c realtime.Change) { v.ApplyRealtimeDelete(c.RowID) },
			OnOtherTableChange: func(realtime.Change) {
				v.Invalidate()
			},
		})
	})
	if err != nil {
		return err
	}
	return v.ResetAndLoad(ctx, scope)
}

func (s *FeedScreen) LoadMore(ctx context.Context) error { return s.view.LoadMore(ctx) }

var likeMutation = feed.Mutation[model.FeedPost]{
	Apply: func(p model.FeedPost) model.FeedPost {
		if p.Liked {
			p.Liked = false
			if p.LikesCount > 0 {
				p.LikesCount--
			}
		} else {
			p.Liked = true
			p.LikesCount++
		}
		return p
	},
	Restore: func(cur, prior model.FeedPost) model.FeedPost {
		cur.Liked = prior.Liked
		cur.LikesCount = prior.LikesCount
		return cur
	},
}

// ToggleLike flips the like optimistically and writes it. The write
// direction comes from the state before the flip. A second toggle while
// one is in flight is rejected with feed.ErrMutationPending.
func (s *FeedScreen) ToggleLike(ctx context.Context, postID string) error {
	if s.d.Session.ViewerID() == "" {
		return feed.ErrNotAuthenticated
	}
	if !s.likes.acquire(postID) {
		return feed.ErrMutationPending
	}
	defer s.likes.release(postID)

	undo, err := s.view.ApplyOptimisticMutation(postID, likeMutation)
	if err != nil {
		return err
	}
	prior, _ := undo.Prior(postID)
	var writeErr error
	if prior.Liked {
		writeErr = s.d.Client.DeleteLike(ctx, postID)
	} else {
		writeErr = s.d.Client.InsertLike(ctx, postID)
	}
	if err := s.view.Resolve(undo, writeErr); err != nil {
		s.d.report(writeErr, "like", map[string]string{"post": postID, "view": s.view.Name()})
		return err
	}
	return nil
}

var followMutation = feed.Mutation[model.FeedPost]{
	Apply: func(p model.FeedPost) model.FeedPost { p.FollowingAuthor = !p.FollowingAuthor; return p },
	Restore: func(cur, prior model.FeedPost) model.FeedPost {
		cur.FollowingAuthor = prior.FollowingAuthor
		return cur
	},
}

// ToggleFollow flips is_following on every post by author and writes the
// follow. With no post by author in view there is nothing to flip, and the
// current relationship is read from the backend instead.
func (s *FeedScreen) ToggleFollow(ctx context.Context, author string) error {
	viewer := s.d.Session.ViewerID()
	if viewer == "" {
		return feed.ErrNotAuthenticated
	}
	if viewer == author {
		return service.ErrFollowSelf
	}
	if !s.follows.acquire(author) {
		return feed.ErrMutationPending
	}
	defer s.follows.release(author)

	undo, err := s.view.MutateWhere(func(p model.FeedPost) bool { return p.UserID == author }, followMutation)
	if errors.Is(err, feed.ErrNotFound) {
		following, err := s.d.Client.Relations.IsFollowing(ctx, viewer, author)
		if err != nil {
			return err
		}
		if following {
			return s.d.Client.Unfollow(ctx, author)
		}
		return s.d.Client.Follow(ctx, author)
	}
	if err != nil {
		return err
	}
	prior, _ := undo.Prior(undo.IDs()[0])
	var writeErr error
	if prior.FollowingAuthor {
		writeErr = s.d.Client.Unfollow(ctx, author)
	} else {
		writeErr = s.d.Client.Follow(ctx, author)
	}
	if err := s.view.Resolve(undo, writeErr); err != nil {
		s.d.report(writeErr, "follow", map[string]string{"author": author, "view": s.view.Name()})
		return err
	}
	return nil
}

// CreatePost validates and writes a post. The post shows up in the feed
// through the realtime insert, not locally.
func (s *FeedScreen) CreatePost(ctx context.Context, draft Draft, mentions *mention.Resolver) (*Published, error) {
	if s.d.Session.ViewerID() == "" {
		return nil, feed.ErrNotAuthenticated
	}
	if err := s.validate.Struct(draft); err != nil {
		return nil, err
	}
	post, err := s.d.Client.InsertPost(ctx, draft.Content, draft.MediaURLs)
	if err != nil {
		return nil, err
	}
	out := &Published{Post: post}
	if mentions != nil {
		out.Mentions = mentions.Targets(draft.Content)
		mentions.Reset()
	}
	return out, nil
}

// DeletePost removes one of the viewer's posts; the view drops it when the
// realtime delete arrives.
func (s *FeedScreen) DeletePost(ctx context.Context, postID string) error {
	if s.d.Session.ViewerID() == "" {
		return feed.ErrNotAuthenticated
	}
	return s.d.Client.DeletePost(ctx, postID)
}

// Close releases the subscription, the pending reload and the viewer hook.
func (s *FeedScreen) Close() {
	s.unwatch()
	s.handlers.cancel()
	s.sub.Release()
	s.view.Dispose()
}
