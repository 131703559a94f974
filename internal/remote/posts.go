package remote

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/model"
)

// GlobalScope selects every post.
const GlobalScope = ""

// PostSource serves feed pages. A scope is an author uid, or GlobalScope.
type PostSource struct{ c *Client }

func (c *Client) PostSource() PostSource { return PostSource{c: c} }

var _ feed.Source[model.FeedPost] = PostSource{}

// FetchPage counts the rows read in Fetched even when posts by authors
// without a profile row are dropped, so a thinned page is not taken as the
// last one.
func (s PostSource) FetchPage(ctx context.Context, scope string, page, size int) (out feed.Page[model.FeedPost], err error) {
	ctx, span := s.c.span(ctx, "posts.FetchPage", attribute.String("scope", scope), attribute.Int("page", page))
	defer func() { endSpan(span, err) }()

	rows, err := s.c.Posts.ListPage(ctx, scope, page*size, size)
	if err != nil {
		return out, err
	}
	items, err := feed.JoinAuthors(ctx, rows,
		func(p *model.Post) string { return p.UserID },
		s.c.authors.Resolve,
		func(p *model.Post, a model.Profile) model.FeedPost { return model.FeedPost{Post: *p, Author: a} },
	)
	if err != nil {
		return out, err
	}
	if err := s.c.markViewerState(ctx, items); err != nil {
		return out, err
	}
	return feed.Page[model.FeedPost]{Items: items, Fetched: len(rows)}, nil
}

// FetchByID hydrates one post for a realtime insert. Viewer-relative state
// is left false; the view inherits it from peers.
func (s PostSource) FetchByID(ctx context.Context, id string) (out model.FeedPost, err error) {
	ctx, span := s.c.span(ctx, "posts.FetchByID", attribute.String("id", id))
	defer func() { endSpan(span, err) }()

	p, err := s.c.Posts.GetByID(ctx, id)
	if err != nil {
		return out, notFound(err)
	}
	author, err := s.c.resolveAuthor(ctx, p.UserID)
	if err != nil {
		return out, err
	}
	return model.FeedPost{Post: *p, Author: author}, nil
}

// markViewerState fills is_liked and is_following with one query each.
func (c *Client) markViewerState(ctx context.Context, posts []model.FeedPost) error {
	viewer := c.viewer.ViewerID()
	if viewer == "" || len(posts) == 0 {
		return nil
	}
	postIDs := make([]string, len(posts))
	authorIDs := make([]string, len(posts))
	for i, p := range posts {
		postIDs[i] = p.ID
		authorIDs[i] = p.UserID
	}
	liked, err := c.Likes.LikedAmong(ctx, viewer, postIDs)
	if err != nil {
		return err
	}
	followed, err := c.Follows.FollowedAmong(ctx, viewer, authorIDs)
	if err != nil {
		return err
	}
	for i := range posts {
		posts[i].Liked = liked[posts[i].ID]
		posts[i].FollowingAuthor = followed[posts[i].UserID]
	}
	return nil
}
