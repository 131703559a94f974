package remote

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/model"
)

// MessageSource serves thread pages; the scope is a chat id.
type MessageSource struct{ c *Client }

func (c *Client) MessageSource() MessageSource { return MessageSource{c: c} }

var _ feed.Source[model.ThreadMessage] = MessageSource{}

func (s MessageSource) FetchPage(ctx context.Context, chatID string, page, size int) (out feed.Page[model.ThreadMessage], err error) {
	ctx, span := s.c.span(ctx, "messages.FetchPage", attribute.String("chat", chatID), attribute.Int("page", page))
	defer func() { endSpan(span, err) }()

	rows, err := s.c.Messages.ListPage(ctx, chatID, page*size, size)
	if err != nil {
		return out, err
	}
	items, err := feed.JoinAuthors(ctx, rows,
		func(m *model.Message) string { return m.SenderID },
		s.c.authors.Resolve,
		func(m *model.Message, a model.Profile) model.ThreadMessage { return model.ThreadMessage{Message: *m, Sender: a} },
	)
	if err != nil {
		return out, err
	}
	return feed.Page[model.ThreadMessage]{Items: items, Fetched: len(rows)}, nil
}

func (s MessageSource) FetchByID(ctx context.Context, id string) (out model.ThreadMessage, err error) {
	ctx, span := s.c.span(ctx, "messages.FetchByID", attribute.String("id", id))
	defer func() { endSpan(span, err) }()

	m, err := s.c.Messages.GetByID(ctx, id)
	if err != nil {
		return out, notFound(err)
	}
	sender, err := s.c.resolveAuthor(ctx, m.SenderID)
	if err != nil {
		return out, err
	}
	return model.ThreadMessage{Message: *m, Sender: sender}, nil
}
