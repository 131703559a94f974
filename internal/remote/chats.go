package remote

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/model"
)

const (
	groupChatName   = "Group Chat"
	savedChatName   = "Saved Messages"
	chatAvatarStyle = "https://api.dicebear.com/8.x/identicon/svg?seed="
)

// ChatSource serves the chat list of a user; the scope is the user's uid.
type ChatSource struct{ c *Client }

func (c *Client) ChatSource() ChatSource { return ChatSource{c: c} }

var _ feed.Source[model.ChatSummary] = ChatSource{}

func (s ChatSource) FetchPage(ctx context.Context, uid string, page, size int) (out feed.Page[model.ChatSummary], err error) {
	ctx, span := s.c.span(ctx, "chats.FetchPage", attribute.String("uid", uid), attribute.Int("page", page))
	defer func() { endSpan(span, err) }()

	chats, err := s.c.Chats.ListForUser(ctx, uid, page*size, size)
	if err != nil {
		return out, err
	}
	items, err := s.assemble(ctx, uid, chats)
	if err != nil {
		return out, err
	}
	return feed.Page[model.ChatSummary]{Items: items, Fetched: len(chats)}, nil
}

// FetchByID returns ErrNotFound for chats the viewer is not part of.
func (s ChatSource) FetchByID(ctx context.Context, chatID string) (out model.ChatSummary, err error) {
	ctx, span := s.c.span(ctx, "chats.FetchByID", attribute.String("chat", chatID))
	defer func() { endSpan(span, err) }()

	chat, err := s.c.Chats.GetByChatID(ctx, chatID)
	if err != nil {
		return out, notFound(err)
	}
	viewer := s.c.viewer.ViewerID()
	member, err := s.c.Chats.IsParticipant(ctx, chatID, viewer)
	if err != nil {
		return out, err
	}
	if !member {
		return out, feed.ErrNotFound
	}
	res, err := s.assemble(ctx, viewer, []*model.Chat{chat})
	if err != nil {
		return out, err
	}
	return res[0], nil
}

// assemble joins participants for all chats with one participant query and
// one profile batch, then derives what the list shows for each chat.
func (s ChatSource) assemble(ctx context.Context, uid string, chats []*model.Chat) ([]model.ChatSummary, error) {
	if len(chats) == 0 {
		return nil, nil
	}
	chatIDs := make([]string, len(chats))
	for i, ch := range chats {
		chatIDs[i] = ch.ChatID
	}
	parts, err := s.c.Chats.Participants(ctx, chatIDs)
	if err != nil {
		return nil, err
	}
	var uids []string
	for _, ps := range parts {
		for _, p := range ps {
			uids = append(uids, p.UserID)
		}
	}
	sort.Strings(uids)
	profiles, err := s.c.authors.Resolve(ctx, uids)
	if err != nil {
		return nil, err
	}

	out := make([]model.ChatSummary, 0, len(chats))
	for _, ch := range chats {
		var members []model.Profile
		for _, p := range parts[ch.ChatID] {
			if prof, ok := profiles[p.UserID]; ok {
				members = append(members, prof)
			}
		}
		out = append(out, Summarize(*ch, members, uid))
	}
	return out, nil
}

// Summarize derives the name and avatar shown for a chat. A direct chat
// shows the other participant, or "Saved Messages" when the viewer is alone
// in it; groups show their own name or a generic one.
func Summarize(ch model.Chat, members []model.Profile, viewer string) model.ChatSummary {
	sum := model.ChatSummary{Chat: ch, Participants: members}
	sum.DisplayName = groupChatName
	if ch.ChatName != nil && *ch.ChatName != "" {
		sum.DisplayName = *ch.ChatName
	}
	sum.DisplayAvatar = chatAvatarStyle + ch.ChatID
	if ch.ChatAvatar != nil && *ch.ChatAvatar != "" {
		sum.DisplayAvatar = *ch.ChatAvatar
	}
	if ch.IsGroup {
		return sum
	}
	for _, m := range members {
		if m.UID != viewer {
			sum.DisplayName = m.DisplayName
			sum.DisplayAvatar = m.Avatar
			return sum
		}
	}
	if len(members) == 1 {
		sum.DisplayName = savedChatName
		sum.DisplayAvatar = members[0].Avatar
	}
	return sum
}
