package screen

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/realtime"
	"github.com/d60-Lab/feedsync/internal/remote"
)

var ErrNoChatSelected = errors.New("no chat selected")

// ChatScreen holds the viewer's chat list and the thread of the selected
// chat. The list is ordered by last message time, newest first, chats
// without messages last; the thread is oldest first.
type ChatScreen struct {
	d         Deps
	list      *feed.View[model.ChatSummary]
	thread    *feed.View[model.ThreadMessage]
	listSub   subscriptionSlot
	threadSub subscriptionSlot
	handlers  handlerContext
	unwatch   func()

	mu       sync.Mutex
	selected string
}

func NewChatScreen(d Deps) *ChatScreen {
	s := &ChatScreen{
		d:        d,
		list:     feed.NewView[model.ChatSummary](d.viewConfig("chats", d.Feed.ChatPageSize, feed.NewestFirst), d.Client.ChatSource()),
		thread:   feed.NewView[model.ThreadMessage](d.viewConfig("thread", d.Feed.MessagePageSize, feed.OldestFirst), d.Client.MessageSource()),
		handlers: newHandlerContext(),
	}
	s.unwatch = d.Session.OnViewerChange(func(string) {
		ctx := s.handlers.ctx
		if err := s.Select(ctx, ""); err != nil {
			d.logger().Warn("clear thread after viewer change failed", zap.Error(err))
		}
		if err := s.Open(ctx); err != nil {
			d.logger().Warn("reload chats after viewer change failed", zap.Error(err))
		}
	})
	return s
}

func (s *ChatScreen) List() *feed.View[model.ChatSummary] { return s.list }

func (s *ChatScreen) Thread() *feed.View[model.ThreadMessage] { return s.thread }

func (s *ChatScreen) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Open loads the chat list for the current viewer and listens for new
// messages to keep the list ordered.
func (s *ChatScreen) Open(ctx context.Context) error {
	viewer := s.d.Session.ViewerID()
	if viewer == "" {
		s.listSub.Release()
		return s.list.ResetAndLoad(ctx, "")
	}
	err := s.listSub.Replace(func() (*realtime.Subscription, error) {
		return s.d.Client.Subscribe(ctx, "messages", "", nil, remote.Handlers{
			OnInsert: func(c realtime.Change) { s.bump(c) },
		})
	})
	if err != nil {
		return err
	}
	return s.list.ResetAndLoad(ctx, viewer)
}

func (s *ChatScreen) LoadMoreChats(ctx context.Context) error { return s.list.LoadMore(ctx) }

// bump moves a chat to the top when one of its messages arrives, or adds
// the chat when the viewer was not showing it yet.
func (s *ChatScreen) bump(c realtime.Change) {
	ctx := s.handlers.ctx
	chatID := c.Scope
	if !s.list.Contains(chatID) {
		_ = s.list.ApplyRealtimeInsert(ctx, chatID)
		return
	}
	msg, err := s.d.Client.MessageSource().FetchByID(ctx, c.RowID)
	if err != nil {
		s.d.logger().Info("skip chat bump", zap.String("chat", chatID), zap.Error(err))
		return
	}
	s.list.Touch(chatID, func(ch model.ChatSummary) model.ChatSummary {
		content, at, sender := msg.Content, msg.CreatedAt, msg.SenderID
		ch.LastMessage, ch.LastMessageTime, ch.LastMessageSender = &content, &at, &sender
		return ch
	})
}

// Select switches the thread to chatID. The previous chat's subscription
// is closed before the new one opens. An empty chatID clears the thread.
func (s *ChatScreen) Select(ctx context.Context, chatID string) error {
	s.mu.Lock()
	s.selected = chatID
	s.mu.Unlock()

	if chatID == "" {
		s.threadSub.Release()
		return s.thread.ResetAndLoad(ctx, "")
	}
	v := s.thread
	err := s.threadSub.Replace(func() (*realtime.Subscription, error) {
		return s.d.Client.Subscribe(ctx, "messages", chatID, nil, remote.Handlers{
			OnInsert: func(c realtime.Change) { _ = v.ApplyRealtimeInsert(s.handlers.ctx, c.RowID) },
			OnDelete: func(c realtime.Change) { v.ApplyRealtimeDelete(c.RowID) },
		})
	})
	if err != nil {
		return err
	}
	return v.ResetAndLoad(ctx, chatID)
}

// LoadOlder extends the thread with the previous page of messages.
func (s *ChatScreen) LoadOlder(ctx context.Context) error { return s.thread.LoadMore(ctx) }

// SendMessage writes to the selected chat. The message appears in the
// thread, and the chat moves up the list, when its realtime insert lands.
func (s *ChatScreen) SendMessage(ctx context.Context, content string) (*model.Message, error) {
	if s.d.Session.ViewerID() == "" {
		return nil, feed.ErrNotAuthenticated
	}
	chatID := s.Selected()
	if chatID == "" {
		return nil, ErrNoChatSelected
	}
	return s.d.Client.SendMessage(ctx, chatID, content)
}

func (s *ChatScreen) Close() {
	s.unwatch()
	s.handlers.cancel()
	s.threadSub.Release()
	s.listSub.Release()
	s.thread.Dispose()
	s.list.Dispose()
}
