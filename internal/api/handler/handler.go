// Package handler exposes one client session over HTTP for the devtools
// console: view snapshots in, actions out.
package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/mention"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/internal/screen"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/internal/session"
	"github.com/d60-Lab/feedsync/pkg/response"
)

// Handler 控制台处理器，持有一个客户端会话的全部屏幕
type Handler struct {
	session    *session.Session
	client     *remote.Client
	relService service.RelationshipService
	home       *screen.FeedScreen
	profile    *screen.FeedScreen
	chats      *screen.ChatScreen
	mentions   *mention.Resolver
}

type Deps struct {
	Session   *session.Session
	Client    *remote.Client
	Relations service.RelationshipService
	Home      *screen.FeedScreen
	Profile   *screen.FeedScreen
	Chats     *screen.ChatScreen
	Mentions  *mention.Resolver
}

func New(d Deps) *Handler {
	return &Handler{
		session:    d.Session,
		client:     d.Client,
		relService: d.Relations,
		home:       d.Home,
		profile:    d.Profile,
		chats:      d.Chats,
		mentions:   d.Mentions,
	}
}

// fail maps client errors onto the response envelope.
func fail(c *gin.Context, err error) {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, feed.ErrNotAuthenticated), errors.Is(err, session.ErrInvalidToken):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, feed.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, feed.ErrMutationPending):
		response.Conflict(c, err.Error())
	case errors.As(err, &verr),
		errors.Is(err, service.ErrFollowSelf),
		errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrNotParticipant),
		errors.Is(err, screen.ErrNoChatSelected):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
