package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/mention"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/screen"
	"github.com/d60-Lab/feedsync/pkg/response"
)

type postView struct {
	model.FeedPost
	Segments []mention.Segment `json:"segments"`
	Mentions []string          `json:"mentions,omitempty"`
}

type feedSnapshot struct {
	Scope          string     `json:"scope"`
	Items          []postView `json:"items"`
	Exhausted      bool       `json:"exhausted"`
	LoadingInitial bool       `json:"loading_initial"`
	LoadingMore    bool       `json:"loading_more"`
	ReloadPending  bool       `json:"reload_pending"`
}

func renderFeed(v *feed.View[model.FeedPost]) feedSnapshot {
	snap := v.Snapshot()
	items := make([]postView, 0, len(snap.Items))
	for _, p := range snap.Items {
		items = append(items, postView{FeedPost: p, Segments: mention.Segments(p.Content), Mentions: mention.Usernames(p.Content)})
	}
	return feedSnapshot{
		Scope:          snap.Scope,
		Items:          items,
		Exhausted:      snap.Exhausted,
		LoadingInitial: snap.LoadingInitial,
		LoadingMore:    snap.LoadingMore,
		ReloadPending:  v.ReloadPending(),
	}
}

// HomeSnapshot 首页当前视图
func (h *Handler) HomeSnapshot(c *gin.Context) {
	response.Success(c, renderFeed(h.home.View()))
}

func (h *Handler) HomeLoadMore(c *gin.Context) {
	if err := h.home.LoadMore(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, renderFeed(h.home.View()))
}

// OpenProfile 打开某个用户的主页，替换之前的订阅
func (h *Handler) OpenProfile(c *gin.Context) {
	if err := h.profile.Open(c.Request.Context(), c.Param("user_id")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, renderFeed(h.profile.View()))
}

func (h *Handler) ProfileSnapshot(c *gin.Context) {
	response.Success(c, renderFeed(h.profile.View()))
}

func (h *Handler) ProfileLoadMore(c *gin.Context) {
	if err := h.profile.LoadMore(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, renderFeed(h.profile.View()))
}

type createPostRequest struct {
	Content   string   `json:"content"`
	MediaURLs []string `json:"media_urls"`
}

// CreatePost 发帖；帖子经实时通道进入视图
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	out, err := h.home.CreatePost(c.Request.Context(), screen.Draft{Content: req.Content, MediaURLs: req.MediaURLs}, h.mentions)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, out)
}

func (h *Handler) DeletePost(c *gin.Context) {
	if err := h.home.DeletePost(c.Request.Context(), c.Param("post_id")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// ToggleLike 乐观点赞/取消，写失败时回滚
func (h *Handler) ToggleLike(c *gin.Context) {
	id := c.Param("post_id")
	target := h.home
	if !target.View().Contains(id) && h.profile.View().Contains(id) {
		target = h.profile
	}
	if err := target.ToggleLike(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	p, _ := target.View().Get(id)
	response.Success(c, p)
}

// ToggleFollow 乐观关注/取关，首页和主页都会翻转
func (h *Handler) ToggleFollow(c *gin.Context) {
	author := c.Param("user_id")
	if err := h.home.ToggleFollow(c.Request.Context(), author); err != nil {
		fail(c, err)
		return
	}
	if h.profile.View().Scope() == author {
		h.profile.View().Invalidate()
	}
	response.Success(c, nil)
}
