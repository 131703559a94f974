package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/mention"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/pkg/response"
)

type signInRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

// SignIn 用访问令牌登录，所有屏幕随之切换到新用户
func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := h.session.SignIn(c.Request.Context(), req.AccessToken)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"profile": p, "needs_completion": p.NeedsCompletion()})
}

func (h *Handler) SignOut(c *gin.Context) {
	h.session.SignOut()
	response.Success(c, nil)
}

func (h *Handler) Me(c *gin.Context) {
	p := h.session.Profile()
	if p == nil {
		fail(c, feed.ErrNotAuthenticated)
		return
	}
	response.Success(c, gin.H{"profile": p, "needs_completion": p.NeedsCompletion()})
}

// UpdateProfile 修改当前用户资料
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := h.client.UpdateProfile(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, p)
}

// SuggestMentions 输入框 @ 补全，text + cursor（按字符计）
func (h *Handler) SuggestMentions(c *gin.Context) {
	text := c.Query("text")
	cursor, err := strconv.Atoi(c.DefaultQuery("cursor", strconv.Itoa(len([]rune(text)))))
	if err != nil {
		response.BadRequest(c, "invalid cursor")
		return
	}
	q, ok := mention.Detect(text, cursor)
	if !ok {
		response.Success(c, gin.H{"active": false})
		return
	}
	list, err := h.mentions.Suggest(c.Request.Context(), q)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"active": true, "query": q, "list": list})
}
