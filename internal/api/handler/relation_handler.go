package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/pkg/response"
)

// followRequest 以任意用户身份建立关系，供控制台造数据
type followRequest struct {
	FromUserID string `json:"from_user_id" binding:"required"`
	ToUserID   string `json:"to_user_id" binding:"required"`
}

// Follow 建立关注（写入 outbox，由中继推送）
func (h *Handler) Follow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.relService.Follow(c.Request.Context(), req.FromUserID, req.ToUserID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// Unfollow 取消关注
func (h *Handler) Unfollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.relService.Unfollow(c.Request.Context(), req.FromUserID, req.ToUserID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

type listFunc func(ctx context.Context, userID string, page, pageSize int) ([]string, error)

// ListFollowing 查询某用户关注的人
func (h *Handler) ListFollowing(c *gin.Context) {
	h.listRelations(c, h.relService.ListFollowing)
}

// ListFans 查询某用户的粉丝
func (h *Handler) ListFans(c *gin.Context) {
	h.listRelations(c, h.relService.ListFans)
}

func (h *Handler) listRelations(c *gin.Context, list listFunc) {
	userID := c.Param("user_id")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	ids, err := list(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	profiles, err := h.client.FetchProfilesByIDs(c.Request.Context(), ids)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	byUID := make(map[string]model.Profile, len(profiles))
	for _, p := range profiles {
		byUID[p.UID] = p
	}
	out := make([]model.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := byUID[id]; ok {
			out = append(out, p)
		} else {
			out = append(out, model.UnknownProfile(id))
		}
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": out})
}
