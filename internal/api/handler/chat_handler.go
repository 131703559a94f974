package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedsync/pkg/response"
)

// ChatList 会话列表
func (h *Handler) ChatList(c *gin.Context) {
	response.Success(c, h.chats.List().Snapshot())
}

func (h *Handler) ChatLoadMore(c *gin.Context) {
	if err := h.chats.LoadMoreChats(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, h.chats.List().Snapshot())
}

// SelectChat 切换当前会话，先关闭旧会话的订阅
func (h *Handler) SelectChat(c *gin.Context) {
	if err := h.chats.Select(c.Request.Context(), c.Param("chat_id")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, h.chats.Thread().Snapshot())
}

func (h *Handler) Thread(c *gin.Context) {
	response.Success(c, h.chats.Thread().Snapshot())
}

func (h *Handler) ThreadLoadOlder(c *gin.Context) {
	if err := h.chats.LoadOlder(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, h.chats.Thread().Snapshot())
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage 发到当前会话
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	msg, err := h.chats.SendMessage(c.Request.Context(), req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, msg)
}
