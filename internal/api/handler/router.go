package handler

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter 注册控制台路由
func NewRouter(h *Handler, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(serviceName), gzip.Gzip(gzip.DefaultCompression))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/session", h.SignIn)
		v1.DELETE("/session", h.SignOut)
		v1.GET("/session", h.Me)

		v1.PUT("/profile", h.UpdateProfile)
		v1.GET("/mentions", h.SuggestMentions)

		v1.GET("/feed/home", h.HomeSnapshot)
		v1.POST("/feed/home/more", h.HomeLoadMore)
		v1.POST("/feed/profile/:user_id", h.OpenProfile)
		v1.GET("/feed/profile", h.ProfileSnapshot)
		v1.POST("/feed/profile/more", h.ProfileLoadMore)

		v1.POST("/posts", h.CreatePost)
		v1.DELETE("/posts/:post_id", h.DeletePost)
		v1.POST("/posts/:post_id/like", h.ToggleLike)
		v1.POST("/users/:user_id/follow", h.ToggleFollow)

		v1.GET("/chats", h.ChatList)
		v1.POST("/chats/more", h.ChatLoadMore)
		v1.POST("/chats/:chat_id/select", h.SelectChat)
		v1.GET("/thread", h.Thread)
		v1.POST("/thread/older", h.ThreadLoadOlder)
		v1.POST("/thread/messages", h.SendMessage)

		rel := v1.Group("/relations")
		rel.POST("/follow", h.Follow)
		rel.POST("/unfollow", h.Unfollow)
		rel.GET("/:user_id/following", h.ListFollowing)
		rel.GET("/:user_id/fans", h.ListFans)
	}
	return r
}
