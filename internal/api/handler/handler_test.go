package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/mention"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/profilecache"
	"github.com/d60-Lab/feedsync/internal/realtime"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/internal/screen"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/internal/session"
)

const secret = "console-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.All()...))
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	profiles := repository.NewProfileRepository(db)
	follows := repository.NewFollowRepository(db)
	cache := profilecache.New(profiles, rdb, time.Minute, nil)
	pub := service.NewPublisher(db, nil)
	profileSvc := service.NewProfileService(profiles, cache)
	relations := service.NewRelationshipService(follows, pub)
	sess := session.New(secret, profileSvc)
	client := remote.New(remote.Deps{
		Profiles:  profiles,
		Posts:     repository.NewPostRepository(db),
		Likes:     repository.NewLikeRepository(db),
		Follows:   follows,
		Chats:     repository.NewChatRepository(db),
		Messages:  repository.NewMessageRepository(db),
		Cache:     cache,
		Publisher: pub,
		Relations: relations,
		Profile:   profileSvc,
		Bus:       realtime.NewBus(rdb, "console", nil),
	}, sess)
	d := screen.Deps{
		Client:  client,
		Session: sess,
		Feed:    config.FeedConfig{PageSize: 10, MessagePageSize: 10, ChatPageSize: 10, ReloadDebounce: 20 * time.Millisecond},
	}
	home := screen.NewHomeFeed(d, nil)
	prof := screen.NewProfileFeed(d, nil)
	chats := screen.NewChatScreen(d)
	t.Cleanup(func() {
		home.Close()
		prof.Close()
		chats.Close()
	})
	require.NoError(t, home.Open(context.Background(), remote.GlobalScope))

	h := New(Deps{
		Session:   sess,
		Client:    client,
		Relations: relations,
		Home:      home,
		Profile:   prof,
		Chats:     chats,
		Mentions:  mention.NewResolver(client),
	})
	return NewRouter(h, "feedsync-test"), db
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func signIn(t *testing.T, r *gin.Engine, uid string) {
	t.Helper()
	token, err := session.IssueToken(secret, uid, uid+"@example.com", uid, time.Hour)
	require.NoError(t, err)
	code, env := do(t, r, http.MethodPost, "/api/v1/session", gin.H{"access_token": token})
	require.Equal(t, http.StatusOK, code, env.Message)
}

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&model.Profile{ID: uuid.New().String(), UID: "bob", Username: "bob", DisplayName: "Bob"}).Error)
	require.NoError(t, db.Create(&model.Post{ID: "p1", UserID: "bob", Content: "hey @amy", CreatedAt: time.Now()}).Error)
}

func TestSignInAndSnapshot(t *testing.T) {
	r, db := setupRouter(t)
	seed(t, db)

	code, _ := do(t, r, http.MethodGet, "/api/v1/session", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, r, http.MethodPost, "/api/v1/session", gin.H{"access_token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, code)

	signIn(t, r, "u1")
	code, env := do(t, r, http.MethodGet, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, code)
	var me struct {
		NeedsCompletion bool `json:"needs_completion"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.True(t, me.NeedsCompletion)

	code, env = do(t, r, http.MethodGet, "/api/v1/feed/home", nil)
	require.Equal(t, http.StatusOK, code)
	var snap feedSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "p1", snap.Items[0].ID)
	assert.Equal(t, "Bob", snap.Items[0].Author.DisplayName)
	require.Len(t, snap.Items[0].Segments, 2)
	assert.Equal(t, "amy", snap.Items[0].Segments[1].Username)
	assert.Equal(t, []string{"amy"}, snap.Items[0].Mentions)
}

func TestToggleLikeEndpoint(t *testing.T) {
	r, db := setupRouter(t)
	seed(t, db)

	code, _ := do(t, r, http.MethodPost, "/api/v1/posts/p1/like", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	signIn(t, r, "u1")
	code, env := do(t, r, http.MethodPost, "/api/v1/posts/p1/like", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var p model.FeedPost
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.True(t, p.Liked)
	assert.EqualValues(t, 1, p.LikesCount)

	code, _ = do(t, r, http.MethodPost, "/api/v1/posts/missing/like", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, r, http.MethodPost, "/api/v1/users/u1/follow", nil)
	assert.Equal(t, http.StatusBadRequest, code, "self follow")
}

func TestRelationsEndpoints(t *testing.T) {
	r, db := setupRouter(t)
	seed(t, db)

	code, _ := do(t, r, http.MethodPost, "/api/v1/relations/follow", gin.H{"from_user_id": "ann"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, r, http.MethodPost, "/api/v1/relations/follow", gin.H{"from_user_id": "ann", "to_user_id": "bob"})
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, r, http.MethodGet, "/api/v1/relations/ann/following", nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Page int             `json:"page"`
		List []model.Profile `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.Page)
	require.Len(t, page.List, 1)
	assert.Equal(t, "bob", page.List[0].UID)

	code, env = do(t, r, http.MethodGet, "/api/v1/relations/bob/fans", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.List, 1)
	assert.Equal(t, "unknown", page.List[0].Username, "follower without a profile row")
}

func TestMentionAndChatEndpoints(t *testing.T) {
	r, db := setupRouter(t)
	seed(t, db)
	signIn(t, r, "u1")

	code, env := do(t, r, http.MethodGet, "/api/v1/mentions?text=hi%20@bo", nil)
	require.Equal(t, http.StatusOK, code)
	var sug struct {
		Active bool            `json:"active"`
		List   []model.Profile `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sug))
	assert.True(t, sug.Active)
	require.Len(t, sug.List, 1)
	assert.Equal(t, "bob", sug.List[0].Username)

	code, _ = do(t, r, http.MethodPost, "/api/v1/thread/messages", gin.H{"content": "hi"})
	assert.Equal(t, http.StatusBadRequest, code, "no chat selected")

	require.NoError(t, repository.NewChatRepository(db).Create(context.Background(), &model.Chat{ID: uuid.New().String(), ChatID: "c1"}, []string{"u1", "bob"}))
	code, _ = do(t, r, http.MethodPost, "/api/v1/chats/c1/select", nil)
	require.Equal(t, http.StatusOK, code)
	code, env = do(t, r, http.MethodPost, "/api/v1/thread/messages", gin.H{"content": "hi"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var msg model.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "c1", msg.ChatID)
	assert.Equal(t, "u1", msg.SenderID)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := setupRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
