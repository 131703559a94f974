// Package session tracks who the viewer is. Changing the viewer clears
// every registered cache and then notifies listeners so views rebuild from
// scratch; viewer-relative state never survives a switch.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

var ErrInvalidToken = errors.New("invalid access token")

// Claims is the access token payload. Subject carries the viewer uid.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Bootstrapper loads or creates the viewer's profile on sign-in.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, uid, email, username string) (*model.Profile, bool, error)
}

type Session struct {
	secret   []byte
	profiles Bootstrapper

	mu       sync.RWMutex
	uid      string
	profile  *model.Profile
	clearers []func()
	changed  feed.Signal[string]
}

func New(secret string, profiles Bootstrapper) *Session {
	return &Session{secret: []byte(secret), profiles: profiles}
}

// IssueToken signs an HS256 access token for uid.
func IssueToken(secret, uid, email, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:    email,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates an access token and returns its claims.
func (s *Session) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// SignIn validates the token, makes sure the viewer has a profile and
// switches the session to that viewer.
func (s *Session) SignIn(ctx context.Context, raw string) (*model.Profile, error) {
	claims, err := s.ParseToken(raw)
	if err != nil {
		return nil, err
	}
	p, created, err := s.profiles.Bootstrap(ctx, claims.Subject, claims.Email, claims.Username)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info("new viewer profile", zap.String("uid", p.UID))
	}
	s.switchTo(claims.Subject, p)
	return p, nil
}

func (s *Session) SignOut() {
	s.switchTo("", nil)
}

func (s *Session) ViewerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid
}

// Profile returns the signed-in viewer's profile, nil when signed out.
func (s *Session) Profile() *model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// RegisterCache adds a clear function run on every viewer change, before
// listeners are notified.
func (s *Session) RegisterCache(clear func()) {
	s.mu.Lock()
	s.clearers = append(s.clearers, clear)
	s.mu.Unlock()
}

// OnViewerChange registers fn to run with the new uid ("" when signed out).
func (s *Session) OnViewerChange(fn func(uid string)) (cancel func()) {
	return s.changed.Subscribe(fn)
}

func (s *Session) switchTo(uid string, p *model.Profile) {
	s.mu.Lock()
	same := s.uid == uid
	s.uid = uid
	s.profile = p
	clearers := append([]func(){}, s.clearers...)
	s.mu.Unlock()
	if same {
		return
	}
	for _, clear := range clearers {
		clear()
	}
	logger.Debug("viewer changed", zap.String("uid", uid))
	s.changed.Emit(uid)
}
