// Package session holds the per-process client session: issued bearer token,
// development user id and the server-confirmed user.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Frozertiru-gif/Kina/internal/prefs"
)

// User is the server-confirmed identity returned by the auth call.
type User struct {
	ID           int64
	TgUserID     int64
	Username     string
	FirstName    string
	PremiumUntil *time.Time
}

// PremiumActive reports whether the premium expiry lies after now.
func (u *User) PremiumActive(now time.Time) bool {
	return u != nil && u.PremiumUntil != nil && u.PremiumUntil.After(now)
}

// Session is passed explicitly to the API client and auth components.
type Session struct {
	store     prefs.Store
	devUserID string

	mu    sync.RWMutex
	token string
	user  *User
}

// New loads any stored bearer token from store.
func New(ctx context.Context, store prefs.Store, devUserID string) (*Session, error) {
	tok, err := prefs.GetOrEmpty(ctx, store, prefs.KeyAccessToken)
	if err != nil {
		return nil, err
	}
	return &Session{
		store:     store,
		devUserID: strings.TrimSpace(devUserID),
		token:     tok,
	}, nil
}

// Store exposes the backing local storage.
func (s *Session) Store() prefs.Store { return s.store }

// DevUserID is the development-only user id header value, or "".
func (s *Session) DevUserID() string { return s.devUserID }

// Token returns the bearer token, or "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores a newly issued bearer token in memory and in local storage.
func (s *Session) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return s.store.Set(ctx, prefs.KeyAccessToken, token)
}

// ClearToken drops the bearer token everywhere.
func (s *Session) ClearToken(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return s.store.Delete(ctx, prefs.KeyAccessToken)
}

// User returns the current confirmed user, or nil before the first successful auth.
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// SetUser replaces the confirmed user. Nothing is merged from the previous one.
func (s *Session) SetUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = nil
		return
	}
	cp := *u
	s.user = &cp
}

// PendingReferral returns the referral code waiting to be applied, if any.
func (s *Session) PendingReferral(ctx context.Context) (string, error) {
	return prefs.GetOrEmpty(ctx, s.store, prefs.KeyReferralCode)
}

// RememberReferral records a referral code unless one is already pending.
func (s *Session) RememberReferral(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	cur, err := s.PendingReferral(ctx)
	if err != nil || cur != "" {
		return err
	}
	return s.store.Set(ctx, prefs.KeyReferralCode, code)
}

// ClearReferral drops the pending referral code after it was applied.
func (s *Session) ClearReferral(ctx context.Context) error {
	return s.store.Delete(ctx, prefs.KeyReferralCode)
}
