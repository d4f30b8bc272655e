// Package session owns the lifecycle of short-lived attendance sessions: a
// class identifier bound to a random token that students redeem before it
// expires.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means no session matches the class and token. A forged or
	// corrupted code ends up here.
	ErrNotFound = errors.New("session not found")
	// ErrExpired means the session existed but its TTL has elapsed or it was revoked.
	ErrExpired = errors.New("session expired")
)

// Session is a time-bounded (class, token) pair authorizing redemption.
type Session struct {
	ClassID   string     `json:"class_id"`
	Token     string     `json:"token"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	// IssuedBy is the teacher who opened the session, empty when unknown.
	IssuedBy  string     `json:"issued_by,omitempty"`
}

// Expired reports whether the session is unusable at now. A session is
// expired from ExpiresAt onwards, inclusive.
func (s Session) Expired(now time.Time) bool {
	if s.RevokedAt != nil && !now.Before(*s.RevokedAt) {
		return true
	}
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions. Save keeps the session readable until retainUntil
// so that expired tokens still resolve to ErrExpired instead of ErrNotFound.
type Store interface {
	Save(ctx context.Context, s Session, retainUntil time.Time) error
	Get(ctx context.Context, classID, token string) (Session, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTokenGenerator overrides token generation.
func WithTokenGenerator(gen func() string) Option {
	return func(m *Manager) { m.newToken = gen }
}

// Manager issues and validates sessions against a Store.
type Manager struct {
	store     Store
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
	newToken  func() string
}

// DefaultTTL is how long an issued token stays redeemable.
const DefaultTTL = 10 * time.Second

const maxIssueAttempts = 3

// NewManager creates a manager. Non-positive ttl falls back to DefaultTTL.
func NewManager(store Store, ttl, retention time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if retention < 0 {
		retention = 0
	}
	m := &Manager{
		store:     store,
		ttl:       ttl,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
		newToken:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue creates a session for classID expiring TTL from now. issuedBy is
// recorded for audit only.
func (m *Manager) Issue(ctx context.Context, classID, issuedBy string) (Session, error) {
	if classID == "" {
		return Session{}, errors.New("class id required")
	}
	now := m.now()
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		token := m.newToken()
		if _, err := m.get(ctx, classID, token); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return Session{}, fmt.Errorf("check token: %w", err)
		}
		s := Session{
			ClassID:   classID,
			Token:     token,
			IssuedAt:  now,
			ExpiresAt: now.Add(m.ttl),
			IssuedBy:  issuedBy,
		}
		if err := m.store.Save(ctx, s, s.ExpiresAt.Add(m.retention)); err != nil {
			return Session{}, fmt.Errorf("save session: %w", err)
		}
		return s, nil
	}
	return Session{}, errors.New("could not generate a unique token")
}

// Lookup returns the stored session without evaluating expiry.
func (m *Manager) Lookup(ctx context.Context, classID, token string) (Session, error) {
	return m.get(ctx, classID, token)
}

// get only resolves a session stored under exactly this class and token.
func (m *Manager) get(ctx context.Context, classID, token string) (Session, error) {
	s, err := m.store.Get(ctx, classID, token)
	if err != nil {
		return Session{}, err
	}
	if s.ClassID != classID || s.Token != token {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Validate looks the session up and checks it against now. It returns
// ErrNotFound or ErrExpired, never both.
func (m *Manager) Validate(ctx context.Context, classID, token string, now time.Time) (Session, error) {
	s, err := m.get(ctx, classID, token)
	if err != nil {
		return Session{}, err
	}
	if s.Expired(now) {
		return s, ErrExpired
	}
	return s, nil
}

// Revoke ends a session early. Revoking an already expired session is a no-op.
func (m *Manager) Revoke(ctx context.Context, classID, token string) error {
	s, err := m.get(ctx, classID, token)
	if err != nil {
		return err
	}
	now := m.now()
	if s.Expired(now) {
		return nil
	}
	s.RevokedAt = &now
	return m.store.Save(ctx, s, s.ExpiresAt.Add(m.retention))
}
