package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(store Store) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)}
	return NewManager(store, 10*time.Second, time.Hour, WithClock(clock.Now)), clock
}

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(NewMemoryStore())

	s, err := m.Issue(ctx, "CS101", "")
	require.NoError(t, err)
	assert.Equal(t, "CS101", s.ClassID)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, clock.Now().Add(10*time.Second), s.ExpiresAt)

	t.Run("before expiry", func(t *testing.T) {
		got, err := m.Validate(ctx, "CS101", s.Token, s.ExpiresAt.Add(-time.Nanosecond))
		require.NoError(t, err)
		assert.Equal(t, s.Token, got.Token)
	})

	t.Run("at expiry", func(t *testing.T) {
		_, err := m.Validate(ctx, "CS101", s.Token, s.ExpiresAt)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("after expiry", func(t *testing.T) {
		_, err := m.Validate(ctx, "CS101", s.Token, s.ExpiresAt.Add(time.Minute))
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("wrong class", func(t *testing.T) {
		_, err := m.Validate(ctx, "MATH201", s.Token, clock.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := m.Validate(ctx, "CS101", "forged", clock.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLookupDoesNotExpire(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(NewMemoryStore())

	s, err := m.Issue(ctx, "CS101", "")
	require.NoError(t, err)

	got, err := m.Lookup(ctx, "CS101", s.Token)
	require.NoError(t, err)
	assert.True(t, got.Expired(s.ExpiresAt.Add(time.Hour)))
}

func TestIssueTokensAreUnique(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(NewMemoryStore())

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		s, err := m.Issue(ctx, "CS101", "")
		require.NoError(t, err)
		require.False(t, seen[s.Token], "duplicate token %s", s.Token)
		seen[s.Token] = true
	}
}

func TestIssueRetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	tokens := []string{"dup", "dup", "fresh"}
	i := 0
	gen := func() string {
		tok := tokens[i]
		i++
		return tok
	}
	m := NewManager(NewMemoryStore(), time.Second, time.Hour, WithTokenGenerator(gen))

	first, err := m.Issue(ctx, "CS101", "")
	require.NoError(t, err)
	second, err := m.Issue(ctx, "CS101", "")
	require.NoError(t, err)
	assert.Equal(t, "dup", first.Token)
	assert.Equal(t, "fresh", second.Token)
}

func TestIssueRequiresClass(t *testing.T) {
	m, _ := newTestManager(NewMemoryStore())
	_, err := m.Issue(context.Background(), "", "")
	assert.Error(t, err)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(NewMemoryStore())

	s, err := m.Issue(ctx, "CS101", "")
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	require.NoError(t, m.Revoke(ctx, "CS101", s.Token))
	_, err = m.Validate(ctx, "CS101", s.Token, clock.Now())
	assert.ErrorIs(t, err, ErrExpired)

	assert.ErrorIs(t, m.Revoke(ctx, "CS101", "nope"), ErrNotFound)
}

func TestMemoryStorePrunesAfterRetention(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m, clock := newTestManager(store)

	old, err := m.Issue(ctx, "CS101", "")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = m.Issue(ctx, "CS101", "")
	require.NoError(t, err)

	assert.Equal(t, 1, store.Len())
	_, err = m.Lookup(ctx, "CS101", old.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

// straySessionStore answers every Get with the same session, whatever the key.
type straySessionStore struct{ s Session }

func (f straySessionStore) Save(context.Context, Session, time.Time) error { return nil }
func (f straySessionStore) Get(context.Context, string, string) (Session, error) {
	return f.s, nil
}

func TestLookupRequiresExactClassAndToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)
	store := straySessionStore{s: Session{ClassID: "LAB:A", Token: "tok", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}}
	m := NewManager(store, 10*time.Second, time.Hour, WithClock(func() time.Time { return now }))

	_, err := m.Validate(ctx, "LAB", "A:tok", now)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Lookup(ctx, "LAB", "A:tok")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Revoke(ctx, "LAB", "A:tok"), ErrNotFound)

	got, err := m.Validate(ctx, "LAB:A", "tok", now)
	require.NoError(t, err)
	assert.Equal(t, "LAB:A", got.ClassID)
}

func TestIssueRecordsIssuer(t *testing.T) {
	m, _ := newTestManager(NewMemoryStore())
	s, err := m.Issue(context.Background(), "CS101", "TCH001")
	require.NoError(t, err)
	assert.Equal(t, "TCH001", s.IssuedBy)

	got, err := m.Lookup(context.Background(), "CS101", s.Token)
	require.NoError(t, err)
	assert.Equal(t, "TCH001", got.IssuedBy)
}

func newRedisManager(t *testing.T) (*Manager, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	m, clock := newTestManager(NewRedisStore(client, ""))
	return m, clock, mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	m, _, mr := newRedisManager(t)

	s, err := m.Issue(ctx, "CS101", "TCH001")
	require.NoError(t, err)

	got, err := m.Validate(ctx, "CS101", s.Token, s.IssuedAt.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, "TCH001", got.IssuedBy)

	_, err = m.Validate(ctx, "CS101", s.Token, s.ExpiresAt)
	assert.ErrorIs(t, err, ErrExpired)

	_, err = m.Validate(ctx, "CS101", "missing", s.IssuedAt)
	assert.ErrorIs(t, err, ErrNotFound)

	// the key outlives expiry by the retention window, then goes away
	mr.FastForward(30 * time.Minute)
	_, err = m.Validate(ctx, "CS101", s.Token, s.ExpiresAt.Add(30*time.Minute))
	assert.ErrorIs(t, err, ErrExpired)

	mr.FastForward(time.Hour)
	_, err = m.Validate(ctx, "CS101", s.Token, s.ExpiresAt.Add(90*time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreRevoke(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newRedisManager(t)

	s, err := m.Issue(ctx, "CS101", "")
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	require.NoError(t, m.Revoke(ctx, "CS101", s.Token))

	got, err := m.Validate(ctx, "CS101", s.Token, clock.Now())
	assert.ErrorIs(t, err, ErrExpired)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(clock.Now()))

	assert.ErrorIs(t, m.Revoke(ctx, "CS101", "missing"), ErrNotFound)
}

func TestRedisStoreClassIDsWithColons(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	now := time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)
	m := NewManager(NewRedisStore(client, ""), 10*time.Second, time.Hour,
		WithClock(func() time.Time { return now }),
		WithTokenGenerator(func() string { return "tok" }))

	s, err := m.Issue(ctx, "LAB:A", "")
	require.NoError(t, err)
	require.Equal(t, "tok", s.Token)

	_, err = m.Validate(ctx, "LAB", "A:tok", now)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Validate(ctx, "LAB:A", "tok", now)
	assert.NoError(t, err)
}
