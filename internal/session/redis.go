package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions as JSON values with a key TTL equal to the
// session's retention window.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a store under prefix (default "attendance:session").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "attendance:session"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// key length-prefixes the class id so ids containing ':' cannot collide.
func (r *RedisStore) key(classID, token string) string {
	return r.prefix + ":" + strconv.Itoa(len(classID)) + ":" + classID + ":" + token
}

// Save writes the session.
func (r *RedisStore) Save(ctx context.Context, s Session, retainUntil time.Time) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := retainUntil.Sub(s.IssuedAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return r.client.Set(ctx, r.key(s.ClassID, s.Token), body, ttl).Err()
}

// Get returns the session or ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, classID, token string) (Session, error) {
	raw, err := r.client.Get(ctx, r.key(classID, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}
