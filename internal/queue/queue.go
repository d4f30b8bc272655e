package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one unit of background work.
type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// NewMessage marshals body into a message of the given type.
func NewMessage(typ string, body any) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s message: %w", typ, err)
	}
	return Message{Type: typ, Body: raw}, nil
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a channel-backed queue for a single process.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message, blocking while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel closed when ctx ends.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue is a Redis list-backed queue (LPUSH/BRPOP).
type RedisQueue struct {
	client *redis.Client
	key    string
	log    *slog.Logger
}

// NewRedisQueue builds a queue on key, defaulting to attendance:queue.
func NewRedisQueue(client *redis.Client, key string, log *slog.Logger) *RedisQueue {
	if key == "" {
		key = "attendance:queue"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisQueue{client: client, key: key, log: log}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Consume streams messages using BRPOP until ctx ends.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					q.log.Warn("queue pop failed", "key", q.key, "err", err)
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				q.log.Warn("dropping malformed queue message", "key", q.key, "err", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
