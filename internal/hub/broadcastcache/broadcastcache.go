// Package broadcastcache implements the Hub's per-Edge reliable broadcast
// cache (spec.md §4.6: "the Hub continues to queue its broadcast messages
// into a per-Edge ring buffer (FIFO, maxMessagesPerEdge, TTL maxCacheTime);
// on reconnect the buffered messages are replayed in sequence"). Two
// implementations share the Cache interface: an in-memory ring buffer for
// tests and single-process deployments, and a Redis-backed list for
// multi-process Hub deployments, grounded on the pack's go-redis/v9 usage
// for exactly this kind of ephemeral queued-message pattern.
package broadcastcache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one queued broadcast, carrying the monotonic sequence number
// every broadcast gets per spec.md §4.6 "Ordering".
type Message struct {
	Sequence int64           `json:"sequence"`
	Method   string          `json:"method"`
	Payload  []byte          `json:"payload"`
	QueuedAt time.Time       `json:"queuedAt"`
}

// Cache is the per-Edge reliable broadcast queue interface, implemented by
// both the in-memory and Redis-backed stores so tests can exercise either
// against the same behavioral contract.
type Cache interface {
	// Push enqueues msg for edgeID, evicting the oldest entry if the queue
	// is at maxMessages capacity.
	Push(ctx context.Context, edgeID string, msg Message) error
	// Drain returns every non-expired queued message for edgeID in FIFO
	// order and clears the queue.
	Drain(ctx context.Context, edgeID string) ([]Message, error)
	// NewEdge allocates an (initially empty) cache slot for a newly
	// registered Edge (spec.md §4.6 "A new Edge entering also gets a cache
	// slot").
	NewEdge(ctx context.Context, edgeID string) error
}

// ---- in-memory implementation ----

type memCache struct {
	mu           sync.Mutex
	queues       map[string]*list.List
	maxMessages  int
	ttl          time.Duration
}

// NewMemory builds an in-memory Cache bounding each Edge's queue to
// maxMessages entries with ttl expiry.
func NewMemory(maxMessages int, ttl time.Duration) Cache {
	return &memCache{queues: make(map[string]*list.List), maxMessages: maxMessages, ttl: ttl}
}

func (c *memCache) NewEdge(_ context.Context, edgeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.queues[edgeID]; !ok {
		c.queues[edgeID] = list.New()
	}
	return nil
}

func (c *memCache) Push(_ context.Context, edgeID string, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[edgeID]
	if !ok {
		q = list.New()
		c.queues[edgeID] = q
	}
	if msg.QueuedAt.IsZero() {
		msg.QueuedAt = time.Now()
	}
	q.PushBack(msg)
	for q.Len() > c.maxMessages {
		q.Remove(q.Front())
	}
	return nil
}

func (c *memCache) Drain(_ context.Context, edgeID string) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[edgeID]
	if !ok {
		return nil, nil
	}
	var out []Message
	cutoff := time.Now().Add(-c.ttl)
	for e := q.Front(); e != nil; e = e.Next() {
		m := e.Value.(Message)
		if c.ttl > 0 && m.QueuedAt.Before(cutoff) {
			continue // expired, dropped silently per spec.md §8
		}
		out = append(out, m)
	}
	c.queues[edgeID] = list.New()
	return out, nil
}

// ---- Redis-backed implementation ----

type redisCache struct {
	rdb         *redis.Client
	maxMessages int64
	ttl         time.Duration
	prefix      string
}

// NewRedis builds a Redis-backed Cache. Each Edge's queue is a Redis list
// at "<prefix>:<edgeID>" trimmed to maxMessages entries with a key-level
// TTL refreshed on every push.
func NewRedis(rdb *redis.Client, prefix string, maxMessages int64, ttl time.Duration) Cache {
	return &redisCache{rdb: rdb, maxMessages: maxMessages, ttl: ttl, prefix: prefix}
}

func (c *redisCache) key(edgeID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, edgeID)
}

func (c *redisCache) NewEdge(ctx context.Context, edgeID string) error {
	// Redis lists are created lazily on first push; nothing to do beyond
	// ensuring the key doesn't carry stale state from a prior incarnation
	// of this edge id.
	return c.rdb.Del(ctx, c.key(edgeID)).Err()
}

func (c *redisCache) Push(ctx context.Context, edgeID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broadcastcache: marshal: %w", err)
	}
	key := c.key(edgeID)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -c.maxMessages, -1)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (c *redisCache) Drain(ctx context.Context, edgeID string) ([]Message, error) {
	key := c.key(edgeID)
	raw, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return nil, err
	}
	return out, nil
}
