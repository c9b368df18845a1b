package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue carries the two channels as Redis lists: Send LPUSHes onto the
// fire queue, Recv BRPOPs the result queue. The BRPOP timeout is the
// listener's bounded poll, so no extra polling machinery is needed.
type RedisQueue struct {
	client  *redis.Client
	sendKey string
	recvKey string
	closed  atomic.Bool
}

// RedisQueueOptions names the two list keys. Zero values fall back to the
// defaults used by the stock agent.
type RedisQueueOptions struct {
	SendKey string
	RecvKey string
}

const (
	defaultFireQueue   = "fire_queue"
	defaultResultQueue = "result_queue"
)

// NewRedisQueue connects to the Redis at url (redis://host:port/db) and
// verifies the connection with a PING before returning, so a bind failure
// is reported at start rather than on the first submission.
func NewRedisQueue(ctx context.Context, url string, opts RedisQueueOptions) (*RedisQueue, error) {
	ropt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(ropt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	q := &RedisQueue{
		client:  client,
		sendKey: opts.SendKey,
		recvKey: opts.RecvKey,
	}
	if q.sendKey == "" {
		q.sendKey = defaultFireQueue
	}
	if q.recvKey == "" {
		q.recvKey = defaultResultQueue
	}
	return q, nil
}

func (q *RedisQueue) Send(ctx context.Context, payload []byte) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if err := q.client.LPush(ctx, q.sendKey, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.sendKey, err)
	}
	return nil
}

func (q *RedisQueue) Recv(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}
	res, err := q.client.BRPop(ctx, timeout, q.recvKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTimeout
		}
		if q.closed.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("brpop %s: %w", q.recvKey, err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("brpop %s: unexpected reply of %d elements", q.recvKey, len(res))
	}
	return []byte(res[1]), nil
}

func (q *RedisQueue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return q.client.Close()
}
