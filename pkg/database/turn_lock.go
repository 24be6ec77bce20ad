package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TurnLocker serialises work on a key (a session or user) across goroutines
// and, for the Redis implementation, across server instances.
type TurnLocker interface {
	// Lock blocks until the key is held or ctx is done. The returned unlock
	// function is safe to call more than once.
	Lock(ctx context.Context, key string) (func(), error)
}

// ============================================================================
// In-process locker
// ============================================================================

type keyLock struct {
	ch   chan struct{}
	refs int
}

// LocalTurnLocker is a TurnLocker for single-instance deployments.
type LocalTurnLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

var _ TurnLocker = (*LocalTurnLocker)(nil)

// NewLocalTurnLocker creates an in-process TurnLocker.
func NewLocalTurnLocker() *LocalTurnLocker {
	return &LocalTurnLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalTurnLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalTurnLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// ============================================================================
// Redis locker
// ============================================================================

// releaseScript deletes the lock only if it still holds our token, so an
// expired holder never frees a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTurnLocker is a TurnLocker shared by every instance pointing at the
// same Redis. Locks expire after TTL so a crashed holder cannot wedge a session.
type RedisTurnLocker struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
}

var _ TurnLocker = (*RedisTurnLocker)(nil)

// NewRedisTurnLocker creates a Redis-backed TurnLocker.
func NewRedisTurnLocker(client redis.UniversalClient, ttl time.Duration) *RedisTurnLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisTurnLocker{
		client:       client,
		prefix:       "onboard:turnlock:",
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
	}
}

func (l *RedisTurnLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire turn lock: %w", err)
		}
		if acquired {
			break
		}

		select {
		case <-time.After(l.pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = releaseScript.Run(context.Background(), l.client, []string{redisKey}, token).Err()
		})
	}, nil
}
