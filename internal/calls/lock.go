package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockTimeout is returned when a thread lock could not be obtained in time.
var ErrLockTimeout = errors.New("calls: thread lock not obtained")

// ThreadLocker serializes writers to one conversation thread.
type ThreadLocker interface {
	Lock(ctx context.Context, callID string) (unlock func(), err error)
}

// RedisThreadLocker holds a short-lived Redis lock per thread so API replicas coordinate.
type RedisThreadLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewRedisThreadLocker builds a locker on any go-redis client.
func NewRedisThreadLocker(rdb redislock.RedisClient, ttl time.Duration) *RedisThreadLocker {
	if rdb == nil {
		panic("calls: redis client required for thread lock")
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisThreadLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
	}
}

func (l *RedisThreadLocker) Lock(ctx context.Context, callID string) (func(), error) {
	lock, err := l.client.Obtain(ctx, "lock:thread:"+callID, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("calls: obtain thread lock: %w", err)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}

// LocalThreadLocker is an in-process locker for single-replica and memory deployments.
type LocalThreadLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalThreadLocker() *LocalThreadLocker {
	return &LocalThreadLocker{slots: make(map[string]*lockSlot)}
}

func (l *LocalThreadLocker) Lock(ctx context.Context, callID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[callID]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[callID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(callID, slot, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(callID, slot, true) })
	}, nil
}

func (l *LocalThreadLocker) release(callID string, slot *lockSlot, held bool) {
	if held {
		<-slot.ch
	}
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, callID)
	}
	l.mu.Unlock()
}
