// Package locks serialises work on a shared key, such as a bank reference
// number, across requests and instances.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when the key stays locked past the retry budget.
var ErrBusy = errors.New("lock is held by another request")

type Locker interface {
	// Lock blocks until key is held and returns the release func.
	Lock(ctx context.Context, key string) (func(), error)
}

// Local locks keys within one process.
type Local struct {
	mu   sync.Mutex
	keys map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{keys: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.drop(key, e)
		})
	}, nil
}

func (l *Local) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// Redis locks keys across instances with redsync.
type Redis struct {
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
}

func NewRedis(client *redis.Client, prefix string, expiry time.Duration) *Redis {
	if expiry <= 0 {
		expiry = time.Minute
	}
	pool := goredis.NewPool(client)
	return &Redis{rs: redsync.New(pool), prefix: prefix, expiry: expiry}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	m := r.rs.NewMutex(r.prefix+key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(40),
		redsync.WithRetryDelay(250*time.Millisecond),
	)
	if err := m.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
		}
		return nil, fmt.Errorf("lock %s: %w: %v", key, ErrBusy, err)
	}
	return func() {
		// detached from the request context
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = m.UnlockContext(ctx)
	}, nil
}
