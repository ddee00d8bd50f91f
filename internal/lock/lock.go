/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lock provides expiring mutual exclusion for timer evaluation.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReleaseFunc gives up a held lock. It is safe to call more than once.
type ReleaseFunc func(ctx context.Context) error

// Locker hands out named locks that expire after ttl unless released.
// acquired is false when another holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release ReleaseFunc, acquired bool, err error)
}

// Local is an in-process Locker for single instance deployments.
type Local struct {
	mu      sync.Mutex
	holders map[string]localHold
	now     func() time.Time
}

type localHold struct {
	token   string
	expires time.Time
}

// NewLocal returns an in-process locker.
func NewLocal() *Local {
	return &Local{holders: make(map[string]localHold), now: time.Now}
}

func (l *Local) TryLock(_ context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	if ttl <= 0 {
		return nil, false, errors.New("lock ttl must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, held := l.holders[key]; held && now.Before(h.expires) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.holders[key] = localHold{token: token, expires: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.holders[key]; ok && h.token == token {
			delete(l.holders, key)
		}
		return nil
	}
	return release, true, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// DefaultRedisPrefix namespaces lock keys in Redis.
const DefaultRedisPrefix = "updatehelper:lock:"

// Redis is a Locker shared by every instance using the same Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps client. An empty prefix selects DefaultRedisPrefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	if ttl <= 0 {
		return nil, false, errors.New("lock ttl must be positive")
	}

	full := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{full}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}
