/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package options

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisNamespace prefixes every option key stored in Redis.
const DefaultRedisNamespace = "updatehelper:options:"

// setIfChanged writes ARGV[1] unless the key already holds exactly that value.
var setIfChanged = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

// RedisStore keeps options as plain Redis strings.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisStore wraps client. An empty namespace selects DefaultRedisNamespace.
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) key(name string) string {
	return s.namespace + name
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get option %s: %w", key, err)
	}
	return raw, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := setIfChanged.Run(ctx, s.client, []string{s.key(key)}, value).Int()
	if err != nil {
		return false, fmt.Errorf("set option %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("delete option %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := globEscape(s.key(prefix)) + "*"

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list options %s*: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
