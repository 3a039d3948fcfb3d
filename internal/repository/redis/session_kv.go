package redis

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "hrss:session:"

// NewClient connects to addr and pings it once.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// sessionStoreImpl keeps one namespace in a single hash. Every write and
// every successful read slides the hash TTL, so only idle sessions expire.
type sessionStoreImpl struct {
	rdb goredis.Cmdable
	key string
	ttl time.Duration
}

// NewSessionStore returns the Store for namespace. A zero ttl disables expiry.
func NewSessionStore(rdb goredis.Cmdable, namespace string, ttl time.Duration) session.Store {
	return &sessionStoreImpl{rdb: rdb, key: keyPrefix + namespace, ttl: ttl}
}

func NewSessionStoreFactory(rdb goredis.Cmdable, ttl time.Duration) session.StoreFactory {
	return func(namespace string) session.Store {
		return NewSessionStore(rdb, namespace, ttl)
	}
}

func (s *sessionStoreImpl) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, s.key, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if err := s.touch(ctx); err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sessionStoreImpl) Set(ctx context.Context, key string, value string) error {
	if err := s.rdb.HSet(ctx, s.key, key, value).Err(); err != nil {
		return err
	}
	return s.touch(ctx)
}

// SetMany runs HDEL, HSET and EXPIRE inside one MULTI/EXEC.
func (s *sessionStoreImpl) SetMany(ctx context.Context, values map[string]string, remove ...string) error {
	if len(values) == 0 && len(remove) == 0 {
		return nil
	}
	fields := make([]string, 0, len(values))
	for k := range values {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	args := make([]any, 0, len(values)*2)
	for _, k := range fields {
		args = append(args, k, values[k])
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(remove) > 0 {
			pipe.HDel(ctx, s.key, remove...)
		}
		if len(args) > 0 {
			pipe.HSet(ctx, s.key, args...)
			if s.ttl > 0 {
				pipe.Expire(ctx, s.key, s.ttl)
			}
		}
		return nil
	})
	return err
}

func (s *sessionStoreImpl) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, s.key, keys...).Err()
}

func (s *sessionStoreImpl) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}

func (s *sessionStoreImpl) touch(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	return s.rdb.Expire(ctx, s.key, s.ttl).Err()
}
