package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/uvensys/linkgate/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *valkey.Client
}

// Client exposes the underlying connection so sibling components (like the
// shared rate limiter) can reuse it instead of dialing twice.
func (s *Store) Client() *valkey.Client {
	return s.rdb
}

// clampExpiry maps "no expiry" onto valkey's native 0 (persist).
func clampExpiry(expiry time.Duration) time.Duration {
	if expiry < 0 {
		return 0
	}
	return expiry
}

// Add relies on SET NX so insert-if-absent is atomic server-side.
func (s *Store) Add(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	ok, err := s.rdb.SetNX(ctx, key, string(value), clampExpiry(expiry)).Result()
	if err != nil {
		return fmt.Errorf("can't add %q in valkey: %w", key, err)
	}

	if !ok {
		return fmt.Errorf("%w: %q", store.ErrAlreadyExists, key)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("can't delete from valkey: %w", err)
	}

	switch n {
	case 0:
		return fmt.Errorf("%w: %d key(s) deleted", store.ErrNotFound, n)
	default:
		return nil
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if valkey.HasErrorPrefix(err, "redis: nil") {
			return nil, fmt.Errorf("%w: %w", store.ErrNotFound, err)
		}

		return nil, fmt.Errorf("can't fetch from valkey: %w", err)
	}

	return []byte(result), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	if _, err := s.rdb.Set(ctx, key, string(value), clampExpiry(expiry)).Result(); err != nil {
		return fmt.Errorf("can't set %q in valkey: %w", key, err)
	}

	return nil
}
