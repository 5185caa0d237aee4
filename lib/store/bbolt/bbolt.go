package bbolt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uvensys/linkgate/lib/store"
	"go.etcd.io/bbolt"
)

// Sentinel error values used for testing and in admin-visible error messages.
var (
	ErrNotExists = errors.New("bbolt: value does not exist in store")
)

// Store implements store.Interface backed by bbolt[1].
//
// bbolt is a hierarchical key/value store where every value belongs to a
// bucket. Each linkgate value gets its own bucket with two keys:
//
// 1. data - The raw record, usually JSON
// 2. expiry - The expiry time as a time.RFC3339Nano timestamp string
//
// Keeping the expiry in its own key lets the cleanup pass scan expiries
// without decoding whole records.
//
// bbolt is not suitable for environments where multiple linkgate instances
// need to share a backend store. For that, use the valkey backend.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb *bbolt.DB
}

func expired(itemBucket *bbolt.Bucket, now time.Time) (bool, error) {
	expiryStr := itemBucket.Get([]byte("expiry"))
	if expiryStr == nil {
		return false, fmt.Errorf("[unexpected] %w: expiry is nil", store.ErrCantDecode)
	}

	expiry, err := time.Parse(time.RFC3339Nano, string(expiryStr))
	if err != nil {
		return false, fmt.Errorf("[unexpected] %w: %w", store.ErrCantDecode, err)
	}

	return now.After(expiry), nil
}

// forever stands in for "no expiry" in a layout that always records one.
const forever = 200 * 365 * 24 * time.Hour

func expiresFrom(expiry time.Duration) time.Time {
	if expiry <= 0 {
		expiry = forever
	}
	return time.Now().Add(expiry)
}

func put(valueBkt *bbolt.Bucket, key string, value []byte, expires time.Time) error {
	if err := valueBkt.Put([]byte("expiry"), []byte(expires.Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("%w: %q (expiry)", store.ErrCantEncode, key)
	}

	if err := valueBkt.Put([]byte("data"), value); err != nil {
		return fmt.Errorf("%w: %q (data)", store.ErrCantEncode, key)
	}

	return nil
}

// Add inserts a value only if the key holds no live value. An expired
// leftover bucket does not count as live and gets overwritten.
func (s *Store) Add(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	expires := expiresFrom(expiry)

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		if itemBucket := tx.Bucket([]byte(key)); itemBucket != nil {
			dead, err := expired(itemBucket, time.Now())
			if err != nil {
				return err
			}
			if !dead {
				return fmt.Errorf("%w: %q", store.ErrAlreadyExists, key)
			}
		}

		valueBkt, err := tx.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return fmt.Errorf("%w: %w: %q (create bucket)", store.ErrCantEncode, err, key)
		}

		return put(valueBkt, key, value, expires)
	})
}

// Delete a key from the datastore. If the key does not exist, return an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(key)) == nil {
			return fmt.Errorf("%w: %q", ErrNotExists, key)
		}

		return tx.DeleteBucket([]byte(key))
	})
}

// Get a value from the datastore.
//
// The expiry key is checked first; values past their expiry are reported
// as not found and deleted in the background.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		itemBucket := tx.Bucket([]byte(key))
		if itemBucket == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		dead, err := expired(itemBucket, time.Now())
		if err != nil {
			return fmt.Errorf("%w: %q", err, key)
		}

		if dead {
			go s.Delete(context.Background(), key)
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		dataStr := itemBucket.Get([]byte("data"))
		if dataStr == nil {
			return fmt.Errorf("[unexpected] %w: %q (data is nil)", store.ErrNotFound, key)
		}

		result = make([]byte, len(dataStr))
		copy(result, dataStr)

		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// Set a value into the store with a given expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	expires := expiresFrom(expiry)

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		valueBkt, err := tx.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return fmt.Errorf("%w: %w: %q (create bucket)", store.ErrCantEncode, err, key)
		}

		return put(valueBkt, key, value, expires)
	})
}

func (s *Store) cleanup(ctx context.Context) error {
	now := time.Now()

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		var doomed [][]byte

		if err := tx.ForEach(func(key []byte, valueBkt *bbolt.Bucket) error {
			dead, err := expired(valueBkt, now)
			if err != nil {
				slog.Warn("skipping undecodable bucket during cleanup", "key", string(key), "err", err)
				return nil
			}

			if dead {
				doomed = append(doomed, key)
			}

			return nil
		}); err != nil {
			return err
		}

		for _, key := range doomed {
			if err := tx.DeleteBucket(key); err != nil {
				return fmt.Errorf("can't delete expired bucket %q: %w", string(key), err)
			}
		}

		return nil
	})
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.cleanup(ctx); err != nil {
				slog.Error("error during bbolt cleanup", "err", err)
			}
		}
	}
}
