package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the store implementation cannot find the value
	// for a given key.
	ErrNotFound = errors.New("store: key not found")

	// ErrAlreadyExists is returned by Add when the key already holds a live
	// value. This is how unique constraints (session tokens, slugs, emails)
	// surface from the storage layer.
	ErrAlreadyExists = errors.New("store: key already exists")

	// ErrCantDecode is returned when a store adaptor cannot decode the store format
	// to a value used by the code.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a store adaptor cannot encode the value into
	// the format that the store uses.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a store adaptor's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")
)

// Interface defines the calls linkgate makes against a local or remote
// datastore. Every value carries an expiry; expired values behave as if
// they were deleted, so callers never need an explicit deletion sweep.
// A non-positive expiry means the value does not expire.
type Interface interface {
	// Add puts a value into the store only if the key does not already hold
	// a live value. Returns ErrAlreadyExists otherwise.
	Add(ctx context.Context, key string, value []byte, expiry time.Duration) error

	// Delete removes a value from the store by key.
	Delete(ctx context.Context, key string) error

	// Get returns the value of a key assuming that value exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set puts a value into the store that expires according to its expiry.
	Set(ctx context.Context, key string, value []byte, expiry time.Duration) error
}

func z[T any]() T { return *new(T) }

// JSON adapts an Interface into a typed store for one kind of record,
// optionally namespaced under a key prefix.
type JSON[T any] struct {
	Underlying Interface
	Prefix     string
}

func (j *JSON[T]) key(key string) string {
	if j.Prefix != "" {
		return j.Prefix + key
	}
	return key
}

func (j *JSON[T]) Add(ctx context.Context, key string, value T, expiry time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	return j.Underlying.Add(ctx, j.key(key), data, expiry)
}

func (j *JSON[T]) Delete(ctx context.Context, key string) error {
	return j.Underlying.Delete(ctx, j.key(key))
}

func (j *JSON[T]) Get(ctx context.Context, key string) (T, error) {
	data, err := j.Underlying.Get(ctx, j.key(key))
	if err != nil {
		return z[T](), err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return z[T](), fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return result, nil
}

func (j *JSON[T]) Set(ctx context.Context, key string, value T, expiry time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	return j.Underlying.Set(ctx, j.key(key), data, expiry)
}
