package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/uvensys/linkgate/decaymap"
	"github.com/uvensys/linkgate/lib/store"
)

type factory struct{}

func (factory) Build(ctx context.Context, _ json.RawMessage) (store.Interface, error) {
	return New(ctx), nil
}

func (factory) Valid(json.RawMessage) error { return nil }

func init() {
	store.Register("memory", factory{})
}

// forever stands in for "no expiry" in a map that always wants one.
const forever = 200 * 365 * 24 * time.Hour

func effectiveTTL(expiry time.Duration) time.Duration {
	if expiry <= 0 {
		return forever
	}
	return expiry
}

type impl struct {
	store *decaymap.Impl[string, []byte]

	// addLock serializes Add so the existence check and the write are one
	// critical section.
	addLock sync.Mutex
}

func (i *impl) Add(_ context.Context, key string, value []byte, expiry time.Duration) error {
	i.addLock.Lock()
	defer i.addLock.Unlock()

	if _, ok := i.store.Get(key); ok {
		return fmt.Errorf("%w: %q", store.ErrAlreadyExists, key)
	}

	i.store.Set(key, value, effectiveTTL(expiry))
	return nil
}

func (i *impl) Delete(_ context.Context, key string) error {
	if !i.store.Delete(key) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return nil
}

func (i *impl) Get(_ context.Context, key string) ([]byte, error) {
	result, ok := i.store.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return result, nil
}

func (i *impl) Set(_ context.Context, key string, value []byte, expiry time.Duration) error {
	i.store.Set(key, value, effectiveTTL(expiry))
	return nil
}

func (i *impl) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			i.store.Cleanup()
		}
	}
}

// New creates a simple in-memory store. This will not scale to multiple
// linkgate instances; use the valkey backend for that.
func New(ctx context.Context) store.Interface {
	result := &impl{
		store: decaymap.New[string, []byte](),
	}

	go result.cleanupThread(ctx)

	return result
}
