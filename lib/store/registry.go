package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

var (
	registry map[string]Factory = map[string]Factory{}
	regLock  sync.RWMutex
)

// Factory builds store backends from the backend-specific JSON blob in
// the settings document. Valid must be callable before Build so the
// settings loader can reject a bad document without opening databases or
// dialing anything.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Interface, error)
	Valid(config json.RawMessage) error
}

// Register adds a backend under the name the settings document selects it
// by. Called from the backend packages' init functions; import
// lib/store/all to get them all.
func Register(name string, impl Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name string) (Factory, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

// Methods lists the registered backend names, sorted so the "unknown
// backend" settings error reads stably.
func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for method := range registry {
		result = append(result, method)
	}
	sort.Strings(result)
	return result
}
