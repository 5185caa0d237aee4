// Package ratelimit enforces the per-identity challenge issuance cap.
package ratelimit

import (
	"context"
	"time"
)

// Limiter answers whether a client identity may be issued another
// challenge right now.
//
// Implementations must make the check-and-count step atomic per identity:
// concurrent requests from one identity may never exceed the cap by more
// than the margin the backing store itself allows. On storage failure the
// caller is expected to fail closed, so Allow returns the error alongside
// a false verdict.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
}

const (
	// DefaultLimit is how many issuances a single identity gets per window.
	DefaultLimit = 10

	// DefaultWindow is the trailing window the limit applies to.
	DefaultWindow = time.Minute
)
