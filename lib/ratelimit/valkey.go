package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/uvensys/linkgate/internal"
	valkey "github.com/redis/go-redis/v9"
)

// Valkey counts issuances in valkey so the cap holds across every linkgate
// instance sharing the store. It uses INCR with a window-length expiry set
// on first increment, which is atomic server-side; the window is fixed
// rather than sliding, a bounded deviation the deployment accepts in
// exchange for one round trip per check.
type Valkey struct {
	rdb    *valkey.Client
	limit  int
	window time.Duration
}

func NewValkey(rdb *valkey.Client, limit int, window time.Duration) *Valkey {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	return &Valkey{
		rdb:    rdb,
		limit:  limit,
		window: window,
	}
}

// Allow increments the identity's counter and checks it against the limit.
// Any transport failure denies issuance: losing rate-limit accounting must
// never fail open.
func (v *Valkey) Allow(ctx context.Context, identity string) (bool, error) {
	key := "linkgate:ratelimit:" + internal.FastHash(identity)

	pipe := v.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, v.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("can't bump rate counter in valkey: %w", err)
	}

	return incr.Val() <= int64(v.limit), nil
}
