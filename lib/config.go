package lib

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/uvensys/linkgate"
	"github.com/uvensys/linkgate/internal"
	"github.com/uvensys/linkgate/lib/captcha"
	"github.com/uvensys/linkgate/lib/challenge"
	"github.com/uvensys/linkgate/lib/ratelimit"
	"github.com/uvensys/linkgate/lib/records"
	"github.com/uvensys/linkgate/lib/store"
)

// Options configures a Server. Everything environment-derived (the
// CAPTCHA API coordinates especially) arrives here explicitly so the
// Server is testable without process-wide environment mutation.
type Options struct {
	// Store is the shared keyed TTL store backing challenges and records.
	Store store.Interface

	// Limiter enforces the per-identity challenge issuance cap.
	Limiter ratelimit.Limiter

	// Key is the server MAC/signing key. Never disclosed to clients. If
	// empty a random one is generated, which breaks challenge verification
	// across restarts and across instances.
	Key []byte

	// CaptchaAPIURL and CaptchaAdminKey locate the external CAPTCHA
	// service's admin API. Both must be set for the admin proxy to work.
	CaptchaAPIURL   string
	CaptchaAdminKey string

	// ChallengeTTL is the challenge validity window. Defaults to
	// linkgate.ChallengeTTL.
	ChallengeTTL time.Duration

	CookieDomain        string
	CookieDynamicDomain bool
	CookieSecure        bool
}

// New assembles a Server from Options, filling in defaults.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("lib: Options.Store is required")
	}

	if len(opts.Key) == 0 {
		opts.Key = make([]byte, 32)
		if _, err := rand.Read(opts.Key); err != nil {
			return nil, fmt.Errorf("lib: can't generate signing key: %w", err)
		}
		slog.Warn("generating random signing key, challenges will not verify across restarts or between instances behind the same load balancer")
	}

	if opts.ChallengeTTL == 0 {
		opts.ChallengeTTL = linkgate.ChallengeTTL
	}

	if opts.Limiter == nil {
		return nil, fmt.Errorf("lib: Options.Limiter is required")
	}

	slog.Info("signing key loaded", "fingerprint", internal.KeyFingerprint(opts.Key))

	result := &Server{
		opts:    opts,
		records: records.New(opts.Store),
		captcha: captcha.New(opts.CaptchaAPIURL, opts.CaptchaAdminKey),
		generator: challenge.NewGenerator(
			opts.Key,
			challenge.NewSecretSource(opts.Key, linkgate.SecretRotationPeriod),
			opts.Limiter,
			opts.Store,
			opts.ChallengeTTL,
		),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+linkgate.APIPrefix+"challenge", result.MakeChallenge)
	mux.HandleFunc("GET "+linkgate.APIPrefix+"admin/ratelimit", result.AdminRateLimitGet)
	mux.HandleFunc("POST "+linkgate.APIPrefix+"admin/ratelimit", result.AdminRateLimitPost)
	mux.HandleFunc("POST "+linkgate.APIPrefix+"links", result.CreateLink)
	mux.HandleFunc("POST "+linkgate.APIPrefix+"sessions/refresh", result.RefreshSession)
	mux.HandleFunc("DELETE "+linkgate.APIPrefix+"sessions", result.EndSession)
	result.mux = mux

	return result, nil
}
