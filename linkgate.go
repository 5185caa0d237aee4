// Package linkgate contains the process-wide defaults for the linkgate
// service: a link shortener backend combined with a bot-mitigation
// challenge endpoint.
package linkgate

import "time"

// Version is the linkgate version, set at build time with -ldflags.
var Version = "devel"

var (
	// CookieName is the name of the session cookie issued to signed-in users.
	CookieName = "uvensys.de-linkgate-session"

	// APIPrefix is the path prefix all JSON API routes are mounted under.
	APIPrefix = "/api/"
)

const (
	// ChallengeTTL is how long an issued challenge stays valid. Long enough
	// for a client to compute a proof, short enough to bound replay windows.
	ChallengeTTL = 2 * time.Minute

	// SecretRotationPeriod is how often the rotating secret advances to the
	// next time slot.
	SecretRotationPeriod = 10 * time.Minute

	// ChallengeRateLimit is the maximum number of challenges a single client
	// identity may be issued within ChallengeRateWindow.
	ChallengeRateLimit = 10

	// ChallengeRateWindow is the trailing window the issuance cap applies to.
	ChallengeRateWindow = time.Minute

	// SessionTTL is how long a session record lives before the store expires
	// it. Sessions are deliberately short; clients are expected to refresh.
	SessionTTL = 6 * time.Minute

	// SuspiciousIPTTL is how long a suspicious-IP flag persists.
	SuspiciousIPTTL = 24 * time.Hour

	// UpstreamTimeout bounds outbound calls to the external CAPTCHA admin
	// API. Unbounded waits on a remote service are a resource leak.
	UpstreamTimeout = 10 * time.Second
)
