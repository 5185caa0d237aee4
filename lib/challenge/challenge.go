// Package challenge issues and verifies the short-lived cryptographic
// challenges handed to clients for abuse prevention.
package challenge

import "time"

// Challenge is a single issued challenge. Every field is sent to the
// client verbatim: the rotating secret is a deliberate disclosure (the
// client's proof of work takes it as input) and the signature makes the
// record self-certifying, so the server can verify a later proof without
// a store lookup.
type Challenge struct {
	ID             string `json:"challenge_id"`
	Nonce          string `json:"nonce"`
	RotatingSecret string `json:"rotating_secret"`
	Signature      string `json:"signature"`

	// ExpiresAt is epoch milliseconds. Challenges are single-window and
	// non-renewable.
	ExpiresAt int64 `json:"expiresAt"`
}

// Expired reports whether the challenge's validity window has passed.
func (c Challenge) Expired(now time.Time) bool {
	return now.UnixMilli() >= c.ExpiresAt
}
