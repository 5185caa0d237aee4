package challenge

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"
)

// SecretSource derives the rotating secret for the current time slot from
// the server key. Derivation is deterministic, so every instance sharing
// the key agrees on the secret without coordination, and nothing needs to
// be stored or replicated for rotation to happen.
type SecretSource struct {
	key    []byte
	period time.Duration
	now    func() time.Time
}

func NewSecretSource(key []byte, period time.Duration) *SecretSource {
	return &SecretSource{
		key:    key,
		period: period,
		now:    time.Now,
	}
}

func (s *SecretSource) at(slot int64) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte("rotating-secret:" + strconv.FormatInt(slot, 10)))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

func (s *SecretSource) slot() int64 {
	return s.now().UnixNano() / int64(s.period)
}

// Current returns the secret for the present time slot.
func (s *SecretSource) Current() string {
	return s.at(s.slot())
}

// Valid reports whether secret is the current or the immediately previous
// slot's secret. Accepting one slot of grace keeps challenges issued just
// before a rotation verifiable for their whole validity window.
func (s *SecretSource) Valid(secret string) bool {
	cur := s.slot()

	for _, candidate := range []string{s.at(cur), s.at(cur - 1)} {
		if subtle.ConstantTimeCompare([]byte(secret), []byte(candidate)) == 1 {
			return true
		}
	}

	return false
}
