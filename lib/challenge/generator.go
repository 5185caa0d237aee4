package challenge

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/uvensys/linkgate/lib/ratelimit"
	"github.com/uvensys/linkgate/lib/store"
)

var (
	// ErrRateLimited is returned by Generate when the identity has hit its
	// issuance cap for the trailing window.
	ErrRateLimited = errors.New("challenge: rate limit exceeded")

	// ErrBadSignature is returned when a challenge's MAC does not verify.
	ErrBadSignature = errors.New("challenge: signature does not verify")

	// ErrExpired is returned when a challenge is past its validity window.
	ErrExpired = errors.New("challenge: expired")

	// ErrNoIdentity is returned when the caller could not supply a client
	// identity to rate limit on.
	ErrNoIdentity = errors.New("challenge: empty client identity")
)

// Generator creates challenges for client identities, enforcing the
// per-identity issuance cap and keeping outstanding challenges in the
// store until they are redeemed or expire.
type Generator struct {
	key     []byte
	secrets *SecretSource
	limiter ratelimit.Limiter
	store   *store.JSON[Challenge]
	ttl     time.Duration
	now     func() time.Time
}

func NewGenerator(key []byte, secrets *SecretSource, limiter ratelimit.Limiter, backing store.Interface, ttl time.Duration) *Generator {
	return &Generator{
		key:     key,
		secrets: secrets,
		limiter: limiter,
		store:   &store.JSON[Challenge]{Underlying: backing, Prefix: "linkgate:challenge:"},
		ttl:     ttl,
		now:     time.Now,
	}
}

// sign computes the MAC over the canonical (id, nonce, secret, expiresAt)
// tuple with the server key. The key is never disclosed to clients; the
// resulting signature is.
func sign(key []byte, id, nonce, secret string, expiresAt int64) string {
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.%s.%s", id, nonce, secret, strconv.FormatInt(expiresAt, 10))
	return hex.EncodeToString(mac.Sum(nil))
}

// Generate issues a new challenge for identity or fails with
// ErrRateLimited. Any storage failure denies issuance rather than losing
// accounting.
func (g *Generator) Generate(ctx context.Context, identity string) (Challenge, error) {
	if identity == "" {
		return Challenge{}, ErrNoIdentity
	}

	allowed, err := g.limiter.Allow(ctx, identity)
	if err != nil {
		return Challenge{}, fmt.Errorf("can't check rate limit for %q: %w", identity, err)
	}
	if !allowed {
		return Challenge{}, fmt.Errorf("%w: %q", ErrRateLimited, identity)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Challenge{}, fmt.Errorf("can't generate nonce: %w", err)
	}

	result := Challenge{
		ID:             uuid.NewString(),
		Nonce:          hex.EncodeToString(nonce),
		RotatingSecret: g.secrets.Current(),
		ExpiresAt:      g.now().Add(g.ttl).UnixMilli(),
	}
	result.Signature = sign(g.key, result.ID, result.Nonce, result.RotatingSecret, result.ExpiresAt)

	// Add, not Set: a challenge_id must never be reissued while a live
	// challenge holds it.
	if err := g.store.Add(ctx, result.ID, result, g.ttl); err != nil {
		return Challenge{}, fmt.Errorf("can't persist challenge %s: %w", result.ID, err)
	}

	return result, nil
}

// Verify checks a challenge's authenticity and freshness without touching
// the store. Altering any field invalidates the signature.
func (g *Generator) Verify(ch Challenge) error {
	want := sign(g.key, ch.ID, ch.Nonce, ch.RotatingSecret, ch.ExpiresAt)

	if subtle.ConstantTimeCompare([]byte(ch.Signature), []byte(want)) != 1 {
		return ErrBadSignature
	}

	if ch.Expired(g.now()) {
		return fmt.Errorf("%w: %s", ErrExpired, ch.ID)
	}

	if !g.secrets.Valid(ch.RotatingSecret) {
		return fmt.Errorf("%w: rotating secret is stale", ErrExpired)
	}

	return nil
}

// Redeem consumes an outstanding challenge by ID. The first redemption
// wins; the record is deleted so a proof can never replay against the
// same challenge_id. Returns store.ErrNotFound for unknown, expired or
// already-redeemed challenges.
func (g *Generator) Redeem(ctx context.Context, id string) (Challenge, error) {
	result, err := g.store.Get(ctx, id)
	if err != nil {
		return Challenge{}, err
	}

	if err := g.store.Delete(ctx, id); err != nil {
		// Lost the race against a concurrent redemption.
		return Challenge{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}

	return result, nil
}
