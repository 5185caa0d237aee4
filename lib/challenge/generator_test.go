package challenge

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/uvensys/linkgate/lib/ratelimit"
	"github.com/uvensys/linkgate/lib/store"
	"github.com/uvensys/linkgate/lib/store/memory"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testGenerator(t *testing.T) *Generator {
	t.Helper()

	return NewGenerator(
		testKey,
		NewSecretSource(testKey, 10*time.Minute),
		ratelimit.NewMemory(t.Context(), 10, time.Minute),
		memory.New(t.Context()),
		2*time.Minute,
	)
}

func TestGenerate(t *testing.T) {
	g := testGenerator(t)

	issued := time.Now()
	ch, err := g.Generate(t.Context(), "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}

	if ch.ID == "" || ch.Nonce == "" || ch.RotatingSecret == "" || ch.Signature == "" {
		t.Errorf("challenge has empty fields: %+v", ch)
	}

	wantExpiry := issued.Add(2 * time.Minute).UnixMilli()
	if diff := ch.ExpiresAt - wantExpiry; diff < -1000 || diff > 1000 {
		t.Errorf("expiresAt %d is not issuance plus the validity window (want about %d)", ch.ExpiresAt, wantExpiry)
	}

	if err := g.Verify(ch); err != nil {
		t.Errorf("freshly issued challenge must verify: %v", err)
	}
}

func TestGenerateEmptyIdentity(t *testing.T) {
	g := testGenerator(t)

	if _, err := g.Generate(t.Context(), ""); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("wanted ErrNoIdentity, got: %v", err)
	}
}

func TestGenerateRateLimit(t *testing.T) {
	g := testGenerator(t)

	for i := 0; i < 10; i++ {
		if _, err := g.Generate(t.Context(), "203.0.113.7"); err != nil {
			t.Fatalf("issuance %d failed: %v", i+1, err)
		}
	}

	if _, err := g.Generate(t.Context(), "203.0.113.7"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("11th issuance should be ErrRateLimited, got: %v", err)
	}

	if _, err := g.Generate(t.Context(), "198.51.100.4"); err != nil {
		t.Errorf("other identities must be unaffected: %v", err)
	}
}

func TestGenerateUniqueIDs(t *testing.T) {
	g := NewGenerator(
		testKey,
		NewSecretSource(testKey, 10*time.Minute),
		ratelimit.NewMemory(t.Context(), 2000, time.Minute),
		memory.New(t.Context()),
		2*time.Minute,
	)

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		ch, err := g.Generate(t.Context(), "203.0.113.7")
		if err != nil {
			t.Fatal(err)
		}
		if seen[ch.ID] {
			t.Fatalf("challenge_id %s was issued twice", ch.ID)
		}
		seen[ch.ID] = true
	}
}

func TestVerifyTamper(t *testing.T) {
	g := testGenerator(t)

	ch, err := g.Generate(t.Context(), "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name   string
		mutate func(c *Challenge)
	}{
		{"id", func(c *Challenge) { c.ID = strings.Repeat("0", len(c.ID)) }},
		{"nonce", func(c *Challenge) { c.Nonce = strings.Repeat("0", len(c.Nonce)) }},
		{"rotating_secret", func(c *Challenge) { c.RotatingSecret = strings.Repeat("0", len(c.RotatingSecret)) }},
		{"expiresAt", func(c *Challenge) { c.ExpiresAt += 60_000 }},
		{"signature", func(c *Challenge) { c.Signature = strings.Repeat("0", len(c.Signature)) }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			tampered := ch
			tt.mutate(&tampered)

			if err := g.Verify(tampered); !errors.Is(err, ErrBadSignature) {
				t.Errorf("tampered %s should fail verification, got: %v", tt.name, err)
			}
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	g := testGenerator(t)

	ch, err := g.Generate(t.Context(), "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}

	g.now = func() time.Time { return time.Now().Add(3 * time.Minute) }

	if err := g.Verify(ch); !errors.Is(err, ErrExpired) {
		t.Errorf("expired challenge should fail verification, got: %v", err)
	}
}

func TestRedeemOnce(t *testing.T) {
	g := testGenerator(t)

	ch, err := g.Generate(t.Context(), "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}

	got, err := g.Redeem(t.Context(), ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Signature != ch.Signature {
		t.Error("redeemed challenge does not match the issued one")
	}

	if _, err := g.Redeem(t.Context(), ch.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second redemption should fail with ErrNotFound, got: %v", err)
	}
}

func TestSecretSourceRotation(t *testing.T) {
	src := NewSecretSource(testKey, 10*time.Minute)

	now := time.Now()
	src.now = func() time.Time { return now }

	first := src.Current()
	if !src.Valid(first) {
		t.Error("current secret must be valid")
	}

	now = now.Add(10 * time.Minute)
	second := src.Current()

	if first == second {
		t.Error("secret did not rotate with the time slot")
	}
	if !src.Valid(first) {
		t.Error("previous slot's secret should stay valid for one rotation")
	}

	now = now.Add(10 * time.Minute)
	if src.Valid(first) {
		t.Error("secret two slots old must be rejected")
	}
}
