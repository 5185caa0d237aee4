package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// KeyFingerprint returns a short hex digest of secret key material, safe to
// log for telling key generations apart without disclosing the key.
func KeyFingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

// FastHash is a high-performance non-cryptographic hash used to derive
// bounded-size bucket keys from client identities. Do not use it anywhere
// an attacker-controlled collision would matter.
func FastHash(text string) string {
	h := xxhash.Sum64String(text)
	return strconv.FormatUint(h, 16)
}
