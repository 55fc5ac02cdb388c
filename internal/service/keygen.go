package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// SecretPrefix is the literal namespace prefix every Lacuna API key
	// starts with. Validation rejects anything without it before touching
	// the store, and tooling can recognize leaked keys by it.
	SecretPrefix = "lk_"

	// secretLength is the number of random characters after the prefix.
	secretLength = 32

	// DisplayPrefixLength is how much of the plaintext is kept for UI
	// identification: the namespace prefix plus 8 secret characters. It is
	// never sufficient to reconstruct or validate the secret.
	DisplayPrefixLength = len(SecretPrefix) + 8
)

// secretAlphabet is the fixed alphabet secrets are drawn from.
const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GeneratedSecret is the output of GenerateSecret. Only Digest and
// DisplayPrefix are ever persisted; the plaintext is shown to the caller
// once and then discarded.
type GeneratedSecret struct {
	Plaintext     string
	Digest        string
	DisplayPrefix string
}

// GenerateSecret produces a new high-entropy API key. The plaintext is the
// namespace prefix followed by characters drawn uniformly from the secret
// alphabet using crypto/rand. It fails only if the entropy source is
// unavailable, which is fatal and not retryable at this layer.
func GenerateSecret() (GeneratedSecret, error) {
	body, err := randomString(secretLength)
	if err != nil {
		return GeneratedSecret{}, fmt.Errorf("generate secret: %w", err)
	}
	plaintext := SecretPrefix + body
	return GeneratedSecret{
		Plaintext:     plaintext,
		Digest:        HashSecret(plaintext),
		DisplayPrefix: plaintext[:DisplayPrefixLength],
	}, nil
}

// HashSecret returns the hex-encoded SHA-256 digest of a raw secret. This is
// the only representation of the secret that is ever stored or compared.
func HashSecret(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// randomString draws n characters uniformly from secretAlphabet. Rejection
// sampling keeps the draw unbiased: a random byte is only used when it falls
// below the largest multiple of the alphabet size.
func randomString(n int) (string, error) {
	const limit = 256 - (256 % len(secretAlphabet))

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, secretAlphabet[int(b)%len(secretAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
