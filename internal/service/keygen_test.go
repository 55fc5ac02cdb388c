package service

import (
	"strings"
	"testing"
)

func TestGenerateSecretShape(t *testing.T) {
	sec, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}

	if !strings.HasPrefix(sec.Plaintext, SecretPrefix) {
		t.Errorf("plaintext %q missing prefix %q", sec.Plaintext, SecretPrefix)
	}
	if len(sec.Plaintext) != len(SecretPrefix)+secretLength {
		t.Errorf("plaintext length %d, want %d", len(sec.Plaintext), len(SecretPrefix)+secretLength)
	}
	if len(sec.DisplayPrefix) != DisplayPrefixLength {
		t.Errorf("display prefix length %d, want %d", len(sec.DisplayPrefix), DisplayPrefixLength)
	}
	if !strings.HasPrefix(sec.Plaintext, sec.DisplayPrefix) {
		t.Errorf("display prefix %q is not a prefix of the plaintext", sec.DisplayPrefix)
	}
	if sec.Digest != HashSecret(sec.Plaintext) {
		t.Error("digest does not match HashSecret of plaintext")
	}
	if len(sec.Digest) != 64 {
		t.Errorf("digest length %d, want 64 hex chars", len(sec.Digest))
	}

	for _, c := range sec.Plaintext[len(SecretPrefix):] {
		if !strings.ContainsRune(secretAlphabet, c) {
			t.Errorf("secret contains %q, outside the alphabet", c)
		}
	}
}

func TestGenerateSecretDigestsUnique(t *testing.T) {
	const samples = 10000

	seen := make(map[string]struct{}, samples)
	for i := 0; i < samples; i++ {
		sec, err := GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret (sample %d): %v", i, err)
		}
		if _, dup := seen[sec.Digest]; dup {
			t.Fatalf("digest collision after %d samples: %s", i, sec.Digest)
		}
		seen[sec.Digest] = struct{}{}
	}
}

func TestHashSecretDeterministic(t *testing.T) {
	a := HashSecret("lk_example")
	b := HashSecret("lk_example")
	if a != b {
		t.Error("HashSecret is not deterministic")
	}
	if a == HashSecret("lk_other") {
		t.Error("different inputs produced the same digest")
	}
}
