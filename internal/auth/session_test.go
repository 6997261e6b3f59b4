package auth

import (
	"strings"
	"testing"
)

func TestGenerateSessionToken(t *testing.T) {
	t.Parallel()

	token, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("GenerateSessionToken failed: %v", err)
	}

	if !strings.HasPrefix(token.Plaintext, "tk_"+token.Prefix+"_") {
		t.Errorf("token %q should start with tk_%s_", token.Plaintext, token.Prefix)
	}
	if len(token.Prefix) != TokenPrefixLen {
		t.Errorf("prefix length = %d, want %d", len(token.Prefix), TokenPrefixLen)
	}
	if token.Hash != TokenHash(token.Plaintext) {
		t.Error("hash should be derived from plaintext")
	}
	if len(token.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(token.Hash))
	}

	prefix, err := ParseSessionToken(token.Plaintext)
	if err != nil {
		t.Fatalf("ParseSessionToken failed: %v", err)
	}
	if prefix != token.Prefix {
		t.Errorf("prefix = %q, want %q", prefix, token.Prefix)
	}
}

func TestGenerateSessionToken_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateSessionToken()
		if err != nil {
			t.Fatalf("GenerateSessionToken failed: %v", err)
		}
		if seen[token.Plaintext] {
			t.Fatalf("duplicate token %q", token.Plaintext)
		}
		seen[token.Plaintext] = true
	}
}

func TestParseSessionToken_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no prefix", "7a9b3c1d_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b"},
		{"wrong scheme", "pk_7a9b3c1d_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b"},
		{"short secret", "tk_7a9b3c1d_4f8d2e1b"},
		{"uppercase", "tk_7A9B3C1D_4F8D2E1B9C7A5F3D2E1B9C7A5F3D2E1B"},
		{"short prefix", "tk_7a9b_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := ParseSessionToken(tt.token); err != ErrInvalidTokenFormat {
				t.Errorf("ParseSessionToken(%q) error = %v, want ErrInvalidTokenFormat", tt.token, err)
			}
		})
	}
}

func TestTokenHash_Deterministic(t *testing.T) {
	t.Parallel()

	a := TokenHash("tk_00000000_00000000000000000000000000000000")
	b := TokenHash("tk_00000000_00000000000000000000000000000000")
	c := TokenHash("tk_00000000_00000000000000000000000000000001")

	if a != b {
		t.Error("same input should produce same hash")
	}
	if a == c {
		t.Error("different input should produce different hash")
	}
}
