package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Token format: tk_{prefix}_{secret}
// Example: tk_7a9x3k1b_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const (
	TokenPrefixLen = 8  // hex encoded 4 bytes
	TokenSecretLen = 32 // hex encoded 16 bytes
)

var (
	// ErrInvalidTokenFormat indicates the session token format is invalid.
	ErrInvalidTokenFormat = errors.New("invalid session token format")
	// ErrUnauthenticated means no live session matches a token.
	ErrUnauthenticated = errors.New("not authenticated")

	tokenFormatRegex = regexp.MustCompile(`^tk_([a-f0-9]{8})_([a-f0-9]{32})$`)
)

// SessionToken is a freshly issued session token.
type SessionToken struct {
	Plaintext string // returned to the client once
	Hash      string // storage key
	Prefix    string // safe to log
}

// GenerateSessionToken creates a random session token.
func GenerateSessionToken() (*SessionToken, error) {
	prefixBytes := make([]byte, TokenPrefixLen/2)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	secretBytes := make([]byte, TokenSecretLen/2)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	prefix := hex.EncodeToString(prefixBytes)
	plaintext := fmt.Sprintf("tk_%s_%s", prefix, hex.EncodeToString(secretBytes))

	return &SessionToken{
		Plaintext: plaintext,
		Hash:      TokenHash(plaintext),
		Prefix:    prefix,
	}, nil
}

// ParseSessionToken validates a token and returns its visible prefix.
func ParseSessionToken(token string) (prefix string, err error) {
	matches := tokenFormatRegex.FindStringSubmatch(token)
	if matches == nil {
		return "", ErrInvalidTokenFormat
	}
	return matches[1], nil
}

// TokenHash returns the SHA256 hex digest a session is stored under.
// Tokens carry 128 random bits, so a fast hash is enough.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
