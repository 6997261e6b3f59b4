// Package middleware provides HTTP middleware for the Tikiti API.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
)

// IdempotencyKeyHeader carries the caller's key for mutating requests.
const IdempotencyKeyHeader = "Idempotency-Key"

// MaxIdempotencyKeyLength is the longest key accepted.
const MaxIdempotencyKeyLength = 128

const idempotencyKeyCtx contextKey = "idempotency_key"

// Validation errors.
var (
	ErrIdempotencyKeyTooLong = errors.New("idempotency key exceeds maximum length")
	ErrIdempotencyKeyInvalid = errors.New("idempotency key contains invalid characters")
)

// Keys are stored with a prefix such as "purchase:" in the ledger, so they
// stay printable ASCII without whitespace.
var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// ValidateIdempotencyKey checks a caller supplied key. Empty is valid and
// means the request has no replay protection.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return nil
	}
	if len(key) > MaxIdempotencyKeyLength {
		return ErrIdempotencyKeyTooLong
	}
	if !idempotencyKeyPattern.MatchString(key) {
		return ErrIdempotencyKeyInvalid
	}
	return nil
}

// IdempotencyKey validates the Idempotency-Key header and stores it in the
// request context.
func IdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if err := ValidateIdempotencyKey(key); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"message":"` + err.Error() + `","code":"INVALID_IDEMPOTENCY_KEY"}`))
			return
		}
		if key != "" {
			r = r.WithContext(context.WithValue(r.Context(), idempotencyKeyCtx, key))
		}
		next.ServeHTTP(w, r)
	})
}

// GetIdempotencyKey returns the validated key, or "" if none was sent.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyCtx).(string); ok {
		return key
	}
	return ""
}
