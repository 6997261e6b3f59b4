// Package model defines domain entities for the application.
package model

import (
	"regexp"
	"time"
)

// msisdnPattern matches a Kenyan mobile number in international format:
// country code 254 followed by exactly 9 digits.
var msisdnPattern = regexp.MustCompile(`^254\d{9}$`)

// ValidMSISDN reports whether phone is a 254XXXXXXXXX mobile number.
func ValidMSISDN(phone string) bool {
	return msisdnPattern.MatchString(phone)
}

// User is a wallet holder. Balance is kept in minor currency units and is
// only ever changed through the ledger.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	Balance      int64     `json:"balance"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthContext holds the authenticated principal of a request.
// This is injected into the request context by auth middleware.
type AuthContext struct {
	UserID      string
	Username    string
	TokenPrefix string
	ExpiresAt   time.Time
}

// IsExpired returns true if the session behind the context has expired.
func (a *AuthContext) IsExpired() bool {
	return !a.ExpiresAt.IsZero() && time.Now().After(a.ExpiresAt)
}
