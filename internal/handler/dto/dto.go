// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"net/url"
	"strconv"
	"strings"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// FormBinder is implemented by request types that can also be posted as
// application/x-www-form-urlencoded.
type FormBinder interface {
	BindForm(values url.Values) error
}

func formInt(values url.Values, key string) (int64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
