package dto

import (
	"net/url"
	"strings"
	"time"

	"github.com/tikiti/tikiti/internal/model"
)

// RegisterRequest represents the request body for registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// BindForm implements FormBinder.
func (r *RegisterRequest) BindForm(values url.Values) error {
	r.Username = strings.TrimSpace(values.Get("username"))
	r.Phone = strings.TrimSpace(values.Get("phone"))
	r.Password = values.Get("password")
	return nil
}

// LoginRequest represents the request body for login.
type LoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// BindForm implements FormBinder.
func (r *LoginRequest) BindForm(values url.Values) error {
	r.Phone = strings.TrimSpace(values.Get("phone"))
	r.Password = values.Get("password")
	return nil
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Balance  int64  `json:"balance"`
}

// SessionResponse answers register and login.
type SessionResponse struct {
	Success   bool          `json:"success"`
	User      *UserResponse `json:"user"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// AuthStatusResponse answers GET /api/auth/status.
type AuthStatusResponse struct {
	Authenticated bool          `json:"authenticated"`
	User          *UserResponse `json:"user,omitempty"`
}

// ToUserResponse converts a User model.
func ToUserResponse(u *model.User) *UserResponse {
	return &UserResponse{
		ID:       u.ID,
		Username: u.Username,
		Phone:    u.Phone,
		Balance:  u.Balance,
	}
}
