// Package service provides account business logic: registration, login and
// session lookup.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tikiti/tikiti/internal/auth"
	"github.com/tikiti/tikiti/internal/model"
	"github.com/tikiti/tikiti/internal/repository"
)

// Service errors.
var (
	ErrInvalidUsername    = errors.New("username must be 3-32 letters, digits or underscores")
	ErrInvalidPhone       = errors.New("phone must be in 254XXXXXXXXX format")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrPhoneTaken         = errors.New("phone already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = auth.ErrUnauthenticated
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

const (
	minPasswordLength = 8
	maxPasswordLength = 128

	// DefaultSessionTTL is how long a login stays valid.
	DefaultSessionTTL = 24 * time.Hour
)

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*model.User, error)
}

// SessionStore keeps login sessions keyed by token hash.
// GetSession returns nil, nil on a miss.
type SessionStore interface {
	SaveSession(ctx context.Context, tokenHash string, s *model.AuthContext) error
	GetSession(ctx context.Context, tokenHash string) (*model.AuthContext, error)
	DeleteSession(ctx context.Context, tokenHash string) error
}

// BalanceReader reports wallet balances. The ledger is the source of truth.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (int64, error)
}

// AccountService handles user accounts and their sessions.
type AccountService struct {
	users    UserStore
	sessions SessionStore
	balances BalanceReader
	ttl      time.Duration
	logger   *slog.Logger

	hash func(password string) (string, error)
	now  func() time.Time
}

// NewAccountService creates a new AccountService.
func NewAccountService(users UserStore, sessions SessionStore, balances BalanceReader, ttl time.Duration, logger *slog.Logger) *AccountService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		users:    users,
		sessions: sessions,
		balances: balances,
		ttl:      ttl,
		logger:   logger.With("component", "account"),
		hash:     auth.HashPassword,
		now:      time.Now,
	}
}

// RegisterInput defines input for creating an account.
type RegisterInput struct {
	Username string
	Phone    string
	Password string
}

// Session is a logged in user plus the token that identifies the session.
type Session struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// Register creates an account with a zero balance and logs it in.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	username := strings.TrimSpace(input.Username)
	phone := strings.TrimSpace(input.Phone)

	if !usernameRegex.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if !model.ValidMSISDN(phone) {
		return nil, ErrInvalidPhone
	}
	if len(input.Password) < minPasswordLength || len(input.Password) > maxPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := s.hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:           ulid.Make().String(),
		Username:     username,
		Phone:        phone,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrUsernameExists):
			return nil, ErrUsernameTaken
		case errors.Is(err, repository.ErrPhoneExists):
			return nil, ErrPhoneTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user_registered", "user_id", user.ID)
	return s.startSession(ctx, user)
}

// Login verifies a phone and password pair and starts a session.
func (s *AccountService) Login(ctx context.Context, phone, password string) (*Session, error) {
	user, err := s.users.GetUserByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.logger.Info("login_failed", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	if err := s.fillBalance(ctx, user); err != nil {
		return nil, err
	}
	return s.startSession(ctx, user)
}

func (s *AccountService) fillBalance(ctx context.Context, user *model.User) error {
	balance, err := s.balances.Balance(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	user.Balance = balance
	return nil
}

func (s *AccountService) startSession(ctx context.Context, user *model.User) (*Session, error) {
	token, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.ttl).UTC()
	err = s.sessions.SaveSession(ctx, token.Hash, &model.AuthContext{
		UserID:      user.ID,
		Username:    user.Username,
		TokenPrefix: token.Prefix,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("session_started", "user_id", user.ID, "token_prefix", token.Prefix)
	return &Session{User: user, Token: token.Plaintext, ExpiresAt: expiresAt}, nil
}

// Authenticate resolves a session token to its principal.
func (s *AccountService) Authenticate(ctx context.Context, token string) (*model.AuthContext, error) {
	if _, err := auth.ParseSessionToken(token); err != nil {
		return nil, ErrUnauthenticated
	}

	session, err := s.sessions.GetSession(ctx, auth.TokenHash(token))
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil || session.IsExpired() {
		return nil, ErrUnauthenticated
	}
	return session, nil
}

// Logout ends the session behind token. Unknown tokens are ignored.
func (s *AccountService) Logout(ctx context.Context, token string) error {
	if _, err := auth.ParseSessionToken(token); err != nil {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, auth.TokenHash(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// User returns the account with its current balance.
func (s *AccountService) User(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := s.fillBalance(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// MemoryUserStore is an in-process UserStore for tests and database-less
// development runs. Balances are not tracked here.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]model.User
}

// NewMemoryUserStore creates an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]model.User)}
}

// CreateUser implements UserStore.
func (m *MemoryUserStore) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, user.Username) {
			return repository.ErrUsernameExists
		}
		if u.Phone == user.Phone {
			return repository.ErrPhoneExists
		}
	}
	m.users[user.ID] = *user
	return nil
}

// GetUserByID implements UserStore.
func (m *MemoryUserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

// GetUserByPhone implements UserStore.
func (m *MemoryUserStore) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Phone == phone {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}
