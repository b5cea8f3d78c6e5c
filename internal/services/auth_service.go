package services

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid admin token")
	ErrAdminDisabled      = errors.New("admin access is not configured")
)

// AuthService checks the admin token. Only its bcrypt hash is kept in memory.
type AuthService struct {
	tokenHash []byte
}

// NewAuthService creates a new AuthService. An empty token disables admin access.
func NewAuthService(adminToken string) (*AuthService, error) {
	adminToken = strings.TrimSpace(adminToken)
	if adminToken == "" {
		return &AuthService{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &AuthService{tokenHash: hash}, nil
}

// Enabled reports whether an admin token is configured.
func (s *AuthService) Enabled() bool {
	return len(s.tokenHash) > 0
}

// Login verifies the presented token
func (s *AuthService) Login(token string) error {
	if !s.Enabled() {
		return ErrAdminDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
