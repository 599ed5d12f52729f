package services

import (
	"context"
	"errors"
	"strings"

	"hazardwatch/internal/auth"
	"hazardwatch/internal/middleware"
)

// LoginPayload carries user credentials
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult carries the issued token
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// AuthStatusResult reports the caller's authentication state
type AuthStatusResult struct {
	Enabled       bool    `json:"enabled"`
	Authenticated bool    `json:"authenticated"`
	Username      *string `json:"username,omitempty"`
}

// AuthService issues tokens for the operator API
type AuthService struct {
	authenticator *auth.Authenticator
}

// NewAuthService creates a new auth service
func NewAuthService(authenticator *auth.Authenticator) *AuthService {
	return &AuthService{authenticator: authenticator}
}

// Login authenticates a user and returns a JWT token
func (a *AuthService) Login(ctx context.Context, payload *LoginPayload) (*LoginResult, error) {
	if payload == nil || strings.TrimSpace(payload.Username) == "" || payload.Password == "" {
		return nil, &BadRequestError{Message: "username and password are required"}
	}

	token, expiresAt, err := a.authenticator.Authenticate(payload.Username, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return nil, &UnauthorizedError{Message: "Invalid username or password"}
		case errors.Is(err, auth.ErrAuthDisabled):
			return nil, &UnauthorizedError{Message: "Authentication is disabled"}
		}
		return nil, err
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt}, nil
}

// Status returns the current authentication status
func (a *AuthService) Status(ctx context.Context) (*AuthStatusResult, error) {
	res := &AuthStatusResult{Enabled: a.authenticator.IsEnabled()}
	if claims := middleware.ClaimsFromContext(ctx); claims != nil {
		res.Authenticated = true
		res.Username = &claims.Username
	}
	return res, nil
}
