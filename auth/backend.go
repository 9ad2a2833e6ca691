package auth

import (
	"context"

	"github.com/jrsteele09/go-finstats-client/internal/utils"
)

// Backend is the authentication API the session store talks to.
type Backend interface {
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
	Refresh(ctx context.Context, accessToken, refreshToken string) (*TokenPair, error)
	Revoke(ctx context.Context, email string) error
	Register(ctx context.Context, req RegisterRequest) (string, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, email, token, newPassword string) (string, error)
	ChangePassword(ctx context.Context, accessToken string, req ChangePasswordRequest) error
}

// LoginResponse is the body returned by the login endpoint.
// Older backends name the access token "token".
type LoginResponse struct {
	AccessToken  string  `json:"accessToken"`
	Token        string  `json:"token"`
	RefreshToken string  `json:"refreshToken"`
	ID           *string `json:"id,omitempty"`
	Username     *string `json:"username,omitempty"`
}

// BearerToken returns whichever access token field the backend populated.
func (r *LoginResponse) BearerToken() string {
	if r == nil {
		return ""
	}
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.Token
}

// UserID returns the id, or "" when the backend omitted it.
func (r *LoginResponse) UserID() string {
	return utils.Value(r.ID)
}

// TokenPair is the body of the refresh endpoint.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RegisterRequest is the body of the register endpoint.
type RegisterRequest struct {
	FullName        string `json:"fullName"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ChangePasswordRequest is the body of the change password endpoint.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}
