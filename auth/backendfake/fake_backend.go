package fakeauthbackend

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-finstats-client/auth"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/jrsteele09/go-finstats-client/internal/utils"
)

var _ auth.Backend = (*FakeBackend)(nil)

// FakeBackend is a scriptable auth.Backend. Unset funcs fall back to simple defaults:
// login accepts any credentials, refresh appends "'" to both tokens.
type FakeBackend struct {
	LoginFunc          func(ctx context.Context, email, password string) (*auth.LoginResponse, error)
	RefreshFunc        func(ctx context.Context, accessToken, refreshToken string) (*auth.TokenPair, error)
	RevokeFunc         func(ctx context.Context, email string) error
	ChangePasswordFunc func(ctx context.Context, accessToken string, req auth.ChangePasswordRequest) error

	lock    sync.Mutex
	revoked []string
	calls   map[string]int
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{calls: make(map[string]int)}
}

// Rejecting returns a login func that rejects every credential.
func Rejecting() func(context.Context, string, string) (*auth.LoginResponse, error) {
	return func(context.Context, string, string) (*auth.LoginResponse, error) {
		return nil, apperrors.NewStatusError(401, []string{"invalid credentials"})
	}
}

// Responding returns a login func that always answers with resp.
func Responding(resp auth.LoginResponse) func(context.Context, string, string) (*auth.LoginResponse, error) {
	return func(context.Context, string, string) (*auth.LoginResponse, error) {
		r := resp
		return &r, nil
	}
}

func (b *FakeBackend) Login(ctx context.Context, email, password string) (*auth.LoginResponse, error) {
	b.count("login")
	if b.LoginFunc != nil {
		return b.LoginFunc(ctx, email, password)
	}
	return &auth.LoginResponse{
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-" + email,
		ID:           utils.Ptr("id-" + email),
	}, nil
}

func (b *FakeBackend) Refresh(ctx context.Context, accessToken, refreshToken string) (*auth.TokenPair, error) {
	b.count("refresh")
	if b.RefreshFunc != nil {
		return b.RefreshFunc(ctx, accessToken, refreshToken)
	}
	return &auth.TokenPair{AccessToken: accessToken + "'", RefreshToken: refreshToken + "'"}, nil
}

func (b *FakeBackend) Revoke(ctx context.Context, email string) error {
	b.count("revoke")
	b.lock.Lock()
	b.revoked = append(b.revoked, email)
	b.lock.Unlock()
	if b.RevokeFunc != nil {
		return b.RevokeFunc(ctx, email)
	}
	return nil
}

func (b *FakeBackend) Register(context.Context, auth.RegisterRequest) (string, error) {
	b.count("register")
	return "registered", nil
}

func (b *FakeBackend) ForgotPassword(context.Context, string) (string, error) {
	b.count("forgot-password")
	return "reset token sent", nil
}

func (b *FakeBackend) ResetPassword(context.Context, string, string, string) (string, error) {
	b.count("reset-password")
	return "password reset", nil
}

func (b *FakeBackend) ChangePassword(ctx context.Context, accessToken string, req auth.ChangePasswordRequest) error {
	b.count("change-password")
	if b.ChangePasswordFunc != nil {
		return b.ChangePasswordFunc(ctx, accessToken, req)
	}
	return nil
}

// Revoked lists the emails passed to Revoke, in order.
func (b *FakeBackend) Revoked() []string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]string(nil), b.revoked...)
}

// Calls returns how often the named endpoint was called.
func (b *FakeBackend) Calls(name string) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.calls[name]
}

func (b *FakeBackend) count(name string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.calls[name]++
}
