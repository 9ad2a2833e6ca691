package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-finstats-client/internal/httpclient"
)

// Authentication endpoints, relative to the API base URL.
const (
	RouteLogin          = "/auth/login"
	RouteRefresh        = "/auth/refresh"
	RouteRevoke         = "/auth/revoke"
	RouteRegister       = "/auth/register"
	RouteForgotPassword = "/auth/forgot-password"
	RouteResetPassword  = "/auth/reset-password"
	RouteChangePassword = "/auth/change-password"
)

var _ Backend = (*HTTPBackend)(nil)

// HTTPBackend implements Backend against the REST authentication API.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// HTTPBackendOption configures an HTTPBackend.
type HTTPBackendOption func(*HTTPBackend)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(client *http.Client) HTTPBackendOption {
	return func(b *HTTPBackend) {
		b.client = client
	}
}

// NewHTTPBackend returns a backend rooted at baseURL (for example "https://api.finstats.net/api").
func NewHTTPBackend(baseURL string, options ...HTTPBackendOption) *HTTPBackend {
	b := &HTTPBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

func (b *HTTPBackend) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	_, err := b.post(ctx, RouteLogin, "", map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (b *HTTPBackend) Refresh(ctx context.Context, accessToken, refreshToken string) (*TokenPair, error) {
	var pair TokenPair
	_, err := b.post(ctx, RouteRefresh, "", TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, &pair)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

func (b *HTTPBackend) Revoke(ctx context.Context, email string) error {
	_, err := b.post(ctx, RouteRevoke, "", map[string]string{"email": email}, nil)
	return err
}

func (b *HTTPBackend) Register(ctx context.Context, req RegisterRequest) (string, error) {
	return b.postText(ctx, RouteRegister, req)
}

func (b *HTTPBackend) ForgotPassword(ctx context.Context, email string) (string, error) {
	return b.postText(ctx, RouteForgotPassword, map[string]string{"email": email})
}

func (b *HTTPBackend) ResetPassword(ctx context.Context, email, token, newPassword string) (string, error) {
	return b.postText(ctx, RouteResetPassword, map[string]string{
		"email":       email,
		"token":       token,
		"newPassword": newPassword,
	})
}

func (b *HTTPBackend) ChangePassword(ctx context.Context, accessToken string, req ChangePasswordRequest) error {
	_, err := b.post(ctx, RouteChangePassword, accessToken, req, nil)
	return err
}

func (b *HTTPBackend) post(ctx context.Context, route, bearer string, body, out any) ([]byte, error) {
	return httpclient.Do(ctx, b.client, httpclient.Request{
		Method: http.MethodPost,
		URL:    httpclient.JoinURL(b.baseURL, route),
		Bearer: bearer,
		Body:   body,
	}, out)
}

func (b *HTTPBackend) postText(ctx context.Context, route string, body any) (string, error) {
	data, err := b.post(ctx, route, "", body, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
