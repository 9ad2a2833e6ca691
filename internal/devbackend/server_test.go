package devbackend_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-finstats-client/auth"
	"github.com/jrsteele09/go-finstats-client/internal/devbackend"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "demo@finstats.net"
	testPassword = "Demo1234"
	testName     = "Demo User"
)

type testConfig struct {
	accessExpiry time.Duration
}

func (c testConfig) GetAppName() string                   { return "finstats" }
func (c testConfig) GetEnv() string                       { return "TEST" }
func (c testConfig) GetPort() string                      { return ":0" }
func (c testConfig) GetJWTSecret() string                 { return "test-secret" }
func (c testConfig) GetAccessTokenExpiry() time.Duration  { return c.accessExpiry }
func (c testConfig) GetRefreshTokenExpiry() time.Duration { return time.Hour }
func (c testConfig) GetReplyDelay() time.Duration         { return 0 }

// clock is a settable time source.
type clock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

// testFixture holds all test dependencies
type testFixture struct {
	server  *devbackend.Server
	http    *httptest.Server
	backend *auth.HTTPBackend
	clock   *clock
}

func setupTestFixture(t *testing.T, options ...devbackend.Option) *testFixture {
	t.Helper()

	clk := &clock{now: time.Now()}
	options = append([]devbackend.Option{
		devbackend.WithLogger(zerolog.Nop()),
		devbackend.WithNowTime(clk.Now),
		devbackend.WithUser(testEmail, testPassword, testName),
	}, options...)
	srv, err := devbackend.New(testConfig{accessExpiry: 15 * time.Minute}, options...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testFixture{
		server:  srv,
		http:    ts,
		backend: auth.NewHTTPBackend(ts.URL + devbackend.RouteAPIPrefix),
		clock:   clk,
	}
}

func statusMessages(t *testing.T, err error) []string {
	t.Helper()
	var statusErr *apperrors.StatusError
	require.ErrorAs(t, err, &statusErr)
	return statusErr.Messages
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := devbackend.New(nil)
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	t.Run("Accepted", func(t *testing.T) {
		resp, err := f.backend.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)
		require.NotEmpty(t, resp.AccessToken)
		require.Empty(t, resp.Token)
		require.NotEmpty(t, resp.RefreshToken)
		require.Equal(t, "demo", *resp.Username)

		account, err := f.server.Account(testEmail)
		require.NoError(t, err)
		require.Equal(t, account.ID, resp.UserID())

		exp, ok := auth.TokenExpiry(resp.AccessToken)
		require.True(t, ok)
		require.WithinDuration(t, f.clock.Now().Add(15*time.Minute), exp, time.Second)
	})

	t.Run("EmailIsCaseInsensitive", func(t *testing.T) {
		_, err := f.backend.Login(ctx, "  DEMO@finstats.net ", testPassword)
		require.NoError(t, err)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, err := f.backend.Login(ctx, testEmail, "nope")
		require.ErrorIs(t, err, apperrors.ErrAuthentication)
		require.Equal(t, []string{"Email or password is incorrect"}, statusMessages(t, err))
	})

	t.Run("UnknownUser", func(t *testing.T) {
		_, err := f.backend.Login(ctx, "ghost@finstats.net", testPassword)
		require.ErrorIs(t, err, apperrors.ErrAuthentication)
	})
}

func TestLogin_LegacyTokenField(t *testing.T) {
	f := setupTestFixture(t, devbackend.WithLegacyTokenField())

	resp, err := f.backend.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.Empty(t, resp.AccessToken)
	require.NotEmpty(t, resp.Token)
	require.Equal(t, resp.Token, resp.BearerToken())
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("RotatesThePair", func(t *testing.T) {
		f := setupTestFixture(t)
		login, err := f.backend.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)

		pair, err := f.backend.Refresh(ctx, login.AccessToken, login.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, login.RefreshToken, pair.RefreshToken)

		// The old refresh token is spent.
		_, err = f.backend.Refresh(ctx, login.AccessToken, login.RefreshToken)
		require.ErrorIs(t, err, apperrors.ErrAuthentication)

		_, err = f.backend.Refresh(ctx, pair.AccessToken, pair.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("AcceptsExpiredAccessToken", func(t *testing.T) {
		f := setupTestFixture(t)
		login, err := f.backend.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)

		f.clock.Advance(20 * time.Minute)
		pair, err := f.backend.Refresh(ctx, login.AccessToken, login.RefreshToken)
		require.NoError(t, err)
		exp, ok := auth.TokenExpiry(pair.AccessToken)
		require.True(t, ok)
		require.True(t, exp.After(f.clock.Now()))
	})

	t.Run("RejectsForgedAccessToken", func(t *testing.T) {
		f := setupTestFixture(t)
		login, err := f.backend.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)

		_, err = f.backend.Refresh(ctx, "not-a-jwt", login.RefreshToken)
		require.ErrorIs(t, err, apperrors.ErrAuthentication)
	})

	t.Run("RejectsExpiredRefreshToken", func(t *testing.T) {
		f := setupTestFixture(t)
		login, err := f.backend.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)

		f.clock.Advance(2 * time.Hour)
		_, err = f.backend.Refresh(ctx, login.AccessToken, login.RefreshToken)
		require.ErrorIs(t, err, apperrors.ErrAuthentication)
	})

	t.Run("RevokedTokenIsRejected", func(t *testing.T) {
		f := setupTestFixture(t)
		login, err := f.backend.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)

		require.NoError(t, f.backend.Revoke(ctx, testEmail))
		_, err = f.backend.Refresh(ctx, login.AccessToken, login.RefreshToken)
		require.ErrorIs(t, err, apperrors.ErrAuthentication)

		// Revoking an unknown account is not an error.
		require.NoError(t, f.backend.Revoke(ctx, "ghost@finstats.net"))
	})
}

func TestRegister(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	t.Run("Validation", func(t *testing.T) {
		tests := []struct {
			name string
			req  auth.RegisterRequest
			want string
		}{
			{"NoName", auth.RegisterRequest{Email: "n@x.com", Password: "Abcdefg1", ConfirmPassword: "Abcdefg1"}, "Full name is required"},
			{"BadEmail", auth.RegisterRequest{FullName: "N", Email: "nx.com", Password: "Abcdefg1", ConfirmPassword: "Abcdefg1"}, "Email address is invalid"},
			{"Mismatch", auth.RegisterRequest{FullName: "N", Email: "n@x.com", Password: "Abcdefg1", ConfirmPassword: "Abcdefg2"}, "Passwords do not match"},
			{"Weak", auth.RegisterRequest{FullName: "N", Email: "n@x.com", Password: "abcdefg1", ConfirmPassword: "abcdefg1"}, "password must contain at least one uppercase letter"},
			{"Duplicate", auth.RegisterRequest{FullName: "N", Email: testEmail, Password: "Abcdefg1", ConfirmPassword: "Abcdefg1"}, "Email address is already registered"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.backend.Register(ctx, tt.req)
				require.Error(t, err)
				require.NotErrorIs(t, err, apperrors.ErrAuthentication)
				require.Equal(t, []string{tt.want}, statusMessages(t, err))
			})
		}
	})

	t.Run("ThenLogin", func(t *testing.T) {
		msg, err := f.backend.Register(ctx, auth.RegisterRequest{
			FullName:        "New User",
			Email:           "new@finstats.net",
			Password:        "Abcdefg1",
			ConfirmPassword: "Abcdefg1",
		})
		require.NoError(t, err)
		require.Equal(t, "Registration successful", msg)

		resp, err := f.backend.Login(ctx, "new@finstats.net", "Abcdefg1")
		require.NoError(t, err)
		require.Equal(t, "new", *resp.Username)
	})
}

func TestPasswordReset(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.backend.ForgotPassword(ctx, "ghost@finstats.net")
	require.NoError(t, err)
	require.Empty(t, f.server.ResetToken("ghost@finstats.net"))

	msg, err := f.backend.ForgotPassword(ctx, testEmail)
	require.NoError(t, err)
	require.NotEmpty(t, msg)
	token := f.server.ResetToken(testEmail)
	require.NotEmpty(t, token)

	_, err = f.backend.ResetPassword(ctx, testEmail, "wrong", "Newpass123")
	require.Error(t, err)

	_, err = f.backend.ResetPassword(ctx, testEmail, token, "Newpass123")
	require.NoError(t, err)

	// Tokens are single use.
	_, err = f.backend.ResetPassword(ctx, testEmail, token, "Other1234")
	require.Error(t, err)

	_, err = f.backend.Login(ctx, testEmail, testPassword)
	require.ErrorIs(t, err, apperrors.ErrAuthentication)
	_, err = f.backend.Login(ctx, testEmail, "Newpass123")
	require.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	login, err := f.backend.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)

	t.Run("RequiresBearer", func(t *testing.T) {
		err := f.backend.ChangePassword(ctx, "", auth.ChangePasswordRequest{})
		require.ErrorIs(t, err, apperrors.ErrAuthentication)
	})

	t.Run("WrongCurrentPassword", func(t *testing.T) {
		err := f.backend.ChangePassword(ctx, login.AccessToken, auth.ChangePasswordRequest{
			CurrentPassword: "nope",
			NewPassword:     "Changed123",
			ConfirmPassword: "Changed123",
		})
		require.Equal(t, []string{"Current password is incorrect"}, statusMessages(t, err))
	})

	t.Run("Success", func(t *testing.T) {
		err := f.backend.ChangePassword(ctx, login.AccessToken, auth.ChangePasswordRequest{
			CurrentPassword: testPassword,
			NewPassword:     "Changed123",
			ConfirmPassword: "Changed123",
		})
		require.NoError(t, err)

		_, err = f.backend.Refresh(ctx, login.AccessToken, login.RefreshToken)
		require.ErrorIs(t, err, apperrors.ErrAuthentication)
		_, err = f.backend.Login(ctx, testEmail, "Changed123")
		require.NoError(t, err)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.backend.Login(context.Background(), testEmail, "nope")
	require.Error(t, err)

	resp, err := http.Get(f.http.URL + devbackend.RouteMetrics)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `finstats_devbackend_logins_total{result="rejected"} 1`)
	require.Contains(t, string(body), `finstats_devbackend_http_requests_total{code="401",route="POST /api/auth/login"} 1`)
}

func TestEchoReply(t *testing.T) {
	require.Equal(t, []string{"You said:", " hello", " world"}, devbackend.EchoReply("hello   world"))
}
