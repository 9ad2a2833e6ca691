package auth

import (
	"context"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"golang.org/x/oauth2"
)

// TokenExpiry reads the exp claim of a JWT access token without verifying it.
// The client cannot verify the signature; the value only schedules refreshes.
// Opaque tokens report false.
func TokenExpiry(accessToken string) (time.Time, bool) {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// AccessTokenExpiry returns the expiry of the current access token, if it carries one.
func (s *SessionStore) AccessTokenExpiry() (time.Time, bool) {
	cur := s.current.Load()
	if cur == nil {
		return time.Time{}, false
	}
	return TokenExpiry(cur.AccessToken)
}

// TokenSource adapts the store to oauth2.TokenSource so HTTP clients get the
// current bearer token, refreshed shortly before it expires.
func (s *SessionStore) TokenSource() oauth2.TokenSource {
	return &storeTokenSource{store: s}
}

type storeTokenSource struct {
	store *SessionStore
}

func (ts *storeTokenSource) Token() (*oauth2.Token, error) {
	s := ts.store
	cur := s.Current()
	if cur == nil {
		return nil, fmt.Errorf("[Token] %w", apperrors.ErrNoSession)
	}

	exp, hasExpiry := TokenExpiry(cur.AccessToken)
	if hasExpiry && !s.nowTime().Add(s.refreshSkew).Before(exp) {
		refreshed, err := s.Refresh(context.Background())
		switch {
		case err == nil:
			cur = refreshed
			exp, hasExpiry = TokenExpiry(cur.AccessToken)
		case apperrors.Is(err, apperrors.ErrStaleSession):
			// Someone else changed the session; use whatever is current now.
			if cur = s.Current(); cur == nil {
				return nil, fmt.Errorf("[Token] %w", apperrors.ErrNoSession)
			}
			exp, hasExpiry = TokenExpiry(cur.AccessToken)
		default:
			return nil, fmt.Errorf("[Token] %w", err)
		}
	}

	tok := &oauth2.Token{
		AccessToken:  cur.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: cur.RefreshToken,
	}
	if hasExpiry {
		tok.Expiry = exp
	}
	return tok, nil
}
