package devbackend

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer        = "finstats-devbackend"
	refreshTokenLength = 32
)

var ErrInvalidToken = errors.New("invalid token")

type storedRefreshToken struct {
	Token  string
	UserID string
	Iat    time.Time
}

// tokenManager signs HS256 access tokens and keeps one opaque refresh token per user.
type tokenManager struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time

	lock    sync.Mutex
	refresh map[string]storedRefreshToken
	byUser  map[string]string
}

func newTokenManager(secret string, accessExpiry, refreshExpiry time.Duration, now func() time.Time) *tokenManager {
	return &tokenManager{
		secret:        []byte(secret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		now:           now,
		refresh:       make(map[string]storedRefreshToken),
		byUser:        make(map[string]string),
	}
}

// CreateAccessToken signs a token for account.
func (m *tokenManager) CreateAccessToken(account *Account) (string, error) {
	now := m.now()
	claims := jwtlib.MapClaims{
		"iss":   tokenIssuer,
		"sub":   account.ID,
		"email": account.Email,
		"name":  account.FullName,
		"iat":   now.Unix(),
		"exp":   now.Add(m.accessExpiry).Unix(),
		"jti":   uuid.New().String(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("[CreateAccessToken] failed to sign token: %w", err)
	}
	return signed, nil
}

// Subject validates an access token and returns the user it was issued to.
func (m *tokenManager) Subject(raw string) (string, error) {
	return m.subject(raw, jwtlib.WithTimeFunc(m.now))
}

// SubjectIgnoringExpiry checks the signature only. The refresh endpoint
// receives access tokens that have already expired.
func (m *tokenManager) SubjectIgnoringExpiry(raw string) (string, error) {
	return m.subject(raw, jwtlib.WithoutClaimsValidation())
}

func (m *tokenManager) subject(raw string, opts ...jwtlib.ParserOption) (string, error) {
	opts = append(opts,
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
	)
	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

// CreateRefreshToken issues a refresh token for userID, replacing any existing one.
func (m *tokenManager) CreateRefreshToken(userID string) (string, error) {
	tokenBytes := make([]byte, refreshTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	m.lock.Lock()
	defer m.lock.Unlock()
	if existing, ok := m.byUser[userID]; ok {
		delete(m.refresh, existing)
	}
	m.refresh[token] = storedRefreshToken{Token: token, UserID: userID, Iat: m.now()}
	m.byUser[userID] = token
	return token, nil
}

// Consume checks that token is the live refresh token of userID and deletes it.
// The caller issues a replacement.
func (m *tokenManager) Consume(userID, token string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	stored, ok := m.refresh[token]
	if !ok || stored.UserID != userID {
		return fmt.Errorf("%w: unknown refresh token", ErrInvalidToken)
	}
	delete(m.refresh, token)
	delete(m.byUser, userID)
	if m.now().Sub(stored.Iat) > m.refreshExpiry {
		return fmt.Errorf("%w: refresh token expired", ErrInvalidToken)
	}
	return nil
}

// Revoke drops the refresh token of userID, if any.
func (m *tokenManager) Revoke(userID string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if token, ok := m.byUser[userID]; ok {
		delete(m.refresh, token)
		delete(m.byUser, userID)
	}
}
