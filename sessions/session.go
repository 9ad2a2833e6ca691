package sessions

import (
	"encoding/json"
	"strings"
)

// StorageKey is the single well-known name the session is persisted under.
const StorageKey = "currentUser"

// Session is the authenticated identity and credential pair of the current user.
// A session is either fully populated or absent; see Valid.
type Session struct {
	UserID       string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`

	// Version is the store generation the session was published under.
	// It is not persisted.
	Version uint64 `json:"-"`
}

// Valid reports whether every field of the session is populated.
func (s *Session) Valid() bool {
	if s == nil {
		return false
	}
	return s.UserID != "" &&
		s.Username != "" &&
		s.Email != "" &&
		s.AccessToken != "" &&
		s.RefreshToken != ""
}

// Clone returns a copy of the session, or nil for a nil session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// SameCredentials reports whether both sessions carry the same user and token pair.
func (s *Session) SameCredentials(o *Session) bool {
	if s == nil || o == nil {
		return s == nil && o == nil
	}
	return s.UserID == o.UserID && s.AccessToken == o.AccessToken && s.RefreshToken == o.RefreshToken
}

// UnmarshalJSON accepts both the stored "token" key and "accessToken".
func (s *Session) UnmarshalJSON(data []byte) error {
	var raw struct {
		UserID       string `json:"id"`
		Username     string `json:"username"`
		Email        string `json:"email"`
		Token        string `json:"token"`
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Session{
		UserID:       raw.UserID,
		Username:     raw.Username,
		Email:        raw.Email,
		AccessToken:  raw.Token,
		RefreshToken: raw.RefreshToken,
	}
	if s.AccessToken == "" {
		s.AccessToken = raw.AccessToken
	}
	return nil
}

// DefaultUsername derives a display name from an email address.
func DefaultUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
