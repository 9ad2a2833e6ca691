package devbackend

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-finstats-client/auth"
	"github.com/jrsteele09/go-finstats-client/internal/logging"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"accessToken,omitempty"`
	Token        string `json:"token,omitempty"`
	RefreshToken string `json:"refreshToken"`
	ID           string `json:"id"`
	Username     string `json:"username"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// LoginHandler exchanges credentials for a token pair.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decodeBody(w, r, &req) {
			return
		}
		account, err := s.accounts.ByEmail(req.Email)
		if err != nil || !CheckPasswordHash(req.Password, account.PasswordHash) {
			s.metrics.logins.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusUnauthorized, "Email or password is incorrect")
			return
		}

		access, refresh, err := s.issuePair(account)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to issue tokens")
			writeError(w, http.StatusInternalServerError, "Could not sign in")
			return
		}
		s.metrics.logins.WithLabelValues("accepted").Inc()
		s.logger.Info().Str(logging.FieldUserID, account.ID).Msg("user signed in")

		resp := loginResponse{RefreshToken: refresh, ID: account.ID, Username: account.Username}
		s.lock.RLock()
		legacy := s.legacyTokenField
		s.lock.RUnlock()
		if legacy {
			resp.Token = access
		} else {
			resp.AccessToken = access
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// RefreshHandler rotates a token pair. The access token may be expired but must be genuine.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.TokenPair
		if !decodeBody(w, r, &req) {
			return
		}
		userID, err := s.tokens.SubjectIgnoringExpiry(req.AccessToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid access token")
			return
		}
		if err := s.tokens.Consume(userID, req.RefreshToken); err != nil {
			s.logger.Debug().Err(err).Str(logging.FieldUserID, userID).Msg("refresh rejected")
			writeError(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}
		account, err := s.accounts.ByID(userID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unknown user")
			return
		}
		access, refresh, err := s.issuePair(account)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to issue tokens")
			writeError(w, http.StatusInternalServerError, "Could not refresh tokens")
			return
		}
		writeJSON(w, http.StatusOK, auth.TokenPair{AccessToken: access, RefreshToken: refresh})
	}
}

// RevokeHandler drops the refresh token of an account. Unknown emails are not an error.
func (s *Server) RevokeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req emailRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if account, err := s.accounts.ByEmail(req.Email); err == nil {
			s.tokens.Revoke(account.ID)
			s.logger.Info().Str(logging.FieldUserID, account.ID).Msg("refresh token revoked")
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.RegisterRequest
		if !decodeBody(w, r, &req) {
			return
		}
		switch {
		case strings.TrimSpace(req.FullName) == "":
			writeError(w, http.StatusBadRequest, "Full name is required")
			return
		case !strings.Contains(req.Email, "@"):
			writeError(w, http.StatusBadRequest, "Email address is invalid")
			return
		case req.Password != req.ConfirmPassword:
			writeError(w, http.StatusBadRequest, "Passwords do not match")
			return
		}
		if err := ValidatePasswordStrength(req.Password); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, err := s.createAccount(req.Email, req.Password, req.FullName); err != nil {
			if errors.Is(err, ErrAccountExists) {
				writeError(w, http.StatusBadRequest, "Email address is already registered")
				return
			}
			s.logger.Error().Err(err).Msg("failed to register account")
			writeError(w, http.StatusInternalServerError, "Could not register")
			return
		}
		writeText(w, http.StatusOK, "Registration successful")
	}
}

// ForgotPasswordHandler answers the same way whether or not the email is registered.
func (s *Server) ForgotPasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req emailRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if token, err := s.accounts.IssueResetToken(req.Email); err == nil {
			s.logger.Info().Str(logging.FieldEmail, normaliseEmail(req.Email)).Str("reset_token", token).Msg("password reset requested")
		}
		writeText(w, http.StatusOK, "If the address is registered, a reset link has been sent")
	}
}

func (s *Server) ResetPasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetPasswordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := ValidatePasswordStrength(req.NewPassword); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		account, err := s.accounts.ByEmail(req.Email)
		if err != nil || !s.accounts.ConsumeResetToken(req.Email, req.Token) {
			writeError(w, http.StatusBadRequest, "Reset token is invalid or expired")
			return
		}
		if !s.setPassword(w, account, req.NewPassword) {
			return
		}
		writeText(w, http.StatusOK, "Password has been reset")
	}
}

func (s *Server) ChangePasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.ChangePasswordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		account, err := s.accounts.ByID(userIDFrom(r.Context()))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unknown user")
			return
		}
		switch {
		case !CheckPasswordHash(req.CurrentPassword, account.PasswordHash):
			writeError(w, http.StatusBadRequest, "Current password is incorrect")
			return
		case req.NewPassword != req.ConfirmPassword:
			writeError(w, http.StatusBadRequest, "Passwords do not match")
			return
		case req.NewPassword == req.CurrentPassword:
			writeError(w, http.StatusBadRequest, "New password must differ from the current one")
			return
		}
		if err := ValidatePasswordStrength(req.NewPassword); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !s.setPassword(w, account, req.NewPassword) {
			return
		}
		writeText(w, http.StatusOK, "Password changed")
	}
}

// setPassword stores the new hash and revokes the refresh token so other sessions must sign in again.
func (s *Server) setPassword(w http.ResponseWriter, account *Account, password string) bool {
	hash, err := HashPassword(password)
	if err == nil {
		err = s.accounts.SetPasswordHash(account.ID, hash)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to set password")
		writeError(w, http.StatusInternalServerError, "Could not change the password")
		return false
	}
	s.tokens.Revoke(account.ID)
	s.logger.Info().Str(logging.FieldUserID, account.ID).Msg("password changed")
	return true
}

func (s *Server) issuePair(account *Account) (string, string, error) {
	access, err := s.tokens.CreateAccessToken(account)
	if err != nil {
		return "", "", err
	}
	refresh, err := s.tokens.CreateRefreshToken(account.ID)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
