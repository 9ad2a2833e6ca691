package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/jrsteele09/go-finstats-client/internal/logging"
	"github.com/jrsteele09/go-finstats-client/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshSkew = 30 * time.Second
	loadTimeout        = 5 * time.Second
)

// SessionStore is the single source of truth for who is logged in.
// Every mutation is written through to the repo and then published to
// subscribers while the store lock is held, so readers never observe a
// token pair that does not match the persisted one.
type SessionStore struct {
	backend     Backend
	repo        sessions.Repo
	logger      zerolog.Logger
	nowTime     func() time.Time // nowTime function (injectable for testing)
	refreshSkew time.Duration

	lock        sync.Mutex
	generation  uint64 // bumped on every mutation and on teardown start
	teardowns   int    // teardowns waiting for the revoke call
	subscribers map[*subscriber]struct{}
	current     atomic.Pointer[sessions.Session]

	refreshGroup singleflight.Group
}

// StoreOption defines a function type to modify the SessionStore instance.
type StoreOption func(*SessionStore)

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *SessionStore) {
		s.logger = logger
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *SessionStore) {
		s.nowTime = nowFunc
	}
}

// WithRefreshSkew sets how long before expiry the token source refreshes.
func WithRefreshSkew(skew time.Duration) StoreOption {
	return func(s *SessionStore) {
		s.refreshSkew = skew
	}
}

// NewSessionStore creates the store and loads any persisted session.
// A persisted session that is not fully populated is discarded.
func NewSessionStore(backend Backend, repo sessions.Repo, options ...StoreOption) (*SessionStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("[NewSessionStore] backend is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("[NewSessionStore] session repo is required")
	}

	s := &SessionStore{
		backend:     backend,
		repo:        repo,
		logger:      log.Logger,
		nowTime:     time.Now,
		refreshSkew: defaultRefreshSkew,
		subscribers: make(map[*subscriber]struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "session-store")

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	stored, err := repo.Load(ctx)
	switch {
	case apperrors.Is(err, apperrors.ErrSessionNotFound):
	case err != nil:
		s.logger.Warn().Err(err).Msg("discarding unreadable stored session")
		if err := repo.Delete(ctx); err != nil {
			return nil, fmt.Errorf("[NewSessionStore] failed to remove unreadable session: %w", err)
		}
	case !stored.Valid():
		s.logger.Warn().Msg("discarding partial stored session")
		if err := repo.Delete(ctx); err != nil {
			return nil, fmt.Errorf("[NewSessionStore] failed to remove partial session: %w", err)
		}
	default:
		s.generation++
		stored.Version = s.generation
		s.current.Store(stored)
		s.logger.Debug().Str(logging.FieldUserID, stored.UserID).Msg("restored stored session")
	}
	return s, nil
}

// Current returns a copy of the latest published session, or nil.
func (s *SessionStore) Current() *sessions.Session {
	return s.current.Load().Clone()
}

// IsAuthenticated reports whether a session with an access token is present.
func (s *SessionStore) IsAuthenticated() bool {
	cur := s.current.Load()
	return cur != nil && cur.AccessToken != ""
}

// Subscribe returns a feed of session events starting with the current value.
// The feed always holds the newest event; a slow reader skips intermediate ones.
func (s *SessionStore) Subscribe() (<-chan Event, func()) {
	s.lock.Lock()
	defer s.lock.Unlock()

	sub := newSubscriber()
	sub.offer(Event{Session: s.current.Load().Clone(), Reason: EventInitial})
	s.subscribers[sub] = struct{}{}

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			s.lock.Lock()
			defer s.lock.Unlock()
			delete(s.subscribers, sub)
			close(sub.ch)
		})
	}
}

// Login authenticates with the backend and makes the result the current session.
// A rejected login also clears any existing session.
func (s *SessionStore) Login(ctx context.Context, email, password string) (*sessions.Session, error) {
	s.logger.Info().Str(logging.FieldEmail, email).Msg("login requested")

	resp, err := s.backend.Login(ctx, email, password)
	if err != nil {
		s.logger.Warn().Err(err).Str(logging.FieldEmail, email).Msg("login failed")
		s.clearAfterFailedLogin(ctx)
		return nil, fmt.Errorf("[Login] %w", err)
	}

	session, err := sessionFromLogin(email, resp)
	if err != nil {
		s.logger.Error().Err(err).Str(logging.FieldEmail, email).Msg("login response unusable")
		s.clearAfterFailedLogin(ctx)
		return nil, fmt.Errorf("[Login] %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.commitLocked(ctx, session, EventLogin); err != nil {
		return nil, fmt.Errorf("[Login] %w", err)
	}
	return session.Clone(), nil
}

// Refresh exchanges the current token pair for a new one.
// A rejected refresh tears the session down exactly like Logout.
// Concurrent callers share one backend call.
func (s *SessionStore) Refresh(ctx context.Context) (*sessions.Session, error) {
	v, err, _ := s.refreshGroup.Do("refresh", func() (interface{}, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sessions.Session).Clone(), nil
}

func (s *SessionStore) refresh(ctx context.Context) (*sessions.Session, error) {
	s.lock.Lock()
	cur := s.current.Load()
	gen := s.generation
	tearingDown := s.teardowns > 0
	s.lock.Unlock()

	if cur == nil {
		return nil, fmt.Errorf("[Refresh] %w", apperrors.ErrNoSession)
	}
	if tearingDown {
		return nil, fmt.Errorf("[Refresh] %w", apperrors.ErrStaleSession)
	}

	pair, err := s.backend.Refresh(ctx, cur.AccessToken, cur.RefreshToken)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAuthentication) {
			s.logger.Warn().Err(err).Str(logging.FieldUserID, cur.UserID).Msg("refresh rejected, logging out")
			s.lock.Lock()
			if s.generation != gen {
				// The rejected pair no longer backs the current session.
				s.lock.Unlock()
				return nil, fmt.Errorf("[Refresh] %w: %w", apperrors.ErrStaleSession, err)
			}
			tgen := s.beginTeardownLocked()
			s.lock.Unlock()
			s.teardown(ctx, tgen, cur.Email)
		} else {
			s.logger.Warn().Err(err).Str(logging.FieldUserID, cur.UserID).Msg("refresh failed")
		}
		return nil, fmt.Errorf("[Refresh] %w", err)
	}
	if pair == nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, fmt.Errorf("[Refresh] %w: refresh response lacks a token pair", apperrors.ErrMalformedResponse)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.generation != gen {
		s.logger.Info().Uint64(logging.FieldVersion, gen).Msg("discarding refresh result for a superseded session")
		return nil, fmt.Errorf("[Refresh] %w", apperrors.ErrStaleSession)
	}

	next := cur.Clone()
	next.AccessToken = pair.AccessToken
	next.RefreshToken = pair.RefreshToken
	if err := s.commitLocked(ctx, next, EventRefresh); err != nil {
		return nil, fmt.Errorf("[Refresh] %w", err)
	}
	return next, nil
}

// Logout revokes the refresh token on a best-effort basis and always clears the local session.
// An empty email falls back to the current session's email.
func (s *SessionStore) Logout(ctx context.Context, email string) error {
	s.lock.Lock()
	if cur := s.current.Load(); email == "" && cur != nil {
		email = cur.Email
	}
	gen := s.beginTeardownLocked()
	s.lock.Unlock()

	s.teardown(ctx, gen, email)
	return nil
}

// HandleUnauthorized reacts to a backend call rejected with 401 by logging out.
func (s *SessionStore) HandleUnauthorized(ctx context.Context) {
	cur := s.current.Load()
	if cur == nil {
		return
	}
	s.logger.Warn().Str(logging.FieldUserID, cur.UserID).Msg("backend rejected the access token")
	_ = s.Logout(ctx, cur.Email)
}

// ChangePassword changes the password and then forces a logout, since the
// access token is assumed stale afterwards.
func (s *SessionStore) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	cur := s.current.Load()
	if cur == nil {
		return fmt.Errorf("[ChangePassword] %w", apperrors.ErrNoSession)
	}
	if err := s.backend.ChangePassword(ctx, cur.AccessToken, req); err != nil {
		if apperrors.Is(err, apperrors.ErrAuthentication) {
			s.HandleUnauthorized(ctx)
		}
		return fmt.Errorf("[ChangePassword] %w", err)
	}
	return s.Logout(ctx, cur.Email)
}

// Register creates an account. It does not log in.
func (s *SessionStore) Register(ctx context.Context, req RegisterRequest) (string, error) {
	return s.backend.Register(ctx, req)
}

// ForgotPassword asks the backend to send a reset token.
func (s *SessionStore) ForgotPassword(ctx context.Context, email string) (string, error) {
	return s.backend.ForgotPassword(ctx, email)
}

// ResetPassword sets a new password using a reset token.
func (s *SessionStore) ResetPassword(ctx context.Context, email, token, newPassword string) (string, error) {
	return s.backend.ResetPassword(ctx, email, token, newPassword)
}

// WatchExternal feeds changes made by other processes into the store until ctx is done.
func (s *SessionStore) WatchExternal(ctx context.Context) error {
	changes, err := s.repo.Watch(ctx)
	if err != nil {
		return fmt.Errorf("[WatchExternal] %w", err)
	}
	for change := range changes {
		s.applyExternal(change)
	}
	return ctx.Err()
}

func (s *SessionStore) applyExternal(change sessions.Change) {
	if change.Session != nil && !change.Session.Valid() {
		s.logger.Warn().Msg("ignoring partial session written by another process")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if change.Session.SameCredentials(s.current.Load()) {
		return
	}
	s.generation++
	next := change.Session.Clone()
	if next != nil {
		next.Version = s.generation
	}
	s.current.Store(next)
	s.logger.Info().Bool("present", next != nil).Msg("session changed by another process")
	s.publishLocked(Event{Session: next, Reason: EventExternal})
}

// beginTeardownLocked makes every refresh still in flight stale and returns
// the generation the teardown owns.
func (s *SessionStore) beginTeardownLocked() uint64 {
	s.generation++
	s.teardowns++
	return s.generation
}

// teardown revokes and clears the session unless something newer replaced it meanwhile.
func (s *SessionStore) teardown(ctx context.Context, gen uint64, email string) {
	if email != "" {
		if err := s.backend.Revoke(ctx, email); err != nil {
			s.logger.Warn().Err(err).Str(logging.FieldEmail, email).Msg("revoke failed, clearing local session anyway")
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.teardowns--

	if s.generation != gen {
		// A login, an external change or another teardown got there first.
		s.logger.Debug().Uint64(logging.FieldVersion, gen).Msg("teardown superseded")
		return
	}
	// Local teardown never fails; a storage error is only logged.
	if err := s.commitLocked(ctx, nil, EventLogout); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear stored session")
	}
}

func (s *SessionStore) clearAfterFailedLogin(ctx context.Context) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.current.Load() == nil {
		return
	}
	if err := s.commitLocked(ctx, nil, EventLogout); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear stored session")
	}
}

// commitLocked persists session (nil removes it), stamps a new generation and publishes.
// A failed save leaves the store unchanged; a failed delete still clears memory.
func (s *SessionStore) commitLocked(ctx context.Context, session *sessions.Session, reason EventReason) error {
	if session == nil {
		err := s.repo.Delete(ctx)
		s.generation++
		s.current.Store(nil)
		s.publishLocked(Event{Reason: reason})
		s.logger.Info().Str(logging.FieldReason, string(reason)).Msg("session cleared")
		return err
	}

	if err := s.repo.Save(ctx, session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.generation++
	session.Version = s.generation
	s.current.Store(session.Clone())
	s.publishLocked(Event{Session: session.Clone(), Reason: reason})
	s.logger.Info().
		Str(logging.FieldReason, string(reason)).
		Str(logging.FieldUserID, session.UserID).
		Uint64(logging.FieldVersion, session.Version).
		Msg("session published")
	return nil
}

func (s *SessionStore) publishLocked(ev Event) {
	for sub := range s.subscribers {
		sub.offer(Event{Session: ev.Session.Clone(), Reason: ev.Reason})
	}
}

func sessionFromLogin(email string, resp *LoginResponse) (*sessions.Session, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty login response", apperrors.ErrMalformedResponse)
	}
	token := resp.BearerToken()
	if token == "" {
		return nil, fmt.Errorf("%w: login response has no access token", apperrors.ErrMalformedResponse)
	}
	if resp.RefreshToken == "" {
		return nil, fmt.Errorf("%w: login response has no refresh token", apperrors.ErrMalformedResponse)
	}

	session := &sessions.Session{
		UserID:       resp.UserID(),
		Username:     sessions.DefaultUsername(email),
		Email:        email,
		AccessToken:  token,
		RefreshToken: resp.RefreshToken,
	}
	if session.UserID == "" {
		session.UserID = email
	}
	if resp.Username != nil && *resp.Username != "" {
		session.Username = *resp.Username
	}
	if !session.Valid() {
		return nil, fmt.Errorf("%w: login response does not describe a complete session", apperrors.ErrMalformedResponse)
	}
	return session, nil
}
