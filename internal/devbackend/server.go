package devbackend

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-finstats-client/internal/config"
	"github.com/jrsteele09/go-finstats-client/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is the part of the application configuration the backend reads.
type Config interface {
	config.EnvConfig
	config.DevBackendConfig
}

// ReplyFunc produces the fragments streamed back for a prompt.
type ReplyFunc func(prompt string) []string

// seedUser is an account created when the server starts.
type seedUser struct {
	email, password, fullName string
}

// Server is a local stand-in for the finstats backend: authentication, the
// finance REST API, the assistant hub and the prompt endpoint.
type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	config   Config
	logger   zerolog.Logger
	nowTime  func() time.Time
	registry *prometheus.Registry
	metrics  *serverMetrics
	seeds    []seedUser

	accounts *accountRepo
	tokens   *tokenManager
	hub      *hub
	ledger   *ledger

	lock             sync.RWMutex
	legacyTokenField bool
	failChat         bool
	omitCompletion   bool
	reply            ReplyFunc
	replyDelay       time.Duration
}

// Option defines a function type to modify the Server instance.
type Option func(*Server)

// WithNowTime sets a custom time function, typically for testing.
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithUser creates an account at startup.
func WithUser(email, password, fullName string) Option {
	return func(s *Server) {
		s.seeds = append(s.seeds, seedUser{email: email, password: password, fullName: fullName})
	}
}

// WithReply replaces the default echo reply.
func WithReply(reply ReplyFunc) Option {
	return func(s *Server) {
		s.reply = reply
	}
}

// WithLegacyTokenField makes login answer with "token" instead of "accessToken",
// as older backends did.
func WithLegacyTokenField() Option {
	return func(s *Server) {
		s.legacyTokenField = true
	}
}

// WithoutCompletion stops the hub from sending MessageComplete, leaving clients
// to finish replies on their idle timer.
func WithoutCompletion() Option {
	return func(s *Server) {
		s.omitCompletion = true
	}
}

// New builds the backend and registers its routes.
func New(cfg Config, options ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[devbackend New] config is required")
	}
	if cfg.GetJWTSecret() == "" {
		return nil, fmt.Errorf("[devbackend New] jwt secret is required")
	}

	s := &Server{
		env:        cfg.GetEnv(),
		mux:        http.NewServeMux(),
		config:     cfg,
		logger:     log.Logger,
		nowTime:    time.Now,
		registry:   prometheus.NewRegistry(),
		reply:      EchoReply,
		replyDelay: cfg.GetReplyDelay(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "devbackend")
	s.metrics = newServerMetrics(s.registry)
	s.accounts = newAccountRepo()
	s.tokens = newTokenManager(cfg.GetJWTSecret(), cfg.GetAccessTokenExpiry(), cfg.GetRefreshTokenExpiry(), s.nowTime)
	s.hub = newHub(s.logger, s.metrics)
	s.ledger = newLedger(s.nowTime)

	for _, seed := range s.seeds {
		if _, err := s.createAccount(seed.email, seed.password, seed.fullName); err != nil {
			return nil, fmt.Errorf("[devbackend New] failed to seed %s: %w", seed.email, err)
		}
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Close ends every hub connection.
func (s *Server) Close() {
	s.hub.shutdown()
}

// SetChatFailure makes the prompt endpoint fail while on.
func (s *Server) SetChatFailure(on bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failChat = on
}

// DropConnections cuts the hub connections of userID (all users when empty)
// without a close message and reports how many were cut.
func (s *Server) DropConnections(userID string) int {
	return s.hub.drop(userID)
}

// ResetToken returns the outstanding password reset token for email.
// The real backend mails it; here it is only logged and exposed.
func (s *Server) ResetToken(email string) string {
	return s.accounts.ResetToken(email)
}

// Account looks up a registered account.
func (s *Server) Account(email string) (*Account, error) {
	return s.accounts.ByEmail(email)
}

func (s *Server) createAccount(email, password, fullName string) (*Account, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return s.accounts.Create(email, fullName, hash, s.nowTime())
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		s.logRoute(method, path)
	}
}

func (s *Server) logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	colour, ok := methodColors[method]
	if !ok {
		colour = Gray
	}
	s.logger.Info().Msgf("[%s%s%s] %s", colour, paddedMethod, ResetColor, path)
}

// EchoReply answers with the prompt, one word per fragment.
func EchoReply(prompt string) []string {
	words := strings.Fields(prompt)
	fragments := make([]string, 0, len(words)+1)
	fragments = append(fragments, "You said:")
	for _, w := range words {
		fragments = append(fragments, " "+w)
	}
	return fragments
}
