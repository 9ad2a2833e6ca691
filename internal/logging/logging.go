package logging

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Field names shared by every component.
const (
	FieldComponent    = "component"
	FieldUserID       = "user_id"
	FieldEmail        = "email"
	FieldConnectionID = "connection_id"
	FieldState        = "state"
	FieldAttempt      = "attempt"
	FieldStatus       = "status"
	FieldReason       = "reason"
	FieldVersion      = "version"
)

// Config holds logger configuration.
type Config struct {
	Level       string
	Pretty      bool
	ServiceName string
	Output      io.Writer
}

var once sync.Once

// New creates a configured zerolog.Logger.
func New(cfg Config) zerolog.Logger {
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	if cfg.ServiceName != "" {
		logger = logger.With().Str("service", cfg.ServiceName).Logger()
	}
	return logger
}

// Init replaces the zerolog global logger. Only the first call has an effect.
// The standard library logger is bridged so log.Printf output stays structured.
func Init(cfg Config) {
	once.Do(func() {
		log.Logger = New(cfg)
		stdlog.SetFlags(0)
		stdlog.SetOutput(log.Logger.With().Str("source", "stdlog").Logger())
	})
}

// Component returns a child of logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str(FieldComponent, name).Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
