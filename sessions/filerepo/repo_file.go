package filerepo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/jrsteele09/go-finstats-client/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ sessions.Repo = (*Repo)(nil)

// Repo persists the session as a JSON file named after sessions.StorageKey.
// Watch turns file system events from other processes into sessions.Change values.
type Repo struct {
	dir    string
	path   string
	logger zerolog.Logger

	lock         sync.Mutex
	known        []byte // last content written or observed, nil when absent
	knownPresent bool
}

// Option configures a Repo.
type Option func(*Repo)

// WithLogger sets the logger used for watch diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Repo) {
		r.logger = logger
	}
}

// New creates the storage directory if needed and returns a file backed repo.
func New(dir string, options ...Option) (*Repo, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dir = filepath.Join(home, ".finstats")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	r := &Repo{
		dir:    dir,
		path:   filepath.Join(dir, sessions.StorageKey+".json"),
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(r)
	}

	// Seed the known state so Watch only reports later changes.
	data, err := os.ReadFile(r.path)
	if err == nil {
		r.known, r.knownPresent = data, true
	}
	return r, nil
}

// Path returns the file the session is stored in.
func (r *Repo) Path() string {
	return r.path
}

func (r *Repo) Load(_ context.Context) (*sessions.Session, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var session sessions.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &session, nil
}

func (r *Repo) Save(_ context.Context, session *sessions.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	tmp, err := os.CreateTemp(r.dir, sessions.StorageKey+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}

	r.known, r.knownPresent = data, true
	return nil
}

func (r *Repo) Delete(_ context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	r.known, r.knownPresent = nil, false
	return nil
}

// Watch reports changes to the session file that were not made through this Repo.
func (r *Repo) Watch(ctx context.Context) (<-chan sessions.Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// The directory is watched because Save replaces the file by rename.
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}

	changes := make(chan sessions.Change, 1)
	go r.handleEvents(ctx, watcher, changes)
	return changes, nil
}

func (r *Repo) handleEvents(ctx context.Context, watcher *fsnotify.Watcher, changes chan<- sessions.Change) {
	defer close(changes)
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			change, changed := r.observe()
			if !changed {
				continue
			}
			select {
			case changes <- change:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn().Err(err).Str("path", r.path).Msg("session file watcher error")
		}
	}
}

// observe re-reads the file and reports whether it differs from the last known content.
func (r *Repo) observe() (sessions.Change, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	data, err := os.ReadFile(r.path)
	present := err == nil
	if err != nil && !os.IsNotExist(err) {
		r.logger.Warn().Err(err).Str("path", r.path).Msg("failed to read session file")
		return sessions.Change{}, false
	}
	if present == r.knownPresent && string(data) == string(r.known) {
		return sessions.Change{}, false
	}

	if !present {
		r.known, r.knownPresent = nil, false
		return sessions.Change{}, true
	}

	var session sessions.Session
	if err := json.Unmarshal(data, &session); err != nil {
		// Most likely a partial write by a writer that does not rename; wait for the next event.
		r.logger.Debug().Err(err).Str("path", r.path).Msg("ignoring undecodable session file")
		return sessions.Change{}, false
	}
	r.known, r.knownPresent = data, true
	return sessions.Change{Session: &session}, true
}
