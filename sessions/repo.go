package sessions

import "context"

// Change is a session mutation made outside this process.
// A nil Session means the stored session was removed.
type Change struct {
	Session *Session
}

// Repo defines the durable storage of the single current session.
type Repo interface {
	// Load returns the stored session or errors.ErrSessionNotFound
	Load(ctx context.Context) (*Session, error)

	// Save replaces the stored session as a whole
	Save(ctx context.Context, session *Session) error

	// Delete removes the stored session. Deleting an absent session is not an error.
	Delete(ctx context.Context) error

	// Watch reports changes written by other processes until ctx is done
	Watch(ctx context.Context) (<-chan Change, error)
}
