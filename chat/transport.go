package chat

import "context"

// EventKind distinguishes the server pushes the channel understands.
type EventKind int

const (
	// EventFragment carries the next piece of the assistant reply.
	EventFragment EventKind = iota + 1
	// EventComplete marks the end of the reply being assembled.
	EventComplete
)

// Event is one server push received over a Conn.
type Event struct {
	Kind EventKind
	Text string
}

// Transport opens realtime connections authenticated with an access token.
type Transport interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// Conn is one live realtime connection. Events delivers pushes in arrival
// order; Done is closed when the connection ends, after which Err explains why
// (nil after Close).
type Conn interface {
	ConnectionID() string
	Events() <-chan Event
	Done() <-chan struct{}
	Err() error
	Close() error
}
