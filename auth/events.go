package auth

import "github.com/jrsteele09/go-finstats-client/sessions"

// EventReason says which operation produced a session event.
type EventReason string

const (
	EventInitial  EventReason = "initial"  // current value delivered on Subscribe
	EventLogin    EventReason = "login"    // a login succeeded
	EventRefresh  EventReason = "refresh"  // the token pair was replaced
	EventLogout   EventReason = "logout"   // the session was torn down
	EventExternal EventReason = "external" // another process changed the stored session
)

// Event is one publication of the session store. A nil Session means logged out.
type Event struct {
	Session *sessions.Session
	Reason  EventReason
}

// subscriber holds at most one undelivered event; a newer event replaces it.
type subscriber struct {
	ch chan Event
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Event, 1)}
}

// offer delivers ev, dropping the pending event if the reader has not taken it yet.
// Only the store calls offer, always under its lock, so the send cannot block.
func (s *subscriber) offer(ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- ev
}
