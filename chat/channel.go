package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-finstats-client/auth"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/jrsteele09/go-finstats-client/internal/logging"
	"github.com/jrsteele09/go-finstats-client/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionSource is the part of the session store the channel depends on.
// *auth.SessionStore satisfies it.
type SessionSource interface {
	Current() *sessions.Session
	Subscribe() (<-chan auth.Event, func())
}

// tokenRefresher is implemented by session sources that can renew a rejected token.
type tokenRefresher interface {
	Refresh(ctx context.Context) (*sessions.Session, error)
}

// Channel keeps one realtime connection to the assistant for the active
// session and assembles streamed replies into messages. All state is owned
// by the Run goroutine; other methods talk to it through commands and read
// the published Snapshot.
type Channel struct {
	src       SessionSource
	transport Transport
	sender    Sender

	logger        zerolog.Logger
	idleWindow    time.Duration
	backoff       []time.Duration
	retryInterval time.Duration
	sendPolicy    SendPolicy
	metrics       *Metrics
	newID         func() string
	nowTime       func() time.Time

	commands chan command
	running  atomic.Bool
	done     chan struct{}

	lock        sync.RWMutex
	snapshot    Snapshot
	subscribers map[*subscriber]struct{}
}

type commandKind int

const (
	cmdSend commandKind = iota
	cmdClear
	cmdDisconnect
)

type command struct {
	kind  commandKind
	text  string
	reply chan error
}

// NewChannel creates a channel. Nothing happens until Run is called.
func NewChannel(src SessionSource, transport Transport, sender Sender, options ...Option) *Channel {
	c := &Channel{
		src:           src,
		transport:     transport,
		sender:        sender,
		logger:        log.Logger,
		idleWindow:    defaultIdleWindow,
		backoff:       append([]time.Duration(nil), DefaultBackoff...),
		retryInterval: defaultRetryInterval,
		sendPolicy:    SendPolicyReject,
		newID:         uuid.NewString,
		nowTime:       time.Now,
		commands:      make(chan command),
		done:          make(chan struct{}),
		subscribers:   make(map[*subscriber]struct{}),
		snapshot:      Snapshot{State: Disconnected, Messages: []Message{}},
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = logging.Component(c.logger, "chat-channel")
	return c
}

// Run drives the channel until ctx ends. It may be called once.
func (c *Channel) Run(ctx context.Context) error {
	if c.src == nil || c.transport == nil || c.sender == nil {
		return fmt.Errorf("[Channel.Run] session source, transport and sender are required")
	}
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("[Channel.Run] already running")
	}
	defer close(c.done)

	events, unsubscribe := c.src.Subscribe()
	defer unsubscribe()

	l := newLoop(ctx, c)
	defer l.shutdown()

	c.logger.Debug().Dur("idle_window", c.idleWindow).Str("send_policy", c.sendPolicy.String()).Msg("channel running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			l.onSession(ev.Session)
		case cmd := <-c.commands:
			cmd.reply <- l.onCommand(cmd)
		case r := <-l.dials:
			l.onDial(r)
		case r := <-l.sends:
			l.onSendResult(r)
		case ev, ok := <-l.connEvents:
			if !ok {
				l.connEvents = nil
				continue
			}
			l.onEvent(ev)
		case <-l.connDone:
			l.onDrop()
		case <-l.idle.C:
			l.finalise(causeIdle)
		case <-l.retry.C:
			l.onRetry()
		}
	}
}

// Send appends text as a user message and delivers it to the assistant.
// It fails with ErrNotConnected unless the channel is connected and, under
// SendPolicyReject, with ErrReplyPending while a reply is still pending.
// A delivery failure is reported in the conversation, not returned.
func (c *Channel) Send(ctx context.Context, text string) error {
	return c.do(ctx, command{kind: cmdSend, text: text})
}

// ClearMessages forgets the active user's messages.
func (c *Channel) ClearMessages(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdClear})
}

// Disconnect closes the connection. The channel stays disconnected until the
// session store publishes again.
func (c *Channel) Disconnect(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdDisconnect})
}

func (c *Channel) do(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return apperrors.ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return apperrors.ErrClosed
	}
}

// Snapshot returns the latest published view.
func (c *Channel) Snapshot() Snapshot {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.snapshot
}

// Messages returns the messages of the active user.
func (c *Channel) Messages() []Message {
	snap := c.Snapshot()
	return append([]Message(nil), snap.Messages...)
}

// Subscribe returns a feed of snapshots starting with the current one.
// A slow reader skips intermediate snapshots but always ends on the newest.
func (c *Channel) Subscribe() (<-chan Snapshot, func()) {
	c.lock.Lock()
	defer c.lock.Unlock()

	sub := &subscriber{ch: make(chan Snapshot, 1)}
	sub.offer(c.snapshot)
	c.subscribers[sub] = struct{}{}

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			c.lock.Lock()
			defer c.lock.Unlock()
			delete(c.subscribers, sub)
			close(sub.ch)
		})
	}
}

// Done is closed when Run returns.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) publish(snap Snapshot) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.snapshot = snap
	for sub := range c.subscribers {
		sub.offer(snap)
	}
}

type subscriber struct {
	ch chan Snapshot
}

// offer replaces any snapshot the reader has not taken yet. Called under the channel lock.
func (s *subscriber) offer(snap Snapshot) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}
