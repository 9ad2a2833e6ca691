package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/jrsteele09/go-finstats-client/internal/logging"
	"github.com/jrsteele09/go-finstats-client/sessions"
)

type dialResult struct {
	epoch uint64
	conn  Conn
	err   error
}

type sendResult struct {
	messageID string
	ownerID   string
	prompt    string
	err       error
}

// loop is the state owned by the Run goroutine.
type loop struct {
	c   *Channel
	ctx context.Context

	session *sessions.Session
	manual  bool // explicit Disconnect; wait for the next session event

	state      State
	conn       Conn
	connEvents <-chan Event
	connDone   <-chan struct{}
	dialEpoch  uint64
	dialCancel context.CancelFunc
	attempt    int  // index into the backoff schedule
	exhausted  bool // retry timer is the liveness check, not a backoff step

	history    []Message // every user's messages; filtered on publish
	assembling string    // id of the assistant message being streamed
	pending    bool      // a reply is expected
	// the idle timer ended the last reply, so its completion may still arrive
	lateComplete bool
	inflight     string // id of the user message whose send call is running
	queue        []string

	idle  *time.Timer
	retry *time.Timer

	dials chan dialResult
	sends chan sendResult
}

func newLoop(ctx context.Context, c *Channel) *loop {
	l := &loop{
		c:     c,
		ctx:   ctx,
		state: Disconnected,
		idle:  time.NewTimer(time.Hour),
		retry: time.NewTimer(time.Hour),
		dials: make(chan dialResult),
		sends: make(chan sendResult),
	}
	l.idle.Stop()
	l.retry.Stop()
	return l
}

func (l *loop) shutdown() {
	l.closeConn()
	l.idle.Stop()
	l.retry.Stop()
	l.state = Disconnected
	l.c.metrics.setState(Disconnected)
	l.publish()
}

func (l *loop) onSession(s *sessions.Session) {
	if s == nil {
		if l.session == nil && l.state == Disconnected {
			return
		}
		l.c.logger.Info().Msg("session ended, disconnecting")
		l.teardown()
		l.session = nil
		l.manual = false
		l.queue = nil
		l.setState(Disconnected)
		return
	}

	prev := l.session
	if !l.manual && prev != nil && prev.UserID == s.UserID && prev.AccessToken == s.AccessToken {
		l.session = s.Clone()
		return
	}

	userChanged := prev == nil || prev.UserID != s.UserID
	l.c.logger.Info().
		Str(logging.FieldUserID, s.UserID).
		Bool("user_changed", userChanged).
		Msg("session changed, reconnecting")

	l.teardown()
	if userChanged {
		l.queue = nil
	}
	l.session = s.Clone()
	l.manual = false
	l.attempt = 0
	l.dial(Connecting)
}

func (l *loop) onCommand(cmd command) error {
	switch cmd.kind {
	case cmdSend:
		return l.send(cmd.text)
	case cmdClear:
		if l.session != nil {
			l.history = without(l.history, l.session.UserID)
		}
		l.assembling = ""
		l.lateComplete = false
		l.idle.Stop()
		l.publish()
		return nil
	case cmdDisconnect:
		l.c.logger.Info().Msg("disconnect requested")
		l.teardown()
		l.manual = true
		l.queue = nil
		l.setState(Disconnected)
		return nil
	default:
		return fmt.Errorf("unknown command %d", cmd.kind)
	}
}

func (l *loop) send(text string) error {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return fmt.Errorf("[Send] %w", apperrors.ErrEmptyPrompt)
	case l.session == nil:
		l.c.metrics.sent("no_session")
		return fmt.Errorf("[Send] %w", apperrors.ErrNoSession)
	case l.state != Connected:
		l.c.metrics.sent("not_connected")
		return fmt.Errorf("[Send] %w", apperrors.ErrNotConnected)
	case l.pending && l.c.sendPolicy == SendPolicyReject:
		l.c.metrics.sent("rejected")
		return fmt.Errorf("[Send] %w", apperrors.ErrReplyPending)
	case l.pending:
		l.c.metrics.sent("queued")
		l.queue = append(l.queue, text)
		return nil
	}
	l.dispatch(text)
	return nil
}

// dispatch appends the user message and starts the send call.
func (l *loop) dispatch(text string) {
	connectionID := l.conn.ConnectionID()
	msg := Message{
		ID:           l.c.newID(),
		Content:      text,
		Origin:       OriginUser,
		Timestamp:    l.c.nowTime(),
		OwnerUserID:  l.session.UserID,
		ConnectionID: connectionID,
	}
	l.history = withMessage(l.history, msg)
	l.pending = true
	l.inflight = msg.ID
	l.c.metrics.sent("dispatched")
	l.publish()

	token := l.session.AccessToken
	go func() {
		err := l.c.sender.Send(l.ctx, token, text, connectionID)
		select {
		case l.sends <- sendResult{messageID: msg.ID, ownerID: msg.OwnerUserID, prompt: text, err: err}:
		case <-l.c.done:
		}
	}()
}

func (l *loop) dispatchQueued() {
	if l.state != Connected || l.pending || len(l.queue) == 0 {
		return
	}
	next := l.queue[0]
	l.queue = l.queue[1:]
	l.dispatch(next)
}

func (l *loop) onSendResult(r sendResult) {
	current := r.messageID == l.inflight
	if current {
		l.inflight = ""
	}
	if r.err == nil {
		return
	}

	l.c.logger.Warn().Err(r.err).Str(logging.FieldUserID, r.ownerID).Msg("prompt delivery failed")
	l.c.metrics.sent("failed")
	l.refreshOnRejection(r.err)

	l.history = withMessage(l.history, Message{
		ID:          l.c.newID(),
		Content:     deliveryFailureText(r.prompt),
		Origin:      OriginAssistant,
		Timestamp:   l.c.nowTime(),
		OwnerUserID: r.ownerID,
	})
	if current && l.assembling == "" {
		l.pending = false
	}
	l.publish()
	l.dispatchQueued()
}

func deliveryFailureText(prompt string) string {
	return fmt.Sprintf("Your message %q could not be delivered to the assistant. Please try again once the connection is back.", prompt)
}

func (l *loop) onEvent(ev Event) {
	switch ev.Kind {
	case EventFragment:
		l.applyFragment(ev.Text)
	case EventComplete:
		if l.assembling == "" && l.lateComplete {
			l.lateComplete = false
			l.c.logger.Debug().Msg("completion for an idle-finalised reply ignored")
			return
		}
		l.finalise(causeComplete)
	}
}

func (l *loop) applyFragment(text string) {
	if l.session == nil {
		return
	}
	l.c.metrics.fragment()

	if l.assembling == "" {
		msg := Message{
			ID:          l.c.newID(),
			Content:     text,
			Origin:      OriginAssistant,
			Timestamp:   l.c.nowTime(),
			OwnerUserID: l.session.UserID,
		}
		if l.conn != nil {
			msg.ConnectionID = l.conn.ConnectionID()
		}
		l.history = withMessage(l.history, msg)
		l.assembling = msg.ID
	} else {
		for _, m := range l.history {
			if m.ID == l.assembling {
				m.Content += text
				l.history = withReplaced(l.history, m)
				break
			}
		}
	}
	l.pending = true
	l.idle.Reset(l.c.idleWindow)
	l.publish()
}

// finalise ends the reply being assembled. A second call for the same reply is a no-op.
func (l *loop) finalise(cause string) {
	if l.assembling == "" && !l.pending {
		return
	}
	l.idle.Stop()
	l.assembling = ""
	l.pending = false
	l.lateComplete = cause == causeIdle
	l.c.metrics.finalised(cause)
	l.c.logger.Debug().Str(logging.FieldReason, cause).Msg("reply finalised")
	l.publish()
	l.dispatchQueued()
}

func (l *loop) dial(state State) {
	l.cancelDial()
	ctx, cancel := context.WithCancel(l.ctx)
	l.dialCancel = cancel
	epoch := l.dialEpoch
	token := l.session.AccessToken

	l.setState(state)
	go func() {
		conn, err := l.c.transport.Dial(ctx, token)
		select {
		case l.dials <- dialResult{epoch: epoch, conn: conn, err: err}:
		case <-l.c.done:
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
}

func (l *loop) onDial(r dialResult) {
	if r.epoch != l.dialEpoch || l.session == nil || l.manual {
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return
	}
	if r.err != nil {
		l.c.logger.Warn().Err(r.err).Int(logging.FieldAttempt, l.attempt).Msg("connect failed")
		l.refreshOnRejection(r.err)
		l.scheduleRetry()
		return
	}

	l.conn = r.conn
	l.connEvents = r.conn.Events()
	l.connDone = r.conn.Done()
	l.attempt = 0
	l.exhausted = false
	l.c.metrics.connected()
	l.c.logger.Info().
		Str(logging.FieldConnectionID, r.conn.ConnectionID()).
		Str(logging.FieldUserID, l.session.UserID).
		Msg("connected")
	l.setState(Connected)
	l.dispatchQueued()
}

// onDrop handles a connection that ended without being asked to.
// Events that arrived before the close are applied first.
func (l *loop) onDrop() {
	// Not Connected any more, so draining cannot dispatch a queued prompt.
	l.state = Reconnecting
	for drained := false; !drained; {
		select {
		case ev, ok := <-l.connEvents:
			if !ok {
				drained = true
				continue
			}
			l.onEvent(ev)
		default:
			drained = true
		}
	}

	l.c.logger.Warn().Err(l.conn.Err()).Str(logging.FieldConnectionID, l.conn.ConnectionID()).Msg("connection lost")
	l.closeConn()
	l.inflight = ""
	l.dropReply()
	l.attempt = 0
	l.scheduleRetry()
}

// scheduleRetry arms the next backoff step, or the liveness check once the schedule is exhausted.
func (l *loop) scheduleRetry() {
	if l.attempt < len(l.c.backoff) {
		delay := l.c.backoff[l.attempt]
		l.attempt++
		l.setState(Reconnecting)
		l.retry.Reset(delay)
		return
	}
	l.c.logger.Warn().Dur("retry_interval", l.c.retryInterval).Msg("retries exhausted, waiting")
	l.attempt = 0
	l.exhausted = true
	l.setState(Disconnected)
	l.retry.Reset(l.c.retryInterval)
}

func (l *loop) onRetry() {
	if l.session == nil || l.manual || l.conn != nil {
		return
	}
	if l.exhausted {
		l.exhausted = false
		cur := l.c.src.Current()
		if cur == nil {
			return
		}
		l.session = cur
		l.dial(Connecting)
		return
	}
	l.c.metrics.retried()
	l.dial(Reconnecting)
}

// refreshOnRejection asks the session source for a new token when the backend rejected ours.
// The store publishes the outcome, which reconnects or disconnects the channel.
func (l *loop) refreshOnRejection(err error) {
	if !apperrors.Is(err, apperrors.ErrAuthentication) {
		return
	}
	refresher, ok := l.c.src.(tokenRefresher)
	if !ok {
		return
	}
	go func() {
		if _, err := refresher.Refresh(l.ctx); err != nil {
			l.c.logger.Warn().Err(err).Msg("token refresh after rejection failed")
		}
	}()
}

// teardown stops everything tied to the current connection. History is kept.
func (l *loop) teardown() {
	l.closeConn()
	l.retry.Stop()
	l.exhausted = false
	l.inflight = ""
	l.dropReply()
}

func (l *loop) dropReply() {
	l.lateComplete = false
	if l.assembling == "" && !l.pending {
		return
	}
	l.idle.Stop()
	l.assembling = ""
	l.pending = false
	l.c.metrics.finalised(causeTeardown)
}

func (l *loop) closeConn() {
	l.cancelDial()
	if l.conn == nil {
		return
	}
	_ = l.conn.Close()
	l.conn = nil
	l.connEvents = nil
	l.connDone = nil
}

// cancelDial aborts an attempt in flight and makes its result stale.
func (l *loop) cancelDial() {
	l.dialEpoch++
	if l.dialCancel != nil {
		l.dialCancel()
		l.dialCancel = nil
	}
}

func (l *loop) setState(s State) {
	if s != l.state {
		l.c.logger.Info().
			Str(logging.FieldState, s.String()).
			Str("previous", l.state.String()).
			Msg("connection state changed")
	}
	l.state = s
	l.c.metrics.setState(s)
	l.publish()
}

func (l *loop) publish() {
	snap := Snapshot{
		State:     l.state,
		Streaming: l.pending,
	}
	if l.conn != nil {
		snap.ConnectionID = l.conn.ConnectionID()
	}
	if l.session != nil {
		snap.ActiveUserID = l.session.UserID
		snap.Messages = ownedBy(l.history, l.session.UserID)
	} else {
		snap.Messages = []Message{}
	}
	l.c.publish(snap)
}
