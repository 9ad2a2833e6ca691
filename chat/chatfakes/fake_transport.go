package fakechat

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-finstats-client/chat"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
)

var (
	_ chat.Transport = (*FakeTransport)(nil)
	_ chat.Conn      = (*FakeConn)(nil)
	_ chat.Sender    = (*FakeSender)(nil)
)

// FakeTransport hands out FakeConns and records the token of every dial.
type FakeTransport struct {
	lock     sync.Mutex
	tokens   []string
	conns    []*FakeConn
	failures int
	failErr  error
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (t *FakeTransport) Dial(ctx context.Context, token string) (chat.Conn, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.tokens = append(t.tokens, token)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.failures > 0 {
		t.failures--
		return nil, t.failErr
	}
	conn := newFakeConn(fmt.Sprintf("conn-%d", len(t.conns)+1), token)
	t.conns = append(t.conns, conn)
	return conn, nil
}

// FailNext makes the next n dials fail with err (a transport error when nil).
func (t *FakeTransport) FailNext(n int, err error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err == nil {
		err = apperrors.Transport(fmt.Errorf("dial refused"))
	}
	t.failures = n
	t.failErr = err
}

// Tokens lists the token of every dial attempt, in order.
func (t *FakeTransport) Tokens() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]string(nil), t.tokens...)
}

// Conns lists every connection handed out, in order.
func (t *FakeTransport) Conns() []*FakeConn {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]*FakeConn(nil), t.conns...)
}

// Last returns the newest connection, or nil.
func (t *FakeTransport) Last() *FakeConn {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// FakeConn is a connection whose server side is driven by the test.
type FakeConn struct {
	id     string
	token  string
	events chan chat.Event
	done   chan struct{}

	lock   sync.Mutex
	err    error
	closed bool
}

func newFakeConn(id, token string) *FakeConn {
	return &FakeConn{
		id:     id,
		token:  token,
		events: make(chan chat.Event, 64),
		done:   make(chan struct{}),
	}
}

func (c *FakeConn) ConnectionID() string      { return c.id }
func (c *FakeConn) Token() string             { return c.token }
func (c *FakeConn) Events() <-chan chat.Event { return c.events }
func (c *FakeConn) Done() <-chan struct{}     { return c.done }

func (c *FakeConn) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

func (c *FakeConn) Close() error {
	c.end(nil, true)
	return nil
}

// Closed reports whether the client closed the connection.
func (c *FakeConn) Closed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

// Fragment pushes a reply fragment.
func (c *FakeConn) Fragment(text string) {
	c.events <- chat.Event{Kind: chat.EventFragment, Text: text}
}

// Complete pushes an explicit completion.
func (c *FakeConn) Complete() {
	c.events <- chat.Event{Kind: chat.EventComplete}
}

// Drop ends the connection from the server side.
func (c *FakeConn) Drop(err error) {
	c.end(err, false)
}

func (c *FakeConn) end(err error, byClient bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.err = err
	c.closed = byClient
	close(c.done)
}

// SentPrompt is one recorded call of FakeSender.
type SentPrompt struct {
	Token        string
	Prompt       string
	ConnectionID string
}

// FakeSender records prompts. SendFunc, when set, decides the result.
type FakeSender struct {
	SendFunc func(ctx context.Context, token, prompt, connectionID string) error

	lock  sync.Mutex
	calls []SentPrompt
}

func NewFakeSender() *FakeSender {
	return &FakeSender{}
}

func (s *FakeSender) Send(ctx context.Context, token, prompt, connectionID string) error {
	s.lock.Lock()
	s.calls = append(s.calls, SentPrompt{Token: token, Prompt: prompt, ConnectionID: connectionID})
	fn := s.SendFunc
	s.lock.Unlock()
	if fn != nil {
		return fn(ctx, token, prompt, connectionID)
	}
	return nil
}

// Calls returns every recorded prompt, in order.
func (s *FakeSender) Calls() []SentPrompt {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]SentPrompt(nil), s.calls...)
}

// Fail makes every following send fail with err.
func (s *FakeSender) Fail(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.SendFunc = func(context.Context, string, string, string) error { return err }
}
