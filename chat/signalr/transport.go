package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-finstats-client/chat"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/jrsteele09/go-finstats-client/internal/httpclient"
	"github.com/jrsteele09/go-finstats-client/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultKeepAlive     = 15 * time.Second
	defaultServerTimeout = 30 * time.Second
	writeWait            = 10 * time.Second
	maxRedirects         = 5
	eventBuffer          = 256
)

var _ chat.Transport = (*Transport)(nil)

// Transport connects to an ASP.NET Core SignalR hub over websockets using the JSON hub protocol.
type Transport struct {
	hubURL        string
	client        *http.Client
	dialer        *websocket.Dialer
	logger        zerolog.Logger
	keepAlive     time.Duration
	serverTimeout time.Duration
}

// Option defines a function type to modify the Transport instance.
type Option func(*Transport)

func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		t.client = client
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(t *Transport) {
		t.dialer = dialer
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithKeepAlive sets how often the client pings and how long it waits for the server.
func WithKeepAlive(interval, serverTimeout time.Duration) Option {
	return func(t *Transport) {
		t.keepAlive = interval
		t.serverTimeout = serverTimeout
	}
}

// New returns a transport for the hub at hubURL (for example "https://api.finstats.net/ai-hub").
func New(hubURL string, options ...Option) *Transport {
	t := &Transport{
		hubURL:        strings.TrimRight(hubURL, "/"),
		client:        &http.Client{Timeout: 15 * time.Second},
		dialer:        websocket.DefaultDialer,
		logger:        log.Logger,
		keepAlive:     defaultKeepAlive,
		serverTimeout: defaultServerTimeout,
	}
	for _, opt := range options {
		opt(t)
	}
	t.logger = logging.Component(t.logger, "signalr")
	return t
}

// Dial negotiates, opens the websocket and completes the protocol handshake.
// ctx bounds the dial only; the connection lives until Close or a server close.
func (t *Transport) Dial(ctx context.Context, token string) (chat.Conn, error) {
	hubURL := t.hubURL
	var neg NegotiateResponse
	for redirects := 0; ; redirects++ {
		var err error
		neg, err = t.negotiate(ctx, hubURL, token)
		if err != nil {
			return nil, err
		}
		if neg.URL == "" {
			break
		}
		if redirects == maxRedirects {
			return nil, apperrors.Transport(fmt.Errorf("negotiate redirected more than %d times", maxRedirects))
		}
		// Redirect to a managed service, which issues its own token.
		hubURL = strings.TrimRight(neg.URL, "/")
		if neg.AccessToken != "" {
			token = neg.AccessToken
		}
	}
	if !neg.supportsWebSockets() {
		return nil, apperrors.Transport(fmt.Errorf("hub does not offer websockets"))
	}

	wsURL, err := websocketURL(hubURL, neg, token)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := t.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, apperrors.NewStatusError(resp.StatusCode, []string{"websocket upgrade rejected"})
		}
		return nil, apperrors.Transport(fmt.Errorf("websocket dial: %w", err))
	}

	if err := handshake(ctx, ws, t.serverTimeout); err != nil {
		_ = ws.Close()
		return nil, err
	}

	c := &conn{
		ws:            ws,
		id:            neg.ConnectionID,
		events:        make(chan chat.Event, eventBuffer),
		done:          make(chan struct{}),
		serverTimeout: t.serverTimeout,
		logger:        t.logger.With().Str(logging.FieldConnectionID, neg.ConnectionID).Logger(),
	}
	go c.readLoop()
	go c.keepAlive(t.keepAlive)
	c.logger.Debug().Msg("hub connection established")
	return c, nil
}

func (t *Transport) negotiate(ctx context.Context, hubURL, token string) (NegotiateResponse, error) {
	var neg NegotiateResponse
	_, err := httpclient.Do(ctx, t.client, httpclient.Request{
		Method: http.MethodPost,
		URL:    hubURL + "/negotiate?negotiateVersion=1",
		Bearer: token,
	}, &neg)
	if err != nil {
		return neg, fmt.Errorf("negotiate: %w", err)
	}
	if neg.Error != "" {
		return neg, apperrors.Transport(fmt.Errorf("negotiate: %s", neg.Error))
	}
	if neg.URL == "" && neg.ConnectionID == "" {
		return neg, fmt.Errorf("negotiate: %w: no connection id", apperrors.ErrMalformedResponse)
	}
	return neg, nil
}

func websocketURL(hubURL string, neg NegotiateResponse, token string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	id := neg.ConnectionToken
	if id == "" {
		id = neg.ConnectionID
	}
	q := u.Query()
	q.Set("id", id)
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func handshake(ctx context.Context, ws *websocket.Conn, timeout time.Duration) error {
	req, err := Frame(HandshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, req); err != nil {
		return apperrors.Transport(fmt.Errorf("handshake write: %w", err))
	}
	_ = ws.SetReadDeadline(deadline)
	_, data, err := ws.ReadMessage()
	if err != nil {
		return apperrors.Transport(fmt.Errorf("handshake read: %w", err))
	}
	records := Split(data)
	if len(records) == 0 {
		return fmt.Errorf("handshake: %w: empty response", apperrors.ErrMalformedResponse)
	}
	var resp HandshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return fmt.Errorf("handshake: %w: %v", apperrors.ErrMalformedResponse, err)
	}
	if resp.Error != "" {
		return apperrors.Transport(fmt.Errorf("handshake rejected: %s", resp.Error))
	}
	_ = ws.SetWriteDeadline(time.Time{})
	_ = ws.SetReadDeadline(time.Time{})
	return nil
}

// conn is one hub connection. The read loop is the only reader and writes
// are serialised by writeLock.
type conn struct {
	ws            *websocket.Conn
	id            string
	events        chan chat.Event
	done          chan struct{}
	serverTimeout time.Duration
	logger        zerolog.Logger

	writeLock sync.Mutex
	endOnce   sync.Once
	err       error
}

func (c *conn) ConnectionID() string      { return c.id }
func (c *conn) Events() <-chan chat.Event { return c.events }
func (c *conn) Done() <-chan struct{}     { return c.done }

// Err is nil until Done is closed.
func (c *conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *conn) Close() error {
	c.end(nil)
	c.writeLock.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeLock.Unlock()
	return c.ws.Close()
}

func (c *conn) end(err error) {
	c.endOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *conn) readLoop() {
	defer c.ws.Close()

	for {
		if c.serverTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.serverTimeout))
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug().Err(err).Msg("hub read failed")
			}
			c.end(apperrors.Transport(fmt.Errorf("hub connection lost: %w", err)))
			return
		}
		for _, record := range Split(data) {
			if !c.handle(record) {
				return
			}
		}
	}
}

// handle applies one record and reports whether reading should continue.
func (c *conn) handle(record []byte) bool {
	var msg Message
	if err := json.Unmarshal(record, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("ignoring undecodable hub frame")
		return true
	}

	switch msg.Type {
	case TypeInvocation:
		switch msg.Target {
		case TargetReceiveMessage:
			var text string
			if len(msg.Arguments) > 0 {
				if err := json.Unmarshal(msg.Arguments[0], &text); err != nil {
					c.logger.Warn().Err(err).Msg("ignoring fragment with a non-string argument")
					return true
				}
			}
			return c.emit(chat.Event{Kind: chat.EventFragment, Text: text})
		case TargetMessageComplete:
			return c.emit(chat.Event{Kind: chat.EventComplete})
		default:
			c.logger.Debug().Str("target", msg.Target).Msg("ignoring invocation")
		}
	case TypePing:
	case TypeClose:
		var err error = apperrors.Transport(fmt.Errorf("hub closed the connection"))
		if msg.Error != "" {
			err = apperrors.Transport(fmt.Errorf("hub closed the connection: %s", msg.Error))
		}
		c.end(err)
		return false
	default:
		c.logger.Debug().Int("type", msg.Type).Msg("ignoring hub message")
	}
	return true
}

func (c *conn) emit(ev chat.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *conn) keepAlive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ping, err := Frame(Message{Type: TypePing})
	if err != nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeLock.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.TextMessage, ping)
			c.writeLock.Unlock()
			if err != nil {
				c.end(apperrors.Transport(fmt.Errorf("hub ping failed: %w", err)))
				_ = c.ws.Close()
				return
			}
		}
	}
}
