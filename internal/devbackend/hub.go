package devbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-finstats-client/chat/signalr"
	"github.com/jrsteele09/go-finstats-client/internal/logging"
	"github.com/rs/zerolog"
)

const (
	hubHandshakeTimeout = 10 * time.Second
	hubKeepAlive        = 15 * time.Second
	hubClientTimeout    = 30 * time.Second
	hubWriteWait        = 10 * time.Second
)

// negotiation is a connection id handed out by negotiate and not yet used.
type negotiation struct {
	connectionID string
	userID       string
}

// hubConn is one established hub connection.
type hubConn struct {
	id     string
	userID string
	ws     *websocket.Conn
	done   chan struct{}

	writeLock sync.Mutex
	closeOnce sync.Once
}

func (c *hubConn) write(frame []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(hubWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *hubConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// hub is a SignalR compatible endpoint speaking the JSON hub protocol.
// It only ever invokes ReceiveMessage and MessageComplete on clients.
type hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	metrics  *serverMetrics

	lock    sync.Mutex
	pending map[string]negotiation
	conns   map[string]*hubConn
	closed  bool
	wg      sync.WaitGroup
}

func newHub(logger zerolog.Logger, metrics *serverMetrics) *hub {
	return &hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logging.Component(logger, "hub"),
		metrics: metrics,
		pending: make(map[string]negotiation),
		conns:   make(map[string]*hubConn),
	}
}

// negotiate reserves a connection for userID.
func (h *hub) negotiate(userID string) signalr.NegotiateResponse {
	connectionID := uuid.New().String()
	connectionToken := uuid.New().String()

	h.lock.Lock()
	h.pending[connectionToken] = negotiation{connectionID: connectionID, userID: userID}
	h.lock.Unlock()

	return signalr.NegotiateResponse{
		ConnectionID:     connectionID,
		ConnectionToken:  connectionToken,
		NegotiateVersion: 1,
		AvailableTransports: []signalr.AvailableTransport{
			{Transport: "WebSockets", TransferFormats: []string{"Text"}},
		},
	}
}

// claim consumes a negotiation made by userID.
func (h *hub) claim(connectionToken, userID string) (negotiation, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	n, ok := h.pending[connectionToken]
	if !ok || n.userID != userID {
		return negotiation{}, false
	}
	delete(h.pending, connectionToken)
	return n, true
}

// serve upgrades the request and runs the connection until it ends.
func (h *hub) serve(w http.ResponseWriter, r *http.Request, n negotiation) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &hubConn{id: n.connectionID, userID: n.userID, ws: ws, done: make(chan struct{})}
	defer c.close()

	registered := false
	defer func() {
		if !registered {
			return
		}
		h.lock.Lock()
		delete(h.conns, c.id)
		h.lock.Unlock()
		h.metrics.hubConnections.Dec()
		h.wg.Done()
		h.logger.Info().Str(logging.FieldConnectionID, c.id).Msg("hub client disconnected")
	}()

	// The connection is registered before the handshake is acknowledged so
	// prompts sent as soon as the client sees the ack find it.
	err = h.handshake(c, func() bool {
		registered = h.register(c)
		return registered
	})
	if err != nil {
		h.logger.Debug().Err(err).Str(logging.FieldConnectionID, c.id).Msg("hub handshake failed")
		return
	}
	logger := h.logger.With().Str(logging.FieldConnectionID, c.id).Str(logging.FieldUserID, c.userID).Logger()
	logger.Info().Msg("hub client connected")

	go h.keepAlive(c)
	h.readLoop(c, logger)
}

func (h *hub) register(c *hubConn) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	h.metrics.hubConnections.Inc()
	return true
}

// handshake reads the client's protocol request and acknowledges it once accept agrees.
func (h *hub) handshake(c *hubConn, accept func() bool) error {
	_ = c.ws.SetReadDeadline(time.Now().Add(hubHandshakeTimeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	records := signalr.Split(data)
	var req signalr.HandshakeRequest
	if len(records) == 0 || json.Unmarshal(records[0], &req) != nil {
		return fmt.Errorf("undecodable handshake")
	}

	var resp signalr.HandshakeResponse
	if req.Protocol != "json" || req.Version != 1 {
		resp.Error = fmt.Sprintf("the protocol '%s' version %d is not supported", req.Protocol, req.Version)
	} else if !accept() {
		return fmt.Errorf("hub is shutting down")
	}
	frame, err := signalr.Frame(resp)
	if err != nil {
		return err
	}
	if err := c.write(frame); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

func (h *hub) readLoop(c *hubConn, logger zerolog.Logger) {
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(hubClientTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		for _, record := range signalr.Split(data) {
			var msg signalr.Message
			if err := json.Unmarshal(record, &msg); err != nil {
				logger.Warn().Err(err).Msg("ignoring undecodable client frame")
				continue
			}
			switch msg.Type {
			case signalr.TypePing:
			case signalr.TypeClose:
				return
			default:
				logger.Debug().Int("type", msg.Type).Msg("ignoring client message")
			}
		}
	}
}

func (h *hub) keepAlive(c *hubConn) {
	ping, err := signalr.Frame(signalr.Message{Type: signalr.TypePing})
	if err != nil {
		return
	}
	ticker := time.NewTicker(hubKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(ping); err != nil {
				c.close()
				return
			}
		}
	}
}

// owner returns the user a live connection belongs to.
func (h *hub) owner(connectionID string) (string, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	c, ok := h.conns[connectionID]
	if !ok {
		return "", false
	}
	return c.userID, true
}

// stream delivers fragments to a connection with delay between them and,
// when complete is set, finishes with MessageComplete.
func (h *hub) stream(connectionID string, fragments []string, delay time.Duration, complete bool) {
	h.lock.Lock()
	c, ok := h.conns[connectionID]
	h.lock.Unlock()
	if !ok {
		return
	}

	wait := func() bool {
		if delay <= 0 {
			return true
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-c.done:
			return false
		case <-timer.C:
			return true
		}
	}

	for _, fragment := range fragments {
		if !wait() {
			return
		}
		frame, err := signalr.Invocation(signalr.TargetReceiveMessage, fragment)
		if err != nil {
			return
		}
		if err := c.write(frame); err != nil {
			return
		}
		h.metrics.fragments.Inc()
	}
	if !complete || !wait() {
		return
	}
	if frame, err := signalr.Invocation(signalr.TargetMessageComplete); err == nil {
		_ = c.write(frame)
	}
}

// drop closes every connection of userID without a close frame and reports how many there were.
func (h *hub) drop(userID string) int {
	h.lock.Lock()
	var victims []*hubConn
	for _, c := range h.conns {
		if userID == "" || c.userID == userID {
			victims = append(victims, c)
		}
	}
	h.lock.Unlock()

	for _, c := range victims {
		c.close()
	}
	return len(victims)
}

// shutdown sends every client a close message and waits for the connections to end.
func (h *hub) shutdown() {
	frame, _ := signalr.Frame(signalr.Message{Type: signalr.TypeClose, Error: "server shutting down"})
	h.lock.Lock()
	h.closed = true
	conns := make([]*hubConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.lock.Unlock()

	for _, c := range conns {
		if frame != nil {
			_ = c.write(frame)
		}
		c.close()
	}
	h.wg.Wait()
}
