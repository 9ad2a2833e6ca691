package signalr_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-finstats-client/chat"
	"github.com/jrsteele09/go-finstats-client/chat/signalr"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/stretchr/testify/require"
)

const testToken = "T1"

// hubServer is a minimal hub. script runs after a successful handshake.
type hubServer struct {
	*httptest.Server
	script func(ws *websocket.Conn)

	lock       sync.Mutex
	negotiated []string
	queries    []string
}

func newHubServer(t *testing.T, script func(ws *websocket.Conn)) *hubServer {
	t.Helper()
	h := &hubServer{script: script}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ai-hub/negotiate", func(w http.ResponseWriter, r *http.Request) {
		h.lock.Lock()
		h.negotiated = append(h.negotiated, r.Header.Get("Authorization"))
		h.lock.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(signalr.NegotiateResponse{
			ConnectionID:     "abc",
			ConnectionToken:  "tok-abc",
			NegotiateVersion: 1,
			AvailableTransports: []signalr.AvailableTransport{
				{Transport: "WebSockets", TransferFormats: []string{"Text"}},
			},
		})
	})
	mux.HandleFunc("GET /ai-hub", func(w http.ResponseWriter, r *http.Request) {
		h.lock.Lock()
		h.queries = append(h.queries, r.URL.RawQuery)
		h.lock.Unlock()
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req signalr.HandshakeRequest
		records := signalr.Split(data)
		if len(records) != 1 || json.Unmarshal(records[0], &req) != nil || req.Protocol != "json" {
			return
		}
		resp, _ := signalr.Frame(signalr.HandshakeResponse{})
		if ws.WriteMessage(websocket.TextMessage, resp) != nil {
			return
		}
		if h.script != nil {
			h.script(ws)
		}
	})
	h.Server = httptest.NewServer(mux)
	t.Cleanup(h.Close)
	return h
}

func (h *hubServer) hubURL() string { return h.URL + "/ai-hub" }

func writeFrame(t *testing.T, ws *websocket.Conn, frame []byte, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("encode frame: %v", err)
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, frame)
}

func nextEvent(t *testing.T, conn chat.Conn) chat.Event {
	t.Helper()
	select {
	case ev := <-conn.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a hub event")
		return chat.Event{}
	}
}

func dial(t *testing.T, h *hubServer, token string) (chat.Conn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	transport := signalr.New(h.hubURL(), signalr.WithKeepAlive(50*time.Millisecond, time.Second))
	return transport.Dial(ctx, token)
}

func TestTransport_DialNegotiatesWithBearer(t *testing.T) {
	hold := make(chan struct{})
	h := newHubServer(t, func(ws *websocket.Conn) { <-hold })
	defer close(hold)

	conn, err := dial(t, h, testToken)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, "abc", conn.ConnectionID())
	h.lock.Lock()
	defer h.lock.Unlock()
	require.Equal(t, []string{"Bearer " + testToken}, h.negotiated)
	require.Len(t, h.queries, 1)
	require.Contains(t, h.queries[0], "id=tok-abc")
	require.Contains(t, h.queries[0], "access_token="+testToken)
}

func TestTransport_InvocationsBecomeEvents(t *testing.T) {
	hold := make(chan struct{})
	h := newHubServer(t, func(ws *websocket.Conn) {
		frame, err := signalr.Invocation(signalr.TargetReceiveMessage, "Hel")
		writeFrame(t, ws, frame, err)
		// Two records in one websocket message.
		a, _ := signalr.Invocation(signalr.TargetReceiveMessage, "lo")
		b, err := signalr.Invocation(signalr.TargetMessageComplete)
		writeFrame(t, ws, append(a, b...), err)
		<-hold
	})
	defer close(hold)

	conn, err := dial(t, h, testToken)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, chat.Event{Kind: chat.EventFragment, Text: "Hel"}, nextEvent(t, conn))
	require.Equal(t, chat.Event{Kind: chat.EventFragment, Text: "lo"}, nextEvent(t, conn))
	require.Equal(t, chat.EventComplete, nextEvent(t, conn).Kind)
	require.Nil(t, conn.Err())
}

func TestTransport_PingsAndUnknownTargetsAreIgnored(t *testing.T) {
	hold := make(chan struct{})
	h := newHubServer(t, func(ws *websocket.Conn) {
		frame, err := signalr.Frame(signalr.Message{Type: signalr.TypePing})
		writeFrame(t, ws, frame, err)
		frame, err = signalr.Invocation("SomethingElse", 1)
		writeFrame(t, ws, frame, err)
		writeFrame(t, ws, []byte("not json\x1e"), nil)
		frame, err = signalr.Invocation(signalr.TargetReceiveMessage, "ok")
		writeFrame(t, ws, frame, err)
		<-hold
	})
	defer close(hold)

	conn, err := dial(t, h, testToken)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, chat.Event{Kind: chat.EventFragment, Text: "ok"}, nextEvent(t, conn))
}

func TestTransport_ServerCloseEndsConnection(t *testing.T) {
	h := newHubServer(t, func(ws *websocket.Conn) {
		frame, err := signalr.Frame(signalr.Message{Type: signalr.TypeClose, Error: "server shutting down"})
		writeFrame(t, ws, frame, err)
		time.Sleep(100 * time.Millisecond)
	})

	conn, err := dial(t, h, testToken)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not end")
	}
	require.ErrorIs(t, conn.Err(), apperrors.ErrTransport)
	require.Contains(t, conn.Err().Error(), "server shutting down")
}

func TestTransport_DroppedSocketEndsConnection(t *testing.T) {
	h := newHubServer(t, func(ws *websocket.Conn) {})

	conn, err := dial(t, h, testToken)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not end")
	}
	require.ErrorIs(t, conn.Err(), apperrors.ErrTransport)
}

func TestTransport_CloseByClient(t *testing.T) {
	closed := make(chan struct{})
	h := newHubServer(t, func(ws *websocket.Conn) {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	conn, err := dial(t, h, testToken)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done was not closed")
	}
	require.NoError(t, conn.Err())
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close")
	}
}

func TestTransport_NegotiateRejection(t *testing.T) {
	h := newHubServer(t, nil)

	_, err := dial(t, h, "expired")
	require.ErrorIs(t, err, apperrors.ErrAuthentication)
}

func TestTransport_NegotiateRedirect(t *testing.T) {
	hold := make(chan struct{})
	target := newHubServer(t, func(ws *websocket.Conn) { <-hold })
	defer close(hold)

	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(signalr.NegotiateResponse{
			URL:         target.hubURL(),
			AccessToken: testToken,
		})
	}))
	defer front.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := signalr.New(front.URL+"/ai-hub").Dial(ctx, "front-token")
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, "abc", conn.ConnectionID())
}

func TestTransport_NoWebSockets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(signalr.NegotiateResponse{
			ConnectionID: "abc",
			AvailableTransports: []signalr.AvailableTransport{
				{Transport: "LongPolling", TransferFormats: []string{"Text"}},
			},
		})
	}))
	defer srv.Close()

	_, err := signalr.New(srv.URL+"/ai-hub").Dial(context.Background(), testToken)
	require.ErrorIs(t, err, apperrors.ErrTransport)
}

func TestSplit(t *testing.T) {
	records := signalr.Split([]byte("{\"type\":6}\x1e\x1e{\"type\":7}\x1e"))
	require.Len(t, records, 2)
	require.True(t, strings.HasPrefix(string(records[1]), `{"type":7`))
}
