package devbackend

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-finstats-client/internal/logging"
)

type chatRequest struct {
	Prompt       string `json:"prompt"`
	ConnectionID string `json:"connectionId"`
}

func (s *Server) NegotiateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.hub.negotiate(userIDFrom(r.Context())))
	}
}

// HubHandler upgrades a negotiated connection. The id query parameter is the connection token.
func (s *Server) HubHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, ok := s.hub.claim(r.URL.Query().Get("id"), userIDFrom(r.Context()))
		if !ok {
			writeError(w, http.StatusNotFound, "No connection with that id")
			return
		}
		s.hub.serve(w, r, n)
	}
}

// ChatHandler accepts a prompt and streams the reply over the caller's hub connection.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		userID := userIDFrom(r.Context())
		if strings.TrimSpace(req.Prompt) == "" {
			writeError(w, http.StatusBadRequest, "Prompt is required")
			return
		}

		s.lock.RLock()
		fail, reply, delay, complete := s.failChat, s.reply, s.replyDelay, !s.omitCompletion
		s.lock.RUnlock()
		if fail {
			writeError(w, http.StatusServiceUnavailable, "Assistant is unavailable")
			return
		}
		if owner, ok := s.hub.owner(req.ConnectionID); !ok || owner != userID {
			writeError(w, http.StatusNotFound, "Connection not found")
			return
		}

		s.metrics.prompts.Inc()
		s.logger.Debug().
			Str(logging.FieldUserID, userID).
			Str(logging.FieldConnectionID, req.ConnectionID).
			Msg("prompt accepted")
		go s.hub.stream(req.ConnectionID, reply(req.Prompt), delay, complete)
		writeText(w, http.StatusOK, "Message received")
	}
}
