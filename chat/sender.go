package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/go-finstats-client/internal/httpclient"
)

// Sender delivers a prompt to the assistant over a request separate from the
// realtime connection. The reply arrives as fragments on the connection
// identified by connectionID.
type Sender interface {
	Send(ctx context.Context, token, prompt, connectionID string) error
}

type sendRequest struct {
	Prompt       string `json:"prompt"`
	ConnectionID string `json:"connectionId"`
}

var _ Sender = (*HTTPSender)(nil)

// HTTPSender posts prompts to the assistant send endpoint.
type HTTPSender struct {
	url    string
	client *http.Client
}

// NewHTTPSender returns a sender for chatURL (for example "https://api.finstats.net/chat").
// A nil client gets a 30s timeout.
func NewHTTPSender(chatURL string, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSender{url: chatURL, client: client}
}

func (s *HTTPSender) Send(ctx context.Context, token, prompt, connectionID string) error {
	_, err := httpclient.Do(ctx, s.client, httpclient.Request{
		Method: http.MethodPost,
		URL:    s.url,
		Bearer: token,
		Body:   sendRequest{Prompt: prompt, ConnectionID: connectionID},
	}, nil)
	return err
}
