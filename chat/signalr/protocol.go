package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordSeparator terminates every JSON hub protocol frame.
const RecordSeparator = 0x1e

// Hub message types.
const (
	TypeInvocation = 1
	TypeStreamItem = 2
	TypeCompletion = 3
	TypePing       = 6
	TypeClose      = 7
)

// Hub methods the assistant invokes on the client.
const (
	TargetReceiveMessage  = "ReceiveMessage"
	TargetMessageComplete = "MessageComplete"
)

// HandshakeRequest opens the JSON hub protocol.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is empty on success.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Message is one hub protocol frame. Only the fields used by the client are decoded.
type Message struct {
	Type           int               `json:"type"`
	Target         string            `json:"target,omitempty"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// NegotiateResponse is the body of POST {hub}/negotiate.
type NegotiateResponse struct {
	ConnectionID        string               `json:"connectionId"`
	ConnectionToken     string               `json:"connectionToken,omitempty"`
	NegotiateVersion    int                  `json:"negotiateVersion"`
	AvailableTransports []AvailableTransport `json:"availableTransports"`
	URL                 string               `json:"url,omitempty"`
	AccessToken         string               `json:"accessToken,omitempty"`
	Error               string               `json:"error,omitempty"`
}

type AvailableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// supportsWebSockets reports whether the server offers text websockets.
// An empty list means the server did not say, which is treated as yes.
func (r NegotiateResponse) supportsWebSockets() bool {
	if len(r.AvailableTransports) == 0 {
		return true
	}
	for _, t := range r.AvailableTransports {
		if t.Transport == "WebSockets" {
			return true
		}
	}
	return false
}

// Frame encodes v as one record.
func Frame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, RecordSeparator), nil
}

// Invocation builds a frame invoking target with args.
func Invocation(target string, args ...any) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument of %s: %w", target, err)
		}
		raw = append(raw, data)
	}
	return Frame(Message{Type: TypeInvocation, Target: target, Arguments: raw})
}

// Split returns the records in data without their separators. Empty records are skipped.
func Split(data []byte) [][]byte {
	var records [][]byte
	for _, r := range bytes.Split(data, []byte{RecordSeparator}) {
		if len(bytes.TrimSpace(r)) > 0 {
			records = append(records, r)
		}
	}
	return records
}
