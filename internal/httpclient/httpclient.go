package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// apiErrorResponse is the error envelope the backend uses for validation failures.
type apiErrorResponse struct {
	StatusCode int      `json:"StatusCode"`
	Errors     []string `json:"Errors"`
	Message    string   `json:"message"`
	Title      string   `json:"title"`
}

// Request describes one JSON call.
type Request struct {
	Method string
	URL    string
	Bearer string // optional access token
	Body   any    // encoded as JSON when non-nil
}

// Do sends req and decodes a JSON response into out (when out is non-nil).
// The raw body is returned so text endpoints can use it directly.
func Do(ctx context.Context, client *http.Client, req Request, out any) ([]byte, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json, text/plain")
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Bearer)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Transport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, StatusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transport(fmt.Errorf("read response: %w", err))
	}
	if out == nil {
		return data, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return data, fmt.Errorf("%w: %s %s: %v", apperrors.ErrMalformedResponse, req.Method, req.URL, err)
	}
	return data, nil
}

// StatusError converts a non-success response into a classified error.
func StatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return apperrors.NewStatusError(resp.StatusCode, errorMessages(data))
}

func errorMessages(data []byte) []string {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}

	var envelope apiErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil {
		switch {
		case len(envelope.Errors) > 0:
			return envelope.Errors
		case envelope.Message != "":
			return []string{envelope.Message}
		case envelope.Title != "":
			return []string{envelope.Title}
		}
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		return []string{str}
	}
	return []string{text}
}

// JoinURL joins a base URL and a path without doubling slashes.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
