// Package n8n talks to the orchestration webhook and interprets its
// variably shaped execution results.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
	"github.com/serenity-ai/speech-bridge/internal/reliability"
)

const stageName = "n8n"

// Client forwards transcripts to the n8n webhook. Dispatch is never retried
// automatically: the flow behind the webhook may have side effects.
type Client struct {
	url     string
	token   string
	http    *http.Client
	timeout time.Duration
}

// NewClient wraps the shared HTTP client. The client is pooled and safe for
// concurrent use across sessions.
func NewClient(httpClient *http.Client, url, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:     strings.TrimSpace(url),
		token:   strings.TrimSpace(token),
		http:    httpClient,
		timeout: timeout,
	}
}

type dispatchPayload struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// Dispatch posts {session_id, text} and returns the raw JSON response body.
// Shape interpretation is left to Normalize.
func (c *Client) Dispatch(ctx context.Context, sessionID, text string) (json.RawMessage, error) {
	if c.url == "" {
		return nil, bridge.NewStageError(stageName, bridge.CodeUpstreamUnavailable, "N8N_WEBHOOK_URL not set")
	}

	body, err := json.Marshal(dispatchPayload{SessionID: sessionID, Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Internal-Token", c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &bridge.StageError{Stage: stageName, Code: bridge.CodeTimeout, Detail: "n8n webhook timed out", Err: err}
		}
		return nil, &bridge.StageError{Stage: stageName, Code: bridge.CodeUpstreamUnavailable, Detail: err.Error(), Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, &bridge.StageError{Stage: stageName, Code: bridge.CodeUpstreamUnavailable, Detail: "read n8n response: " + err.Error(), Err: err}
	}

	if res.StatusCode >= 400 {
		code := bridge.CodeUpstreamUnavailable
		if reliability.IsRejectionHTTPStatus(res.StatusCode) {
			code = bridge.CodeUpstreamRejected
		}
		detail := fmt.Sprintf("n8n status %d: %s", res.StatusCode, truncate(string(raw), 400))
		return nil, bridge.NewStageError(stageName, code, detail)
	}

	if !json.Valid(raw) {
		return nil, bridge.NewStageError(stageName, bridge.CodeMalformedResponse, "n8n response is not JSON: "+truncate(string(raw), 200))
	}
	return json.RawMessage(raw), nil
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
