// Package voice wraps the remote speech providers behind single-call
// adapters with a uniform failure contract.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
	"github.com/serenity-ai/speech-bridge/internal/reliability"
)

const sttStage = "stt"

// STTConfig holds the speech-to-text provider settings.
type STTConfig struct {
	APIKey         string
	URL            string
	ModelID        string
	Timeout        time.Duration
	MaxUploadBytes int64
}

// STTClient submits WAV audio to an ElevenLabs-style speech-to-text endpoint
// and returns the transcript. One network call per Transcribe; retry policy
// belongs to the caller.
type STTClient struct {
	cfg  STTConfig
	http *http.Client
}

func NewSTTClient(httpClient *http.Client, cfg STTConfig) *STTClient {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "https://api.elevenlabs.io/v1/speech-to-text"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "scribe_v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &STTClient{cfg: cfg, http: httpClient}
}

type sttResponse struct {
	Text string `json:"text"`
}

// Transcribe posts WAV bytes and returns the transcript text. An empty
// transcript is returned as-is; the caller decides how to treat it.
func (c *STTClient) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", bridge.NewStageError(sttStage, bridge.CodeUpstreamUnavailable, "XI_API_KEY not set")
	}
	if len(wav) == 0 {
		return "", bridge.NewStageError(sttStage, bridge.CodeUpstreamRejected, "empty audio")
	}
	if c.cfg.MaxUploadBytes > 0 && int64(len(wav)) > c.cfg.MaxUploadBytes {
		return "", bridge.NewStageError(sttStage, bridge.CodeUpstreamRejected,
			fmt.Sprintf("audio exceeds max size of %d bytes", c.cfg.MaxUploadBytes))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write multipart file: %w", err)
	}
	if err := mw.WriteField("model_id", c.cfg.ModelID); err != nil {
		return "", fmt.Errorf("write model_id field: %w", err)
	}
	if language = strings.TrimSpace(language); language != "" {
		if err := mw.WriteField("language_code", language); err != nil {
			return "", fmt.Errorf("write language_code field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &body)
	if err != nil {
		return "", fmt.Errorf("create stt request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &bridge.StageError{Stage: sttStage, Code: bridge.CodeTimeout, Detail: "stt request timed out", Retryable: true, Err: err}
		}
		return "", &bridge.StageError{Stage: sttStage, Code: bridge.CodeUpstreamUnavailable, Detail: err.Error(), Retryable: true, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", &bridge.StageError{Stage: sttStage, Code: bridge.CodeUpstreamUnavailable, Detail: "read stt response: " + err.Error(), Retryable: true, Err: err}
	}

	if res.StatusCode >= 400 {
		detail := fmt.Sprintf("stt status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
		if reliability.IsRejectionHTTPStatus(res.StatusCode) {
			return "", bridge.NewStageError(sttStage, bridge.CodeUpstreamRejected, detail)
		}
		return "", &bridge.StageError{
			Stage:     sttStage,
			Code:      bridge.CodeUpstreamUnavailable,
			Detail:    detail,
			Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
		}
	}

	var parsed sttResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", bridge.NewStageError(sttStage, bridge.CodeMalformedResponse, "invalid stt provider response")
	}
	return parsed.Text, nil
}
