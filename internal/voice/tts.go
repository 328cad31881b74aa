package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
	"github.com/serenity-ai/speech-bridge/internal/reliability"
)

const ttsStage = "tts"

// TTSConfig holds the text-to-speech provider settings.
type TTSConfig struct {
	APIKey        string
	BaseURL       string
	ModelID       string
	OutputFormat  string
	Timeout       time.Duration
	StreamTimeout time.Duration
}

// TTSClient synthesizes speech via an ElevenLabs-style streaming endpoint.
// The returned stream yields bytes as the provider emits them so the client
// can start playback before synthesis finishes.
type TTSClient struct {
	cfg  TTSConfig
	http *http.Client
}

func NewTTSClient(httpClient *http.Client, cfg TTSConfig) *TTSClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1/text-to-speech"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 2 * time.Minute
	}
	return &TTSClient{cfg: cfg, http: httpClient}
}

// Stream is an in-flight synthesis result. Body must be drained or closed;
// Close releases the underlying connection and cancels the stream deadline.
type Stream struct {
	Body      io.ReadCloser
	MediaType string
	cancel    context.CancelFunc
}

func (s *Stream) Read(p []byte) (int, error) { return s.Body.Read(p) }

func (s *Stream) Close() error {
	err := s.Body.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize opens a streaming synthesis call for text with the given voice.
// The stream stays readable after Synthesize returns; the whole stream is
// bounded by the configured stream timeout.
func (c *TTSClient) Synthesize(ctx context.Context, text, voiceID string) (*Stream, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, bridge.NewStageError(ttsStage, bridge.CodeUpstreamUnavailable, "XI_API_KEY not set")
	}
	if strings.TrimSpace(text) == "" {
		return nil, bridge.NewStageError(ttsStage, bridge.CodeUpstreamRejected, "text is empty")
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return nil, bridge.NewStageError(ttsStage, bridge.CodeUpstreamRejected, "no voice_id available")
	}

	body, err := json.Marshal(ttsRequest{Text: text, ModelID: c.cfg.ModelID})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + url.PathEscape(voiceID) + "/stream?output_format=" + url.QueryEscape(c.cfg.OutputFormat)

	streamCtx, cancel := context.WithTimeout(ctx, c.cfg.StreamTimeout)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Accept", "*/*")

	res, err := c.http.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
			return nil, &bridge.StageError{Stage: ttsStage, Code: bridge.CodeTimeout, Detail: "tts request timed out", Err: err}
		}
		return nil, &bridge.StageError{Stage: ttsStage, Code: bridge.CodeUpstreamUnavailable, Detail: err.Error(), Err: err}
	}

	if res.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		cancel()
		msg := fmt.Sprintf("tts status %d: %s", res.StatusCode, strings.TrimSpace(string(detail)))
		if reliability.IsRejectionHTTPStatus(res.StatusCode) {
			return nil, bridge.NewStageError(ttsStage, bridge.CodeUpstreamRejected, msg)
		}
		return nil, &bridge.StageError{
			Stage:     ttsStage,
			Code:      bridge.CodeUpstreamUnavailable,
			Detail:    msg,
			Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
		}
	}

	return &Stream{
		Body:      res.Body,
		MediaType: MediaTypeForFormat(c.cfg.OutputFormat),
		cancel:    cancel,
	}, nil
}

// MediaTypeForFormat maps a provider output format id to the media type
// announced to the client.
func MediaTypeForFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	switch {
	case format == "mp3" || strings.HasPrefix(format, "mp3_"):
		return "audio/mpeg"
	case format == "ogg" || strings.HasPrefix(format, "ogg_"):
		return "audio/ogg"
	case format == "wav" || strings.HasPrefix(format, "wav_") || strings.HasPrefix(format, "pcm_"):
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}
