package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the speech bridge service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// ElevenLabs speech providers.
	XIAPIKey         string
	STTBaseURL       string
	STTModelID       string
	TTSBaseURL       string
	TTSModelID       string
	DefaultTTSFormat string

	// Voice routing. Reply-type specific voices fall back to DefaultVoiceID.
	DefaultVoiceID  string
	VoiceIDEmpathic string
	VoiceIDNeutral  string
	VoiceIDAlert    string
	VoiceIDCrisis   string

	// n8n orchestration webhook.
	N8NWebhookURL    string
	N8NInternalToken string

	// Adapter timeouts and limits.
	HTTPTimeout      time.Duration
	TTSStreamTimeout time.Duration
	TranscodeTimeout time.Duration
	MaxUploadBytes   int64

	// ffmpeg binary used for container/codec conversion.
	FFmpegPath string

	// STT retry policy. Zero means no automatic retry.
	STTMaxRetries   int
	STTRetryBackoff time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "speechbridge"),
		AllowAnyOrigin:   false,
		XIAPIKey:         envTrimmed("XI_API_KEY"),
		STTBaseURL:       envOrDefault("ELEVEN_STT_URL", "https://api.elevenlabs.io/v1/speech-to-text"),
		STTModelID:       envOrDefault("ELEVEN_STT_MODEL_ID", "scribe_v2"),
		TTSBaseURL:       envOrDefault("ELEVEN_TTS_URL", "https://api.elevenlabs.io/v1/text-to-speech"),
		TTSModelID:       envOrDefault("ELEVEN_TTS_MODEL_ID", "eleven_multilingual_v2"),
		DefaultTTSFormat: envOrDefault("DEFAULT_TTS_FORMAT", "mp3_44100_128"),
		DefaultVoiceID:   envTrimmed("DEFAULT_VOICE_ID"),
		VoiceIDEmpathic:  envTrimmed("VOICE_ID_EMPATHIC"),
		VoiceIDNeutral:   envTrimmed("VOICE_ID_NEUTRAL"),
		VoiceIDAlert:     envTrimmed("VOICE_ID_ALERT"),
		VoiceIDCrisis:    envTrimmed("VOICE_ID_CRISIS"),
		N8NWebhookURL:    envTrimmed("N8N_WEBHOOK_URL"),
		N8NInternalToken: envTrimmed("N8N_INTERNAL_TOKEN"),
		FFmpegPath:       envOrDefault("FFMPEG_PATH", "ffmpeg"),
		ShutdownTimeout:  15 * time.Second,
		HTTPTimeout:      30 * time.Second,
		TTSStreamTimeout: 2 * time.Minute,
		TranscodeTimeout: 20 * time.Second,
		STTMaxRetries:    0,
		STTRetryBackoff:  250 * time.Millisecond,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTPTimeout, err = durationFromEnv("HTTP_TIMEOUT", cfg.HTTPTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSStreamTimeout, err = durationFromEnv("TTS_STREAM_TIMEOUT", cfg.TTSStreamTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscodeTimeout, err = durationFromEnv("TRANSCODE_TIMEOUT", cfg.TranscodeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.STTMaxRetries, err = intFromEnv("STT_MAX_RETRIES", cfg.STTMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.STTRetryBackoff, err = durationFromEnv("STT_RETRY_BACKOFF", cfg.STTRetryBackoff)
	if err != nil {
		return Config{}, err
	}

	maxUploadMB, err := intFromEnv("MAX_UPLOAD_MB", 10)
	if err != nil {
		return Config{}, err
	}
	if maxUploadMB <= 0 {
		return Config{}, fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	cfg.MaxUploadBytes = int64(maxUploadMB) << 20

	if cfg.HTTPTimeout <= 0 {
		return Config{}, fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if cfg.TranscodeTimeout <= 0 {
		return Config{}, fmt.Errorf("TRANSCODE_TIMEOUT must be positive")
	}
	if cfg.STTMaxRetries < 0 {
		return Config{}, fmt.Errorf("STT_MAX_RETRIES must be >= 0")
	}
	if cfg.STTMaxRetries > 0 && cfg.STTRetryBackoff <= 0 {
		return Config{}, fmt.Errorf("STT_RETRY_BACKOFF must be positive when retries are enabled")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
