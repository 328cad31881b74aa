package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
	"github.com/serenity-ai/speech-bridge/internal/config"
	"github.com/serenity-ai/speech-bridge/internal/httpapi"
	"github.com/serenity-ai/speech-bridge/internal/n8n"
	"github.com/serenity-ai/speech-bridge/internal/observability"
	"github.com/serenity-ai/speech-bridge/internal/transcode"
	"github.com/serenity-ai/speech-bridge/internal/voice"
)

// ttsSynthesizer adapts the ElevenLabs client to the runner's contract.
type ttsSynthesizer struct {
	client *voice.TTSClient
}

func (a ttsSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (io.ReadCloser, string, error) {
	stream, err := a.client.Synthesize(ctx, text, voiceID)
	if err != nil {
		return nil, "", err
	}
	return stream, stream.MediaType, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if cfg.XIAPIKey == "" {
		log.Printf("warning: XI_API_KEY not set, speech calls will fail")
	}
	if cfg.N8NWebhookURL == "" {
		log.Printf("warning: N8N_WEBHOOK_URL not set, orchestration calls will fail")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(256)

	// Two pools: API calls are bounded by the client timeout, the TTS
	// stream outlives it and is bounded per-request by its own context.
	apiClient := &http.Client{Timeout: cfg.HTTPTimeout}
	streamClient := &http.Client{}

	transcoder := transcode.NewFFmpeg(cfg.FFmpegPath)
	stt := voice.NewSTTClient(apiClient, voice.STTConfig{
		APIKey:         cfg.XIAPIKey,
		URL:            cfg.STTBaseURL,
		ModelID:        cfg.STTModelID,
		Timeout:        cfg.HTTPTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	tts := voice.NewTTSClient(streamClient, voice.TTSConfig{
		APIKey:        cfg.XIAPIKey,
		BaseURL:       cfg.TTSBaseURL,
		ModelID:       cfg.TTSModelID,
		OutputFormat:  cfg.DefaultTTSFormat,
		Timeout:       cfg.HTTPTimeout,
		StreamTimeout: cfg.TTSStreamTimeout,
	})
	orchestrator := n8n.NewClient(apiClient, cfg.N8NWebhookURL, cfg.N8NInternalToken, cfg.HTTPTimeout)

	deps := bridge.Deps{
		Transcoder:  transcoder,
		Transcriber: stt,
		Dispatcher:  orchestrator,
		Synthesizer: ttsSynthesizer{client: tts},
		Normalize:   n8n.Normalize,
		CleanText:   voice.CleanForTTS,
		Voices: voice.Selector{
			Default:  cfg.DefaultVoiceID,
			Empathic: cfg.VoiceIDEmpathic,
			Neutral:  cfg.VoiceIDNeutral,
			Alert:    cfg.VoiceIDAlert,
			Crisis:   cfg.VoiceIDCrisis,
		},
		Metrics: metrics,
		Window:  window,
	}

	registry := bridge.NewRegistry()
	runner := bridge.NewRunner(deps, bridge.RunnerConfig{
		TranscodeTimeout: cfg.TranscodeTimeout,
		STTMaxRetries:    cfg.STTMaxRetries,
		STTRetryBackoff:  cfg.STTRetryBackoff,
	})

	api := httpapi.New(cfg, runner, registry, deps)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	registry.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
