package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
)

// One-shot pipeline endpoints. They run the same adapters as the realtime
// runner but over a single HTTP request/response, which makes them handy for
// curl-level smoke tests and batch clients that do not hold a websocket.

type replyPayload struct {
	Text    string         `json:"text"`
	Type    string         `json:"type"`
	Crisis  bool           `json:"crisis"`
	Meta    map[string]any `json:"meta,omitempty"`
	VoiceID string         `json:"voice_id,omitempty"`
}

func replyToPayload(reply bridge.Reply) replyPayload {
	replyType := reply.RawType
	if replyType == "" {
		replyType = string(reply.Kind)
	}
	return replyPayload{
		Text:    reply.Text,
		Type:    replyType,
		Crisis:  reply.IsCrisis(),
		Meta:    reply.Meta,
		VoiceID: reply.VoiceID,
	}
}

// readUtterance pulls the audio payload off the request body, capped at the
// configured upload limit.
func (s *Server) readUtterance(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large",
			fmt.Sprintf("audio payload exceeds %d bytes", s.cfg.MaxUploadBytes))
		return nil, "", false
	}
	if len(raw) == 0 {
		respondError(w, http.StatusBadRequest, string(bridge.CodeEmptyUtterance), "request body is empty")
		return nil, "", false
	}
	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "audio/webm"
	}
	return raw, contentType, true
}

func (s *Server) transcribeUpload(ctx context.Context, raw []byte, contentType, language string) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TranscodeTimeout)
	wav, err := s.deps.Transcoder.Convert(tctx, raw, contentType)
	cancel()
	if err != nil {
		return "", err
	}
	return s.deps.Transcriber.Transcribe(ctx, wav, language)
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	raw, contentType, ok := s.readUtterance(w, r)
	if !ok {
		return
	}

	started := time.Now()
	text, err := s.transcribeUpload(r.Context(), raw, contentType, r.URL.Query().Get("language"))
	if err != nil {
		respondStageError(w, err)
		return
	}
	w.Header().Set("X-Perf-STT-MS", strconv.FormatInt(time.Since(started).Milliseconds(), 10))
	respondJSON(w, http.StatusOK, map[string]any{"text": text})
}

func (s *Server) handleSTTChat(w http.ResponseWriter, r *http.Request) {
	raw, contentType, ok := s.readUtterance(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	sttStarted := time.Now()
	transcript, err := s.transcribeUpload(r.Context(), raw, contentType, q.Get("language"))
	if err != nil {
		respondStageError(w, err)
		return
	}
	sttMS := time.Since(sttStarted).Milliseconds()

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		respondError(w, http.StatusUnprocessableEntity, string(bridge.CodeNoText), "transcript is empty")
		return
	}

	chatStarted := time.Now()
	reply, err := s.orchestrate(r.Context(), q.Get("session_id"), transcript)
	if err != nil {
		respondStageError(w, err)
		return
	}

	w.Header().Set("X-Perf-STT-MS", strconv.FormatInt(sttMS, 10))
	w.Header().Set("X-Perf-Chat-MS", strconv.FormatInt(time.Since(chatStarted).Milliseconds(), 10))
	respondJSON(w, http.StatusOK, map[string]any{
		"transcript": transcript,
		"reply":      replyToPayload(reply),
	})
}

func (s *Server) orchestrate(ctx context.Context, sessionID, transcript string) (bridge.Reply, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	rawReply, err := s.deps.Dispatcher.Dispatch(ctx, sessionID, transcript)
	if err != nil {
		return bridge.Reply{}, err
	}
	return s.deps.Normalize(rawReply)
}

// pipelineResult is the shared outcome of the stt-chat-tts endpoints up to
// the synthesis step.
type pipelineResult struct {
	transcript string
	reply      bridge.Reply
	sttMS      int64
	chatMS     int64
}

func (s *Server) runOneShotPipeline(w http.ResponseWriter, r *http.Request) (*pipelineResult, bool) {
	raw, contentType, ok := s.readUtterance(w, r)
	if !ok {
		return nil, false
	}
	q := r.URL.Query()

	sttStarted := time.Now()
	transcript, err := s.transcribeUpload(r.Context(), raw, contentType, q.Get("language"))
	if err != nil {
		respondStageError(w, err)
		return nil, false
	}
	sttMS := time.Since(sttStarted).Milliseconds()

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		respondError(w, http.StatusUnprocessableEntity, string(bridge.CodeNoText), "transcript is empty")
		return nil, false
	}

	chatStarted := time.Now()
	reply, err := s.orchestrate(r.Context(), q.Get("session_id"), transcript)
	if err != nil {
		respondStageError(w, err)
		return nil, false
	}

	return &pipelineResult{
		transcript: transcript,
		reply:      reply,
		sttMS:      sttMS,
		chatMS:     time.Since(chatStarted).Milliseconds(),
	}, true
}

// synthesisFor opens the TTS stream for a chat reply, honoring an explicit
// voice_id query override ahead of the reply's own voice hint.
func (s *Server) synthesisFor(r *http.Request, reply bridge.Reply) (io.ReadCloser, string, error) {
	text := s.deps.CleanText(reply.Text)
	if strings.TrimSpace(text) == "" {
		return nil, "", bridge.NewStageError("tts", bridge.CodeNoText, "reply has no speakable text")
	}
	override := strings.TrimSpace(r.URL.Query().Get("voice_id"))
	if override == "" {
		override = reply.VoiceID
	}
	voiceID := s.deps.Voices.Pick(override, reply.RawType)
	return s.deps.Synthesizer.Synthesize(r.Context(), text, voiceID)
}

func (s *Server) setPipelinePerfHeaders(w http.ResponseWriter, res *pipelineResult) {
	w.Header().Set("X-Perf-STT-MS", strconv.FormatInt(res.sttMS, 10))
	w.Header().Set("X-Perf-Chat-MS", strconv.FormatInt(res.chatMS, 10))
}

// handleSTTChatTTS runs the full pipeline and returns the synthesized audio
// in one buffered response. Crisis replies come back as JSON; they are never
// synthesized.
func (s *Server) handleSTTChatTTS(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runOneShotPipeline(w, r)
	if !ok {
		return
	}

	if res.reply.IsCrisis() {
		s.respondCrisis(w, res)
		return
	}

	ttsStarted := time.Now()
	stream, mediaType, err := s.synthesisFor(r, res.reply)
	if err != nil {
		respondStageError(w, err)
		return
	}
	defer stream.Close()

	audio, err := io.ReadAll(stream)
	if err != nil {
		respondStageError(w,
			&bridge.StageError{Stage: "tts", Code: bridge.CodeUpstreamUnavailable, Detail: "synthesis stream interrupted", Err: err})
		return
	}

	s.setPipelinePerfHeaders(w, res)
	w.Header().Set("X-Perf-TTS-MS", strconv.FormatInt(time.Since(ttsStarted).Milliseconds(), 10))
	w.Header().Set("X-Reply-Type", replyTypeOf(res.reply))
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// handleSTTChatTTSStream is the flushing variant: audio bytes go out as the
// provider emits them.
func (s *Server) handleSTTChatTTSStream(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runOneShotPipeline(w, r)
	if !ok {
		return
	}

	if res.reply.IsCrisis() {
		s.respondCrisis(w, res)
		return
	}

	stream, mediaType, err := s.synthesisFor(r, res.reply)
	if err != nil {
		respondStageError(w, err)
		return
	}
	defer stream.Close()

	s.setPipelinePerfHeaders(w, res)
	w.Header().Set("X-Reply-Type", replyTypeOf(res.reply))
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 8<<10)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			// Headers are gone; nothing more to report on a mid-stream
			// failure than truncating the body.
			return
		}
	}
}

func (s *Server) respondCrisis(w http.ResponseWriter, res *pipelineResult) {
	text := strings.TrimSpace(res.reply.Text)
	if text == "" {
		text = bridge.CrisisFallbackText(res.reply.Meta)
	}
	s.setPipelinePerfHeaders(w, res)
	w.Header().Set("X-Reply-Type", "crisis")
	respondJSON(w, http.StatusOK, map[string]any{
		"crisis":     true,
		"type":       replyTypeOf(res.reply),
		"text":       text,
		"meta":       res.reply.Meta,
		"transcript": res.transcript,
	})
}

func replyTypeOf(reply bridge.Reply) string {
	if reply.RawType != "" {
		return reply.RawType
	}
	return string(reply.Kind)
}
