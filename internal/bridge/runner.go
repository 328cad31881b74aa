package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/serenity-ai/speech-bridge/internal/observability"
	"github.com/serenity-ai/speech-bridge/internal/protocol"
	"github.com/serenity-ai/speech-bridge/internal/reliability"
)

// Adapters the runner drives. The pipeline only depends on these contracts;
// the concrete ffmpeg, ElevenLabs and n8n clients are wired in at startup.
type (
	// Transcoder converts a raw utterance container to mono 16 kHz WAV.
	Transcoder interface {
		Convert(ctx context.Context, raw []byte, contentType string) ([]byte, error)
	}

	// Transcriber turns WAV audio into text.
	Transcriber interface {
		Transcribe(ctx context.Context, wav []byte, language string) (string, error)
	}

	// Dispatcher forwards a transcript to the orchestration webhook and
	// returns its raw JSON result.
	Dispatcher interface {
		Dispatch(ctx context.Context, sessionID, text string) (json.RawMessage, error)
	}

	// Synthesizer opens a speech stream for the reply text. It returns the
	// stream, its media type, and an error.
	Synthesizer interface {
		Synthesize(ctx context.Context, text, voiceID string) (io.ReadCloser, string, error)
	}

	// VoicePicker resolves the voice for a reply.
	VoicePicker interface {
		Pick(overrideVoiceID, replyType string) string
	}
)

// Deps collects the runner's collaborators.
type Deps struct {
	Transcoder  Transcoder
	Transcriber Transcriber
	Dispatcher  Dispatcher
	Synthesizer Synthesizer
	Normalize   func(json.RawMessage) (Reply, error)
	CleanText   func(string) string
	Voices      VoicePicker
	Metrics     *observability.Metrics
	Window      *observability.StageWindow
}

// RunnerConfig tunes pipeline behavior per utterance.
type RunnerConfig struct {
	TranscodeTimeout time.Duration
	STTMaxRetries    int
	STTRetryBackoff  time.Duration
}

const ttsChunkSize = 8 << 10

// Runner owns the session state machine. One RunConnection call serves one
// websocket connection; at most one utterance pipeline is in flight per
// connection because the pipeline runs inline in the inbound loop.
type Runner struct {
	deps Deps
	cfg  RunnerConfig
}

func NewRunner(deps Deps, cfg RunnerConfig) *Runner {
	if cfg.TranscodeTimeout <= 0 {
		cfg.TranscodeTimeout = 20 * time.Second
	}
	if cfg.STTRetryBackoff <= 0 {
		cfg.STTRetryBackoff = 250 * time.Millisecond
	}
	if deps.CleanText == nil {
		deps.CleanText = func(s string) string { return s }
	}
	return &Runner{deps: deps, cfg: cfg}
}

// RunConnection consumes client frames from inbound and emits server events
// (and binary audio chunks) on outbound until the context is cancelled, the
// inbound channel closes, or an unrecoverable protocol violation occurs.
func (r *Runner) RunConnection(ctx context.Context, sess *Session, inbound <-chan any, outbound chan<- any) error {
	defer sess.setState(StateClosed)

	var asm Assembler
	if !r.emit(ctx, outbound, protocol.NewReady()) {
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.Start:
				if err := r.handleStart(ctx, sess, &asm, m, outbound); err != nil {
					return err
				}
			case protocol.BinaryChunk:
				r.handleChunk(ctx, sess, &asm, m, outbound)
			case protocol.Stop:
				r.handleStop(ctx, sess, &asm, outbound)
			default:
				r.sendError(ctx, outbound,
					NewStageError("protocol", CodeProtocolViolation, fmt.Sprintf("unexpected message %T", msg)))
			}
		}
	}
}

// handleStart opens a new utterance. A start that tries to rebind the
// session identity is unrecoverable and closes the connection; a start in
// the wrong state is reported and otherwise ignored.
func (r *Runner) handleStart(ctx context.Context, sess *Session, asm *Assembler, m protocol.Start, outbound chan<- any) error {
	if err := sess.BindStart(m.SessionID, m.ContentType, m.Language); err != nil {
		r.sendError(ctx, outbound, err)
		r.deps.Metrics.SessionEvents.WithLabelValues("rebind_rejected").Inc()
		return err
	}

	switch sess.State() {
	case StateAwaitingStart, StateIdle:
	default:
		r.sendError(ctx, outbound,
			NewStageError("protocol", CodeProtocolViolation,
				fmt.Sprintf("start while %s", sess.State())))
		return nil
	}

	if err := asm.Begin(); err != nil {
		r.sendError(ctx, outbound, err)
		return nil
	}
	sess.setState(StateStreaming)
	sess.setBuffered(0)
	r.deps.Metrics.SessionEvents.WithLabelValues("utterance_started").Inc()
	return nil
}

// handleChunk buffers one audio frame. Frames outside an open utterance are
// reported and dropped without disturbing session state.
func (r *Runner) handleChunk(ctx context.Context, sess *Session, asm *Assembler, m protocol.BinaryChunk, outbound chan<- any) {
	if sess.State() != StateStreaming {
		r.sendError(ctx, outbound,
			NewStageError(assembleStage, CodeProtocolViolation, "binary frame outside an open utterance"))
		return
	}
	if err := asm.Append(m.Data); err != nil {
		r.sendError(ctx, outbound, err)
		return
	}
	sess.setBuffered(asm.Len())
	r.deps.Metrics.AudioBytes.WithLabelValues("inbound").Add(float64(len(m.Data)))
}

// handleStop closes the utterance and runs the pipeline inline. Every exit
// path returns the session to idle and re-arms it with a ready event.
func (r *Runner) handleStop(ctx context.Context, sess *Session, asm *Assembler, outbound chan<- any) {
	if sess.State() != StateStreaming {
		r.sendError(ctx, outbound,
			NewStageError(assembleStage, CodeProtocolViolation, "stop without an open utterance"))
		return
	}

	raw, err := asm.Finish()
	sess.setBuffered(0)
	if err != nil {
		r.failUtterance(ctx, sess, outbound, err)
		return
	}

	r.runPipeline(ctx, sess, raw, outbound)
}

func (r *Runner) runPipeline(ctx context.Context, sess *Session, raw []byte, outbound chan<- any) {
	utteranceStart := time.Now()

	sess.setState(StateTranscribing)

	stageStart := time.Now()
	tctx, cancel := context.WithTimeout(ctx, r.cfg.TranscodeTimeout)
	wav, err := r.deps.Transcoder.Convert(tctx, raw, sess.ContentType())
	cancel()
	if err != nil {
		r.failUtterance(ctx, sess, outbound, err)
		return
	}
	r.observeStage("transcode", stageStart)

	stageStart = time.Now()
	transcript, err := r.transcribeWithRetry(ctx, wav, sess.Language())
	if err != nil {
		r.failUtterance(ctx, sess, outbound, err)
		return
	}
	r.observeStage("stt", stageStart)

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		r.emit(ctx, outbound, protocol.Debug{Event: protocol.EventDebug, Transcript: transcript})
		r.failUtterance(ctx, sess, outbound,
			NewStageError("stt", CodeNoText, "transcript is empty"))
		return
	}

	sess.setState(StateOrchestrating)
	stageStart = time.Now()
	rawReply, err := r.deps.Dispatcher.Dispatch(ctx, sess.SessionID(), transcript)
	if err != nil {
		r.failUtterance(ctx, sess, outbound, err)
		return
	}
	r.observeStage("orchestrate", stageStart)

	reply, err := r.deps.Normalize(rawReply)
	if err != nil {
		r.failUtterance(ctx, sess, outbound, err)
		return
	}

	if reply.IsCrisis() {
		r.deliverCrisis(ctx, sess, reply, outbound)
		r.observeStage("utterance_total", utteranceStart)
		return
	}

	text := r.deps.CleanText(reply.Text)
	if strings.TrimSpace(text) == "" {
		// Nothing speakable came back; surface the raw exchange so the
		// client can see what the orchestrator returned.
		r.emit(ctx, outbound, protocol.Debug{
			Event:      protocol.EventDebug,
			Transcript: transcript,
			N8NResult:  rawReply,
		})
		r.failUtterance(ctx, sess, outbound,
			NewStageError("tts", CodeNoText, "reply has no speakable text"))
		return
	}

	if !r.deliverSpeech(ctx, sess, reply, text, outbound) {
		return
	}
	r.observeStage("utterance_total", utteranceStart)
	r.deps.Metrics.SessionEvents.WithLabelValues("utterance_completed").Inc()
	sess.bumpUtterances()
	r.rearm(ctx, sess, outbound)
}

// deliverCrisis routes the reply to the UI alert path. Crisis replies never
// reach the synthesizer; a textless crisis falls back to the canned safety
// copy.
func (r *Runner) deliverCrisis(ctx context.Context, sess *Session, reply Reply, outbound chan<- any) {
	text := strings.TrimSpace(reply.Text)
	if text == "" {
		text = CrisisFallbackText(reply.Meta)
	}
	crisisType := reply.RawType
	if crisisType == "" {
		crisisType = string(KindCrisis)
	}
	r.emit(ctx, outbound, protocol.Crisis{
		Event: protocol.EventCrisis,
		Type:  crisisType,
		Text:  text,
		Meta:  reply.Meta,
	})
	r.deps.Metrics.SessionEvents.WithLabelValues("crisis").Inc()
	sess.bumpUtterances()
	r.rearm(ctx, sess, outbound)
}

// deliverSpeech synthesizes the cleaned reply text and streams audio frames
// between audio_start and audio_end. Returns false when the utterance failed
// and has already been reported.
func (r *Runner) deliverSpeech(ctx context.Context, sess *Session, reply Reply, text string, outbound chan<- any) bool {
	sess.setState(StateSynthesizing)
	voiceID := r.deps.Voices.Pick(reply.VoiceID, reply.RawType)

	ttsStart := time.Now()
	stream, mediaType, err := r.deps.Synthesizer.Synthesize(ctx, text, voiceID)
	if err != nil {
		r.failUtterance(ctx, sess, outbound, err)
		return false
	}
	defer stream.Close()

	replyType := reply.RawType
	if replyType == "" {
		replyType = string(KindChat)
	}
	if !r.emit(ctx, outbound, protocol.AudioStart{
		Event:     protocol.EventAudioStart,
		MediaType: mediaType,
		ReplyType: replyType,
	}) {
		return false
	}

	firstChunk := true
	buf := make([]byte, ttsChunkSize)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if firstChunk {
				r.observeStage("tts_first_byte", ttsStart)
				firstChunk = false
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !r.emit(ctx, outbound, protocol.BinaryChunk{Data: chunk}) {
				return false
			}
			r.deps.Metrics.AudioBytes.WithLabelValues("outbound").Add(float64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// The client already has partial audio; close the segment so
			// playback can stop cleanly.
			r.sendError(ctx, outbound,
				&StageError{Stage: "tts", Code: CodeUpstreamUnavailable, Detail: "synthesis stream interrupted", Err: readErr})
			r.emit(ctx, outbound, protocol.AudioEnd{Event: protocol.EventAudioEnd})
			r.countFailure("tts", CodeUpstreamUnavailable)
			r.rearm(ctx, sess, outbound)
			return false
		}
	}

	return r.emit(ctx, outbound, protocol.AudioEnd{Event: protocol.EventAudioEnd})
}

// transcribeWithRetry re-sends the utterance only for failures the STT
// adapter marked retryable. Orchestration is never retried because the
// webhook may have side effects; transcription is read-only.
func (r *Runner) transcribeWithRetry(ctx context.Context, wav []byte, language string) (string, error) {
	for attempt := 0; ; attempt++ {
		text, err := r.deps.Transcriber.Transcribe(ctx, wav, language)
		if err == nil {
			return text, nil
		}
		var se *StageError
		if attempt >= r.cfg.STTMaxRetries || !errors.As(err, &se) || !se.Retryable {
			return "", err
		}
		r.deps.Window.ObserveIndicator("stt_retry")
		delay := reliability.ExponentialBackoff(attempt, r.cfg.STTRetryBackoff, 5*time.Second)
		select {
		case <-ctx.Done():
			return "", err
		case <-time.After(delay):
		}
	}
}

// failUtterance reports a pipeline failure and returns the session to idle.
func (r *Runner) failUtterance(ctx context.Context, sess *Session, outbound chan<- any, err error) {
	code := CodeOf(err)
	stage := stageOf(err)
	log.Printf("utterance failed conn=%s session=%s stage=%s code=%s: %v",
		sess.ConnID, sess.SessionID(), stage, code, err)
	r.countFailure(stage, code)
	r.sendError(ctx, outbound, err)
	r.rearm(ctx, sess, outbound)
}

func (r *Runner) countFailure(stage string, code Code) {
	r.deps.Metrics.PipelineErrors.WithLabelValues(stage, string(code)).Inc()
	r.deps.Metrics.SessionEvents.WithLabelValues("utterance_failed").Inc()
	r.deps.Window.ObserveIndicator("error_" + string(code))
}

// rearm returns the session to idle and tells the client it may start the
// next utterance.
func (r *Runner) rearm(ctx context.Context, sess *Session, outbound chan<- any) {
	sess.setState(StateIdle)
	r.emit(ctx, outbound, protocol.NewReady())
}

func (r *Runner) sendError(ctx context.Context, outbound chan<- any, err error) {
	r.emit(ctx, outbound, protocol.NewError(err.Error(), userMessage(CodeOf(err))))
}

func (r *Runner) emit(ctx context.Context, outbound chan<- any, msg any) bool {
	select {
	case outbound <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) observeStage(stage string, start time.Time) {
	d := time.Since(start)
	r.deps.Metrics.ObserveStage(stage, d)
	r.deps.Window.Observe(stage, float64(d.Milliseconds()))
}

func stageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}

// userMessage maps a failure code to the short copy shown to the client.
// The detail field keeps the technical cause.
func userMessage(code Code) string {
	switch code {
	case CodeProtocolViolation:
		return "Invalid message for the current session state."
	case CodeEmptyUtterance:
		return "No audio was received for this utterance."
	case CodeUnsupportedFormat:
		return "The declared audio format is not supported."
	case CodeConversionFailed:
		return "The audio could not be converted for transcription."
	case CodeTimeout:
		return "An upstream call timed out. Please try again."
	case CodeUpstreamUnavailable:
		return "A speech service is temporarily unavailable."
	case CodeUpstreamRejected:
		return "A speech service rejected the request."
	case CodeMalformedResponse, CodeUnrecognizedShape:
		return "The assistant reply could not be understood."
	case CodeNoText:
		return "Nothing speakable came back for this utterance."
	default:
		return "Something went wrong while processing the utterance."
	}
}
