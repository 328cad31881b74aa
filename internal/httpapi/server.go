package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
	"github.com/serenity-ai/speech-bridge/internal/config"
	"github.com/serenity-ai/speech-bridge/internal/observability"
	"github.com/serenity-ai/speech-bridge/internal/protocol"
)

// ConnectionRunner drives one websocket connection's session state machine.
type ConnectionRunner interface {
	RunConnection(ctx context.Context, sess *bridge.Session, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg      config.Config
	runner   ConnectionRunner
	registry *bridge.Registry
	deps     bridge.Deps
	upgrader websocket.Upgrader
}

// New wires the HTTP surface. The same adapter set the realtime runner uses
// also backs the one-shot pipeline endpoints.
func New(cfg config.Config, runner ConnectionRunner, registry *bridge.Registry, deps bridge.Deps) *Server {
	return &Server{
		cfg:      cfg,
		runner:   runner,
		registry: registry,
		deps:     deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot drive a user's mic
				// session if the bridge is exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/api/v1/rt/chat", s.handleRealtimeWS)
	r.Get("/api/v1/rt/sessions", s.handleListSessions)
	r.Get("/api/v1/perf/latency", s.handlePerfLatency)

	r.Post("/api/v1/stt", s.handleSTT)
	r.Post("/api/v1/stt-chat", s.handleSTTChat)
	r.Post("/api/v1/tts/stt-chat-tts", s.handleSTTChatTTS)
	r.Post("/api/v1/tts/stt-chat-tts-stream", s.handleSTTChatTTSStream)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := "ready"
	code := http.StatusOK
	if strings.TrimSpace(s.cfg.N8NWebhookURL) == "" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":          status,
		"active_sessions": s.registry.ActiveCount(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(infos),
		"sessions": infos,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("reset") == "true" {
		s.deps.Window.Reset()
	}
	respondJSON(w, http.StatusOK, s.deps.Window.Snapshot())
}

// handleRealtimeWS upgrades the connection and runs the session until the
// client disconnects, the runner bails on a protocol violation, or shutdown
// force-closes the registry.
func (s *Server) handleRealtimeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := bridge.NewSession()
	if err := s.registry.Register(sess); err != nil {
		return
	}
	s.deps.Metrics.ActiveSessions.Set(float64(s.registry.ActiveCount()))
	s.deps.Metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer func() {
		s.registry.Remove(sess.ConnID)
		s.deps.Metrics.ActiveSessions.Set(float64(s.registry.ActiveCount()))
		s.deps.Metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sess.SetCancel(cancel)

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer cancel()
		_ = s.runner.RunConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				var writeErr error
				if chunk, isBinary := msg.(protocol.BinaryChunk); isBinary {
					writeErr = conn.WriteMessage(websocket.BinaryMessage, chunk.Data)
				} else {
					writeErr = conn.WriteJSON(msg)
				}
				if writeErr != nil {
					cancel()
					return
				}
				s.deps.Metrics.WSMessages.WithLabelValues("outbound", messageLabel(msg)).Inc()
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		var parsed any
		switch msgType {
		case websocket.BinaryMessage:
			parsed = protocol.BinaryChunk{Data: data}
		case websocket.TextMessage:
			parsed, err = protocol.ParseControlMessage(data)
			if err != nil {
				evt := protocol.NewError(err.Error(), "Unrecognized control message.")
				select {
				case outbound <- evt:
				default:
					// Keep websocket writes single-threaded; drop if the
					// outbound queue is saturated.
					s.deps.Metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
				}
				continue
			}
		default:
			continue
		}

		s.deps.Metrics.WSMessages.WithLabelValues("inbound", messageLabel(parsed)).Inc()
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

func messageLabel(v any) string {
	switch m := v.(type) {
	case protocol.Start:
		return string(m.Type)
	case protocol.Stop:
		return string(m.Type)
	case protocol.BinaryChunk:
		return "audio_chunk"
	case protocol.Ready:
		return string(m.Event)
	case protocol.AudioStart:
		return string(m.Event)
	case protocol.AudioEnd:
		return string(m.Event)
	case protocol.Crisis:
		return string(m.Event)
	case protocol.Error:
		return string(m.Event)
	case protocol.Debug:
		return string(m.Event)
	default:
		return "unknown"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondStageError maps the pipeline failure taxonomy onto HTTP statuses
// for the one-shot endpoints.
func respondStageError(w http.ResponseWriter, err error) {
	code := bridge.CodeOf(err)
	respondError(w, httpStatusForCode(code), string(code), err.Error())
}

func httpStatusForCode(code bridge.Code) int {
	switch code {
	case bridge.CodeProtocolViolation, bridge.CodeEmptyUtterance:
		return http.StatusBadRequest
	case bridge.CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case bridge.CodeConversionFailed, bridge.CodeNoText:
		return http.StatusUnprocessableEntity
	case bridge.CodeUpstreamRejected:
		return http.StatusBadGateway
	case bridge.CodeUpstreamUnavailable, bridge.CodeMalformedResponse, bridge.CodeUnrecognizedShape:
		return http.StatusBadGateway
	case bridge.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
