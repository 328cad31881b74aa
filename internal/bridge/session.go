package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a connection.
type State string

const (
	StateAwaitingStart State = "awaiting_start"
	StateStreaming     State = "streaming"
	StateTranscribing  State = "transcribing"
	StateOrchestrating State = "orchestrating"
	StateSynthesizing  State = "synthesizing"
	StateIdle          State = "idle"
	StateClosed        State = "closed"
)

// Session tracks one websocket connection. The connection id is assigned at
// upgrade time; the client-declared session id, content type and language are
// bound by the first start frame and stay fixed for the connection lifetime.
type Session struct {
	ConnID      string
	ConnectedAt time.Time

	mu          sync.Mutex
	sessionID   string
	contentType string
	language    string
	state       State
	buffered    int
	utterances  int
	cancel      context.CancelFunc
}

func NewSession() *Session {
	return &Session{
		ConnID:      uuid.NewString(),
		ConnectedAt: time.Now().UTC(),
		state:       StateAwaitingStart,
	}
}

// SetCancel installs the hook used to force-close the connection.
func (s *Session) SetCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// CloseNow cancels the connection context if one was installed.
func (s *Session) CloseNow() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// BindStart applies the first start frame, or verifies that a later start
// frame agrees with the binding. The session id and content type cannot
// change mid-connection.
func (s *Session) BindStart(sessionID, contentType, language string) error {
	sessionID = strings.TrimSpace(sessionID)
	contentType = strings.TrimSpace(contentType)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		s.sessionID = sessionID
		s.contentType = contentType
		s.language = strings.TrimSpace(language)
		return nil
	}
	if s.sessionID != sessionID {
		return NewStageError("protocol", CodeProtocolViolation,
			fmt.Sprintf("session_id changed mid-connection: %q -> %q", s.sessionID, sessionID))
	}
	if s.contentType != contentType {
		return NewStageError("protocol", CodeProtocolViolation,
			fmt.Sprintf("content_type changed mid-connection: %q -> %q", s.contentType, contentType))
	}
	return nil
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) ContentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentType
}

func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) setBuffered(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered = n
}

func (s *Session) bumpUtterances() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances++
}

// SessionInfo is the diagnostics view of a live connection.
type SessionInfo struct {
	ConnID        string    `json:"conn_id"`
	SessionID     string    `json:"session_id,omitempty"`
	State         State     `json:"state"`
	ContentType   string    `json:"content_type,omitempty"`
	Language      string    `json:"language,omitempty"`
	BufferedBytes int       `json:"buffered_bytes"`
	Utterances    int       `json:"utterances"`
	ConnectedAt   time.Time `json:"connected_at"`
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ConnID:        s.ConnID,
		SessionID:     s.sessionID,
		State:         s.state,
		ContentType:   s.contentType,
		Language:      s.language,
		BufferedBytes: s.buffered,
		Utterances:    s.utterances,
		ConnectedAt:   s.ConnectedAt,
	}
}
