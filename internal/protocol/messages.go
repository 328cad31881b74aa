package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies client control frame variants.
type MessageType string

const (
	TypeStart MessageType = "start"
	TypeStop  MessageType = "stop"
)

// EventName identifies server event variants.
type EventName string

const (
	EventReady      EventName = "ready"
	EventAudioStart EventName = "audio_start"
	EventAudioEnd   EventName = "audio_end"
	EventCrisis     EventName = "crisis"
	EventError      EventName = "error"
	EventDebug      EventName = "debug"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type envelope struct {
	Type MessageType `json:"type"`
}

// Start opens a new utterance. ContentType declares the container of the
// binary frames that follow; it is fixed for the session once declared.
type Start struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	ContentType string      `json:"content_type"`
	Language    string      `json:"language,omitempty"`
}

// Stop closes the current utterance and triggers the pipeline.
type Stop struct {
	Type MessageType `json:"type"`
}

// BinaryChunk wraps one raw audio frame read off the websocket.
type BinaryChunk struct {
	Data []byte
}

// ParseControlMessage decodes a client text frame into a typed control
// message.
func ParseControlMessage(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, errors.New("start requires session_id")
		}
		if strings.TrimSpace(msg.ContentType) == "" {
			msg.ContentType = "audio/webm"
		}
		return msg, nil
	case TypeStop:
		var msg Stop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// Server events. All are sent as JSON text frames; synthesized audio is
// interleaved as binary frames between AudioStart and AudioEnd.

type Ready struct {
	Event EventName `json:"event"`
}

func NewReady() Ready { return Ready{Event: EventReady} }

type AudioStart struct {
	Event     EventName `json:"event"`
	MediaType string    `json:"media_type"`
	ReplyType string    `json:"type"`
}

type AudioEnd struct {
	Event EventName `json:"event"`
}

type Crisis struct {
	Event EventName      `json:"event"`
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Meta  map[string]any `json:"meta,omitempty"`
}

type Error struct {
	Event   EventName `json:"event"`
	Detail  string    `json:"detail"`
	Message string    `json:"message,omitempty"`
}

func NewError(detail, message string) Error {
	return Error{Event: EventError, Detail: detail, Message: message}
}

// Debug carries the transcript and the raw orchestration result on the
// no-text path so clients can troubleshoot silent replies.
type Debug struct {
	Event      EventName       `json:"event"`
	Transcript string          `json:"transcript"`
	N8NResult  json.RawMessage `json:"n8n_result,omitempty"`
}
