package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
)

func postAudio(t *testing.T, srv *httptest.Server, path string, body []byte, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return res
}

func TestOneShotSTT(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	res := postAudio(t, srv, "/api/v1/stt?language=id", []byte("webm-bytes"), "audio/webm")
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["text"] != "halo dunia" {
		t.Fatalf("text = %q", body["text"])
	}
	if res.Header.Get("X-Perf-STT-MS") == "" {
		t.Fatalf("missing X-Perf-STT-MS header")
	}
	if f.transcoder.gotContentType != "audio/webm" {
		t.Fatalf("transcoder content type = %q", f.transcoder.gotContentType)
	}
}

func TestOneShotSTTDefaultsContentType(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	res := postAudio(t, srv, "/api/v1/stt", []byte("bytes"), "application/octet-stream")
	res.Body.Close()
	if f.transcoder.gotContentType != "audio/webm" {
		t.Fatalf("content type = %q, want audio/webm default", f.transcoder.gotContentType)
	}
}

func TestOneShotSTTEmptyBody(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	res := postAudio(t, srv, "/api/v1/stt", nil, "audio/webm")
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestOneShotSTTChat(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	res := postAudio(t, srv, "/api/v1/stt-chat?session_id=sess-9", []byte("webm"), "audio/webm")
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var body struct {
		Transcript string       `json:"transcript"`
		Reply      replyPayload `json:"reply"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Transcript != "halo dunia" {
		t.Fatalf("transcript = %q", body.Transcript)
	}
	if body.Reply.Text != "kabar baik" || body.Reply.Type != "chat" || body.Reply.Crisis {
		t.Fatalf("reply = %+v", body.Reply)
	}
	if f.dispatcher.gotSessionID != "sess-9" {
		t.Fatalf("session id = %q", f.dispatcher.gotSessionID)
	}
	if f.dispatcher.gotText != "halo dunia" {
		t.Fatalf("dispatched text = %q", f.dispatcher.gotText)
	}
}

func TestOneShotSTTChatGeneratesSessionID(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	res := postAudio(t, srv, "/api/v1/stt-chat", []byte("webm"), "audio/webm")
	res.Body.Close()
	if strings.TrimSpace(f.dispatcher.gotSessionID) == "" {
		t.Fatalf("a session id should be generated when the client omits one")
	}
}

func TestOneShotSTTChatTTS(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	res := postAudio(t, srv, "/api/v1/tts/stt-chat-tts", []byte("webm"), "audio/webm")
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if got := res.Header.Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := res.Header.Get("X-Reply-Type"); got != "chat" {
		t.Fatalf("X-Reply-Type = %q", got)
	}
	for _, h := range []string{"X-Perf-STT-MS", "X-Perf-Chat-MS", "X-Perf-TTS-MS"} {
		if res.Header.Get(h) == "" {
			t.Fatalf("missing %s header", h)
		}
	}
	audio, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("audio = %q", audio)
	}
	if f.synthesizer.gotText != "kabar baik" {
		t.Fatalf("synthesized text = %q", f.synthesizer.gotText)
	}
	if f.synthesizer.gotVoice != "voice-default" {
		t.Fatalf("voice = %q", f.synthesizer.gotVoice)
	}
}

func TestOneShotSTTChatTTSVoiceOverride(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	res := postAudio(t, srv, "/api/v1/tts/stt-chat-tts?voice_id=voice-q", []byte("webm"), "audio/webm")
	res.Body.Close()
	if f.synthesizer.gotVoice != "voice-q" {
		t.Fatalf("voice = %q, query override must win", f.synthesizer.gotVoice)
	}
}

func TestOneShotSTTChatTTSCrisisReturnsJSON(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.raw = json.RawMessage(`{"text":"","type":"crisis","crisis_flag":true,"meta":{"subtype":"hard_block"}}`)
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	res := postAudio(t, srv, "/api/v1/tts/stt-chat-tts", []byte("webm"), "audio/webm")
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if got := res.Header.Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Fatalf("Content-Type = %q, crisis must not return audio", got)
	}
	if got := res.Header.Get("X-Reply-Type"); got != "crisis" {
		t.Fatalf("X-Reply-Type = %q", got)
	}
	var body struct {
		Crisis bool           `json:"crisis"`
		Type   string         `json:"type"`
		Text   string         `json:"text"`
		Meta   map[string]any `json:"meta"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Crisis || body.Type != "crisis" {
		t.Fatalf("body = %+v", body)
	}
	if body.Text == "" {
		t.Fatalf("textless crisis must carry the fallback copy")
	}
	if f.synthesizer.gotText != "" {
		t.Fatalf("crisis reply reached the synthesizer")
	}
}

func TestOneShotSTTChatTTSStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	res := postAudio(t, srv, "/api/v1/tts/stt-chat-tts-stream", []byte("webm"), "audio/webm")
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	audio, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("audio = %q", audio)
	}
}

func TestOneShotStageErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    *bridge.StageError
		status int
	}{
		{"unsupported format", bridge.NewStageError("transcode", bridge.CodeUnsupportedFormat, "application/pdf"), http.StatusUnsupportedMediaType},
		{"conversion failed", bridge.NewStageError("transcode", bridge.CodeConversionFailed, "ffmpeg exited 1"), http.StatusUnprocessableEntity},
		{"timeout", bridge.NewStageError("transcode", bridge.CodeTimeout, "deadline"), http.StatusGatewayTimeout},
		{"unavailable", bridge.NewStageError("transcode", bridge.CodeUpstreamUnavailable, "503"), http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.transcoder.err = tc.err
			srv := httptest.NewServer(f.server.Router())
			defer srv.Close()

			res := postAudio(t, srv, "/api/v1/stt", []byte("webm"), "audio/webm")
			defer res.Body.Close()
			if res.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tc.status)
			}
			var body errorResponse
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != string(tc.err.Code) {
				t.Fatalf("code = %q, want %q", body.Code, tc.err.Code)
			}
		})
	}
}

func TestOneShotNoTextFromEmptyTranscript(t *testing.T) {
	f := newFixture(t)
	f.transcriber.text = "   "
	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	res := postAudio(t, srv, "/api/v1/stt-chat", []byte("webm"), "audio/webm")
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", res.StatusCode)
	}
}
