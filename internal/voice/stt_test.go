package voice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
)

func newSTTTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *STTClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewSTTClient(srv.Client(), STTConfig{
		APIKey:         "key",
		URL:            srv.URL,
		ModelID:        "scribe_v2",
		Timeout:        time.Second,
		MaxUploadBytes: 1 << 20,
	})
	return srv, client
}

func TestTranscribeSendsMultipartForm(t *testing.T) {
	_, client := newSTTTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "key" {
			t.Errorf("xi-api-key = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model_id"); got != "scribe_v2" {
			t.Errorf("model_id = %q", got)
		}
		if got := r.FormValue("language_code"); got != "id" {
			t.Errorf("language_code = %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			payload, _ := io.ReadAll(file)
			if string(payload) != "RIFFwav-bytes" {
				t.Errorf("file payload = %q", payload)
			}
			file.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"halo"}`))
	})

	text, err := client.Transcribe(context.Background(), []byte("RIFFwav-bytes"), "id")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "halo" {
		t.Fatalf("text = %q, want halo", text)
	}
}

func TestTranscribeReturnsEmptyTranscriptAsIs(t *testing.T) {
	_, client := newSTTTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":""}`))
	})
	text, err := client.Transcribe(context.Background(), []byte("RIFF"), "")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "" {
		t.Fatalf("text = %q, want empty", text)
	}
}

func TestTranscribeClassifiesRejected(t *testing.T) {
	_, client := newSTTTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	})
	_, err := client.Transcribe(context.Background(), []byte("RIFF"), "")
	var se *bridge.StageError
	if !errors.As(err, &se) || se.Code != bridge.CodeUpstreamRejected {
		t.Fatalf("error = %v, want upstream_rejected", err)
	}
	if se.Retryable {
		t.Fatalf("4xx rejection must not be retryable")
	}
}

func TestTranscribeMarksServerErrorsRetryable(t *testing.T) {
	_, client := newSTTTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err := client.Transcribe(context.Background(), []byte("RIFF"), "")
	var se *bridge.StageError
	if !errors.As(err, &se) || se.Code != bridge.CodeUpstreamUnavailable {
		t.Fatalf("error = %v, want upstream_unavailable", err)
	}
	if !se.Retryable {
		t.Fatalf("503 should be retryable")
	}
}

func TestTranscribeEnforcesUploadCap(t *testing.T) {
	_, client := newSTTTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("request should not reach the provider")
	})
	client.cfg.MaxUploadBytes = 4
	_, err := client.Transcribe(context.Background(), []byte("RIFF-too-big"), "")
	var se *bridge.StageError
	if !errors.As(err, &se) || se.Code != bridge.CodeUpstreamRejected {
		t.Fatalf("error = %v, want upstream_rejected", err)
	}
}

func TestTranscribeRequiresAPIKey(t *testing.T) {
	client := NewSTTClient(http.DefaultClient, STTConfig{})
	if _, err := client.Transcribe(context.Background(), []byte("RIFF"), ""); err == nil {
		t.Fatalf("expected error without API key")
	}
}

func TestTranscribeTimesOut(t *testing.T) {
	_, client := newSTTTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client.cfg.Timeout = 50 * time.Millisecond
	_, err := client.Transcribe(context.Background(), []byte("RIFF"), "")
	var se *bridge.StageError
	if !errors.As(err, &se) || se.Code != bridge.CodeTimeout {
		t.Fatalf("error = %v, want timeout", err)
	}
	if !se.Retryable {
		t.Fatalf("stt timeout should be classified retryable")
	}
}
