package transcode

import (
	"context"
	"errors"
	"testing"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
)

func TestSniffMIME(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"riff", []byte("RIFFxxxxWAVE"), "audio/wav"},
		{"ogg", []byte("OggS\x00\x02"), "audio/ogg"},
		{"id3", []byte("ID3\x04\x00"), "audio/mpeg"},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, "audio/mpeg"},
		{"ebml", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, "audio/webm"},
		{"unknown", []byte("plain text here"), ""},
		{"too short", []byte{0x01}, ""},
	}
	for _, tc := range cases {
		if got := SniffMIME(tc.data); got != tc.want {
			t.Fatalf("SniffMIME(%s) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestIsWAV(t *testing.T) {
	for _, ct := range []string{"audio/wav", "audio/x-wav", "audio/wave", "audio/wav; codecs=1"} {
		if !IsWAV(ct) {
			t.Fatalf("IsWAV(%q) = false, want true", ct)
		}
	}
	if IsWAV("audio/webm") {
		t.Fatalf("IsWAV(audio/webm) = true, want false")
	}
}

func TestConvertPassesThroughWAV(t *testing.T) {
	f := NewFFmpeg("ffmpeg-not-needed")
	wav := append([]byte("RIFF"), make([]byte, 64)...)

	out, err := f.Convert(context.Background(), wav, "audio/wav")
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if string(out) != string(wav) {
		t.Fatalf("WAV input must pass through untouched")
	}

	// Sniffed WAV wins even when declared as something else.
	out, err = f.Convert(context.Background(), wav, "audio/webm")
	if err != nil {
		t.Fatalf("Convert() sniffed-wav error = %v", err)
	}
	if string(out) != string(wav) {
		t.Fatalf("sniffed WAV input must pass through untouched")
	}
}

func TestConvertRejectsEmptyBuffer(t *testing.T) {
	f := NewFFmpeg("ffmpeg")
	_, err := f.Convert(context.Background(), nil, "audio/webm")
	var se *bridge.StageError
	if !errors.As(err, &se) || se.Code != bridge.CodeConversionFailed {
		t.Fatalf("error = %v, want conversion_failed", err)
	}
}

func TestConvertRejectsUnknownDeclaredType(t *testing.T) {
	f := NewFFmpeg("ffmpeg")
	_, err := f.Convert(context.Background(), []byte("not audio at all"), "application/pdf")
	var se *bridge.StageError
	if !errors.As(err, &se) || se.Code != bridge.CodeUnsupportedFormat {
		t.Fatalf("error = %v, want unsupported_format", err)
	}
}

func TestConvertMissingBinaryFailsUtteranceOnly(t *testing.T) {
	f := NewFFmpeg("/nonexistent/ffmpeg-binary")
	data := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, make([]byte, 32)...)
	_, err := f.Convert(context.Background(), data, "audio/webm")
	var se *bridge.StageError
	if !errors.As(err, &se) || se.Code != bridge.CodeConversionFailed {
		t.Fatalf("error = %v, want conversion_failed", err)
	}
}

func TestFormatTrySequence(t *testing.T) {
	got := formatTrySequence("audio/ogg")
	want := []string{"ogg", "webm", "mp3", ""}
	if len(got) != len(want) {
		t.Fatalf("sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	got = formatTrySequence("audio/unknown")
	if len(got) != 4 || got[0] != "webm" || got[3] != "" {
		t.Fatalf("fallback sequence = %v", got)
	}
}
