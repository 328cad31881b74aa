// Package transcode converts arbitrary client audio containers into the
// linear PCM WAV form the STT provider requires, by shelling out to ffmpeg.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
)

const stageName = "transcode"

const (
	outputSampleRate = 16000
	outputChannels   = 1
)

var mimeExtensions = map[string]string{
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
}

var mimeForcedFormats = map[string]string{
	"audio/webm": "webm",
	"audio/ogg":  "ogg",
	"audio/mpeg": "mp3",
	"audio/mp3":  "mp3",
}

// FFmpeg is a stateless transcoder backed by the ffmpeg binary. Each
// conversion spawns one process; callers bound it with a context deadline.
type FFmpeg struct {
	binPath string
}

func NewFFmpeg(binPath string) *FFmpeg {
	binPath = strings.TrimSpace(binPath)
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &FFmpeg{binPath: binPath}
}

// IsWAV reports whether the declared media type is already the WAV form the
// STT provider accepts.
func IsWAV(contentType string) bool {
	switch baseMIME(contentType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return true
	default:
		return false
	}
}

// Convert turns raw container bytes into 16 kHz mono WAV. WAV input passes
// through untouched. The declared content type is cross-checked against the
// sniffed magic bytes; the sniffed value wins when they disagree.
func (f *FFmpeg) Convert(ctx context.Context, raw []byte, declaredContentType string) ([]byte, error) {
	if len(raw) == 0 {
		return nil, bridge.NewStageError(stageName, bridge.CodeConversionFailed, "empty audio buffer")
	}

	mime := baseMIME(declaredContentType)
	if IsWAV(mime) {
		return raw, nil
	}
	if sniffed := SniffMIME(raw); sniffed != "" && sniffed != mime {
		mime = sniffed
	}
	if IsWAV(mime) {
		return raw, nil
	}
	if _, known := mimeExtensions[mime]; !known && mime != "" {
		return nil, bridge.NewStageError(stageName, bridge.CodeUnsupportedFormat, "unrecognized content type "+mime)
	}

	inPath, err := writeTempInput(raw, mime)
	if err != nil {
		return nil, &bridge.StageError{Stage: stageName, Code: bridge.CodeConversionFailed, Detail: "write temp input: " + err.Error(), Err: err}
	}
	defer os.Remove(inPath)

	outPath := filepath.Join(os.TempDir(), "aud_"+uuid.NewString()+".wav")
	defer os.Remove(outPath)

	// Try the declared/sniffed demuxer first, then common fallbacks, then
	// let ffmpeg auto-detect.
	tries := formatTrySequence(mime)
	var lastErr error
	for _, forced := range tries {
		lastErr = f.run(ctx, inPath, outPath, forced)
		if lastErr == nil {
			break
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			break
		}
	}
	if lastErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, bridge.NewStageError(stageName, bridge.CodeTimeout, "ffmpeg conversion timed out")
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, &bridge.StageError{Stage: stageName, Code: bridge.CodeConversionFailed, Detail: "conversion canceled", Err: ctx.Err()}
		}
		return nil, &bridge.StageError{Stage: stageName, Code: bridge.CodeConversionFailed, Detail: lastErr.Error(), Err: lastErr}
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &bridge.StageError{Stage: stageName, Code: bridge.CodeConversionFailed, Detail: "read ffmpeg output: " + err.Error(), Err: err}
	}
	if len(out) == 0 {
		return nil, bridge.NewStageError(stageName, bridge.CodeConversionFailed, "ffmpeg produced empty output")
	}
	return out, nil
}

func (f *FFmpeg) run(ctx context.Context, inPath, outPath, forcedFormat string) error {
	_ = os.Remove(outPath)

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if forcedFormat != "" {
		args = append(args, "-f", forcedFormat)
	}
	args = append(args,
		"-i", inPath,
		"-vn",
		"-ac", strconv.Itoa(outputChannels),
		"-ar", strconv.Itoa(outputSampleRate),
		"-f", "wav",
		outPath,
	)

	cmd := exec.CommandContext(ctx, f.binPath, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 800 {
			detail = strings.TrimSpace(detail[:800])
		}
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("ffmpeg failed: %s", detail)
	}
	if fi, err := os.Stat(outPath); err != nil || fi.Size() == 0 {
		return errors.New("ffmpeg produced no output file")
	}
	return nil
}

func formatTrySequence(mime string) []string {
	tries := make([]string, 0, 4)
	if forced, ok := mimeForcedFormats[mime]; ok {
		tries = append(tries, forced)
	}
	for _, fallback := range []string{"webm", "ogg", "mp3"} {
		seen := false
		for _, existing := range tries {
			if existing == fallback {
				seen = true
				break
			}
		}
		if !seen {
			tries = append(tries, fallback)
		}
	}
	// Empty string means no -f flag: ffmpeg auto-detects.
	return append(tries, "")
}

func writeTempInput(raw []byte, mime string) (string, error) {
	ext := mimeExtensions[mime]
	if ext == "" {
		ext = ".bin"
	}
	f, err := os.CreateTemp("", "aud_in_*"+ext)
	if err != nil {
		return "", err
	}
	path := f.Name()
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// SniffMIME does a best-effort container sniff from magic bytes. Returns
// empty when the signature is unknown.
func SniffMIME(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return "audio/wav"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "audio/ogg"
	case bytes.HasPrefix(data, []byte("ID3")):
		return "audio/mpeg"
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "audio/mpeg"
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "audio/webm"
	default:
		return ""
	}
}

func baseMIME(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
