package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/serenity-ai/speech-bridge/internal/audio"
)

// bridgeprobe replays synthetic utterances against a running bridge over the
// realtime websocket and reports per-utterance event latency. It needs no
// microphone: each utterance is a generated sine tone wrapped in WAV, which
// the bridge passes through its pipeline like any client recording.

type options struct {
	baseURL          string
	sessionID        string
	language         string
	utterances       int
	chunkMS          int
	toneHz           float64
	toneMS           int
	realtime         float64
	utteranceTimeout time.Duration
	verbose          bool
}

type serverEvent struct {
	Event     string `json:"event"`
	MediaType string `json:"media_type,omitempty"`
	Type      string `json:"type,omitempty"`
	Text      string `json:"text,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Message   string `json:"message,omitempty"`
}

type utteranceReport struct {
	outcome      string
	toDebug      time.Duration
	toAudioStart time.Duration
	toFirstByte  time.Duration
	toDone       time.Duration
	audioBytes   int
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridgeprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "bridgeprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var timeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "bridge base URL")
	flag.StringVar(&cfg.sessionID, "session-id", "", "session id (default: generated)")
	flag.StringVar(&cfg.language, "language", "id", "language hint for transcription")
	flag.IntVar(&cfg.utterances, "utterances", 3, "number of utterances to replay")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	flag.Float64Var(&cfg.toneHz, "tone-hz", 440, "frequency of the synthetic tone")
	flag.IntVar(&cfg.toneMS, "tone-ms", 1200, "duration of each synthetic utterance in milliseconds")
	flag.Float64Var(&cfg.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&timeoutMS, "utterance-timeout-ms", 30000, "timeout waiting for each utterance to finish")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.utterances <= 0 {
		return options{}, fmt.Errorf("utterances must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.toneMS < 100 {
		return options{}, fmt.Errorf("tone-ms must be >= 100")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if timeoutMS < 1000 {
		timeoutMS = 1000
	}
	cfg.utteranceTimeout = time.Duration(timeoutMS) * time.Millisecond
	if strings.TrimSpace(cfg.sessionID) == "" {
		cfg.sessionID = fmt.Sprintf("probe-%d", time.Now().Unix())
	}
	return cfg, nil
}

func run(cfg options) error {
	const sampleRate = 16000
	pcm := audio.SineTonePCM16LE(cfg.toneHz, cfg.toneMS, sampleRate)
	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return fmt.Errorf("encode tone wav: %w", err)
	}

	wsURL, err := probeWSURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if err := awaitReady(conn, cfg.utteranceTimeout); err != nil {
		return fmt.Errorf("await initial ready: %w", err)
	}

	if cfg.verbose {
		fmt.Printf("bridgeprobe: session=%s utterances=%d tone=%.0fHz/%dms chunk_ms=%d\n",
			cfg.sessionID, cfg.utterances, cfg.toneHz, cfg.toneMS, cfg.chunkMS)
	}

	var reports []utteranceReport
	for i := 0; i < cfg.utterances; i++ {
		report, err := replayUtterance(conn, cfg, wav, sampleRate)
		if err != nil {
			return fmt.Errorf("utterance %d/%d: %w", i+1, cfg.utterances, err)
		}
		reports = append(reports, report)
		if cfg.verbose {
			printReport(i+1, cfg.utterances, report)
		}
	}

	printSummary(reports)
	return nil
}

// replayUtterance sends start, paced binary chunks and stop, then collects
// events until the session re-arms with ready.
func replayUtterance(conn *websocket.Conn, cfg options, wav []byte, sampleRate int) (utteranceReport, error) {
	start := map[string]any{
		"type":         "start",
		"session_id":   cfg.sessionID,
		"content_type": "audio/wav",
		"language":     cfg.language,
	}
	if err := conn.WriteJSON(start); err != nil {
		return utteranceReport{}, fmt.Errorf("send start: %w", err)
	}

	bytesPerChunk := sampleRate * 2 * cfg.chunkMS / 1000
	if bytesPerChunk < 2 {
		bytesPerChunk = 2
	}
	for off := 0; off < len(wav); off += bytesPerChunk {
		end := off + bytesPerChunk
		if end > len(wav) {
			end = len(wav)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, wav[off:end]); err != nil {
			return utteranceReport{}, fmt.Errorf("send chunk: %w", err)
		}
		pace := time.Duration(float64(time.Duration(cfg.chunkMS)*time.Millisecond) / cfg.realtime)
		if pace > 0 {
			time.Sleep(pace)
		}
	}

	stopAt := time.Now()
	if err := conn.WriteJSON(map[string]any{"type": "stop"}); err != nil {
		return utteranceReport{}, fmt.Errorf("send stop: %w", err)
	}

	report := utteranceReport{outcome: "timeout"}
	deadline := stopAt.Add(cfg.utteranceTimeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return report, err
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return report, fmt.Errorf("read event: %w", err)
		}

		if msgType == websocket.BinaryMessage {
			if report.toFirstByte == 0 {
				report.toFirstByte = time.Since(stopAt)
			}
			report.audioBytes += len(data)
			continue
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "debug":
			if report.toDebug == 0 {
				report.toDebug = time.Since(stopAt)
			}
		case "audio_start":
			report.toAudioStart = time.Since(stopAt)
		case "audio_end":
			report.outcome = "audio"
			report.toDone = time.Since(stopAt)
		case "crisis":
			report.outcome = "crisis"
			report.toDone = time.Since(stopAt)
		case "error":
			report.outcome = "error: " + evt.Detail
			report.toDone = time.Since(stopAt)
		case "ready":
			// Session re-armed; the utterance is over either way.
			return report, nil
		}
	}
}

func awaitReady(conn *websocket.Conn, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		if evt.Event == "ready" {
			return nil
		}
	}
}

func probeWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/rt/chat"
	return u.String(), nil
}

func printReport(n, total int, r utteranceReport) {
	fmt.Printf("bridgeprobe: utterance %d/%d outcome=%s debug=%s audio_start=%s first_byte=%s done=%s bytes=%d\n",
		n, total, r.outcome,
		fmtDur(r.toDebug), fmtDur(r.toAudioStart), fmtDur(r.toFirstByte), fmtDur(r.toDone),
		r.audioBytes)
}

func printSummary(reports []utteranceReport) {
	if len(reports) == 0 {
		return
	}
	var doneSum time.Duration
	completed := 0
	for _, r := range reports {
		if r.toDone > 0 {
			doneSum += r.toDone
			completed++
		}
	}
	if completed == 0 {
		fmt.Println("bridgeprobe: no utterance completed")
		return
	}
	fmt.Printf("bridgeprobe: %d/%d utterances completed, avg stop-to-done %s\n",
		completed, len(reports), doneSum/time.Duration(completed))
}

func fmtDur(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
