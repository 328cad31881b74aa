package voice

import "strings"

// Selector maps reply types to configured voice ids with a default
// fallback. An explicit per-reply voice override always wins.
type Selector struct {
	Default  string
	Empathic string
	Neutral  string
	Alert    string
	Crisis   string
}

// Pick resolves the voice for a reply. overrideVoiceID comes from the
// orchestration reply itself; replyType is the raw orchestration type.
func (s Selector) Pick(overrideVoiceID, replyType string) string {
	if v := strings.TrimSpace(overrideVoiceID); v != "" {
		return v
	}
	switch strings.ToLower(strings.TrimSpace(replyType)) {
	case "empathic":
		if s.Empathic != "" {
			return s.Empathic
		}
	case "neutral":
		if s.Neutral != "" {
			return s.Neutral
		}
	case "alert":
		if s.Alert != "" {
			return s.Alert
		}
	case "crisis":
		if s.Crisis != "" {
			return s.Crisis
		}
	}
	return s.Default
}
