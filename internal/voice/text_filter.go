package voice

import (
	"regexp"
	"strings"
)

// Orchestration replies often arrive with markdown and flow tags that read
// badly when spoken. CleanForTTS strips them and normalizes punctuation so
// the synthesized speech keeps a natural cadence.

var (
	ttsTypeTagRe      = regexp.MustCompile(`\[\[type:[a-zA-Z0-9_\-]+\]\]`)
	ttsMarkdownLinkRe = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	ttsHeadingRe      = regexp.MustCompile(`(?m)^\s*#+\s*`)
	ttsSpaceBeforeRe  = regexp.MustCompile(`\s+([,.!?…])`)
	ttsOpenParenRe    = regexp.MustCompile(`\(\s+`)
	ttsCloseParenRe   = regexp.MustCompile(`\s+\)`)
	ttsMultiSpaceRe   = regexp.MustCompile(`\s{2,}`)
	ttsSentenceEndRe  = regexp.MustCompile(`[.!?…]$`)
)

// CleanForTTS sanitizes reply text before synthesis.
func CleanForTTS(text string) string {
	if text == "" {
		return text
	}

	s := ttsTypeTagRe.ReplaceAllString(text, "")

	// Escaped newlines come through as literals from some flows.
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	s = ttsMarkdownLinkRe.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.ReplaceAll(s, "`", "")
	s = stripLooseEmphasis(s)
	s = ttsHeadingRe.ReplaceAllString(s, "")

	// Collapse line breaks into sentence breaks; lines without terminal
	// punctuation get a period for better prosody.
	var processed []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !ttsSentenceEndRe.MatchString(line) {
			line += "."
		}
		processed = append(processed, line)
	}
	s = strings.Join(processed, " ")

	s = ttsSpaceBeforeRe.ReplaceAllString(s, "$1")
	s = ttsOpenParenRe.ReplaceAllString(s, "(")
	s = ttsCloseParenRe.ReplaceAllString(s, ")")
	s = ttsMultiSpaceRe.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// stripLooseEmphasis removes single * and _ used as italics markers while
// keeping word-internal underscores (snake_case identifiers) intact.
func stripLooseEmphasis(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i, r := range runes {
		if r != '*' && r != '_' {
			b.WriteRune(r)
			continue
		}
		prevWord := i > 0 && isWordRune(runes[i-1])
		nextWord := i+1 < len(runes) && isWordRune(runes[i+1])
		// Keep only markers embedded inside a word.
		if prevWord && nextWord {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r > 127
}
