package bridge

import "strings"

// Kind is the canonical branch of an orchestration reply.
type Kind string

const (
	KindChat   Kind = "chat"
	KindCrisis Kind = "crisis"
)

// Reply is the canonical orchestration outcome, independent of the wire
// shape it arrived in. It is constructed fresh per utterance and never
// reused.
type Reply struct {
	Text       string
	Kind       Kind
	RawType    string
	CrisisFlag bool
	Meta       map[string]any
	VoiceID    string
}

// IsCrisis reports whether the reply must be routed to a UI alert. Either
// signal is enough; the stricter interpretation always wins.
func (r Reply) IsCrisis() bool {
	return r.Kind == KindCrisis || r.CrisisFlag
}

// Safe fallback copy for crisis replies that arrive without text. The
// hard-block variant refuses method detail; the standard variant is the
// general empathetic response.
const (
	crisisFallbackStandard = "Aku menyesal kamu sedang merasa seperti ini. Keselamatanmu sangat penting. " +
		"Jika kamu dalam bahaya segera, mohon hubungi layanan darurat setempat. " +
		"Kamu tidak sendirian—dukungan dari orang tepercaya atau profesional bisa membantu. " +
		"Jika berkenan, aku bisa membagikan informasi bantuan resmi sesuai wilayahmu."

	crisisFallbackHardBlock = "Keselamatanmu sangat penting. Jika kamu dalam bahaya segera, mohon hubungi layanan darurat setempat sekarang. " +
		"Kami tidak dapat memberikan detail cara atau langkah. Kamu tidak sendirian—dukungan dari orang tepercaya atau profesional bisa membantu. " +
		"Jika berkenan, aku bisa membagikan informasi bantuan resmi sesuai wilayahmu."
)

// CrisisFallbackText picks the fallback message for a textless crisis reply
// based on the reply metadata.
func CrisisFallbackText(meta map[string]any) string {
	if crisisNeedsHardBlock(meta) {
		return crisisFallbackHardBlock
	}
	return crisisFallbackStandard
}

func crisisNeedsHardBlock(meta map[string]any) bool {
	if meta == nil {
		return false
	}
	if subtype, ok := meta["subtype"].(string); ok {
		switch strings.ToLower(strings.TrimSpace(subtype)) {
		case "hard_block", "hard-block":
			return true
		}
	}
	switch v := meta["method_intent"].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}
