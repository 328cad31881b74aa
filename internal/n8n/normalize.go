package n8n

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/serenity-ai/speech-bridge/internal/bridge"
)

// The webhook's execution results arrive in a handful of shapes depending on
// how the flow terminates. Normalize tries each documented shape in order
// and refuses anything it does not recognize: defaulting a reply on a
// crisis-capable channel would be unsafe.

type shapeMatcher struct {
	name  string
	match func(v any) (map[string]any, bool)
}

var shapeMatchers = []shapeMatcher{
	{name: "flat", match: matchFlat},
	{name: "execution_list", match: matchExecutionList},
	{name: "keep_only_set", match: matchKeepOnlySet},
}

var typeTagRe = regexp.MustCompile(`\[\[type:([a-zA-Z0-9_\-]+)\]\]`)

// Normalize parses a raw webhook response into the canonical Reply.
func Normalize(raw json.RawMessage) (bridge.Reply, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return bridge.Reply{}, bridge.NewStageError(stageName, bridge.CodeUnrecognizedShape, "response is not structured JSON")
	}

	for _, m := range shapeMatchers {
		payload, ok := m.match(v)
		if !ok {
			continue
		}
		return replyFromPayload(payload), nil
	}
	return bridge.Reply{}, bridge.NewStageError(stageName, bridge.CodeUnrecognizedShape, "no known n8n response shape matched")
}

// matchFlat accepts an object that directly carries reply fields.
func matchFlat(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, key := range []string{"text", "output", "response", "type", "crisis_flag"} {
		if _, present := obj[key]; present {
			return obj, true
		}
	}
	return nil, false
}

// matchExecutionList accepts the execution-result array, typically
// [{"json": {...}}]; some flows wrap under "body" or inline the fields.
func matchExecutionList(v any) (map[string]any, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return nil, false
	}
	if inner, ok := first["json"].(map[string]any); ok {
		return inner, true
	}
	if inner, ok := first["body"].(map[string]any); ok {
		return inner, true
	}
	return matchFlat(first)
}

// matchKeepOnlySet accepts the "keep only set" node output, where fields are
// grouped by value type under "values":
//
//	{"keepOnlySet": true, "values": {"string": [{"name":"text","value":"hi"}], "boolean": [...], "json": [...]}}
func matchKeepOnlySet(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	vals, ok := obj["values"].(map[string]any)
	if !ok {
		return nil, false
	}

	flattened := make(map[string]any)
	for vtype, entries := range vals {
		list, ok := entries.([]any)
		if !ok {
			continue
		}
		for _, e := range list {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			name, _ := entry["name"].(string)
			if name == "" {
				continue
			}
			value := entry["value"]
			switch vtype {
			case "json":
				if s, ok := value.(string); ok {
					var parsed any
					if err := json.Unmarshal([]byte(s), &parsed); err == nil {
						flattened[name] = parsed
						continue
					}
				}
				flattened[name] = value
			case "boolean":
				flattened[name] = truthy(value)
			default:
				flattened[name] = value
			}
		}
	}
	if len(flattened) == 0 {
		return nil, false
	}
	if payload, ok := matchFlat(flattened); ok {
		return payload, true
	}
	return nil, false
}

func replyFromPayload(payload map[string]any) bridge.Reply {
	reply := bridge.Reply{Kind: bridge.KindChat}

	for _, key := range []string{"text", "output", "response"} {
		if s, ok := payload[key].(string); ok && s != "" {
			reply.Text = s
			break
		}
	}
	if t, ok := payload["type"].(string); ok {
		reply.RawType = strings.ToLower(strings.TrimSpace(t))
	}
	reply.CrisisFlag = truthy(payload["crisis_flag"])
	if meta, ok := payload["meta"].(map[string]any); ok {
		reply.Meta = meta
	}
	if v, ok := payload["voice_id"].(string); ok {
		reply.VoiceID = strings.TrimSpace(v)
	}

	// Some flows tag the type inline in the text instead of a field.
	if reply.RawType == "" && reply.Text != "" {
		if m := typeTagRe.FindStringSubmatch(reply.Text); m != nil {
			reply.RawType = strings.ToLower(m[1])
			reply.Text = strings.TrimSpace(typeTagRe.ReplaceAllString(reply.Text, ""))
		}
	}

	if reply.RawType == "crisis" || reply.CrisisFlag {
		reply.Kind = bridge.KindCrisis
	}
	return reply
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true
		}
		return false
	case float64:
		return t != 0
	default:
		return false
	}
}
