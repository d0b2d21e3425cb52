// Package parse implements the tolerant parser: it extracts and repairs
// JSON embedded in free-form LLM text, normalises list/string fields, and
// salvages answer text from output that never forms valid JSON at all. It
// never returns an error that should abort the caller — every stage record
// constructor here always produces a usable record.
package parse

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// textKeys is the priority order used to pull a display string out of an
// object when a list field contains objects instead of plain strings.
var textKeys = []string{
	"statement", "fact", "text", "content", "description",
	"value", "improvement", "source", "item", "claim", "reason",
}

var fencedJSONPattern = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*(\{.*\})\s*` + "```")
var rawObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSON pulls the most likely JSON object out of free-form text:
// a fenced ```json ... ``` block first, then the outermost {...}, then the
// text verbatim.
func ExtractJSON(text string) string {
	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := rawObjectPattern.FindString(text); m != "" {
		return m
	}
	return text
}

// recognisedKeys are the stage-record field names used to pick the right
// dict out of a repaired JSON array result.
var recognisedKeys = []string{"atomic_facts", "answer", "ranking", "final_answer", "evaluations"}

// repairLLMJSON applies the tolerant repair pass and resolves the handful of
// shapes the repaired value might take: an object used directly, a
// single-element array unwrapped to its object, an array of objects picking
// the first recognisable one, or an array of primitives wrapped as
// atomic_facts. Returns nil if nothing usable could be recovered.
func repairLLMJSON(raw string, provider string, logger *slog.Logger) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	repaired := repairJSON(raw)

	var v any
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		logger.Warn("json repair failed", "provider", provider, "error", err)
		return nil
	}

	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		if len(t) == 1 {
			if d, ok := t[0].(map[string]any); ok {
				return d
			}
		}
		var dicts []map[string]any
		for _, item := range t {
			if d, ok := item.(map[string]any); ok {
				dicts = append(dicts, d)
			}
		}
		if len(dicts) > 0 {
			for _, d := range dicts {
				for _, k := range recognisedKeys {
					if _, ok := d[k]; ok {
						return d
					}
				}
			}
			return dicts[0]
		}
		allPrimitive := true
		for _, item := range t {
			switch item.(type) {
			case string, float64, bool, nil:
			default:
				allPrimitive = false
			}
		}
		if allPrimitive {
			return map[string]any{"atomic_facts": t, "answer": ""}
		}
		return nil
	default:
		return nil
	}
}

// decodeStage runs the fast-then-repair cascade and returns the resulting
// field map, or nil if both the fast parse and the repair failed.
func decodeStage(raw string, provider string, logger *slog.Logger) map[string]any {
	candidate := ExtractJSON(raw)

	var fast map[string]any
	if err := json.Unmarshal([]byte(candidate), &fast); err == nil {
		return fast
	}

	repaired := repairLLMJSON(candidate, provider, logger)
	if repaired != nil {
		logger.Info("json repaired successfully", "provider", provider)
	}
	return repaired
}

var nestedEnvelopePattern = regexp.MustCompile(`(?s)^\s*\{\s*"(?:final_answer|answer|improved_answer)"\s*:\s*"(.+)`)
var nestedEnvelopeTrailPattern = regexp.MustCompile(`(?s)",?\s*"(?:confidence|sources_used|excluded|atomic_facts|improvements)".*$`)
var nestedEnvelopeClosePattern = regexp.MustCompile(`"\s*\}\s*$`)

// CleanAnswerField unwraps an answer value that is itself a nested JSON
// envelope or a markdown-fenced JSON blob — a common failure mode where a
// model double-encodes its own answer field. Recurses once the nested value
// is itself found to be another envelope.
func CleanAnswerField(value string) string {
	text := strings.TrimSpace(value)
	if !strings.HasPrefix(text, "```") && !strings.HasPrefix(text, "{") {
		return value
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end != -1 && end > start {
		inner := text[start : end+1]
		var data map[string]any
		if err := json.Unmarshal([]byte(inner), &data); err == nil {
			for _, key := range []string{"final_answer", "answer", "improved_answer"} {
				nestedRaw, ok := data[key]
				if !ok {
					continue
				}
				nested, ok := nestedRaw.(string)
				if ok && nested != "" && nested != value {
					return CleanAnswerField(nested)
				}
			}
		}
	}

	if strings.HasPrefix(text, "{") {
		if m := nestedEnvelopePattern.FindStringSubmatch(text); m != nil {
			content := nestedEnvelopeTrailPattern.ReplaceAllString(m[1], "")
			content = nestedEnvelopeClosePattern.ReplaceAllString(content, "")
			content = strings.TrimSpace(content)
			if len(content) > 5 {
				return content
			}
		}
	}

	return value
}

var fencedIncompletePattern = regexp.MustCompile(`(?s)["']?(?:final_answer|answer|improved_answer)["']?\s*:\s*["'](.+)`)
var fencedIncompleteTrailPattern = regexp.MustCompile(`(?s)["'],?\s*["']?(?:confidence|sources_used|excluded|atomic_facts)["']?\s*:.*$`)
var fencedIncompleteClosePattern = regexp.MustCompile(`["']?\s*\}?\s*$`)

var directJSONObjectPattern = regexp.MustCompile(`(?s)\{[^{}]*"(?:final_answer|answer|improved_answer)"[^{}]*\}`)

var directPrefixPattern = regexp.MustCompile(`(?s)"(?:final_answer|answer|improved_answer)"\s*:\s*"(.+)`)
var directPrefixTrailPattern = regexp.MustCompile(`(?s)",?\s*"(?:confidence|sources_used|excluded|atomic_facts)".*$`)
var directPrefixClosePattern = regexp.MustCompile(`"\s*\}\s*$`)

// ExtractTextFallback is the last-resort salvage path: when nothing parses
// as JSON at all, pull a plausible answer string out of the raw text using
// a cascade of shape-specific patterns, trying the more common truncated
// forms first.
func ExtractTextFallback(raw string) string {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		inner := text
		inner = regexp.MustCompile("^```(?:json|markdown)?\\s*").ReplaceAllString(inner, "")
		inner = regexp.MustCompile("\\s*```\\s*$").ReplaceAllString(inner, "")

		if m := fencedIncompletePattern.FindStringSubmatch(inner); m != nil {
			content := fencedIncompleteTrailPattern.ReplaceAllString(m[1], "")
			content = fencedIncompleteClosePattern.ReplaceAllString(content, "")
			content = strings.TrimSpace(content)
			if len(content) > 5 {
				return content
			}
		}
	}

	if m := directJSONObjectPattern.FindString(text); m != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(m), &data); err == nil {
			for _, key := range []string{"final_answer", "answer", "improved_answer"} {
				if v, ok := data[key]; ok {
					if s, ok := v.(string); ok && s != "" {
						return CleanAnswerField(s)
					}
				}
			}
		}
	}

	if m := regexp.MustCompile("(?s)```(?:json|markdown)?\\s*(.*?)\\s*```").FindStringSubmatch(text); m != nil {
		inner := strings.TrimSpace(m[1])
		var data any
		if err := json.Unmarshal([]byte(inner), &data); err == nil {
			if obj, ok := data.(map[string]any); ok {
				for _, key := range []string{"final_answer", "answer", "improved_answer"} {
					if v, ok := obj[key]; ok {
						if s, ok := v.(string); ok && s != "" {
							return s
						}
					}
				}
			}
		} else if inner != "" && !strings.HasPrefix(inner, "{") {
			return inner
		}
	}

	if strings.HasPrefix(text, "{") {
		if m := directPrefixPattern.FindStringSubmatch(text); m != nil {
			content := directPrefixTrailPattern.ReplaceAllString(m[1], "")
			content = directPrefixClosePattern.ReplaceAllString(content, "")
			content = strings.TrimSpace(content)
			if len(content) > 5 {
				return content
			}
		}
	}

	return text
}

// NormalizeStringList coerces a field that should be a list of strings but
// may contain objects (or even a scalar) into []string, dropping empties.
func NormalizeStringList(items any, fieldName, provider string, logger *slog.Logger) []string {
	list, ok := items.([]any)
	if !ok {
		if items != nil {
			logger.Warn("expected list field", "field", fieldName, "provider", provider)
		}
		return []string{}
	}

	result := make([]string, 0, len(list))
	normalizedCount := 0
	for _, item := range list {
		switch v := item.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				result = append(result, s)
			}
		case map[string]any:
			normalizedCount++
			if text := extractTextFromObject(v); text != "" {
				result = append(result, text)
			}
		case nil:
			// skip
		default:
			result = append(result, stringifyScalar(v))
		}
	}
	if normalizedCount > 0 {
		logger.Info("normalized object items to strings", "field", fieldName, "provider", provider, "count", normalizedCount)
	}
	return result
}

func extractTextFromObject(obj map[string]any) string {
	for _, key := range textKeys {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	for _, v := range obj {
		if s, ok := v.(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// NormalizeToString coerces a value expected to be a string but which may
// have come back as a list, joining list items with ", ".
func NormalizeToString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			s := stringifyScalar(item)
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return stringifyScalar(v)
	}
}

func stringifyScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func floatField(data map[string]any, key string, def float64) float64 {
	v, ok := data[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return NormalizeToString(v)
}

func intField(data map[string]any, key string, def int) int {
	v, ok := data[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}
