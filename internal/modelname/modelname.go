// Package modelname implements the display-prefix scheme that lets one
// combined model list show which pool kind each model comes from
// (spec.md §4.H), and the reverse: stripping that prefix and, when
// absent, classifying a bare model name into a kind by substring match.
package modelname

import "strings"

// prefixes maps a pool kind to the bracketed label shown in front of its
// models in combined listings, in spec.md's exact table order.
var prefixes = []struct {
	kind  string
	label string
}{
	{"gemini-cli-oauth", "Gemini CLI"},
	{"claude-kiro-oauth", "Kiro"},
	{"claude-custom", "Claude"},
	{"openai-custom", "OpenAI"},
	{"openaiResponses-custom", "OpenAI Responses"},
	{"openai-qwen-oauth", "Qwen CLI"},
	{"gemini-antigravity", "Antigravity"},
}

func labelFor(kind string) (string, bool) {
	for _, p := range prefixes {
		if p.kind == kind {
			return p.label, true
		}
	}
	return "", false
}

func kindForLabel(label string) (string, bool) {
	for _, p := range prefixes {
		if p.label == label {
			return p.kind, true
		}
	}
	return "", false
}

// Display renders "[Label] model" for kind/model, or bare model if kind
// has no entry in the prefix table.
func Display(kind, model string) string {
	label, ok := labelFor(kind)
	if !ok {
		return model
	}
	return "[" + label + "] " + model
}

// Strip removes a leading "[Label] " prefix from name, returning the
// resolved kind (if the label matched a known entry) and the bare model
// name. If name carries no recognized prefix, ok is false and model is
// returned unchanged.
func Strip(name string) (kind, model string, ok bool) {
	if !strings.HasPrefix(name, "[") {
		return "", name, false
	}
	closeIdx := strings.Index(name, "]")
	if closeIdx < 0 {
		return "", name, false
	}
	label := name[1:closeIdx]
	rest := strings.TrimPrefix(name[closeIdx+1:], " ")
	k, found := kindForLabel(label)
	if !found {
		return "", name, false
	}
	return k, rest, true
}

// fallbackRules is the substring-match classification used when a model
// name carries no recognized display prefix, in spec.md's stated order.
var fallbackRules = []struct {
	kind      string
	substrings []string
}{
	{"claude-custom", []string{"claude", "sonnet", "opus", "haiku"}},
	{"gemini-cli-oauth", []string{"gemini"}},
	{"openai-qwen-oauth", []string{"qwen"}},
	{"openai-custom", []string{"gpt", "o1", "o3"}},
}

// Classify picks a kind for a bare (already-stripped) model name by
// substring match, returning ok=false when nothing matches so the caller
// can fall back to its configured default kind.
func Classify(model string) (kind string, ok bool) {
	lower := strings.ToLower(model)
	for _, rule := range fallbackRules {
		for _, s := range rule.substrings {
			if strings.Contains(lower, s) {
				return rule.kind, true
			}
		}
	}
	return "", false
}

// Resolve strips any display prefix from name and, if none was present,
// falls back to substring classification. defaultKind is returned when
// neither step yields a kind.
func Resolve(name, defaultKind string) (kind, model string) {
	if k, m, ok := Strip(name); ok {
		return k, m
	}
	if k, ok := Classify(name); ok {
		return k, name
	}
	return defaultKind, name
}
