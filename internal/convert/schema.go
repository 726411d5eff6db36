package convert

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// geminiSchemaKeys is the whitelist of JSON-schema keywords Gemini's
// function-declaration parser accepts. This is bug-compatible with the
// upstream gateway this was distilled from: Gemini in practice also
// accepts `format`, `nullable`, and `anyOf`, but the whitelist is left
// narrow on purpose.
var geminiSchemaKeys = []string{"type", "description", "properties", "required", "enum", "items"}

// PruneSchemaForGemini walks a JSON-schema document (as produced by an
// OpenAI or Anthropic tool definition) and rebuilds it keeping only the
// keys Gemini's function-declaration parser accepts, recursing into
// `properties` and `items`. It operates on raw JSON text via gjson/sjson
// rather than round-tripping through map[string]any, since the schema
// documents here are short-lived partial patches, not values the rest of
// the converter needs to hold typed.
func PruneSchemaForGemini(schemaJSON string) string {
	if !gjson.Valid(schemaJSON) {
		return "{}"
	}
	return pruneValue(gjson.Parse(schemaJSON)).Raw
}

func pruneValue(v gjson.Result) gjson.Result {
	if !v.IsObject() {
		return v
	}

	out := "{}"
	for _, key := range geminiSchemaKeys {
		field := v.Get(gjsonEscape(key))
		if !field.Exists() {
			continue
		}

		switch key {
		case "properties":
			props := "{}"
			field.ForEach(func(name, val gjson.Result) bool {
				pruned := pruneValue(val)
				props, _ = sjson.SetRaw(props, gjsonEscape(name.String()), pruned.Raw)
				return true
			})
			out, _ = sjson.SetRaw(out, key, props)
		case "items":
			out, _ = sjson.SetRaw(out, key, pruneValue(field).Raw)
		default:
			out, _ = sjson.SetRaw(out, key, field.Raw)
		}
	}

	return gjson.Parse(out)
}

// gjsonEscape escapes path-metacharacters ('.', '*', '?', '|', '#') in a literal key
// so it is treated as a single path segment by gjson/sjson.
func gjsonEscape(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}
