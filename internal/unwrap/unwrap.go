// Package unwrap extracts the JSON payload from evaluations API response bodies.
//
// The upstream is a PHP service that does not always answer with clean JSON:
// debug output such as var_dump's `string(N) "..."` or warnings printed around
// the payload are common. Shapes are tried in a fixed order: direct JSON, the
// quoted string artifact, then JSON embedded in surrounding text.
package unwrap

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PreviewLimit bounds the body excerpt attached to an Error
const PreviewLimit = 300

// maxDepth bounds recursion through nested string artifacts
const maxDepth = 4

// Shape identifies which body shape produced the payload
type Shape string

const (
	ShapeDirect   Shape = "direct"
	ShapeQuoted   Shape = "quoted"
	ShapeEmbedded Shape = "embedded"
)

// Error is returned when no shape yields valid JSON.
type Error struct {
	Preview string
	Length  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("response body is not JSON (%d bytes): %q", e.Length, e.Preview)
}

var quotedArtifact = regexp.MustCompile(`(?s)^string\(\d+\)\s*"(.*)"\s*;?$`)

// Unwrap returns the JSON payload carried by raw.
func Unwrap(raw string) (json.RawMessage, error) {
	payload, _, err := UnwrapShape(raw)
	return payload, err
}

// UnwrapShape is Unwrap that also reports which shape matched.
func UnwrapShape(raw string) (json.RawMessage, Shape, error) {
	payload, shape, ok := unwrap(raw, 0)
	if !ok {
		return nil, "", &Error{Preview: Preview(raw), Length: len(raw)}
	}
	return payload, shape, nil
}

func unwrap(raw string, depth int) (json.RawMessage, Shape, bool) {
	if depth > maxDepth {
		return nil, "", false
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, "", false
	}

	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), ShapeDirect, true
	}

	if m := quotedArtifact.FindStringSubmatch(trimmed); m != nil {
		if payload, _, ok := unwrap(unescape(m[1]), depth+1); ok {
			return payload, ShapeQuoted, true
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), ShapeEmbedded, true
		}
	}

	return nil, "", false
}

// unescape undoes the \" and \\ escaping of the quoted artifact.
// Other backslash sequences are left alone for the JSON decoder.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Preview truncates s to PreviewLimit runes
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= PreviewLimit {
		return s
	}
	return string(r[:PreviewLimit])
}
