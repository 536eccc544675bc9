package client

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/pii-redactor/pkg/types"
)

// rawEntry mirrors the backend wire format. Pointer fields distinguish a
// missing key from a zero value during validation.
type rawEntry struct {
	Label      *string   `json:"label"`
	Confidence *float64  `json:"confidence"`
	Box2D      []float64 `json:"box_2d"`
}

// ParseDetections parses and validates a backend response body. Every entry
// must carry a label string, a confidence number, and a 4-element numeric
// box; anything else is a ParseError.
func ParseDetections(raw string) ([]types.RawDetection, error) {
	raw = sanitizeModelJSON(raw)

	if !strings.HasPrefix(raw, "[") {
		return nil, &types.ParseError{Detail: "response is not a JSON array"}
	}

	var entries []rawEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, &types.ParseError{Detail: "invalid JSON", Err: err}
	}

	out := make([]types.RawDetection, 0, len(entries))
	for i, e := range entries {
		if e.Label == nil || *e.Label == "" {
			return nil, &types.ParseError{Detail: fmt.Sprintf("entry %d: missing label", i)}
		}
		if e.Confidence == nil {
			return nil, &types.ParseError{Detail: fmt.Sprintf("entry %d: missing confidence", i)}
		}
		if len(e.Box2D) != 4 {
			return nil, &types.ParseError{Detail: fmt.Sprintf("entry %d: box_2d has %d elements, want 4", i, len(e.Box2D))}
		}
		out = append(out, types.RawDetection{
			Label:      *e.Label,
			Confidence: *e.Confidence,
			Box2D:      [4]float64{e.Box2D[0], e.Box2D[1], e.Box2D[2], e.Box2D[3]},
		})
	}
	return out, nil
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas that
// vision models occasionally wrap around otherwise valid JSON.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost [...]
	if start := strings.Index(raw, "["); start >= 0 {
		if end := strings.LastIndex(raw, "]"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
