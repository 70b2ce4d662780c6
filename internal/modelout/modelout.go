// Package modelout parses structured data out of free-form language-model
// text. Models are asked for strict JSON but routinely wrap it in prose, so
// extraction works on spans rather than whole responses.
package modelout

import (
	"encoding/json"
	"strings"

	"github.com/metaminds/metabrief/internal/apperr"
)

// Chapter is one segment of a chapterized transcript.
type Chapter struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Gist     string `json:"gist"`
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
}

// ExtractArray returns the first balanced [...] span in s. Bracket depth is
// tracked outside JSON string literals so content like "a[0]" cannot
// unbalance the scan.
func ExtractArray(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseChapters decodes a chapter array from raw model output. If the first
// balanced span fails to parse, one cleanup pass trims the text to its
// outermost brackets before giving up with a format error.
func ParseChapters(raw string) ([]Chapter, error) {
	span, ok := ExtractArray(raw)
	if !ok {
		return nil, apperr.E(apperr.KindFormat, "no JSON array found in model output")
	}

	var chapters []Chapter
	if err := json.Unmarshal([]byte(span), &chapters); err == nil {
		return chapters, nil
	}

	// Cleanup pass: the balanced span may have been cut short by brackets
	// inside malformed string content; fall back to the outermost pair.
	first := strings.IndexByte(raw, '[')
	last := strings.LastIndexByte(raw, ']')
	if first < 0 || last <= first {
		return nil, apperr.E(apperr.KindFormat, "model output is not a JSON array")
	}
	if err := json.Unmarshal([]byte(raw[first:last+1]), &chapters); err != nil {
		return nil, apperr.Wrap(apperr.KindFormat, err, "model output is not valid JSON after cleanup")
	}
	return chapters, nil
}
