// Package generation defines the text generation boundary and parses its structured answers.
package generation

import (
	"context"
	"encoding/json"
	"strings"

	"ragchat/internal/domain"
)

// UnstructuredSource tags answers recovered from output that was not the expected JSON.
const UnstructuredSource = "unstructured"

// Generator turns a prompt into raw text. When onFragment is non-nil the
// implementation may call it with partial output as it arrives; the returned
// string is always the complete text. Failures should wrap domain.ErrGenerationUnreachable.
type Generator interface {
	Generate(ctx context.Context, prompt string, onFragment func(string)) (string, error)
}

// ParseAnswer decodes raw as {"answer": string, "sources": [string]}, tolerating
// a surrounding code fence. A missing answer falls back to raw, missing sources
// to an empty list. Anything else that does not decode yields raw tagged with
// UnstructuredSource and ok=false. It never fails.
func ParseAnswer(raw string) (a domain.StructuredAnswer, ok bool) {
	fallback := domain.StructuredAnswer{Answer: raw, Sources: []string{UnstructuredSource}}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFence(raw)), &fields); err != nil || fields == nil {
		return fallback, false
	}

	a = domain.StructuredAnswer{Answer: raw, Sources: []string{}}
	if v, present := fields["answer"]; present {
		if err := json.Unmarshal(v, &a.Answer); err != nil {
			return fallback, false
		}
	}
	if v, present := fields["sources"]; present && string(v) != "null" {
		if err := json.Unmarshal(v, &a.Sources); err != nil {
			return fallback, false
		}
	}
	return a, true
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line, which may carry a language tag.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return s
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
