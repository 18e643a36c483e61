package models

import (
	"encoding/json"
	"iter"
	"strings"
)

// Reply is the answer of a consultation request. A streamed reply carries Chunks, which yields the
// text in arrival order; otherwise the whole answer is in Text.
type Reply struct {
	Text   string
	Chunks iter.Seq2[string, error]
}

// Streamed reports whether the reply has to be consumed through Chunks.
func (r Reply) Streamed() bool {
	return r.Chunks != nil
}

// Collect drains a streamed reply and returns the accumulated text. For non-streamed replies it
// returns Text.
func (r Reply) Collect() (string, error) {
	if !r.Streamed() {
		return r.Text, nil
	}
	var sb strings.Builder
	for chunk, err := range r.Chunks {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}

// ReplyText extracts the answer text from a JSON response body. The fields message, response and
// answer are checked in that order; when none holds a non-empty string the raw JSON is returned.
func ReplyText(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		var s string
		if err := json.Unmarshal(body, &s); err == nil {
			return s
		}
		return strings.TrimSpace(string(body))
	}
	for _, key := range []string{"message", "response", "answer"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return strings.TrimSpace(string(body))
}
