package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// QuestionType is the kind of generated questions.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "pg"
	QuestionEssay          QuestionType = "essay"
)

// Question is a single generated question with its answer key. Options is empty for essay questions.
type Question struct {
	Number  FlexString `json:"no soal"`
	Prompt  string     `json:"pertanyaan"`
	Options []string   `json:"opsi,omitempty"`
	Answer  string     `json:"kunci_jawaban"`
}

// QuestionSet is the outcome of a generation request. Raw keeps the response body as returned by
// the remote service so that clients can render fields this package does not know about.
type QuestionSet struct {
	Questions []Question      `json:"questions"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// FlexString accepts both JSON strings and numbers.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// FlexNumber accepts JSON numbers and numeric strings. Anything else decodes to zero.
type FlexNumber float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexNumber(v)
	return nil
}

// QuestionRequest holds the parameters of a question generation call. Files carry the material,
// including the audio track of a converted video.
type QuestionRequest struct {
	Subject string
	Count   int
	Type    QuestionType
	Level   string
	Files   []File
}
