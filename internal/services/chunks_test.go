package services

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"unicode/utf8"
)

func TestTextChunksKeepRunesWhole(t *testing.T) {
	const text = "Énergi → listrik, 光合作用 dan 🌱 tumbuh"

	var sb strings.Builder
	count := 0
	for chunk, err := range textChunks(io.NopCloser(iotest.OneByteReader(strings.NewReader(text)))) {
		if err != nil {
			t.Fatalf("chunk error = %v", err)
		}
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %q splits a character", chunk)
		}
		sb.WriteString(chunk)
		count++
	}

	if sb.String() != text {
		t.Errorf("text = %q, want %q", sb.String(), text)
	}
	if count != utf8.RuneCountInString(text) {
		t.Errorf("got %d chunks, want one per character", count)
	}
}

func TestTextChunksFlushesTruncatedTail(t *testing.T) {
	input := "ab\xe2\x86"

	var got string
	for chunk, err := range textChunks(io.NopCloser(strings.NewReader(input))) {
		if err != nil {
			t.Fatal(err)
		}
		got += chunk
	}
	if got != input {
		t.Errorf("text = %q, want %q", got, input)
	}
}

func TestTextChunksReportsReadErrors(t *testing.T) {
	r := io.MultiReader(strings.NewReader("awal"), iotest.ErrReader(io.ErrUnexpectedEOF))

	var got string
	var gotErr error
	for chunk, err := range textChunks(io.NopCloser(r)) {
		if err != nil {
			gotErr = err
			break
		}
		got += chunk
	}
	if got != "awal" || gotErr == nil {
		t.Errorf("got %q, %v", got, gotErr)
	}
}

func TestCompletePrefix(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"a\xc3", 1},
		{"a\xc3\xa9", 3},
		{"\xe2\x86", 0},
		{"x\xf0\x9f\x8c", 1},
		{"x\xf0\x9f\x8c\xb1", 5},
		{"\x80\x80\x80\x80", 4},
	}

	for _, tt := range tests {
		if got := completePrefix([]byte(tt.in)); got != tt.want {
			t.Errorf("completePrefix(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
