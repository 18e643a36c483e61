package session_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/oogiv/oogiv-web/internal/session"
)

func TestFilesRoundTrip(t *testing.T) {
	modified := time.Date(2024, 3, 1, 10, 30, 15, 123456789, time.UTC)
	files := []models.File{
		{Name: "bab1.pdf", Type: "application/pdf", LastModified: modified, Data: []byte("%PDF-1.4 isi")},
		{Name: "catatan.txt", Type: "text/plain", LastModified: modified.Add(time.Hour), Data: []byte{0, 1, 2, 255}},
		{Name: "kosong.txt", Type: "text/plain", LastModified: modified, Data: []byte{}},
	}

	encoded, err := session.EncodeFiles(files)
	if err != nil {
		t.Fatalf("EncodeFiles() error = %v", err)
	}
	decoded, err := session.DecodeFiles(encoded)
	if err != nil {
		t.Fatalf("DecodeFiles() error = %v", err)
	}

	if len(decoded) != len(files) {
		t.Fatalf("got %d files, want %d", len(decoded), len(files))
	}
	for i, want := range files {
		got := decoded[i]
		if got.Name != want.Name || got.Type != want.Type {
			t.Errorf("file %d = %s (%s), want %s (%s)", i, got.Name, got.Type, want.Name, want.Type)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Errorf("file %d content = %v, want %v", i, got.Data, want.Data)
		}
		if !got.LastModified.Equal(want.LastModified.Truncate(time.Millisecond)) {
			t.Errorf("file %d lastModified = %v, want %v", i, got.LastModified, want.LastModified)
		}
		if got.ID() != want.ID() {
			t.Errorf("file %d ID = %s, want %s", i, got.ID(), want.ID())
		}
	}
}

func TestDecodeFilesRejectsCorruptData(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "Not JSON",
			input: "bukan json",
			want:  "unmarshal",
		},
		{
			name:  "Invalid base64",
			input: `[{"name":"a.txt","type":"text/plain","size":3,"lastModified":0,"content":"!!!"}]`,
			want:  "decode",
		},
		{
			name:  "Size mismatch",
			input: `[{"name":"a.txt","type":"text/plain","size":10,"lastModified":0,"content":"YWJj"}]`,
			want:  "expected 10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := session.DecodeFiles(tt.input)
			if err == nil {
				t.Fatal("DecodeFiles() should return error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}
