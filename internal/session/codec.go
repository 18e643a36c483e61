package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oogiv/oogiv-web/internal/models"
)

// persistedFile is the stored representation of an uploaded file.
type persistedFile struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"`
	Content      string `json:"content"`
}

// EncodeFiles serializes files, content included, into the string kept in storage. The content is
// base64 encoded with the standard alphabet.
func EncodeFiles(files []models.File) (string, error) {
	out := make([]persistedFile, len(files))
	for i, f := range files {
		out[i] = persistedFile{
			Name:         f.Name,
			Type:         f.Type,
			Size:         f.Size(),
			LastModified: f.LastModified.UnixMilli(),
			Content:      base64.StdEncoding.EncodeToString(f.Data),
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to marshal files: %w", err)
	}
	return string(b), nil
}

// DecodeFiles is the inverse of EncodeFiles. A file whose decoded content does not match its
// recorded size is rejected.
func DecodeFiles(s string) ([]models.File, error) {
	var in []persistedFile
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal files: %w", err)
	}
	files := make([]models.File, len(in))
	for i, pf := range in {
		data, err := base64.StdEncoding.DecodeString(pf.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to decode content of %q: %w", pf.Name, err)
		}
		if int64(len(data)) != pf.Size {
			return nil, fmt.Errorf("content of %q has %d bytes, expected %d", pf.Name, len(data), pf.Size)
		}
		files[i] = models.File{
			Name:         pf.Name,
			Type:         pf.Type,
			LastModified: time.UnixMilli(pf.LastModified),
			Data:         data,
		}
	}
	return files, nil
}
