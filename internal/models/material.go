package models

import (
	"fmt"
	"time"
)

// Source tags which kind of material a consultation is grounded in.
type Source string

const (
	// SourceUpload marks material made of uploaded documents.
	SourceUpload Source = "upload"
	// SourceYouTube marks material referenced by a YouTube link.
	SourceYouTube Source = "youtube"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	return s == SourceUpload || s == SourceYouTube
}

// FileMeta describes an uploaded file without its content.
type FileMeta struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Type         string    `json:"type"`
	LastModified time.Time `json:"lastModified"`
	ID           string    `json:"id"`
}

// File is an uploaded file held in memory.
type File struct {
	Name         string
	Type         string
	LastModified time.Time
	Data         []byte
}

// Size returns the length of the file content in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// ID returns an identifier derived from the name, size and modification time of the file.
func (f File) ID() string {
	return fmt.Sprintf("%s_%d_%d", f.Name, f.Size(), f.LastModified.UnixMilli())
}

// Meta returns the metadata of the file.
func (f File) Meta() FileMeta {
	return FileMeta{
		Name:         f.Name,
		Size:         f.Size(),
		Type:         f.Type,
		LastModified: f.LastModified,
		ID:           f.ID(),
	}
}

// TotalSize returns the combined size of files.
func TotalSize(files []File) int64 {
	var total int64
	for _, f := range files {
		total += f.Size()
	}
	return total
}

// Material is what a consultation gets grounded in: either a set of files or a single URL,
// depending on Source.
type Material struct {
	Source Source
	Files  []File
	URL    string
}
