package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oogiv/oogiv-web/internal/models"
)

var (
	// ErrEmptyQuery is returned when a query has no text.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrBusy is returned when another operation holds the session lock.
	ErrBusy = errors.New("session is busy")
	// ErrInvalidMaterial is returned when a submission does not populate exactly one material source.
	ErrInvalidMaterial = errors.New("invalid material")
	// ErrMessageNotFound is returned when an edit targets an unknown message.
	ErrMessageNotFound = errors.New("message not found")
	// ErrClosed is returned by operations on a manager that has been closed.
	ErrClosed = errors.New("session is closed")
)

// Reason explains why the material of a session cannot serve a query.
type Reason string

const (
	ReasonNotProcessed     Reason = "materials_not_processed"
	ReasonMetadataMissing  Reason = "files_metadata_missing"
	ReasonFilesMissing     Reason = "files_missing_in_memory"
	ReasonMetadataMismatch Reason = "files_metadata_mismatch"
	ReasonURLMissing       Reason = "youtube_url_missing"
)

// MaterialError reports a material availability failure.
type MaterialError struct {
	Reason Reason
}

func (e *MaterialError) Error() string {
	return fmt.Sprintf("material unavailable: %s", e.Reason)
}

// Notice returns the text shown to the user for the reason.
func (r Reason) Notice() string {
	switch r {
	case ReasonNotProcessed:
		return noticeNotProcessed
	case ReasonMetadataMissing, ReasonFilesMissing, ReasonMetadataMismatch:
		return noticeFilesLost
	case ReasonURLMissing:
		return noticeURLLost
	default:
		return "Terjadi masalah dengan data materi. Silakan upload ulang."
	}
}

// validateMaterial checks that the in-memory material can back a query. The caller must hold m.mu.
func (m *Manager) validateMaterial() *MaterialError {
	if !m.processed {
		return &MaterialError{Reason: ReasonNotProcessed}
	}

	switch m.source {
	case models.SourceUpload:
		if len(m.metadata) == 0 {
			return &MaterialError{Reason: ReasonMetadataMissing}
		}
		if len(m.files) == 0 {
			return &MaterialError{Reason: ReasonFilesMissing}
		}
		if len(m.files) != len(m.metadata) {
			return &MaterialError{Reason: ReasonMetadataMismatch}
		}
		for i, f := range m.files {
			if f.ID() != m.metadata[i].ID {
				return &MaterialError{Reason: ReasonMetadataMismatch}
			}
		}
	case models.SourceYouTube:
		if strings.TrimSpace(m.youtubeURL) == "" {
			return &MaterialError{Reason: ReasonURLMissing}
		}
	}

	return nil
}
