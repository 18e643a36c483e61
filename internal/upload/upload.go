// Package upload decides which uploaded files a session accepts.
package upload

import (
	"fmt"
	"mime"
	"slices"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oogiv/oogiv-web/internal/models"
)

// MaxTotalBytes is the default cap on the combined size of the files of one material.
const MaxTotalBytes = 5 << 20

// Document types accepted as material.
const (
	TypePDF  = "application/pdf"
	TypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	TypeText = "text/plain"
)

// Reason tells why a file was rejected.
type Reason string

const (
	ReasonUnsupportedType Reason = "unsupported_type"
	ReasonFileTooLarge    Reason = "file_too_large"
	ReasonTotalExceeded   Reason = "total_size_exceeded"
)

// Rejection describes a file that was not accepted.
type Rejection struct {
	Name    string `json:"name"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// Policy holds the acceptance rules for uploads.
type Policy struct {
	// MaxTotalBytes caps the size of the current files plus the accepted incoming ones.
	MaxTotalBytes int64
	// MaxFileBytes caps the size of every single file. Zero disables the check.
	MaxFileBytes int64
	AllowedTypes []string
	// StopAtFirstOverflow rejects every file after the first one that does not fit in the total
	// cap, instead of trying the smaller files that follow.
	StopAtFirstOverflow bool
}

// DefaultPolicy returns the policy used for consultation and generation material.
func DefaultPolicy() Policy {
	return Policy{
		MaxTotalBytes: MaxTotalBytes,
		AllowedTypes:  []string{TypePDF, TypeDOCX, TypePPTX, TypeText},
	}
}

// CorrectionPolicy returns the policy used for answer sheets, where every file is also capped
// on its own.
func CorrectionPolicy() Policy {
	p := DefaultPolicy()
	p.MaxFileBytes = MaxTotalBytes
	return p
}

// Accept filters incoming against the policy, given the files already held. The accepted files
// keep their order and have their Type set to the resolved media type. The combined size of
// current and accepted files never exceeds MaxTotalBytes.
func (p Policy) Accept(current, incoming []models.File) ([]models.File, []Rejection) {
	total := models.TotalSize(current)
	var accepted []models.File
	var rejected []Rejection
	overflowed := false

	for _, f := range incoming {
		typ, ok := p.resolveType(f)
		if !ok {
			rejected = append(rejected, Rejection{
				Name:    f.Name,
				Reason:  ReasonUnsupportedType,
				Message: fmt.Sprintf("%s memiliki format yang tidak didukung.", f.Name),
			})
			continue
		}
		if p.MaxFileBytes > 0 && f.Size() > p.MaxFileBytes {
			rejected = append(rejected, Rejection{
				Name:    f.Name,
				Reason:  ReasonFileTooLarge,
				Message: fmt.Sprintf("File %q melebihi batas ukuran %s.", f.Name, formatSize(p.MaxFileBytes)),
			})
			continue
		}
		if overflowed || total+f.Size() > p.MaxTotalBytes {
			overflowed = p.StopAtFirstOverflow
			rejected = append(rejected, Rejection{
				Name:    f.Name,
				Reason:  ReasonTotalExceeded,
				Message: fmt.Sprintf("File %q ditolak karena upload size melebihi batas total %s.", f.Name, formatSize(p.MaxTotalBytes)),
			})
			continue
		}

		f.Type = typ
		accepted = append(accepted, f)
		total += f.Size()
	}

	return accepted, rejected
}

// resolveType returns the media type of f when it is allowed. Declared types are trusted unless
// missing or generic, in which case the content is sniffed.
func (p Policy) resolveType(f models.File) (string, bool) {
	declared := baseType(f.Type)
	if declared != "" && declared != "application/octet-stream" {
		return declared, slices.Contains(p.AllowedTypes, declared)
	}

	detected := mimetype.Detect(f.Data)
	for _, allowed := range p.AllowedTypes {
		if detected.Is(allowed) {
			return allowed, true
		}
	}
	return baseType(detected.String()), false
}

func baseType(v string) string {
	if v == "" {
		return ""
	}
	t, _, err := mime.ParseMediaType(v)
	if err != nil {
		return v
	}
	return t
}

func formatSize(n int64) string {
	if n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
}
