package generate

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/oogiv/oogiv-web/internal/services"
)

// Error is a failed generation step. Message is meant for the user, Err for the logs.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// generationMessage maps a failed call of the generation endpoint to a localized message.
func generationMessage(err error) string {
	if services.IsTimeout(err) {
		return "Request timeout. Proses pembuatan soal memakan waktu terlalu lama."
	}

	var se *services.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusBadRequest:
			return "Data yang dikirim tidak valid. Periksa kembali form Anda."
		case http.StatusUnprocessableEntity:
			return or(se.Detail, "Format data tidak sesuai. Periksa kembali input Anda.")
		case http.StatusRequestEntityTooLarge:
			return or(se.Detail, "Ukuran file terlalu besar.")
		case http.StatusInternalServerError:
			return "Terjadi kesalahan pada server. Silakan coba lagi nanti."
		default:
			return or(se.Detail, fmt.Sprintf("Server error (%d)", se.Code))
		}
	}

	if isConnection(err) {
		return "Tidak dapat terhubung ke server. Periksa koneksi internet Anda."
	}
	return "Terjadi kesalahan saat membuat soal"
}

// conversionMessage maps a failed YouTube conversion to a localized message.
func conversionMessage(err error) string {
	if services.IsTimeout(err) {
		return "Konversi timeout. Video terlalu panjang atau koneksi lambat."
	}
	if errors.Is(err, services.ErrInvalidVideoURL) {
		return "URL YouTube tidak valid."
	}

	var se *services.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusBadRequest:
			return "URL YouTube tidak valid."
		case http.StatusNotFound:
			return "Video tidak ditemukan atau tidak dapat diakses."
		case http.StatusRequestEntityTooLarge:
			return "Video terlalu besar untuk dikonversi."
		case http.StatusInternalServerError:
			return "Server error saat konversi. Silakan coba lagi."
		}
	}

	if isConnection(err) {
		return "Tidak dapat terhubung ke server konversi."
	}
	return "Gagal mengkonversi video YouTube ke MP3"
}

// isConnection reports whether err happened while talking to the remote server rather than
// while interpreting its answer.
func isConnection(err error) bool {
	var uerr *url.Error
	return errors.As(err, &uerr)
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
