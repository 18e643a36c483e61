package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/oogiv/oogiv-web/internal/correction"
	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/oogiv/oogiv-web/internal/upload"
)

// HandleCorrection grades the answer sheets in the "jawaban_siswa" field against the key in the
// "kunci_jawaban" field.
func (m Main) HandleCorrection(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		m.logger.Warn("Failed to parse correction form", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Form tidak valid")
		return
	}
	keys, err := formFiles(r.MultipartForm, "kunci_jawaban")
	if err != nil {
		m.logger.Error("Failed to read answer key", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Gagal membaca file")
		return
	}
	answers, err := formFiles(r.MultipartForm, "jawaban_siswa")
	if err != nil {
		m.logger.Error("Failed to read answer sheets", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Gagal membaca file")
		return
	}
	m.correct(w, r, keys, answers)
}

func (m Main) correct(w http.ResponseWriter, r *http.Request, keys, answers []models.File) {
	report, err := m.corrector.Submit(r.Context(), keys, answers)
	if err == nil {
		m.writeJSON(w, http.StatusOK, report)
		return
	}

	var cerr *correction.Error
	if !errors.As(err, &cerr) {
		m.logger.Error("Correction failed", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, reasonInternal, "Terjadi kesalahan saat melakukan koreksi")
		return
	}
	switch {
	case errors.Is(err, correction.ErrMissingKey), errors.Is(err, correction.ErrMissingAnswers):
		m.writeJSON(w, http.StatusUnprocessableEntity, struct {
			errorResponse
			Rejected []upload.Rejection `json:"rejected,omitempty"`
		}{
			errorResponse: errorResponse{Error: cerr.Message, Reason: reasonInvalidRequest},
			Rejected:      cerr.Rejected,
		})
	default:
		m.writeError(w, http.StatusBadGateway, reasonUpstream, cerr.Message)
	}
}
