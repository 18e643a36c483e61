package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/oogiv/oogiv-web/internal/generate"
	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/oogiv/oogiv-web/internal/upload"
)

type uploadCheck struct {
	Accepted []models.FileMeta  `json:"accepted"`
	Rejected []upload.Rejection `json:"rejected"`
}

// HandleGenerateQuestions generates questions from uploaded files or a YouTube link. The form
// fields are questionType, materialType, youtubeUrl, subject, level, count and files.
func (m Main) HandleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		m.logger.Warn("Failed to parse generation form", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Form tidak valid")
		return
	}
	incoming, err := formFiles(r.MultipartForm, "files")
	if err != nil {
		m.logger.Error("Failed to read uploaded files", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Gagal membaca file")
		return
	}

	// A missing or malformed count is reported by validation.
	count, _ := strconv.Atoi(strings.TrimSpace(r.FormValue("count")))
	req := generate.Request{
		QuestionType: models.QuestionType(r.FormValue("questionType")),
		MaterialType: r.FormValue("materialType"),
		YouTubeURL:   r.FormValue("youtubeUrl"),
		Subject:      r.FormValue("subject"),
		Level:        r.FormValue("level"),
		Count:        count,
	}

	var rejected []upload.Rejection
	if len(incoming) > 0 {
		policy := upload.DefaultPolicy()
		policy.StopAtFirstOverflow = true
		req.Files, rejected = policy.Accept(nil, incoming)
	}

	res, err := m.generator.Generate(r.Context(), m.storage(r), req)
	if err != nil {
		m.writeGenerateError(w, err)
		return
	}
	m.writeJSON(w, http.StatusOK, struct {
		generate.Result
		Rejected []upload.Rejection `json:"rejected,omitempty"`
	}{Result: res, Rejected: rejected})
}

// HandleCachedQuestions returns the latest generated questions of the caller's session.
func (m Main) HandleCachedQuestions(w http.ResponseWriter, r *http.Request) {
	res, ok, err := m.generator.Cached(r.Context(), m.storage(r))
	if err != nil {
		m.logger.Error("Failed to read cached questions", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, reasonInternal, "Gagal memuat soal")
		return
	}
	if !ok {
		m.writeError(w, http.StatusNotFound, reasonNotFound, "Belum ada soal yang dibuat")
		return
	}
	m.writeJSON(w, http.StatusOK, res)
}

// HandleClearQuestions removes the latest generated questions of the caller's session.
func (m Main) HandleClearQuestions(w http.ResponseWriter, r *http.Request) {
	if err := m.generator.ClearCache(r.Context(), m.storage(r)); err != nil {
		m.logger.Error("Failed to clear cached questions", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, reasonInternal, "Gagal menghapus soal")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCheckUploads previews which of the uploaded files a form would accept, without keeping
// them. The "policy" field selects the rules: consult (default), generate or correction; the
// "currentSize" field gives the size of the files already selected.
func (m Main) HandleCheckUploads(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Form tidak valid")
		return
	}
	incoming, err := formFiles(r.MultipartForm, "files")
	if err != nil {
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Gagal membaca file")
		return
	}

	var policy upload.Policy
	switch r.FormValue("policy") {
	case "", "consult":
		policy = upload.DefaultPolicy()
	case "generate":
		policy = upload.DefaultPolicy()
		policy.StopAtFirstOverflow = true
	case "correction":
		policy = upload.CorrectionPolicy()
	default:
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Aturan upload tidak dikenal")
		return
	}

	var current []models.File
	if size, err := strconv.ParseInt(r.FormValue("currentSize"), 10, 64); err == nil && size > 0 {
		current = []models.File{{Data: make([]byte, min(size, policy.MaxTotalBytes+1))}}
	}

	accepted, rejected := policy.Accept(current, incoming)
	res := uploadCheck{
		Accepted: make([]models.FileMeta, len(accepted)),
		Rejected: rejected,
	}
	for i, f := range accepted {
		res.Accepted[i] = f.Meta()
	}
	if res.Rejected == nil {
		res.Rejected = []upload.Rejection{}
	}
	m.writeJSON(w, http.StatusOK, res)
}

func (m Main) writeGenerateError(w http.ResponseWriter, err error) {
	var verr *generate.ValidationError
	if errors.As(err, &verr) {
		m.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  verr.Message,
			Reason: reasonInvalidRequest,
			Fields: verr.Fields,
		})
		return
	}

	var gerr *generate.Error
	if errors.As(err, &gerr) {
		m.writeError(w, http.StatusBadGateway, reasonUpstream, gerr.Message)
		return
	}

	m.logger.Error("Question generation failed", slog.String(errLoggerKey, err.Error()))
	m.writeError(w, http.StatusInternalServerError, reasonInternal, "Terjadi kesalahan saat membuat soal")
}
