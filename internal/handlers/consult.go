package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/oogiv/oogiv-web/internal/session"
	"github.com/oogiv/oogiv-web/internal/upload"
)

// snapshot is the session state as sent to the browser.
type snapshot struct {
	session.Snapshot
	Messages []message `json:"messages"`
}

type outcomeResponse struct {
	session.Outcome
	Rejected []upload.Rejection `json:"rejected,omitempty"`
}

type queryRequest struct {
	Text string `json:"text"`
}

type sourceRequest struct {
	Source models.Source `json:"source"`
}

// HandleMessages returns the state of the caller's consultation.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	mgr, ok := m.manager(w, r)
	if !ok {
		return
	}
	m.writeJSON(w, http.StatusOK, m.snapshot(mgr))
}

// HandleSubmitMaterial submits consultation material: uploaded files in the "files" field, or a
// YouTube link in the "url" field. The optional "source" field selects which of the two is used.
// Files breaking the upload policy are left out and reported.
func (m Main) HandleSubmitMaterial(w http.ResponseWriter, r *http.Request) {
	mgr, ok := m.manager(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		m.logger.Warn("Failed to parse material form", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Form tidak valid")
		return
	}

	incoming, err := formFiles(r.MultipartForm, "files")
	if err != nil {
		m.logger.Error("Failed to read uploaded files", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Gagal membaca file")
		return
	}
	mat := models.Material{
		Source: models.Source(r.FormValue("source")),
		URL:    r.FormValue("url"),
	}
	if mat.Source == "" {
		mat.Source = models.SourceUpload
		if len(incoming) == 0 && strings.TrimSpace(mat.URL) != "" {
			mat.Source = models.SourceYouTube
		}
	}

	var rejected []upload.Rejection
	if len(incoming) > 0 {
		mat.Files, rejected = upload.DefaultPolicy().Accept(nil, incoming)
		if len(mat.Files) == 0 {
			m.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:  rejected[0].Message,
				Reason: reasonRejected,
			})
			return
		}
	}

	outcome, err := mgr.SubmitMaterial(r.Context(), mat)
	if err != nil {
		m.writeSessionError(w, err)
		return
	}
	m.writeJSON(w, http.StatusOK, outcomeResponse{Outcome: outcome, Rejected: rejected})
}

// HandleSetSource records which kind of material the caller works with.
func (m Main) HandleSetSource(w http.ResponseWriter, r *http.Request) {
	mgr, ok := m.manager(w, r)
	if !ok {
		return
	}
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Source.Valid() {
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Sumber materi tidak dikenal")
		return
	}
	if err := mgr.SetSource(r.Context(), req.Source); err != nil {
		m.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSendMessage sends a question about the processed material. It returns once the answer is
// complete; the answer is streamed to the browser through the event stream meanwhile.
func (m Main) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	mgr, ok := m.manager(w, r)
	if !ok {
		return
	}
	text, ok := m.queryText(w, r)
	if !ok {
		return
	}

	outcome, err := mgr.SendQuery(r.Context(), text)
	m.writeOutcome(w, outcome, err)
}

// HandleResendMessage replaces the user message {id} with the edited text and asks again.
func (m Main) HandleResendMessage(w http.ResponseWriter, r *http.Request) {
	mgr, ok := m.manager(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		m.writeError(w, http.StatusBadRequest, reasonBadRequest, "ID pesan tidak valid")
		return
	}
	text, ok := m.queryText(w, r)
	if !ok {
		return
	}

	outcome, err := mgr.Resend(r.Context(), id, text)
	m.writeOutcome(w, outcome, err)
}

// HandleCancelRequests aborts the operations in flight for the caller's session.
func (m Main) HandleCancelRequests(w http.ResponseWriter, r *http.Request) {
	mgr, ok := m.manager(w, r)
	if !ok {
		return
	}
	mgr.CancelAll()
	w.WriteHeader(http.StatusNoContent)
}

// HandleClearSession resets the caller's session: conversation, material and generated questions.
func (m Main) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	mgr, ok := m.manager(w, r)
	if !ok {
		return
	}
	if err := mgr.Clear(r.Context()); err != nil {
		m.writeSessionError(w, err)
		return
	}
	// The next request restores the cleared session from storage.
	m.sessions.evict(sessionFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// queryText reads the text of a query from a JSON or form body.
func (m Main) queryText(w http.ResponseWriter, r *http.Request) (string, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			m.writeError(w, http.StatusBadRequest, reasonBadRequest, "Permintaan tidak valid")
			return "", false
		}
		return req.Text, true
	}
	return r.FormValue("text"), true
}

func (m Main) writeOutcome(w http.ResponseWriter, outcome session.Outcome, err error) {
	var merr *session.MaterialError
	if errors.As(err, &merr) {
		m.writeError(w, http.StatusUnprocessableEntity, string(merr.Reason), merr.Reason.Notice())
		return
	}
	if err != nil {
		m.writeSessionError(w, err)
		return
	}
	m.writeJSON(w, http.StatusOK, outcomeResponse{Outcome: outcome})
}

// writeSessionError maps the errors of session operations to responses.
func (m Main) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyQuery):
		m.writeError(w, http.StatusBadRequest, reasonEmptyQuery, "Pertanyaan tidak boleh kosong")
	case errors.Is(err, session.ErrInvalidMaterial):
		m.writeError(w, http.StatusUnprocessableEntity, reasonMaterial, "Materi tidak valid")
	case errors.Is(err, session.ErrMessageNotFound):
		m.writeError(w, http.StatusNotFound, reasonNotFound, "Pesan tidak ditemukan")
	case errors.Is(err, session.ErrBusy):
		m.writeError(w, http.StatusConflict, reasonBusy, "Permintaan lain sedang diproses")
	case errors.Is(err, session.ErrClosed):
		m.writeError(w, http.StatusServiceUnavailable, reasonClosed, "Server sedang dimatikan")
	default:
		m.logger.Error("Session operation failed", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadGateway, reasonUpstream, "Terjadi kesalahan. Silakan coba lagi.")
	}
}

func (m Main) snapshot(mgr *session.Manager) snapshot {
	s := mgr.Snapshot()
	return snapshot{Snapshot: s, Messages: newMessages(s.Messages, m.logger)}
}

// formFiles reads the files uploaded in field.
func formFiles(form *multipart.Form, field string) ([]models.File, error) {
	if form == nil {
		return nil, nil
	}
	headers := form.File[field]
	files := make([]models.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readFormFile(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func readFormFile(fh *multipart.FileHeader) (models.File, error) {
	src, err := fh.Open()
	if err != nil {
		return models.File{}, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return models.File{}, err
	}
	return models.File{
		Name:         fh.Filename,
		Type:         fh.Header.Get("Content-Type"),
		LastModified: time.Now(),
		Data:         data,
	}, nil
}
