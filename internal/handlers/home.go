package handlers

import (
	"log/slog"
	"net/http"

	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/oogiv/oogiv-web/internal/session"
)

type homePageData struct {
	Messages   []message
	Processed  bool
	Source     models.Source
	Files      []models.FileMeta
	YouTubeURL string
	Busy       bool
}

// HandleHome renders the consultation page with the caller's conversation.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	mgr, ok := m.manager(w, r)
	if !ok {
		return
	}
	s := m.snapshot(mgr)

	data := homePageData{
		Messages:   s.Messages,
		Processed:  s.Processed,
		Source:     s.Source,
		Files:      s.Files,
		YouTubeURL: s.YouTubeURL,
		Busy:       s.State != session.Idle,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
