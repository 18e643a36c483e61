package handlers

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	oogivweb "github.com/oogiv/oogiv-web"
	"github.com/oogiv/oogiv-web/internal/correction"
	"github.com/oogiv/oogiv-web/internal/generate"
	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/oogiv/oogiv-web/internal/session"
	"github.com/tmaxmax/go-sse"
)

// Storages hands out the storage of a browser session.
type Storages interface {
	Session(sessionID string) session.Storage
}

// ConsultantFactory returns the consultant used by the browser session sessionID. It is called
// once per session, when its manager is created.
type ConsultantFactory func(sessionID string) session.Consultant

// QuestionGenerator generates questions and keeps the latest result of a session.
type QuestionGenerator interface {
	Generate(ctx context.Context, storage session.Storage, req generate.Request) (generate.Result, error)
	Cached(ctx context.Context, storage session.Storage) (generate.Result, bool, error)
	ClearCache(ctx context.Context, storage session.Storage) error
}

// Corrector grades answer sheets.
type Corrector interface {
	Submit(ctx context.Context, keys, answers []models.File) (correction.Report, error)
}

// Config holds the dependencies and settings of Main.
type Config struct {
	Storages    Storages
	Consultants ConsultantFactory
	Generator   QuestionGenerator
	Corrector   Corrector

	// SessionSecret signs the session cookie.
	SessionSecret []byte
	// SecureCookies restricts the session cookie to HTTPS.
	SecureCookies bool
	// TypingDelay paces the reveal of non-streamed answers.
	TypingDelay time.Duration
	// SessionIdleTimeout is how long an unused session stays in memory. Defaults to 30 minutes.
	SessionIdleTimeout time.Duration

	Logger *slog.Logger
}

// Main serves the OOGIV web application: the pages, the JSON API and the per-session event stream.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	sessions  *registry
	cookies   cookieSessions
	storages  Storages
	generator QuestionGenerator
	corrector Corrector

	logger *slog.Logger
}

const (
	errLoggerKey = "err"

	// maxRequestBytes bounds the body of a single request. The upload policies cap the accepted
	// files well below it.
	maxRequestBytes = 64 << 20
	maxMemoryBytes  = 32 << 20

	defaultSessionIdleTimeout = 30 * time.Minute
)

// NewMain creates a Main from cfg. Storages, Consultants, Generator, Corrector and SessionSecret
// are required.
func NewMain(cfg Config) (Main, error) {
	switch {
	case cfg.Storages == nil:
		return Main{}, errors.New("storages are required")
	case cfg.Consultants == nil:
		return Main{}, errors.New("consultant factory is required")
	case cfg.Generator == nil:
		return Main{}, errors.New("question generator is required")
	case cfg.Corrector == nil:
		return Main{}, errors.New("corrector is required")
	case len(cfg.SessionSecret) == 0:
		return Main{}, errors.New("session secret is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionIdleTimeout <= 0 {
		cfg.SessionIdleTimeout = defaultSessionIdleTimeout
	}
	logger := cfg.Logger.With(slog.String("module", "handlers"))

	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		oogivweb.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	sseSrv := &sse.Server{Provider: &sse.Joe{}}

	sessions := newRegistry(cfg.SessionIdleTimeout, logger, func(ctx context.Context, id string) (*session.Manager, error) {
		return session.New(ctx, session.Options{
			Storage:     cfg.Storages.Session(id),
			Consultant:  cfg.Consultants(id),
			Events:      newSSEEvents(sseSrv, id, logger),
			Logger:      cfg.Logger.With(slog.String("session", id)),
			TypingDelay: cfg.TypingDelay,
		})
	})
	go sessions.run(min(cfg.SessionIdleTimeout, time.Minute))

	return Main{
		sseSrv:    sseSrv,
		templates: tmpl,
		sessions:  sessions,
		cookies:   newCookieSessions(cfg.SessionSecret, cfg.SecureCookies),
		storages:  cfg.Storages,
		generator: cfg.Generator,
		corrector: cfg.Corrector,
		logger:    logger,
	}, nil
}

// Router returns the HTTP handler of the application.
func (m Main) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	staticFS, err := fs.Sub(oogivweb.StaticFS, "static")
	if err == nil {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	}
	r.Get("/health", m.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(m.withSession)

		r.Get("/", m.HandleHome)
		r.Get("/sse", m.HandleSSE)

		r.Route("/api", func(r chi.Router) {
			r.Use(limitBody)

			r.Post("/materials", m.HandleSubmitMaterial)
			r.Put("/source", m.HandleSetSource)
			r.Get("/messages", m.HandleMessages)
			r.Post("/messages", m.HandleSendMessage)
			r.Put("/messages/{id}", m.HandleResendMessage)
			r.Delete("/requests", m.HandleCancelRequests)
			r.Delete("/session", m.HandleClearSession)

			r.Post("/uploads/check", m.HandleCheckUploads)

			r.Post("/questions", m.HandleGenerateQuestions)
			r.Get("/questions", m.HandleCachedQuestions)
			r.Delete("/questions", m.HandleClearQuestions)

			r.Post("/corrections", m.HandleCorrection)
		})
	})

	return r
}

// HandleHealth reports that the server is up.
func (m Main) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown gracefully terminates the Main instance. It closes every session manager, which
// cancels their outstanding requests, then broadcasts a close message to all connected clients and
// waits up to 5 seconds for the event streams to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	m.sessions.closeAll()

	e := &sse.Message{Type: closeEventType}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
		next.ServeHTTP(w, r)
	})
}

// manager returns the session manager of the request, writing an error response when it cannot be
// obtained.
func (m Main) manager(w http.ResponseWriter, r *http.Request) (*session.Manager, bool) {
	mgr, err := m.sessions.get(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		m.logger.Error("Failed to open session", slog.String(errLoggerKey, err.Error()))
		if errors.Is(err, errRegistryClosed) {
			m.writeError(w, http.StatusServiceUnavailable, reasonClosed, "Server sedang dimatikan")
			return nil, false
		}
		m.writeError(w, http.StatusInternalServerError, reasonInternal, "Gagal memuat sesi")
		return nil, false
	}
	return mgr, true
}

// storage returns the storage of the request's session.
func (m Main) storage(r *http.Request) session.Storage {
	return m.storages.Session(sessionFromContext(r.Context()))
}
