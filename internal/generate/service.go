package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/oogiv/oogiv-web/internal/session"
)

// QuestionAPI generates questions from material.
type QuestionAPI interface {
	GenerateQuestions(ctx context.Context, req models.QuestionRequest) (json.RawMessage, error)
}

// Converter turns a video URL into an audio file.
type Converter interface {
	Convert(ctx context.Context, url string) (models.File, error)
}

// Service generates questions and caches the latest result in the session storage.
type Service struct {
	api       QuestionAPI
	converter Converter
	now       func() time.Time

	logger *slog.Logger
}

// Entry is the cached result of the latest generation.
type Entry struct {
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
}

// Metadata describes the request that produced the cached entry.
type Metadata struct {
	Subject      string              `json:"subject"`
	QuestionType models.QuestionType `json:"questionType"`
	Level        string              `json:"questionLevel"`
	MaterialType string              `json:"materialType"`
	YouTubeURL   string              `json:"youtubeUrl,omitempty"`
	Count        int                 `json:"questionCount"`
	Timestamp    int64               `json:"timestamp"`
}

// Result is a generation outcome as handed to clients.
type Result struct {
	Questions []models.Question `json:"questions"`
	Raw       json.RawMessage   `json:"raw"`
	Metadata  *Metadata         `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

const (
	// CacheTTL is how long a generated result stays available.
	CacheTTL = 12 * time.Hour
	// Timeout bounds a generation call.
	Timeout = 120 * time.Second

	cacheVersion = "1.0"
)

// NewService creates a Service. converter may be nil when YouTube material is not supported.
func NewService(api QuestionAPI, converter Converter, logger *slog.Logger) *Service {
	return &Service{
		api:       api,
		converter: converter,
		now:       time.Now,
		logger:    logger.With(slog.String("module", "generate")),
	}
}

// WithClock replaces the clock used to stamp and expire cached results.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Generate validates req, generates the questions and caches the result in storage. Validation
// problems are returned as *ValidationError, failed remote calls as *Error.
func (s *Service) Generate(ctx context.Context, storage session.Storage, req Request) (Result, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	files := req.Files
	if req.MaterialType == MaterialYouTube {
		if s.converter == nil {
			return Result{}, &Error{Op: "convert", Message: conversionMessage(nil), Err: fmt.Errorf("no converter configured")}
		}
		audio, err := s.converter.Convert(ctx, req.YouTubeURL)
		if err != nil {
			s.logger.Error("Failed to convert video", slog.String("url", req.YouTubeURL), slog.String("err", err.Error()))
			return Result{}, &Error{Op: "convert", Message: conversionMessage(err), Err: err}
		}
		files = []models.File{audio}
	}

	// The previous result is dropped before the call, a failed call leaves no stale cache behind.
	if err := s.ClearCache(ctx, storage); err != nil {
		s.logger.Warn("Failed to clear cache", slog.String("err", err.Error()))
	}

	gctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	raw, err := s.api.GenerateQuestions(gctx, models.QuestionRequest{
		Subject: req.Subject,
		Count:   req.Count,
		Type:    req.QuestionType,
		Level:   req.Level,
		Files:   files,
	})
	if err != nil {
		s.logger.Error("Failed to generate questions", slog.String("err", err.Error()))
		return Result{}, &Error{Op: "generate", Message: generationMessage(err), Err: err}
	}

	now := s.now()
	entry := Entry{Content: raw, Timestamp: now.UnixMilli(), Version: cacheVersion}
	meta := Metadata{
		Subject:      req.Subject,
		QuestionType: req.QuestionType,
		Level:        req.Level,
		MaterialType: req.MaterialType,
		YouTubeURL:   req.YouTubeURL,
		Count:        req.Count,
		Timestamp:    now.UnixMilli(),
	}
	if err := s.store(ctx, storage, entry, meta); err != nil {
		s.logger.Warn("Failed to cache result", slog.String("err", err.Error()))
	}

	return Result{
		Questions: ParseQuestions(raw),
		Raw:       raw,
		Metadata:  &meta,
		CreatedAt: now,
	}, nil
}

// Cached returns the cached result. ok is false when nothing is cached or the entry expired;
// expired and unreadable entries are deleted.
func (s *Service) Cached(ctx context.Context, storage session.Storage) (Result, bool, error) {
	v, ok, err := storage.Get(ctx, session.KeyGeneratedContent)
	if err != nil {
		return Result{}, false, fmt.Errorf("failed to read cache: %w", err)
	}
	if !ok {
		return Result{}, false, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(v), &entry); err != nil {
		s.logger.Warn("Dropping unreadable cache", slog.String("err", err.Error()))
		return Result{}, false, storage.Delete(ctx, session.KeyGeneratedContent)
	}
	created := time.UnixMilli(entry.Timestamp)
	if s.now().Sub(created) > CacheTTL {
		return Result{}, false, storage.Delete(ctx, session.KeyGeneratedContent)
	}

	res := Result{
		Questions: ParseQuestions(entry.Content),
		Raw:       entry.Content,
		CreatedAt: created,
	}
	if mv, ok, err := storage.Get(ctx, session.KeyGenerateMetadata); err == nil && ok {
		var meta Metadata
		if json.Unmarshal([]byte(mv), &meta) == nil {
			res.Metadata = &meta
		}
	}
	return res, true, nil
}

// ClearCache removes the cached result and its metadata.
func (s *Service) ClearCache(ctx context.Context, storage session.Storage) error {
	if err := storage.Delete(ctx, session.KeyGeneratedContent, session.KeyGenerateMetadata); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func (s *Service) store(ctx context.Context, storage session.Storage, entry Entry, meta Metadata) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := storage.Set(ctx, session.KeyGeneratedContent, string(b)); err != nil {
		return err
	}
	b, err = json.Marshal(meta)
	if err != nil {
		return err
	}
	return storage.Set(ctx, session.KeyGenerateMetadata, string(b))
}

// ParseQuestions extracts the question list from a generation response. The list may be the
// response itself or sit under any field, one object deep. Unknown shapes yield nil.
func ParseQuestions(raw json.RawMessage) []models.Question {
	return findQuestions(raw, 2)
}

func findQuestions(raw json.RawMessage, depth int) []models.Question {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	switch raw[0] {
	case '[':
		var qs []models.Question
		if json.Unmarshal(raw, &qs) != nil {
			return nil
		}
		for _, q := range qs {
			if q.Prompt != "" {
				return qs
			}
		}
		return nil
	case '{':
		if depth == 0 {
			return nil
		}
		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) != nil {
			return nil
		}
		for _, key := range []string{"soal", "questions", "data", "oogiv_response"} {
			if qs := findQuestions(fields[key], depth-1); qs != nil {
				return qs
			}
		}
		for _, v := range fields {
			if qs := findQuestions(v, depth-1); qs != nil {
				return qs
			}
		}
	}
	return nil
}
