// Package correction grades student answer sheets against an answer key.
package correction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/oogiv/oogiv-web/internal/services"
	"github.com/oogiv/oogiv-web/internal/upload"
)

// Grader grades answer sheets against a key.
type Grader interface {
	Grade(ctx context.Context, key models.File, answers []models.File) (json.RawMessage, error)
}

var (
	ErrMissingKey     = errors.New("missing answer key")
	ErrMissingAnswers = errors.New("missing answer sheets")
	ErrNoResults      = errors.New("response holds no results")
)

// Error is a failed correction. Message is meant for the user.
type Error struct {
	Message string
	Err     error
	// Rejected lists the uploaded files that were refused, if that is why the correction failed.
	Rejected []upload.Rejection
}

func (e *Error) Error() string {
	return fmt.Sprintf("correction failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Report is the outcome of a correction.
type Report struct {
	Results []models.GradeResult `json:"results"`
	Summary models.GradeSummary  `json:"summary"`
	// Rejected lists answer sheets left out because they broke the upload limits.
	Rejected []upload.Rejection `json:"rejected,omitempty"`
	Raw      json.RawMessage    `json:"raw"`
}

// Timeout bounds a grading call.
const Timeout = 120 * time.Second

// Service submits answer sheets for grading.
type Service struct {
	grader Grader
	policy upload.Policy

	logger *slog.Logger
}

// NewService creates a Service that applies the answer sheet upload policy.
func NewService(grader Grader, logger *slog.Logger) *Service {
	return &Service{
		grader: grader,
		policy: upload.CorrectionPolicy(),
		logger: logger.With(slog.String("module", "correction")),
	}
}

// Submit grades answers against the first of keys. Files breaking the upload limits are left out;
// a refused key fails the correction.
func (s *Service) Submit(ctx context.Context, keys, answers []models.File) (Report, error) {
	if len(keys) == 0 {
		return Report{}, &Error{Message: "Harap upload file kunci jawaban!", Err: ErrMissingKey}
	}
	if len(answers) == 0 {
		return Report{}, &Error{Message: "Harap upload file jawaban siswa!", Err: ErrMissingAnswers}
	}

	key, rejected := s.policy.Accept(nil, keys[:1])
	if len(key) == 0 {
		return Report{}, &Error{Message: rejected[0].Message, Err: ErrMissingKey, Rejected: rejected}
	}
	accepted, rejected := s.policy.Accept(nil, answers)
	if len(accepted) == 0 {
		return Report{}, &Error{Message: rejected[0].Message, Err: ErrMissingAnswers, Rejected: rejected}
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	raw, err := s.grader.Grade(ctx, key[0], accepted)
	if err != nil {
		s.logger.Error("Failed to grade answers", slog.Int("answers", len(accepted)), slog.String("err", err.Error()))
		return Report{}, &Error{Message: errorMessage(err), Err: err}
	}

	results, err := Normalize(raw)
	if err != nil {
		return Report{}, &Error{Message: "Format response tidak valid", Err: err}
	}

	s.logger.Info("Graded answers", slog.Int("students", len(results)))
	return Report{
		Results:  results,
		Summary:  Summarize(results),
		Rejected: rejected,
		Raw:      raw,
	}, nil
}

type gradeItem struct {
	Name      string            `json:"nama"`
	Student   string            `json:"siswa"`
	Correct   models.FlexNumber `json:"benar"`
	CorrectEn models.FlexNumber `json:"correct"`
	Wrong     models.FlexNumber `json:"salah"`
	WrongEn   models.FlexNumber `json:"wrong"`
	Score     models.FlexNumber `json:"nilai"`
	ScoreEn   models.FlexNumber `json:"score"`
}

// Normalize extracts the graded results from a grading response. The list is read from
// oogiv_response.daftar_nilai, else from oogiv_response, else from the response itself; a single
// object counts as a list of one.
func Normalize(raw json.RawMessage) ([]models.GradeResult, error) {
	var envelope struct {
		Response json.RawMessage `json:"oogiv_response"`
	}
	body := raw
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Response) > 0 && string(envelope.Response) != "null" {
		body = envelope.Response

		var inner struct {
			List json.RawMessage `json:"daftar_nilai"`
		}
		if err := json.Unmarshal(body, &inner); err == nil && isArray(inner.List) {
			body = inner.List
		}
	}

	var items []gradeItem
	if isArray(body) {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("failed to decode results: %w", err)
		}
	} else {
		var item gradeItem
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		items = []gradeItem{item}
	}
	if len(items) == 0 {
		return nil, ErrNoResults
	}

	results := make([]models.GradeResult, len(items))
	for i, it := range items {
		results[i] = models.GradeResult{
			Student: first(it.Name, it.Student, "Tidak tersedia"),
			Correct: int(firstNonZero(it.Correct, it.CorrectEn)),
			Wrong:   int(firstNonZero(it.Wrong, it.WrongEn)),
			Score:   float64(firstNonZero(it.Score, it.ScoreEn)),
		}
	}
	return results, nil
}

// Summarize counts the students and computes the rounded average and the highest score.
func Summarize(results []models.GradeResult) models.GradeSummary {
	if len(results) == 0 {
		return models.GradeSummary{}
	}
	var total float64
	highest := results[0].Score
	for _, r := range results {
		total += r.Score
		highest = max(highest, r.Score)
	}
	return models.GradeSummary{
		Students: len(results),
		Average:  math.Round(total / float64(len(results))),
		Highest:  highest,
	}
}

func errorMessage(err error) string {
	if services.IsTimeout(err) {
		return "Proses koreksi timeout. Silakan coba lagi"
	}

	var se *services.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusRequestEntityTooLarge:
			return "File terlalu besar. Maksimal ukuran file adalah 5MB"
		case http.StatusBadRequest:
			return "Format file tidak didukung atau data tidak valid"
		case http.StatusInternalServerError:
			return "Terjadi kesalahan pada server. Silakan coba lagi"
		default:
			return fmt.Sprintf("Error: %d - %s", se.Code, http.StatusText(se.Code))
		}
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		return "Tidak dapat terhubung ke server. Periksa koneksi internet Anda"
	}
	return "Terjadi kesalahan saat melakukan koreksi"
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(a, b models.FlexNumber) models.FlexNumber {
	if a != 0 {
		return a
	}
	return b
}
