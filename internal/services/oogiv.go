package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/tmaxmax/go-sse"
)

// OOGIV is a client of the OOGIV inference API. It consults about material, generates questions
// and grades answer sheets.
type OOGIV struct {
	consultURL string
	baseURL    string

	client *http.Client

	logger *slog.Logger
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Code int
	// Detail is the detail or message field of the error body, if any.
	Detail string
}

const maxErrorBody = 64 << 10

// NewOOGIV creates a client. consultURL is the consultation endpoint, baseURL the root of the
// generation and grading endpoints. A zero timeout leaves requests bounded by their context only.
func NewOOGIV(consultURL, baseURL string, timeout time.Duration, logger *slog.Logger) OOGIV {
	return OOGIV{
		consultURL: consultURL,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("module", "oogiv")),
	}
}

// WithJar returns a copy of the client that keeps cookies in jar, so that the remote service can
// recognize the browser session across requests.
func (o OOGIV) WithJar(jar http.CookieJar) OOGIV {
	c := *o.client
	c.Jar = jar
	o.client = &c
	return o
}

// Consult sends a query and the attached files to the consultation endpoint. An empty query with
// files submits material. Chunked plain-text and event-stream responses are returned as a streamed
// Reply, which the caller must drain; other responses are read completely.
func (o OOGIV) Consult(ctx context.Context, query string, files []models.File) (models.Reply, error) {
	body, contentType, err := multipartBody(func(w *multipart.Writer) error {
		for _, f := range files {
			if err := writeFilePart(w, "files", f); err != nil {
				return err
			}
		}
		return w.WriteField("query", query)
	})
	if err != nil {
		return models.Reply{}, err
	}

	o.logger.Debug("Consult request",
		slog.Int("queryLength", len(query)),
		slog.Int("files", len(files)),
	)

	resp, err := o.do(ctx, o.consultURL, body, contentType)
	if err != nil {
		return models.Reply{}, err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/event-stream":
		return models.Reply{Chunks: eventChunks(resp.Body)}, nil
	case mediaType != "application/json" && slices.Contains(resp.TransferEncoding, "chunked"):
		return models.Reply{Chunks: textChunks(resp.Body)}, nil
	}

	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Reply{}, fmt.Errorf("error reading response: %w", err)
	}
	if mediaType == "application/json" {
		return models.Reply{Text: models.ReplyText(b)}, nil
	}
	return models.Reply{Text: strings.TrimSpace(string(b))}, nil
}

// GenerateQuestions asks the API to write questions about the material in req and returns the
// response body.
func (o OOGIV) GenerateQuestions(ctx context.Context, req models.QuestionRequest) (json.RawMessage, error) {
	body, contentType, err := multipartBody(func(w *multipart.Writer) error {
		fields := [][2]string{
			{"pelajaran", strings.TrimSpace(req.Subject)},
			{"jumlah", strconv.Itoa(req.Count)},
			{"tipe", strings.ToLower(string(req.Type))},
			{"level", strings.ToLower(req.Level)},
		}
		for _, f := range fields {
			if err := w.WriteField(f[0], f[1]); err != nil {
				return err
			}
		}
		for _, f := range req.Files {
			if err := writeFilePart(w, "files", f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Debug("Generate request",
		slog.String("subject", req.Subject),
		slog.Int("count", req.Count),
		slog.Int("files", len(req.Files)),
	)

	return o.postJSON(ctx, o.baseURL+"/buatsoal", body, contentType)
}

// Grade sends an answer key and the student answer sheets for grading and returns the response
// body.
func (o OOGIV) Grade(ctx context.Context, key models.File, answers []models.File) (json.RawMessage, error) {
	body, contentType, err := multipartBody(func(w *multipart.Writer) error {
		if err := writeFilePart(w, "kunci_jawaban", key); err != nil {
			return err
		}
		for _, f := range answers {
			if err := writeFilePart(w, "jawaban_siswa", f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Debug("Grade request", slog.String("key", key.Name), slog.Int("answers", len(answers)))

	return o.postJSON(ctx, o.baseURL+"/koreksi", body, contentType)
}

func (o OOGIV) postJSON(ctx context.Context, url string, body *bytes.Buffer, contentType string) (json.RawMessage, error) {
	resp, err := o.do(ctx, url, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("response is not JSON: %.100s", b)
	}
	return json.RawMessage(b), nil
}

func (o OOGIV) do(ctx context.Context, url string, body *bytes.Buffer, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/plain, text/event-stream")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Detail)
}

func statusError(resp *http.Response) *StatusError {
	e := &StatusError{Code: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(b, &payload); err != nil {
		return e
	}
	var detail string
	switch {
	case json.Unmarshal(payload.Detail, &detail) == nil:
		e.Detail = detail
	case len(payload.Detail) > 0 && string(payload.Detail) != "null":
		e.Detail = string(payload.Detail)
	}
	if e.Detail == "" {
		e.Detail = payload.Message
	}
	return e
}

// IsTimeout reports whether err is a request that ran out of time.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func multipartBody(write func(w *multipart.Writer) error) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := write(w); err != nil {
		return nil, "", fmt.Errorf("error writing form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("error closing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFilePart(w *multipart.Writer, field string, f models.File) error {
	typ := f.Type
	if typ == "" {
		typ = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, quoteEscaper.Replace(field), quoteEscaper.Replace(f.Name)))
	h.Set("Content-Type", typ)

	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(f.Data)
	return err
}

// textChunks yields the body as it arrives. A multi-byte character split across reads is held back
// until it is complete.
func textChunks(body io.ReadCloser) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer body.Close()

		buf := make([]byte, 4096)
		var carry []byte
		for {
			n, err := body.Read(buf)
			if n > 0 {
				data := append(carry, buf[:n]...)
				cut := completePrefix(data)
				carry = append([]byte(nil), data[cut:]...)
				if cut > 0 && !yield(string(data[:cut]), nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				if len(carry) > 0 {
					yield(string(carry), nil)
				}
				return
			}
			if err != nil {
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}
		}
	}
}

// completePrefix returns the length of the longest prefix of b that does not end inside a UTF-8
// sequence.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

// eventChunks yields the data of every event of an event stream, stopping at a [DONE] event.
func eventChunks(body io.ReadCloser) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer body.Close()

		for ev, err := range sse.Read(body, nil) {
			if err != nil {
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}
			if ev.Data == "[DONE]" {
				return
			}
			if !yield(ev.Data, nil) {
				return
			}
		}
	}
}
