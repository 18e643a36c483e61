package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/oogiv/oogiv-web/internal/services"
)

func TestOOGIVConsult(t *testing.T) {
	tests := []struct {
		name         string
		handler      http.HandlerFunc
		wantText     string
		wantStreamed bool
	}{
		{
			name: "JSON reply",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"response":"Materi diterima"}`)
			},
			wantText: "Materi diterima",
		},
		{
			name: "Plain text reply",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Content-Length", "12")
				fmt.Fprint(w, " Halo dunia\n")
			},
			wantText: "Halo dunia",
		},
		{
			name: "Chunked reply",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				for _, part := range []string{"Sel ", "adalah ", "unit terkecil"} {
					fmt.Fprint(w, part)
					w.(http.Flusher).Flush()
				}
			},
			wantText:     "Sel adalah unit terkecil",
			wantStreamed: true,
		},
		{
			name: "Event stream reply",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: Fotosintesis\n\ndata:  terjadi di daun\n\ndata: [DONE]\n\ndata: diabaikan\n\n")
			},
			wantText:     "Fotosintesis terjadi di daun",
			wantStreamed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := services.NewOOGIV(srv.URL, srv.URL, 5*time.Second, slog.Default())
			reply, err := client.Consult(context.Background(), "Apa itu sel?", nil)
			if err != nil {
				t.Fatalf("Consult() error = %v", err)
			}
			if reply.Streamed() != tt.wantStreamed {
				t.Errorf("Streamed() = %v, want %v", reply.Streamed(), tt.wantStreamed)
			}
			text, err := reply.Collect()
			if err != nil {
				t.Fatalf("Collect() error = %v", err)
			}
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
		})
	}
}

func TestOOGIVConsultSendsForm(t *testing.T) {
	var gotQuery string
	var gotFiles []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotQuery = r.FormValue("query")
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			b, _ := io.ReadAll(f)
			f.Close()
			gotFiles = append(gotFiles, fmt.Sprintf("%s|%s|%s", fh.Filename, fh.Header.Get("Content-Type"), b))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"message":"ok"}`)
	}))
	defer srv.Close()

	client := services.NewOOGIV(srv.URL, srv.URL, 5*time.Second, slog.Default())
	files := []models.File{
		{Name: "bab \"1\".pdf", Type: "application/pdf", Data: []byte("isi pdf")},
		{Name: "catatan.txt", Data: []byte("isi teks")},
	}
	if _, err := client.Consult(context.Background(), "", files); err != nil {
		t.Fatalf("Consult() error = %v", err)
	}

	if gotQuery != "" {
		t.Errorf("query = %q, want empty", gotQuery)
	}
	want := []string{
		`bab "1".pdf|application/pdf|isi pdf`,
		"catatan.txt|application/octet-stream|isi teks",
	}
	if strings.Join(gotFiles, ",") != strings.Join(want, ",") {
		t.Errorf("files = %v, want %v", gotFiles, want)
	}
}

func TestOOGIVStatusError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{name: "Detail string", status: http.StatusUnprocessableEntity, body: `{"detail":"format salah"}`, wantDetail: "format salah"},
		{name: "Message", status: http.StatusInternalServerError, body: `{"message":"server sibuk"}`, wantDetail: "server sibuk"},
		{name: "Detail list", status: http.StatusUnprocessableEntity, body: `{"detail":[{"loc":["body","jumlah"]}]}`, wantDetail: `[{"loc":["body","jumlah"]}]`},
		{name: "Not JSON", status: http.StatusBadGateway, body: "bad gateway", wantDetail: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := services.NewOOGIV(srv.URL, srv.URL, 5*time.Second, slog.Default())
			_, err := client.Consult(context.Background(), "halo", nil)

			var se *services.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("Consult() error = %v, want StatusError", err)
			}
			if se.Code != tt.status || se.Detail != tt.wantDetail {
				t.Errorf("StatusError = %d %q, want %d %q", se.Code, se.Detail, tt.status, tt.wantDetail)
			}
		})
	}
}

func TestOOGIVGenerateQuestions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/buatsoal" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got := fmt.Sprintf("%s|%s|%s|%s|%d", r.FormValue("pelajaran"), r.FormValue("jumlah"),
			r.FormValue("tipe"), r.FormValue("level"), len(r.MultipartForm.File["files"]))
		if got != "Biologi|5|pg|medium|1" {
			http.Error(w, got, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"soal":[{"no soal":1,"pertanyaan":"Apa itu sel?"}]}`)
	}))
	defer srv.Close()

	client := services.NewOOGIV(srv.URL, srv.URL+"/", 5*time.Second, slog.Default())
	raw, err := client.GenerateQuestions(context.Background(), models.QuestionRequest{
		Subject: " Biologi ",
		Count:   5,
		Type:    models.QuestionMultipleChoice,
		Level:   "Medium",
		Files:   []models.File{{Name: "sel.txt", Type: "text/plain", Data: []byte("sel")}},
	})
	if err != nil {
		t.Fatalf("GenerateQuestions() error = %v", err)
	}
	if !json.Valid(raw) || !strings.Contains(string(raw), "Apa itu sel?") {
		t.Errorf("response = %s", raw)
	}
}

func TestOOGIVGrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/koreksi" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(r.MultipartForm.File["kunci_jawaban"]) != 1 || len(r.MultipartForm.File["jawaban_siswa"]) != 2 {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"oogiv_response":{"daftar_nilai":[]}}`)
	}))
	defer srv.Close()

	client := services.NewOOGIV(srv.URL, srv.URL, 5*time.Second, slog.Default())
	key := models.File{Name: "kunci.pdf", Type: "application/pdf", Data: []byte("kunci")}
	answers := []models.File{
		{Name: "andi.pdf", Type: "application/pdf", Data: []byte("a")},
		{Name: "budi.pdf", Type: "application/pdf", Data: []byte("b")},
	}
	raw, err := client.Grade(context.Background(), key, answers)
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if !strings.Contains(string(raw), "daftar_nilai") {
		t.Errorf("response = %s", raw)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html>bukan json</html>")
	}))
	defer bad.Close()
	client = services.NewOOGIV(bad.URL, bad.URL, 5*time.Second, slog.Default())
	if _, err := client.Grade(context.Background(), key, answers); err == nil {
		t.Error("Grade() should reject a non-JSON response")
	}
}

func TestOOGIVWithJar(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("sesi")
		if err != nil {
			seen = append(seen, "")
			http.SetCookie(w, &http.Cookie{Name: "sesi", Value: "abc", Path: "/"})
		} else {
			seen = append(seen, c.Value)
		}
		fmt.Fprint(w, `{"message":"ok"}`)
	}))
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	base := services.NewOOGIV(srv.URL, srv.URL, 5*time.Second, slog.Default())
	withJar := base.WithJar(jar)

	for i := 0; i < 2; i++ {
		if _, err := withJar.Consult(context.Background(), "halo", nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := base.Consult(context.Background(), "halo", nil); err != nil {
		t.Fatal(err)
	}

	if strings.Join(seen, ",") != ",abc," {
		t.Errorf("cookies seen = %q, the jar should only apply to its own client", seen)
	}
}

func TestOOGIVConsultCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "awal")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := services.NewOOGIV(srv.URL, srv.URL, 0, slog.Default())
	reply, err := client.Consult(ctx, "halo", nil)
	if err != nil {
		t.Fatalf("Consult() error = %v", err)
	}

	var got string
	for chunk, err := range reply.Chunks {
		if err != nil {
			break
		}
		got += chunk
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %q is not valid UTF-8", chunk)
		}
		cancel()
	}
	if got != "awal" {
		t.Errorf("received %q before cancellation", got)
	}
}
