package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/oogiv/oogiv-web/internal/services"
)

func TestOpenAIConsult(t *testing.T) {
	var gotReq struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Temperature float32 `json:"temperature"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Sel ", "adalah ", "unit kehidupan."} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	temp := float32(0.2)
	o := services.NewOpenAI("kunci", srv.URL+"/v1", "gpt-4o-mini", "Kamu adalah OOGIV.",
		services.LLMParameters{Temperature: &temp}, slog.Default())

	files := []models.File{
		{Name: "sel.txt", Type: "text/plain", Data: []byte("Sel adalah unit terkecil makhluk hidup.")},
		{Name: "bab2.pdf", Type: "application/pdf", Data: []byte("%PDF")},
	}
	reply, err := o.Consult(context.Background(), "Apa itu sel?", files)
	if err != nil {
		t.Fatalf("Consult() error = %v", err)
	}
	if !reply.Streamed() {
		t.Fatal("reply should be streamed")
	}
	text, err := reply.Collect()
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "Sel adalah unit kehidupan." {
		t.Errorf("text = %q", text)
	}

	if gotReq.Model != "gpt-4o-mini" || !gotReq.Stream || gotReq.Temperature != temp {
		t.Errorf("request = %+v", gotReq)
	}
	if len(gotReq.Messages) != 3 {
		t.Fatalf("got %d messages, want system, material and query", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[0].Content != "Kamu adalah OOGIV." {
		t.Errorf("system message = %+v", gotReq.Messages[0])
	}
	material := gotReq.Messages[1].Content
	if !strings.Contains(material, "Sel adalah unit terkecil") || !strings.Contains(material, "bab2.pdf") {
		t.Errorf("material message = %q", material)
	}
	if strings.Contains(material, "%PDF") {
		t.Error("binary documents should not be inlined")
	}
	if gotReq.Messages[2].Content != "Apa itu sel?" {
		t.Errorf("query message = %+v", gotReq.Messages[2])
	}
}

func TestOpenAIConsultFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	o := services.NewOpenAI("salah", srv.URL+"/v1", "gpt-4o-mini", "", services.LLMParameters{}, slog.Default())
	if _, err := o.Consult(context.Background(), "", nil); err == nil {
		t.Error("Consult() should return error")
	}
}
