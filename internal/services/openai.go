package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/oogiv/oogiv-web/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI answers consultation queries with an OpenAI chat model instead of the OOGIV API. Plain
// text materials are placed in the conversation; other documents are only named.
type OpenAI struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// LLMParameters holds the optional sampling parameters of a chat completion.
type LLMParameters struct {
	Temperature      *float32 `yaml:"temperature"`
	TopP             *float32 `yaml:"topP"`
	MaxTokens        *int     `yaml:"maxTokens"`
	Stop             []string `yaml:"stop"`
	PresencePenalty  *float32 `yaml:"presencePenalty"`
	FrequencyPenalty *float32 `yaml:"frequencyPenalty"`
	Seed             *int     `yaml:"seed"`
}

const materialAckPrompt = "Ringkas materi di atas dalam beberapa kalimat dan sampaikan bahwa materi siap untuk sesi tanya jawab."

// NewOpenAI creates a new OpenAI instance. An empty baseURL uses the default OpenAI endpoint.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, params LLMParameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

// Consult streams the answer of the model to query, grounded on files. An empty query asks the
// model to acknowledge the material.
func (o OpenAI) Consult(ctx context.Context, query string, files []models.File) (models.Reply, error) {
	req := o.chatRequest(o.messages(query, files), true)

	o.logger.Debug("Request",
		slog.String("model", req.Model),
		slog.Int("messages", len(req.Messages)),
	)

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return models.Reply{}, fmt.Errorf("error sending request: %w", err)
	}

	return models.Reply{Chunks: o.chunks(stream)}, nil
}

func (o OpenAI) chunks(stream *goopenai.ChatCompletionStream) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			if content := response.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}
	}
}

func (o OpenAI) messages(query string, files []models.File) []goopenai.ChatCompletionMessage {
	msgs := []goopenai.ChatCompletionMessage{
		{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: o.systemPrompt,
		},
	}

	if len(files) > 0 {
		var sb strings.Builder
		sb.WriteString("Materi:\n")
		for _, f := range files {
			fmt.Fprintf(&sb, "\n### %s\n", f.Name)
			if strings.HasPrefix(f.Type, "text/") {
				sb.Write(f.Data)
				sb.WriteString("\n")
				continue
			}
			fmt.Fprintf(&sb, "(dokumen %s, %d byte, isi tidak tersedia sebagai teks)\n", f.Type, f.Size())
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: sb.String(),
		})
	}

	if strings.TrimSpace(query) == "" {
		query = materialAckPrompt
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: query,
	})
}

func (o OpenAI) chatRequest(messages []goopenai.ChatCompletionMessage, stream bool) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   stream,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		req.PresencePenalty = *o.params.PresencePenalty
	}
	if o.params.FrequencyPenalty != nil {
		req.FrequencyPenalty = *o.params.FrequencyPenalty
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}

	return req
}
