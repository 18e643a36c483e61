package handlers

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/oogiv/oogiv-web/internal/models"
	"github.com/tmaxmax/go-sse"
)

// SSE event types for real-time updates.
var (
	readyEventType    = sse.Type("ready")
	messageEventType  = sse.Type("message")
	messagesEventType = sse.Type("messages")
	noticeEventType   = sse.Type("notice")
	closeEventType    = sse.Type("close")
)

// message is a conversation entry as sent to the browser, with its content rendered as HTML.
type message struct {
	models.Message
	HTML template.HTML `json:"html"`
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// sseEvents publishes the changes of one session to the browsers subscribed to it.
type sseEvents struct {
	srv   *sse.Server
	topic string

	logger *slog.Logger
}

func newSSEEvents(srv *sse.Server, sessionID string, logger *slog.Logger) sseEvents {
	return sseEvents{srv: srv, topic: sessionTopic(sessionID), logger: logger}
}

func (e sseEvents) MessageUpdated(msg models.Message) {
	e.publish(messageEventType, newMessage(msg, e.logger))
}

func (e sseEvents) MessagesReset(msgs []models.Message) {
	e.publish(messagesEventType, newMessages(msgs, e.logger))
}

func (e sseEvents) Notify(n models.Notice) {
	e.publish(noticeEventType, n)
}

func (e sseEvents) publish(typ sse.EventType, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("Failed to marshal event", slog.String("type", typ.String()), slog.String(errLoggerKey, err.Error()))
		return
	}
	msg := &sse.Message{Type: typ}
	msg.AppendData(string(b))
	if err := e.srv.Publish(msg, e.topic); err != nil {
		e.logger.Error("Failed to publish event", slog.String("type", typ.String()), slog.String(errLoggerKey, err.Error()))
	}
}

// HandleSSE streams the events of the caller's session. A ready event is sent first so that
// clients know when the stream is established.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		m.logger.Error("Failed to upgrade event stream", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Server-sent events unsupported", http.StatusInternalServerError)
		return
	}

	id := sessionFromContext(r.Context())
	ready := &sse.Message{Type: readyEventType}
	ready.AppendData("ok")
	if err := sess.Send(ready); err == nil {
		err = sess.Flush()
	}
	if err != nil {
		m.logger.Warn("Failed to start event stream", slog.String(errLoggerKey, err.Error()))
		return
	}

	sub := sse.Subscription{
		Client:      sess,
		LastEventID: sess.LastEventID,
		Topics:      []string{sse.DefaultTopic, sessionTopic(id)},
	}
	if err := m.sseSrv.Provider.Subscribe(r.Context(), sub); err != nil {
		m.logger.Warn("Event stream ended", slog.String("session", id), slog.String(errLoggerKey, err.Error()))
	}
}

func newMessage(msg models.Message, logger *slog.Logger) message {
	html, err := renderMarkdown(msg.Content)
	if err != nil {
		logger.Error("Failed to render message", slog.Int64("id", msg.ID), slog.String(errLoggerKey, err.Error()))
		html = template.HTML(template.HTMLEscapeString(msg.Content))
	}
	return message{Message: msg, HTML: html}
}

func newMessages(msgs []models.Message, logger *slog.Logger) []message {
	out := make([]message, len(msgs))
	for i, msg := range msgs {
		out[i] = newMessage(msg, logger)
	}
	return out
}

func renderMarkdown(content string) (template.HTML, error) {
	return models.RenderMarkdown(content)
}
