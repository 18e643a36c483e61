package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oogiv/oogiv-web/internal/models"
)

const errLoggerKey = "err"

// Storage is the key-value store backing a single browser session. Implementations are already
// scoped to the session, so keys are the bare names listed in KnownKeys.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Consultant sends a query, optionally with attached files, to the consultation service.
type Consultant interface {
	Consult(ctx context.Context, query string, files []models.File) (models.Reply, error)
}

// Events receives the changes the browser has to render.
type Events interface {
	// MessageUpdated is called when a message is appended or its content changes.
	MessageUpdated(msg models.Message)
	// MessagesReset is called when the list changes in a way that is not a single message update.
	MessagesReset(msgs []models.Message)
	// Notify is called for short user-visible notifications.
	Notify(n models.Notice)
}

// Options configures a Manager.
type Options struct {
	Storage    Storage
	Consultant Consultant
	// Events is optional.
	Events Events
	Logger *slog.Logger
	// TypingDelay paces the word-by-word reveal of non-streamed answers. Zero reveals the answer
	// at once.
	TypingDelay time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Outcome reports how a material submission or a query ended. Cancelled is set when the operation
// was aborted, which is not an error.
type Outcome struct {
	Success   bool   `json:"success"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Reason    Reason `json:"reason,omitempty"`
}

// Snapshot is a copy of the observable state of a session.
type Snapshot struct {
	Messages   []models.Message  `json:"messages"`
	Processed  bool              `json:"processed"`
	Source     models.Source     `json:"source"`
	Files      []models.FileMeta `json:"files,omitempty"`
	YouTubeURL string            `json:"youtubeUrl,omitempty"`
	State      State             `json:"state"`
}

// Manager owns the consultation state of one browser session: the message list, the processed
// material and the session lock. All methods are safe for concurrent use.
type Manager struct {
	storage     Storage
	consultant  Consultant
	events      Events
	logger      *slog.Logger
	typingDelay time.Duration
	now         func() time.Time

	mu         sync.Mutex
	messages   []models.Message
	nextID     int64
	processed  bool
	source     models.Source
	files      []models.File
	metadata   []models.FileMeta
	youtubeURL string

	state    State
	active   string
	requests map[string]context.CancelFunc
	closed   bool
}

// New creates a Manager and restores the session state from storage. Values that cannot be decoded
// are logged and replaced by their defaults.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Storage == nil {
		return nil, errors.New("session storage is required")
	}
	if opts.Consultant == nil {
		return nil, errors.New("session consultant is required")
	}
	if opts.Events == nil {
		opts.Events = nopEvents{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		storage:     opts.Storage,
		consultant:  opts.Consultant,
		events:      opts.Events,
		logger:      opts.Logger.With(slog.String("module", "session")),
		typingDelay: opts.TypingDelay,
		now:         opts.Now,
		source:      models.SourceUpload,
		requests:    make(map[string]context.CancelFunc),
	}
	if err := m.restore(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) restore(ctx context.Context) error {
	values := make(map[string]string, len(KnownKeys))
	for _, key := range KnownKeys {
		v, ok, err := m.storage.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to restore %s: %w", key, err)
		}
		if ok {
			values[key] = v
		}
	}

	if raw, ok := values[KeyMessages]; ok {
		if err := json.Unmarshal([]byte(raw), &m.messages); err != nil {
			m.logger.Warn("Discarding unreadable messages", slog.String(errLoggerKey, err.Error()))
			m.messages = nil
		}
	}
	if len(m.messages) == 0 {
		m.messages = []models.Message{m.greeting()}
	}
	for i := range m.messages {
		// A streaming flag cannot survive a restart: nothing fills the message anymore.
		m.messages[i].Streaming = false
		m.nextID = max(m.nextID, m.messages[i].ID)
	}
	m.nextID++

	m.processed = values[KeyMaterialsProcessed] == "true"
	if src := models.Source(values[KeyMaterialSource]); src.Valid() {
		m.source = src
	}
	m.youtubeURL = values[KeyYouTubeURL]

	if raw, ok := values[KeyFilesMetadata]; ok {
		if err := json.Unmarshal([]byte(raw), &m.metadata); err != nil {
			m.logger.Warn("Discarding unreadable file metadata", slog.String(errLoggerKey, err.Error()))
			m.metadata = nil
		}
	}
	if raw, ok := values[KeyFilesData]; ok {
		files, err := DecodeFiles(raw)
		if err != nil {
			m.logger.Warn("Discarding unreadable file data", slog.String(errLoggerKey, err.Error()))
		}
		m.files = files
	}
	return nil
}

func (m *Manager) greeting() models.Message {
	return models.Message{
		ID:        1,
		Role:      models.RoleAssistant,
		Content:   greetingText,
		Timestamp: m.now(),
	}
}

// SubmitMaterial sends material to the consultation service so that later queries are answered
// about it. On success the greeting is replaced by an acknowledgment; on failure every trace of
// the material is removed.
func (m *Manager) SubmitMaterial(ctx context.Context, mat models.Material) (Outcome, error) {
	if notice, ok := checkMaterial(mat); !ok {
		m.events.Notify(models.Notice{Level: models.NoticeWarning, Text: notice})
		return Outcome{}, ErrInvalidMaterial
	}

	ctx, task, err := m.acquire(ctx, SubmittingMaterial)
	if err != nil {
		return Outcome{}, err
	}
	defer m.release(task)
	pctx := context.WithoutCancel(ctx)

	m.mu.Lock()
	err = m.recordMaterial(pctx, mat)
	m.mu.Unlock()

	var text string
	if err == nil {
		var reply models.Reply
		if mat.Source == models.SourceUpload {
			reply, err = m.consultant.Consult(ctx, "", mat.Files)
		} else {
			reply, err = m.consultant.Consult(ctx, strings.TrimSpace(mat.URL), nil)
		}
		if err == nil {
			text, err = reply.Collect()
		}
	}

	m.mu.Lock()
	// A reply arriving after CancelAll or Clear belongs to a session that has moved on.
	if (err != nil && cancelled(ctx, err)) || m.superseded(ctx, task) {
		if m.active == task {
			m.forgetMaterial(pctx)
		}
		m.mu.Unlock()
		m.logger.Info("Material submission cancelled", slog.String("source", string(mat.Source)))
		return Outcome{Cancelled: true}, nil
	}

	if err != nil {
		m.forgetMaterial(pctx)
		m.appendMessage(pctx, models.RoleAssistant, materialFailureText, false)
		m.mu.Unlock()
		m.logger.Error("Material submission failed",
			slog.String("source", string(mat.Source)),
			slog.String(errLoggerKey, err.Error()))
		m.events.Notify(models.Notice{Level: models.NoticeError, Text: noticeMaterialFailed})
		return Outcome{}, fmt.Errorf("failed to submit material: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		text = materialAckText
	}
	m.processed = true
	m.persist(pctx, KeyMaterialsProcessed, "true")
	m.messages = slices.DeleteFunc(m.messages, isGreeting)
	m.messages = append(m.messages, models.Message{
		ID:        m.allocID(),
		Role:      models.RoleAssistant,
		Content:   text,
		Timestamp: m.now(),
	})
	m.persistMessages(pctx)
	m.events.MessagesReset(slices.Clone(m.messages))
	m.mu.Unlock()

	m.events.Notify(models.Notice{Level: models.NoticeSuccess, Text: noticeMaterialProcessed})
	return Outcome{Success: true}, nil
}

// checkMaterial reports whether exactly the source named by mat is populated. When it is not, the
// notice to show is returned.
func checkMaterial(mat models.Material) (string, bool) {
	hasURL := strings.TrimSpace(mat.URL) != ""
	switch mat.Source {
	case models.SourceUpload:
		if hasURL {
			return noticeMixedMaterial, false
		}
		if len(mat.Files) == 0 {
			return noticeNoFiles, false
		}
	case models.SourceYouTube:
		if len(mat.Files) > 0 {
			return noticeMixedMaterial, false
		}
		if !hasURL {
			return noticeNoURL, false
		}
	default:
		return noticeMixedMaterial, false
	}
	return "", true
}

// recordMaterial stores the submitted material as not yet processed and invalidates the other
// source. The caller must hold m.mu.
func (m *Manager) recordMaterial(ctx context.Context, mat models.Material) error {
	m.processed = false
	m.persist(ctx, KeyMaterialsProcessed, "false")
	m.source = mat.Source
	m.persist(ctx, KeyMaterialSource, string(mat.Source))

	if mat.Source == models.SourceYouTube {
		m.files, m.metadata = nil, nil
		m.youtubeURL = strings.TrimSpace(mat.URL)
		m.drop(ctx, KeyFilesData, KeyFilesMetadata)
		m.persist(ctx, KeyYouTubeURL, m.youtubeURL)
		return nil
	}

	m.files = slices.Clone(mat.Files)
	m.metadata = make([]models.FileMeta, len(mat.Files))
	for i, f := range mat.Files {
		m.metadata[i] = f.Meta()
	}
	m.youtubeURL = ""
	m.drop(ctx, KeyYouTubeURL)

	encoded, err := EncodeFiles(m.files)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(m.metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal file metadata: %w", err)
	}
	m.persist(ctx, KeyFilesData, encoded)
	m.persist(ctx, KeyFilesMetadata, string(meta))
	return nil
}

// forgetMaterial drops the material from memory and storage. The caller must hold m.mu.
func (m *Manager) forgetMaterial(ctx context.Context) {
	m.processed = false
	m.files, m.metadata = nil, nil
	m.youtubeURL = ""
	m.drop(ctx, materialKeys...)
}

// forgetInvalid resets only the part of the material that reason found inconsistent. Material
// that was never processed is left alone. The caller must hold m.mu.
func (m *Manager) forgetInvalid(ctx context.Context, reason Reason) {
	switch reason {
	case ReasonMetadataMissing, ReasonFilesMissing, ReasonMetadataMismatch:
		m.processed = false
		m.files, m.metadata = nil, nil
		m.drop(ctx, KeyMaterialsProcessed, KeyFilesData, KeyFilesMetadata)
	case ReasonURLMissing:
		m.processed = false
		m.youtubeURL = ""
		m.drop(ctx, KeyMaterialsProcessed, KeyYouTubeURL)
	}
}

// superseded reports whether task no longer owns the session, because it was cancelled or the lock
// moved on. Work finishing after that must not change the session. The caller must hold m.mu.
func (m *Manager) superseded(ctx context.Context, task string) bool {
	return m.active != task || errors.Is(ctx.Err(), context.Canceled)
}

// SendQuery asks a question about the processed material. The answer is written into an assistant
// placeholder which is updated as the reply arrives.
func (m *Manager) SendQuery(ctx context.Context, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{}, ErrEmptyQuery
	}

	ctx, task, err := m.acquire(ctx, AwaitingAnswer)
	if err != nil {
		return Outcome{}, err
	}
	defer m.release(task)
	return m.ask(ctx, task, text)
}

// ask runs a query for task, which must hold the session lock.
func (m *Manager) ask(ctx context.Context, task, text string) (Outcome, error) {
	pctx := context.WithoutCancel(ctx)

	m.mu.Lock()
	if merr := m.validateMaterial(); merr != nil {
		m.forgetInvalid(pctx, merr.Reason)
		m.mu.Unlock()
		m.logger.Warn("Rejecting query", slog.String("reason", string(merr.Reason)))
		m.events.Notify(models.Notice{Level: models.NoticeWarning, Text: merr.Reason.Notice()})
		return Outcome{Reason: merr.Reason}, merr
	}
	var files []models.File
	if m.source == models.SourceUpload {
		files = slices.Clone(m.files)
	}
	m.appendMessage(pctx, models.RoleUser, text, false)
	placeholder := m.appendMessage(pctx, models.RoleAssistant, "", true)
	m.mu.Unlock()

	reply, err := m.consultant.Consult(ctx, text, files)
	if err == nil {
		if reply.Streamed() {
			err = m.stream(ctx, pctx, placeholder, reply)
		} else {
			err = m.reveal(ctx, pctx, placeholder, reply.Text)
		}
	}

	if err != nil {
		m.mu.Lock()
		if cancelled(ctx, err) || m.superseded(ctx, task) {
			m.settle(pctx, placeholder)
			m.mu.Unlock()
			m.logger.Info("Query cancelled")
			return Outcome{Cancelled: true}, nil
		}
		m.setContent(pctx, placeholder, queryFailureText, false)
		m.mu.Unlock()
		m.logger.Error("Query failed", slog.String(errLoggerKey, err.Error()))
		return Outcome{}, fmt.Errorf("failed to send query: %w", err)
	}
	return Outcome{Success: true}, nil
}

// stream copies a streamed reply into the placeholder, chunk by chunk. ctx stops the copy, pctx is
// used for persistence.
func (m *Manager) stream(ctx, pctx context.Context, id int64, reply models.Reply) error {
	var sb strings.Builder
	for chunk, err := range reply.Chunks {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunk == "" {
			continue
		}
		sb.WriteString(chunk)
		if err := m.write(ctx, pctx, id, sb.String(), true); err != nil {
			return err
		}
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		text = emptyReplyText
	}
	return m.write(ctx, pctx, id, text, false)
}

// reveal writes a complete answer into the placeholder one word at a time. ctx paces the reveal,
// pctx is used for persistence.
func (m *Manager) reveal(ctx, pctx context.Context, id int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		text = emptyReplyText
	}

	if m.typingDelay > 0 {
		words := strings.Split(text, " ")
		timer := time.NewTimer(m.typingDelay)
		defer timer.Stop()
		for i := 1; i < len(words); i++ {
			if err := m.write(ctx, pctx, id, strings.Join(words[:i], " "), true); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				timer.Reset(m.typingDelay)
			}
		}
	}
	return m.write(ctx, pctx, id, text, false)
}

// write updates message id unless ctx ended first. Cancellation happens under m.mu, so nothing is
// written once CancelAll or Clear has returned.
func (m *Manager) write(ctx, pctx context.Context, id int64, content string, streaming bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	m.setContent(pctx, id, content, streaming)
	return nil
}

// Resend replaces the user message id with text and asks again. The edited message is removed
// before the new query is sent, so it reappears at the end of the conversation. The session lock
// is held from the removal to the end of the answer.
func (m *Manager) Resend(ctx context.Context, id int64, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{}, ErrEmptyQuery
	}

	ctx, task, err := m.acquire(ctx, AwaitingAnswer)
	if err != nil {
		return Outcome{}, err
	}
	defer m.release(task)

	m.mu.Lock()
	i := slices.IndexFunc(m.messages, func(msg models.Message) bool {
		return msg.ID == id && msg.Role == models.RoleUser
	})
	if i < 0 {
		m.mu.Unlock()
		return Outcome{}, ErrMessageNotFound
	}
	m.messages = slices.Delete(m.messages, i, i+1)
	m.persistMessages(context.WithoutCancel(ctx))
	m.events.MessagesReset(slices.Clone(m.messages))
	m.mu.Unlock()

	return m.ask(ctx, task, text)
}

// SetSource records which kind of material the user is about to provide. Queries are validated
// against the recorded source, so switching away from processed material invalidates it.
func (m *Manager) SetSource(ctx context.Context, src models.Source) error {
	if !src.Valid() {
		return ErrInvalidMaterial
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state != Idle {
		return ErrBusy
	}
	if m.source == src {
		return nil
	}
	m.source = src
	m.persist(ctx, KeyMaterialSource, string(src))
	return nil
}

// CancelAll aborts every outstanding request and releases the session lock. Operations that were
// cancelled finish without reporting an error.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelAll()
}

func (m *Manager) cancelAll() {
	if len(m.requests) > 0 {
		m.logger.Info("Cancelling outstanding requests", slog.Int("count", len(m.requests)))
	}
	for task, cancel := range m.requests {
		cancel()
		delete(m.requests, task)
	}
	if m.state == SubmittingMaterial {
		m.forgetMaterial(context.Background())
	}
	m.state = Idle
	m.active = ""
}

// Clear cancels outstanding requests, forgets the material and resets the conversation to the
// greeting.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cancelAll()

	m.messages = []models.Message{m.greeting()}
	m.nextID = 2
	m.processed = false
	m.source = models.SourceUpload
	m.files, m.metadata = nil, nil
	m.youtubeURL = ""
	m.events.MessagesReset(slices.Clone(m.messages))

	if err := m.storage.Delete(ctx, KnownKeys...); err != nil {
		return fmt.Errorf("failed to clear session storage: %w", err)
	}
	return nil
}

// Close cancels outstanding requests. Operations started afterwards fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for task, cancel := range m.requests {
		cancel()
		delete(m.requests, task)
	}
	m.state = Idle
	m.active = ""
}

// Messages returns a copy of the conversation.
func (m *Manager) Messages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages)
}

// Processed reports whether the current material was accepted by the consultation service.
func (m *Manager) Processed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed
}

func (m *Manager) Source() models.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns the number of outstanding requests.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Snapshot returns a copy of the observable session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Messages:   slices.Clone(m.messages),
		Processed:  m.processed,
		Source:     m.source,
		Files:      slices.Clone(m.metadata),
		YouTubeURL: m.youtubeURL,
		State:      m.state,
	}
}

// acquire takes the session lock for st and registers a cancellable request. The returned task
// identifies the holder: only the holder may release the lock.
func (m *Manager) acquire(ctx context.Context, st State) (context.Context, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ctx, "", ErrClosed
	}
	if m.state != Idle {
		m.events.Notify(models.Notice{Level: models.NoticeInfo, Text: noticeBusy})
		return ctx, "", ErrBusy
	}

	task := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	m.state = st
	m.active = task
	m.requests[task] = cancel
	return ctx, task, nil
}

// release deregisters the request of task and, when task still holds the lock, releases it.
func (m *Manager) release(task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.requests[task]; ok {
		cancel()
		delete(m.requests, task)
	}
	if m.active == task {
		m.state = Idle
		m.active = ""
	}
}

// appendMessage adds a message, persists the list and emits the message. The caller must hold m.mu.
func (m *Manager) appendMessage(ctx context.Context, role models.Role, content string, streaming bool) int64 {
	msg := models.Message{
		ID:        m.allocID(),
		Role:      role,
		Content:   content,
		Streaming: streaming,
		Timestamp: m.now(),
	}
	m.messages = append(m.messages, msg)
	m.persistMessages(ctx)
	m.events.MessageUpdated(msg)
	return msg.ID
}

// setContent updates message id. Messages removed in the meantime, by Clear for instance, are
// ignored. The caller must hold m.mu.
func (m *Manager) setContent(ctx context.Context, id int64, content string, streaming bool) {
	i := slices.IndexFunc(m.messages, func(msg models.Message) bool { return msg.ID == id })
	if i < 0 {
		return
	}
	m.messages[i].Content = content
	m.messages[i].Streaming = streaming
	m.persistMessages(ctx)
	m.events.MessageUpdated(m.messages[i])
}

// settle clears the streaming flag of message id and keeps whatever content it received. The
// caller must hold m.mu.
func (m *Manager) settle(ctx context.Context, id int64) {
	i := slices.IndexFunc(m.messages, func(msg models.Message) bool { return msg.ID == id })
	if i < 0 || !m.messages[i].Streaming {
		return
	}
	m.setContent(ctx, id, m.messages[i].Content, false)
}

func (m *Manager) allocID() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *Manager) persistMessages(ctx context.Context) {
	b, err := json.Marshal(m.messages)
	if err != nil {
		m.logger.Error("Failed to marshal messages", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.persist(ctx, KeyMessages, string(b))
}

func (m *Manager) persist(ctx context.Context, key, value string) {
	if err := m.storage.Set(ctx, key, value); err != nil {
		m.logger.Error("Failed to persist session state",
			slog.String("key", key),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m *Manager) drop(ctx context.Context, keys ...string) {
	if err := m.storage.Delete(ctx, keys...); err != nil {
		m.logger.Error("Failed to delete session state",
			slog.String("keys", strings.Join(keys, ",")),
			slog.String(errLoggerKey, err.Error()))
	}
}

func isGreeting(msg models.Message) bool {
	return msg.ID == 1 && msg.Role == models.RoleAssistant && msg.Content == greetingText
}

// cancelled reports whether err is the result of an explicit cancellation rather than a failure.
// Deadlines count as failures.
func cancelled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

type nopEvents struct{}

func (nopEvents) MessageUpdated(models.Message) {}
func (nopEvents) MessagesReset([]models.Message) {}
func (nopEvents) Notify(models.Notice) {}
