package models

import "time"

// Message represents an individual entry of a consultation conversation. IDs increase monotonically
// within a session, and the Streaming flag is set while an assistant message is still being filled
// from the remote service.
type Message struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Streaming bool      `json:"streaming,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the assistant, including greetings,
	// acknowledgments and failure texts.
	RoleAssistant Role = "assistant"
)

// NoticeLevel is the severity of a Notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a short user-visible notification, displayed by the browser as a toast.
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}
