package events

import "github.com/google/uuid"

// Topics.
const (
	TopicAutomationEvents = "automation.events"
	TopicCodePoolEvents   = "codepool.events"
)

// Event types.
const (
	CommentMatched   = "automation.comment.matched"
	CodeAssigned     = "codepool.code.assigned"
	FallbackSelected = "codepool.fallback.selected"
)

// Source identifies this service on published events.
const Source = "service-codepool"

// CommentMatchedEvent is emitted by the automation pipeline when a comment
// matches a rule whose action hands out a discount code.
type CommentMatchedEvent struct {
	AutomationID      uuid.UUID `json:"automation_id"`
	PoolID            uuid.UUID `json:"pool_id"`
	CommentID         string    `json:"comment_id"`
	CommenterID       string    `json:"commenter_id"`
	CommenterUsername string    `json:"commenter_username"`
	FirstNCutoff      *int      `json:"first_n_cutoff,omitempty"`
	ReplyTemplate     string    `json:"reply_template"`
	FallbackMessage   string    `json:"fallback_message"`
}

// ReplyReadyEvent tells the messaging side what to send back to the commenter.
type ReplyReadyEvent struct {
	AutomationID uuid.UUID `json:"automation_id"`
	PoolID       uuid.UUID `json:"pool_id"`
	CommentID    string    `json:"comment_id"`
	CommenterID  string    `json:"commenter_id"`
	Code         *string   `json:"code,omitempty"`
	Fallback     bool      `json:"fallback"`
	Reused       bool      `json:"reused"`
	ReplyText    string    `json:"reply_text"`
}
