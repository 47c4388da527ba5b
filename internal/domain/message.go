package domain

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// SystemUserID is the sentinel sender for synthetic join/leave notices.
const SystemUserID = "system"

// MaxContentLength is the hard wire-level limit on a single message.
// Content longer than this closes the connection instead of being truncated.
const MaxContentLength = 2000

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content exceeds limit")
)

// ChatMessage is one entry of the room's message history. The sender's
// display name and avatar are captured at send time, not looked up live.
type ChatMessage struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	UserName  string      `json:"userName"`
	UserImage string      `json:"userImage,omitempty"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
	Type      MessageType `json:"type"`
}

// NewChatMessage builds a user-authored message. The timestamp is assigned
// by the room at receipt time and is the ordering key.
func NewChatMessage(identity Identity, content string, timestamp int64) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.New().String(),
		UserID:    identity.UserID,
		UserName:  identity.UserName,
		UserImage: identity.UserImage,
		Content:   content,
		Timestamp: timestamp,
		Type:      MessageTypeText,
	}
}

// NewSystemMessage builds a synthetic join/leave notice.
func NewSystemMessage(content string, timestamp int64) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.New().String(),
		UserID:    SystemUserID,
		UserName:  "System",
		Content:   content,
		Timestamp: timestamp,
		Type:      MessageTypeSystem,
	}
}

// ValidateContent trims the raw content and checks the length bounds.
// Empty content after trimming and oversized content are both rejected;
// oversized content is never truncated.
func ValidateContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}
