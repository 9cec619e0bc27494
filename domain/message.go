// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable and validated by the domain.
package domain

import (
	"strings"
	"time"
)

// Message represents an immutable chat event.
// Timestamp is assigned by the store when the message is appended.
type Message struct {
	ID         string
	Text       string
	SenderID   string
	SenderName string
	Timestamp  time.Time
}

// IsFrom reports whether uid sent the message.
func (m Message) IsFrom(uid string) bool {
	return m.SenderID == uid
}

// SendMessageCommand carries a message about to be appended to a room.
type SendMessageCommand struct {
	Room       RoomID `validate:"required,excludes=/"`
	Text       string `validate:"required"`
	SenderID   string `validate:"required"`
	SenderName string
}

// Validate rejects blank text and missing identifiers.
func (c SendMessageCommand) Validate() error {
	trimmed := c
	trimmed.Text = strings.TrimSpace(c.Text)
	return validateStruct(trimmed)
}
