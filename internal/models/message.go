package models

import (
	"strconv"
	"time"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser            SenderType = "user"
	SenderCustomerService SenderType = "customer_service"
	SenderSystem          SenderType = "system"
)

// MessageType is the closed set of message payload kinds.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageTaskCard MessageType = "task_card"
	MessageImage    MessageType = "image"
	MessageFile     MessageType = "file"
)

// Message is one entry in a session timeline. Server messages carry a stable
// integer ID; push payloads without one get a synthesized LocalKey used only
// for de-duplication and never sent back to the server.
type Message struct {
	ID          int64       `json:"id,omitempty"`
	LocalKey    string      `json:"-"`
	ChatID      string      `json:"chat_id"`
	SenderID    string      `json:"sender_id"`
	ReceiverID  string      `json:"receiver_id"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"created_at"`
	SenderType  SenderType  `json:"sender_type"`
	MessageType MessageType `json:"message_type"`
	TaskID      int64       `json:"task_id,omitempty"`
	Pending     bool        `json:"-"`
}

// Key returns the de-duplication key for the message: the server id when
// present, the synthesized local key otherwise.
func (m Message) Key() string {
	if m.ID != 0 {
		return "srv:" + strconv.FormatInt(m.ID, 10)
	}
	return m.LocalKey
}
