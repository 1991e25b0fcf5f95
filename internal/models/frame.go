package models

import "time"

// Frame type values pushed by the gateway. Chat messages arrive with an
// empty type and a populated chat_id.
const (
	FrameHeartbeat     = "heartbeat"
	FrameUserConnected = "user_connected"
)

// UserInfo accompanies a user_connected frame.
type UserInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Frame is a raw inbound websocket payload from the chat gateway.
type Frame struct {
	Type        string      `json:"type,omitempty"`
	ChatID      string      `json:"chat_id,omitempty"`
	From        string      `json:"from,omitempty"`
	ReceiverID  string      `json:"receiver_id,omitempty"`
	Content     string      `json:"content,omitempty"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
	MessageType MessageType `json:"message_type,omitempty"`
	TaskID      int64       `json:"task_id,omitempty"`
	UserInfo    *UserInfo   `json:"user_info,omitempty"`
}

// IsChatMessage reports whether the frame carries a chat message rather than
// a control event.
func (f Frame) IsChatMessage() bool {
	return f.Type == "" && f.ChatID != ""
}

// SendFrame is the outbound send payload.
type SendFrame struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	ChatID     string `json:"chat_id"`
}
