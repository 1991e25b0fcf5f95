package models

import "time"

// Session represents one operator-user support conversation.
type Session struct {
	ChatID      string     `json:"chat_id"`
	UserID      string     `json:"user_id"`
	UserName    string     `json:"user_name"`
	UserAvatar  string     `json:"user_avatar"`
	CreatedAt   time.Time  `json:"created_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	IsEnded     bool       `json:"is_ended"`
	UnreadCount int        `json:"unread_count"`
}

// TimeoutStatus is the backend's advisory idle state for a session. It is
// recomputed server-side on every fetch and never cached beyond one poll.
type TimeoutStatus struct {
	IsEnded              bool  `json:"is_ended"`
	IsTimeoutAvailable   bool  `json:"is_timeout_available"`
	TimeSinceLastMessage int64 `json:"time_since_last_message"`
}

// ConnectionState describes the lifecycle of a gateway websocket.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateError        ConnectionState = "error"
)
