package models

// EventType enumerates console events emitted toward the UI layer.
type EventType string

const (
	EventConnectionState   EventType = "connection_state"
	EventSessionsRefreshed EventType = "sessions_refreshed"
	EventTimelineAppend    EventType = "timeline_append"
	EventTimelineReset     EventType = "timeline_reset"
	EventUnreadChanged     EventType = "unread_changed"
	EventBannerShown       EventType = "banner_shown"
	EventBannerCleared     EventType = "banner_cleared"
	EventTimeoutState      EventType = "timeout_state"
	EventSessionEnded      EventType = "session_ended"
	EventSendFailed        EventType = "send_failed"
)

// Event is emitted by the console core for the rendering layer. Only the
// fields relevant to the event type are populated.
type Event struct {
	Type    EventType       `json:"type"`
	ChatID  string          `json:"chat_id,omitempty"`
	State   ConnectionState `json:"state,omitempty"`
	Message *Message        `json:"message,omitempty"`
	Unread  int             `json:"unread,omitempty"`
	Banner  string          `json:"banner,omitempty"`
	Timeout *TimeoutStatus  `json:"timeout,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}
