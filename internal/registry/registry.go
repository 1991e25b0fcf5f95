package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"support-console/internal/models"
	"support-console/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

// Registry tracks every conversation known to the console and is the single
// writer of unread counters and ended state. Sessions are never deleted
// client-side; only the backend's bulk cleanup removes them.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	active   string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*models.Session)}
}

// Merge upserts a REST list refresh. Identity and lifecycle fields follow
// the server; unread counters stay locally owned for sessions the console
// already tracks, since increments and mark-read races would otherwise
// double-count between refreshes.
func (r *Registry) Merge(list []models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range list {
		existing, known := r.sessions[s.ChatID]
		if !known {
			session := s
			if session.ChatID == r.active {
				session.UnreadCount = 0
			}
			r.sessions[s.ChatID] = &session
			continue
		}
		existing.UserID = s.UserID
		existing.UserName = s.UserName
		existing.UserAvatar = s.UserAvatar
		existing.CreatedAt = s.CreatedAt
		if s.IsEnded {
			existing.IsEnded = true
			existing.EndedAt = s.EndedAt
		}
	}
	r.publishUnreadLocked()
}

// Sessions returns a snapshot sorted newest first.
func (r *Registry) Sessions() []models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Get returns a session snapshot by id.
func (r *Registry) Get(chatID string) (models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return models.Session{}, false
	}
	return *s, true
}

// SetActive moves the active pointer and zeroes the session's unread count.
func (r *Registry) SetActive(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return ErrSessionNotFound
	}
	r.active = chatID
	s.UnreadCount = 0
	r.publishUnreadLocked()
	return nil
}

// ClearActive drops the active pointer.
func (r *Registry) ClearActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = ""
}

// Active returns the currently selected chat id, empty when none.
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// IncrementUnread bumps a session's unread counter. It is a no-op for the
// active session and for ended sessions. A push event referencing an unknown
// chat id creates the session, which is how the registry first learns of
// chats the list refresh has not seen yet.
func (r *Registry) IncrementUnread(chatID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chatID == r.active {
		return 0, false
	}
	s, ok := r.sessions[chatID]
	if !ok {
		s = &models.Session{ChatID: chatID, CreatedAt: time.Now()}
		r.sessions[chatID] = s
	}
	if s.IsEnded {
		return s.UnreadCount, false
	}
	s.UnreadCount++
	r.publishUnreadLocked()
	return s.UnreadCount, true
}

// MarkEnded closes a session; its unread counter stops moving from now on.
func (r *Registry) MarkEnded(chatID string, endedAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return false
	}
	s.IsEnded = true
	s.EndedAt = &endedAt
	return true
}

// UnreadTotal sums unread counters over all sessions.
func (r *Registry) UnreadTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unreadTotalLocked()
}

func (r *Registry) unreadTotalLocked() int {
	total := 0
	for _, s := range r.sessions {
		total += s.UnreadCount
	}
	return total
}

func (r *Registry) publishUnreadLocked() {
	observability.SetUnreadTotal(r.unreadTotalLocked())
}
