package timeline

import (
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"support-console/internal/models"
)

// TaskCardPlaceholder replaces raw task-card bracket text; the bracket form
// is never shown to the operator.
const TaskCardPlaceholder = "task card"

// optimisticMatchWindow bounds the timestamp distance when matching an
// optimistic entry against its authoritative server copy.
const optimisticMatchWindow = 30 * time.Second

var taskCardPattern = regexp.MustCompile(`^\[TASK_CARD:(\d+)\]$`)

// Classify resolves the message's payload kind at the reconciler boundary so
// downstream consumers match on the MessageType enum instead of re-sniffing
// content strings. Bracket-form task cards have their id parsed out and
// their content replaced with the placeholder.
func Classify(m models.Message) models.Message {
	if match := taskCardPattern.FindStringSubmatch(m.Content); match != nil {
		id, _ := strconv.ParseInt(match[1], 10, 64)
		m.MessageType = models.MessageTaskCard
		m.TaskID = id
		m.Content = TaskCardPlaceholder
		return m
	}
	if m.MessageType == models.MessageTaskCard {
		m.Content = TaskCardPlaceholder
		return m
	}
	if m.MessageType == "" {
		m.MessageType = models.MessageText
	}
	return m
}

// SynthesizeKey derives a local de-duplication key for a push message that
// carries no server id. The suffix is random per reconciler, so the key is
// deterministic for duplicate deliveries within one session of the console
// but never stable across reconnects and never sent to the server.
func SynthesizeKey(senderID, receiverID string, createdAt time.Time, suffix string) string {
	return "loc:" + senderID + ":" + receiverID + ":" + strconv.FormatInt(createdAt.UnixNano(), 10) + ":" + suffix
}

// Reconciler merges REST history, pushed frames and optimistic sends into
// one ordered, de-duplicated timeline per session. It is the single writer
// of every session's timeline.
type Reconciler struct {
	operatorID string
	salt       string

	mu          sync.Mutex
	timelines   map[string][]models.Message
	keys        map[string]map[string]struct{}
	seq         uint64
	lastPushSeq map[string]uint64
}

// NewReconciler builds a Reconciler for the given operator identity; frames
// sent by that identity are suppressed as self-echo.
func NewReconciler(operatorID string) *Reconciler {
	return &Reconciler{
		operatorID:  operatorID,
		salt:        uuid.NewString()[:8],
		timelines:   make(map[string][]models.Message),
		keys:        make(map[string]map[string]struct{}),
		lastPushSeq: make(map[string]uint64),
	}
}

// SetHistory installs a REST history load for a session, preserving any
// still-unconfirmed optimistic entries.
func (r *Reconciler) SetHistory(chatID string, msgs []models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuild(chatID, msgs)
}

// ApplyInbound accepts a pushed chat frame into its session's timeline. It
// returns false when the frame is a self-echo of the operator's own send or
// a duplicate of an already-accepted message.
func (r *Reconciler) ApplyInbound(f models.Frame) (models.Message, bool) {
	if !f.IsChatMessage() {
		return models.Message{}, false
	}
	if f.From == r.operatorID {
		return models.Message{}, false
	}

	msg := Classify(models.Message{
		ChatID:      f.ChatID,
		SenderID:    f.From,
		ReceiverID:  f.ReceiverID,
		Content:     f.Content,
		CreatedAt:   f.CreatedAt,
		SenderType:  models.SenderUser,
		MessageType: f.MessageType,
		TaskID:      f.TaskID,
		LocalKey:    SynthesizeKey(f.From, f.ReceiverID, f.CreatedAt, r.salt),
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.keySet(f.ChatID)[msg.Key()]; dup {
		return models.Message{}, false
	}
	r.append(f.ChatID, msg)
	r.seq++
	r.lastPushSeq[f.ChatID] = r.seq
	return msg, true
}

// ApplyOptimistic records the operator's own send the instant it happens,
// before any server confirmation.
func (r *Reconciler) ApplyOptimistic(chatID, receiverID, content string) models.Message {
	now := time.Now()
	msg := Classify(models.Message{
		ChatID:      chatID,
		SenderID:    r.operatorID,
		ReceiverID:  receiverID,
		Content:     content,
		CreatedAt:   now,
		SenderType:  models.SenderCustomerService,
		LocalKey:    SynthesizeKey(r.operatorID, receiverID, now, r.salt),
		Pending:     true,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.append(chatID, msg)
	return msg
}

// PollIssued returns the sequence tag a poll must carry so its result can be
// checked for staleness against frames applied while it was in flight.
func (r *Reconciler) PollIssued(chatID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// ApplyPoll reconciles a periodic REST re-sync. A fresh poll rebuilds the
// timeline from the authoritative result, re-matching unconfirmed optimistic
// entries; a poll issued before the last push-applied message is merged
// additively so it can never erase messages it predates. The return value
// reports whether the timeline changed.
func (r *Reconciler) ApplyPoll(chatID string, msgs []models.Message, issuedSeq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if issuedSeq < r.lastPushSeq[chatID] {
		return r.mergeAdditive(chatID, msgs)
	}
	before := len(r.timelines[chatID])
	r.rebuild(chatID, msgs)
	return len(r.timelines[chatID]) != before || len(msgs) > 0
}

// Timeline returns a copy of a session's ordered messages.
func (r *Reconciler) Timeline(chatID string) []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	tl := r.timelines[chatID]
	out := make([]models.Message, len(tl))
	copy(out, tl)
	return out
}

// Forget drops all local state for a session.
func (r *Reconciler) Forget(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timelines, chatID)
	delete(r.keys, chatID)
	delete(r.lastPushSeq, chatID)
}

// rebuild replaces a session timeline with an authoritative server list,
// keeping unmatched optimistic entries at the tail. Callers hold r.mu.
func (r *Reconciler) rebuild(chatID string, msgs []models.Message) {
	pending := make([]models.Message, 0)
	for _, m := range r.timelines[chatID] {
		if m.Pending {
			pending = append(pending, m)
		}
	}

	r.timelines[chatID] = nil
	r.keys[chatID] = make(map[string]struct{})

	classified := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		m.ChatID = chatID
		if m.ID == 0 && m.LocalKey == "" {
			m.LocalKey = SynthesizeKey(m.SenderID, m.ReceiverID, m.CreatedAt, r.salt)
		}
		classified = append(classified, Classify(m))
	}
	sort.SliceStable(classified, func(i, j int) bool {
		return classified[i].CreatedAt.Before(classified[j].CreatedAt)
	})
	for _, m := range classified {
		if _, dup := r.keys[chatID][m.Key()]; dup {
			continue
		}
		r.append(chatID, m)
	}

	for _, p := range pending {
		if r.matchesAuthoritative(chatID, p) {
			continue
		}
		r.append(chatID, p)
	}
}

// mergeAdditive folds poll results into the existing timeline without
// removing anything. Callers hold r.mu.
func (r *Reconciler) mergeAdditive(chatID string, msgs []models.Message) bool {
	changed := false
	for _, m := range msgs {
		m.ChatID = chatID
		if m.ID == 0 && m.LocalKey == "" {
			m.LocalKey = SynthesizeKey(m.SenderID, m.ReceiverID, m.CreatedAt, r.salt)
		}
		m = Classify(m)
		if _, dup := r.keySet(chatID)[m.Key()]; dup {
			continue
		}
		if r.absorbExisting(chatID, m) {
			changed = true
			continue
		}
		r.append(chatID, m)
		changed = true
	}
	return changed
}

// absorbExisting swaps an authoritative server message into the position of
// the id-less entry it confirms: an optimistic send, or a pushed frame that
// only had a synthesized key. The temporary key never matches the server id,
// so matching is by sender, content and approximate timestamp. Callers hold
// r.mu.
func (r *Reconciler) absorbExisting(chatID string, m models.Message) bool {
	tl := r.timelines[chatID]
	for i, existing := range tl {
		if existing.ID != 0 || existing.SenderID != m.SenderID || existing.Content != m.Content {
			continue
		}
		delta := existing.CreatedAt.Sub(m.CreatedAt)
		if delta < -optimisticMatchWindow || delta > optimisticMatchWindow {
			continue
		}
		delete(r.keys[chatID], existing.Key())
		tl[i] = m
		r.keys[chatID][m.Key()] = struct{}{}
		return true
	}
	return false
}

// matchesAuthoritative reports whether a pending entry is already covered by
// the rebuilt timeline. Callers hold r.mu.
func (r *Reconciler) matchesAuthoritative(chatID string, pending models.Message) bool {
	for _, m := range r.timelines[chatID] {
		if m.Pending || m.SenderID != r.operatorID || m.Content != pending.Content {
			continue
		}
		delta := pending.CreatedAt.Sub(m.CreatedAt)
		if delta >= -optimisticMatchWindow && delta <= optimisticMatchWindow {
			return true
		}
	}
	return false
}

func (r *Reconciler) append(chatID string, m models.Message) {
	r.timelines[chatID] = append(r.timelines[chatID], m)
	r.keySet(chatID)[m.Key()] = struct{}{}
}

func (r *Reconciler) keySet(chatID string) map[string]struct{} {
	if r.keys[chatID] == nil {
		r.keys[chatID] = make(map[string]struct{})
	}
	return r.keys[chatID]
}
