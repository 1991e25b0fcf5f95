package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-console/internal/models"
)

func TestMergeUpsertsAndSortsNewestFirst(t *testing.T) {
	r := New()
	base := time.Now()

	r.Merge([]models.Session{
		{ChatID: "a", UserID: "u1", UserName: "Ann", CreatedAt: base},
		{ChatID: "b", UserID: "u2", UserName: "Bob", CreatedAt: base.Add(time.Minute)},
	})

	sessions := r.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "b", sessions[0].ChatID)
	assert.Equal(t, "a", sessions[1].ChatID)
}

func TestMergeKeepsLocalUnreadForKnownSessions(t *testing.T) {
	r := New()
	r.Merge([]models.Session{{ChatID: "a", UserName: "Ann"}})

	_, bumped := r.IncrementUnread("a")
	require.True(t, bumped)
	_, bumped = r.IncrementUnread("a")
	require.True(t, bumped)

	// Refresh carries a stale server-side counter; local wins.
	r.Merge([]models.Session{{ChatID: "a", UserName: "Ann Renamed", UnreadCount: 0}})

	s, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, s.UnreadCount)
	assert.Equal(t, "Ann Renamed", s.UserName)
}

func TestMergePropagatesEndedState(t *testing.T) {
	r := New()
	r.Merge([]models.Session{{ChatID: "a"}})

	ended := time.Now()
	r.Merge([]models.Session{{ChatID: "a", IsEnded: true, EndedAt: &ended}})

	s, _ := r.Get("a")
	require.True(t, s.IsEnded)
	require.NotNil(t, s.EndedAt)
}

func TestSetActiveZeroesUnread(t *testing.T) {
	r := New()
	r.Merge([]models.Session{{ChatID: "a", UnreadCount: 3}})

	require.NoError(t, r.SetActive("a"))
	assert.Equal(t, "a", r.Active())

	s, _ := r.Get("a")
	assert.Zero(t, s.UnreadCount)
}

func TestSetActiveUnknownSession(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.SetActive("nope"), ErrSessionNotFound)
}

func TestIncrementUnreadSkipsActiveSession(t *testing.T) {
	r := New()
	r.Merge([]models.Session{{ChatID: "a"}})
	require.NoError(t, r.SetActive("a"))

	_, bumped := r.IncrementUnread("a")
	assert.False(t, bumped)
	s, _ := r.Get("a")
	assert.Zero(t, s.UnreadCount)
}

func TestIncrementUnreadSkipsEndedSession(t *testing.T) {
	r := New()
	r.Merge([]models.Session{{ChatID: "a"}})
	require.True(t, r.MarkEnded("a", time.Now()))

	_, bumped := r.IncrementUnread("a")
	assert.False(t, bumped)
	s, _ := r.Get("a")
	assert.Zero(t, s.UnreadCount)
}

func TestIncrementUnreadCreatesUnknownSession(t *testing.T) {
	r := New()

	n, bumped := r.IncrementUnread("fresh")
	require.True(t, bumped)
	assert.Equal(t, 1, n)

	s, ok := r.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, 1, s.UnreadCount)
}

func TestUnreadTotal(t *testing.T) {
	r := New()
	r.Merge([]models.Session{{ChatID: "a"}, {ChatID: "b"}})

	r.IncrementUnread("a")
	r.IncrementUnread("a")
	r.IncrementUnread("b")

	assert.Equal(t, 3, r.UnreadTotal())
}
