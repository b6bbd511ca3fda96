package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagesFilterByRecipientAndTime(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC().Add(-time.Minute)
	msgs := []*Message{
		{From: "engine", Type: MessageBroadcast, Content: "welcome", Timestamp: base},
		{From: "session-001", To: "session-002", Type: MessageQuestion, Content: "who owns the schema?", Timestamp: base.Add(time.Second)},
		{From: "session-002", To: "session-001", Type: MessageAnswer, Content: "I do", Timestamp: base.Add(2 * time.Second)},
		{From: "engine", Type: MessageWindDown, Content: "wrap up", Metadata: map[string]string{"reason": "usage_limit"}, Timestamp: base.Add(3 * time.Second)},
	}
	for _, m := range msgs {
		_, err := s.AppendMessage(m)
		require.NoError(t, err)
	}

	// session-002 sees broadcasts plus messages addressed to it.
	got, err := s.ReadMessages("session-002", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "welcome", got[0].Content)
	assert.Equal(t, "who owns the schema?", got[1].Content)
	assert.Equal(t, MessageWindDown, got[2].Type)
	assert.Equal(t, "usage_limit", got[2].Metadata["reason"])

	// A since cursor hides older traffic.
	got, err = s.ReadMessages("session-002", base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, MessageWindDown, got[0].Type)
}

func TestMessagesSortedAscendingWithStableTies(t *testing.T) {
	s := newTestStore(t)

	ts := time.Now().UTC()
	_, err := s.AppendMessage(&Message{ID: "b", From: "session-001", Type: MessageStatus, Content: "late", Timestamp: ts})
	require.NoError(t, err)
	_, err = s.AppendMessage(&Message{ID: "a", From: "session-002", Type: MessageStatus, Content: "early", Timestamp: ts})
	require.NoError(t, err)

	got, err := s.ReadMessages("engine", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Equal timestamps break ties by id.
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestMessageIDAssigned(t *testing.T) {
	s := newTestStore(t)
	m, err := s.AppendMessage(&Message{From: "engine", Type: MessageStatus, Content: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.Timestamp.IsZero())
}
