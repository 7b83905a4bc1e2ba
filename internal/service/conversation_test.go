package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/protocol"
	"github.com/xiaot623/gogo/realtime/internal/repository"
)

func TestConversationScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConversation(t, "C1", "A", "B")
	a := f.connect(t, "A", domain.RoleBuyer)
	b := f.connect(t, "B", domain.RoleSeller)

	require.NoError(t, f.svc.JoinConversation(ctx, a, "", "C1"))
	require.NoError(t, f.svc.JoinConversation(ctx, b, "", "C1"))

	_, err := f.svc.SendMessage(ctx, a, &protocol.SendMessageMessage{ConversationID: "C1", Content: "hello"})
	require.NoError(t, err)

	for _, c := range []struct {
		name string
		fr   frame
	}{
		{"A", waitFor(t, a, protocol.TypeNewMessage)},
		{"B", waitFor(t, b, protocol.TypeNewMessage)},
	} {
		var m domain.Message
		c.fr.decode(t, &m)
		assert.Equal(t, "A", m.SenderID, c.name)
		assert.Equal(t, "hello", m.Content, c.name)
	}
	waitFor(t, b, protocol.TypeMessageNotification)

	count, err := f.svc.MarkAsRead(ctx, b, "C1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	var read struct {
		Count int `json:"count"`
	}
	waitFor(t, a, protocol.TypeMessagesRead).decode(t, &read)
	assert.Equal(t, 1, read.Count)

	count, err = f.svc.MarkAsRead(ctx, b, "C1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	waitFor(t, a, protocol.TypeMessagesRead).decode(t, &read)
	assert.Equal(t, 0, read.Count)
	assertNoEvent(t, b, protocol.TypeMessagesRead)

	f.dispatcher.Wait()
	notes := f.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "B", notes[0].RecipientID)
	assert.Equal(t, "hello", notes[0].Body)

	conv, err := f.store.GetConversation(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "hello", conv.LastMessage)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConversation(t, "C1", "A", "B")
	a := f.connect(t, "A", domain.RoleBuyer)

	cases := map[string]*protocol.SendMessageMessage{
		"empty":           {ConversationID: "C1", Content: "   "},
		"too long":        {ConversationID: "C1", Content: strings.Repeat("x", domain.MaxMessageLength+1)},
		"bad type":        {ConversationID: "C1", Content: "hi", MessageType: "video"},
		"no conversation": {Content: "hi"},
	}
	for name, in := range cases {
		_, err := f.svc.SendMessage(ctx, a, in)
		assert.ErrorIs(t, err, domain.ErrValidation, name)
	}

	_, err := f.svc.SendMessage(ctx, a, &protocol.SendMessageMessage{ConversationID: "C1", Content: strings.Repeat("é", domain.MaxMessageLength)})
	assert.NoError(t, err, "limit counts characters, not bytes")

	_, err = f.svc.SendMessage(ctx, a, &protocol.SendMessageMessage{ConversationID: "nope", Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	msgs, err := f.store.ListMessages(ctx, "C1", 0, time.Time{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestOutsiderCannotJoinOrSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConversation(t, "C1", "A", "B")
	mallory := f.connect(t, "M", domain.RoleAdmin)

	assert.ErrorIs(t, f.svc.JoinConversation(ctx, mallory, "", "C1"), domain.ErrAuthorization)
	_, err := f.svc.SendMessage(ctx, mallory, &protocol.SendMessageMessage{ConversationID: "C1", Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrAuthorization)
	assert.ErrorIs(t, f.svc.Typing(mallory, "C1", true), domain.ErrAuthorization)
	_, err = f.svc.MarkAsRead(ctx, mallory, "C1")
	assert.ErrorIs(t, err, domain.ErrAuthorization)
}

func TestOnlySenderMayEditOrDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConversation(t, "C1", "A", "B")
	a := f.connect(t, "A", domain.RoleBuyer)
	b := f.connect(t, "B", domain.RoleSeller)
	require.NoError(t, f.svc.JoinConversation(ctx, b, "", "C1"))

	msg, err := f.svc.SendMessage(ctx, a, &protocol.SendMessageMessage{ConversationID: "C1", Content: "original"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.EditMessage(ctx, b, msg.ID, "hijacked"), domain.ErrAuthorization)
	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, b, msg.ID), domain.ErrAuthorization)
	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", stored.Content)
	assert.False(t, stored.Edited)
	assert.False(t, stored.Deleted)

	assert.ErrorIs(t, f.svc.EditMessage(ctx, a, "missing", "x"), domain.ErrNotFound)

	require.NoError(t, f.svc.EditMessage(ctx, a, msg.ID, "fixed"))
	var edited struct {
		MessageID string `json:"messageId"`
		Content   string `json:"content"`
		Edited    bool   `json:"edited"`
	}
	waitFor(t, b, protocol.TypeMessageEdited).decode(t, &edited)
	assert.Equal(t, msg.ID, edited.MessageID)
	assert.Equal(t, "fixed", edited.Content)
	assert.True(t, edited.Edited)

	require.NoError(t, f.svc.DeleteMessage(ctx, a, msg.ID))
	waitFor(t, b, protocol.TypeMessageDeleted)
	stored, _ = f.store.GetMessage(ctx, msg.ID)
	assert.True(t, stored.Deleted)
	assert.Equal(t, domain.DeletedMessageContent, stored.Content)
	assert.Equal(t, "C1", stored.ConversationID)

	assert.ErrorIs(t, f.svc.EditMessage(ctx, a, msg.ID, "undelete"), domain.ErrStateConflict)
	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, a, msg.ID), domain.ErrStateConflict)
}

func TestMarkAsReadSkipsOwnMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConversation(t, "C1", "A", "B")
	a := f.connect(t, "A", domain.RoleBuyer)
	require.NoError(t, f.svc.JoinConversation(ctx, a, "", "C1"))

	for i := 0; i < 3; i++ {
		_, err := f.svc.SendMessage(ctx, a, &protocol.SendMessageMessage{ConversationID: "C1", Content: "mine"})
		require.NoError(t, err)
	}
	count, err := f.svc.MarkAsRead(ctx, a, "C1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	msgs, err := f.store.ListMessages(ctx, "C1", 0, time.Time{})
	require.NoError(t, err)
	for _, m := range msgs {
		assert.False(t, m.Read)
	}
}

func TestTypingExcludesSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConversation(t, "C1", "A", "B")
	a := f.connect(t, "A", domain.RoleBuyer)
	b := f.connect(t, "B", domain.RoleSeller)
	require.NoError(t, f.svc.JoinConversation(ctx, a, "", "C1"))
	require.NoError(t, f.svc.JoinConversation(ctx, b, "", "C1"))

	require.NoError(t, f.svc.Typing(a, "C1", true))
	var typing struct {
		UserID   string `json:"userId"`
		IsTyping bool   `json:"isTyping"`
	}
	waitFor(t, b, protocol.TypeUserTyping).decode(t, &typing)
	assert.Equal(t, "A", typing.UserID)
	assert.True(t, typing.IsTyping)
	assertNoEvent(t, a, protocol.TypeUserTyping)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConversation(t, "C1", "A", "B")
	a := f.connect(t, "A", domain.RoleBuyer)
	for _, c := range []string{"one", "two"} {
		_, err := f.svc.SendMessage(ctx, a, &protocol.SendMessageMessage{ConversationID: "C1", Content: c})
		require.NoError(t, err)
	}

	msgs, err := f.svc.History(ctx, domain.Principal{ID: "B", Role: domain.RoleSeller}, "C1", 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)

	_, err = f.svc.History(ctx, domain.Principal{ID: "E1", Role: domain.RoleEmployee}, "C1", 10, time.Time{})
	assert.NoError(t, err, "staff may read history")

	_, err = f.svc.History(ctx, domain.Principal{ID: "X", Role: domain.RoleBuyer}, "C1", 10, time.Time{})
	assert.ErrorIs(t, err, domain.ErrAuthorization)
}

func TestHistoryReturnsNewestPageAndPagesBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConversation(t, "C1", "A", "B")
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		require.NoError(t, f.store.CreateMessage(ctx, &domain.Message{
			ID:             fmt.Sprintf("m%02d", i),
			ConversationID: "C1",
			SenderID:       "A",
			Content:        fmt.Sprintf("message %d", i),
			Type:           domain.MessageTypeText,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	reader := domain.Principal{ID: "B", Role: domain.RoleSeller}

	page, err := f.svc.History(ctx, reader, "C1", 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, page, 50)
	assert.Equal(t, "m10", page[0].ID)
	assert.Equal(t, "m59", page[49].ID)

	older, err := f.svc.History(ctx, reader, "C1", 0, page[0].CreatedAt)
	require.NoError(t, err)
	require.Len(t, older, 10)
	assert.Equal(t, "m00", older[0].ID)
	assert.Equal(t, "m09", older[9].ID)
}

// staleReadStore serves messages as they were before a concurrent delete.
type staleReadStore struct {
	store.Store
	snapshot map[string]domain.Message
}

func (s *staleReadStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	if msg, ok := s.snapshot[messageID]; ok {
		return &msg, nil
	}
	return s.Store.GetMessage(ctx, messageID)
}

func TestEditRacingDeleteIsAConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConversation(t, "C1", "A", "B")
	a := f.connect(t, "A", domain.RoleBuyer)
	b := f.connect(t, "B", domain.RoleSeller)
	require.NoError(t, f.svc.JoinConversation(ctx, a, "", "C1"))
	require.NoError(t, f.svc.JoinConversation(ctx, b, "", "C1"))

	msg, err := f.svc.SendMessage(ctx, a, &protocol.SendMessageMessage{ConversationID: "C1", Content: "draft"})
	require.NoError(t, err)
	f.svc.store = &staleReadStore{Store: f.store, snapshot: map[string]domain.Message{msg.ID: *msg}}
	require.NoError(t, f.store.SoftDeleteMessage(ctx, msg.ID, time.Now()))

	assert.ErrorIs(t, f.svc.EditMessage(ctx, a, msg.ID, "edited too late"), domain.ErrStateConflict)
	assertNoEvent(t, b, protocol.TypeMessageEdited)
	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeletedMessageContent, stored.Content)
}
