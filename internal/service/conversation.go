package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/hub"
	"github.com/xiaot623/gogo/realtime/internal/policy"
	"github.com/xiaot623/gogo/realtime/internal/protocol"
)

// validateContent checks a message body is non-empty and at most
// MaxMessageLength characters.
func validateContent(field, content string) error {
	if strings.TrimSpace(content) == "" {
		return domain.Invalid("%s is required", field)
	}
	if n := utf8.RuneCountInString(content); n > domain.MaxMessageLength {
		return domain.Invalid("%s is %d characters, limit is %d", field, n, domain.MaxMessageLength)
	}
	return nil
}

func (s *Service) loadConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	if conversationID == "" {
		return nil, domain.Invalid("conversationId is required")
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, domain.Internal(err, "failed to load conversation")
	}
	if conv == nil {
		return nil, domain.NotFound("conversation %s not found", conversationID)
	}
	return conv, nil
}

// JoinConversation subscribes conn to a conversation it participates in.
func (s *Service) JoinConversation(ctx context.Context, conn *hub.Connection, requestID, conversationID string) error {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, conn.Principal, policy.Input{
		Action:        policy.ActionJoinConversation,
		IsParticipant: conv.HasParticipant(conn.Principal.ID),
	}); err != nil {
		return err
	}

	room := hub.ConversationRoom(conv.ID)
	s.hub.Join(conn, room)
	s.reply(conn, requestID, protocol.TypeJoined, map[string]string{"room": room, "conversationId": conv.ID})
	return nil
}

// requireJoined fails unless conn has joined the conversation room.
func (s *Service) requireJoined(conn *hub.Connection, conversationID string) error {
	if conversationID == "" {
		return domain.Invalid("conversationId is required")
	}
	if !s.hub.InRoom(conn, hub.ConversationRoom(conversationID)) {
		return domain.Forbidden("join conversation %s first", conversationID)
	}
	return nil
}

// SendMessage persists a message together with the conversation preview,
// broadcasts it to the conversation room and then notifies the other
// participants.
func (s *Service) SendMessage(ctx context.Context, conn *hub.Connection, in *protocol.SendMessageMessage) (*domain.Message, error) {
	if err := validateContent("content", in.Content); err != nil {
		return nil, err
	}
	msgType := in.MessageType
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, domain.Invalid("unknown message type %q", msgType)
	}

	conv, err := s.loadConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	sender := conn.Principal
	if err := s.authorize(ctx, sender, policy.Input{
		Action:        policy.ActionSendMessage,
		IsParticipant: conv.HasParticipant(sender.ID),
	}); err != nil {
		return nil, err
	}

	now := s.now()
	msg := &domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Content:        in.Content,
		Type:           msgType,
		Attachment:     in.Attachment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, domain.Internal(err, "failed to save message")
	}

	s.broadcast(hub.ConversationRoom(conv.ID), protocol.TypeNewMessage, msg, nil)

	preview := domain.Preview(msg.Content)
	for _, participant := range conv.Participants {
		if participant == sender.ID {
			continue
		}
		s.broadcast(hub.UserRoom(participant), protocol.TypeMessageNotification, map[string]interface{}{
			"conversationId": conv.ID,
			"messageId":      msg.ID,
			"senderId":       sender.ID,
			"senderName":     sender.Name,
			"preview":        preview,
		}, nil)
		s.notifier.Dispatch(domain.Notification{
			RecipientID: participant,
			Kind:        "new_message",
			Title:       "New message",
			Body:        preview,
			Data: map[string]string{
				"conversationId": conv.ID,
				"messageId":      msg.ID,
				"senderId":       sender.ID,
			},
			CreatedAt: now,
		})
	}
	return msg, nil
}

// loadOwnMessage returns the message if conn's principal sent it.
func (s *Service) loadOwnMessage(ctx context.Context, conn *hub.Connection, messageID string) (*domain.Message, error) {
	if messageID == "" {
		return nil, domain.Invalid("messageId is required")
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, domain.Internal(err, "failed to load message")
	}
	if msg == nil {
		return nil, domain.NotFound("message %s not found", messageID)
	}
	if msg.SenderID != conn.Principal.ID {
		return nil, domain.Forbidden("only the sender may change message %s", messageID)
	}
	if msg.Deleted {
		return nil, domain.Conflict("message %s is deleted", messageID)
	}
	return msg, nil
}

// EditMessage replaces the content of the caller's own message.
func (s *Service) EditMessage(ctx context.Context, conn *hub.Connection, messageID, content string) error {
	if err := validateContent("content", content); err != nil {
		return err
	}
	msg, err := s.loadOwnMessage(ctx, conn, messageID)
	if err != nil {
		return err
	}

	now := s.now()
	edited, err := s.store.EditMessage(ctx, msg.ID, content, now)
	if err != nil {
		return domain.Internal(err, "failed to edit message")
	}
	if !edited {
		return domain.Conflict("message %s is deleted", msg.ID)
	}
	s.broadcast(hub.ConversationRoom(msg.ConversationID), protocol.TypeMessageEdited, map[string]interface{}{
		"messageId":      msg.ID,
		"conversationId": msg.ConversationID,
		"content":        content,
		"edited":         true,
		"updatedAt":      now,
	}, nil)
	return nil
}

// DeleteMessage soft-deletes the caller's own message.
func (s *Service) DeleteMessage(ctx context.Context, conn *hub.Connection, messageID string) error {
	msg, err := s.loadOwnMessage(ctx, conn, messageID)
	if err != nil {
		return err
	}

	if err := s.store.SoftDeleteMessage(ctx, msg.ID, s.now()); err != nil {
		return domain.Internal(err, "failed to delete message")
	}
	s.broadcast(hub.ConversationRoom(msg.ConversationID), protocol.TypeMessageDeleted, map[string]interface{}{
		"messageId":      msg.ID,
		"conversationId": msg.ConversationID,
		"content":        domain.DeletedMessageContent,
	}, nil)
	return nil
}

// MarkAsRead marks up to one batch of other participants' unread messages
// as read and tells the rest of the room how many changed.
func (s *Service) MarkAsRead(ctx context.Context, conn *hub.Connection, conversationID string) (int, error) {
	if err := s.requireJoined(conn, conversationID); err != nil {
		return 0, err
	}
	count, err := s.store.MarkMessagesRead(ctx, conversationID, conn.Principal.ID, s.config.MarkReadBatch)
	if err != nil {
		return 0, domain.Internal(err, "failed to mark messages read")
	}
	s.broadcast(hub.ConversationRoom(conversationID), protocol.TypeMessagesRead, map[string]interface{}{
		"conversationId": conversationID,
		"readerId":       conn.Principal.ID,
		"count":          count,
	}, conn)
	return count, nil
}

// Typing relays a typing indicator to everyone else in the room.
func (s *Service) Typing(conn *hub.Connection, conversationID string, isTyping bool) error {
	if err := s.requireJoined(conn, conversationID); err != nil {
		return err
	}
	s.broadcast(hub.ConversationRoom(conversationID), protocol.TypeUserTyping, map[string]interface{}{
		"conversationId": conversationID,
		"userId":         conn.Principal.ID,
		"isTyping":       isTyping,
	}, conn)
	return nil
}

// History returns up to limit messages created before the given time (all
// when zero), oldest first.
func (s *Service) History(ctx context.Context, p domain.Principal, conversationID string, limit int, before time.Time) ([]domain.Message, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, p, policy.Input{
		Action:        policy.ActionReadHistory,
		IsParticipant: conv.HasParticipant(p.ID),
	}); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs, err := s.store.ListMessages(ctx, conv.ID, limit, before)
	if err != nil {
		return nil, domain.Internal(err, "failed to list messages")
	}
	return msgs, nil
}
