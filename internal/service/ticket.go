package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/hub"
	"github.com/xiaot623/gogo/realtime/internal/policy"
	"github.com/xiaot623/gogo/realtime/internal/protocol"
)

func (s *Service) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	if ticketID == "" {
		return nil, domain.Invalid("ticketId is required")
	}
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, domain.Internal(err, "failed to load ticket")
	}
	if t == nil {
		return nil, domain.NotFound("ticket %s not found", ticketID)
	}
	return t, nil
}

func ticketRelations(t *domain.Ticket, p domain.Principal, action policy.Action) policy.Input {
	return policy.Input{
		Action:     action,
		IsOwner:    t.RequesterID == p.ID,
		IsAssignee: t.AssignedTo != "" && t.AssignedTo == p.ID,
	}
}

// applyTransition runs the state machine and stores the result if the ticket
// has not moved in the meantime. It reports whether the status changed.
func (s *Service) applyTransition(ctx context.Context, t *domain.Ticket, trigger domain.TicketTrigger, actorID string) (*domain.Ticket, bool, error) {
	next, err := domain.Transition(*t, trigger, actorID, s.now())
	if err != nil {
		return nil, false, err
	}
	if next.Status == t.Status && next.AssignedTo == t.AssignedTo {
		return t, false, nil
	}
	ok, err := s.store.UpdateTicketState(ctx, &next, t.Status)
	if err != nil {
		return nil, false, domain.Internal(err, "failed to update ticket")
	}
	if !ok {
		return nil, false, domain.Conflict("ticket %s was changed concurrently", t.ID)
	}
	return &next, true, nil
}

// JoinTicket subscribes conn to a ticket room. Owners, the assignee and
// staff may join.
func (s *Service) JoinTicket(ctx context.Context, conn *hub.Connection, requestID, ticketID string) error {
	t, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, conn.Principal, ticketRelations(t, conn.Principal, policy.ActionJoinTicket)); err != nil {
		return err
	}
	room := hub.TicketRoom(t.ID)
	s.hub.Join(conn, room)
	s.reply(conn, requestID, protocol.TypeJoined, map[string]interface{}{"room": room, "ticketId": t.ID, "status": t.Status})
	return nil
}

// AssignTicket claims an open, unassigned ticket for the calling employee.
func (s *Service) AssignTicket(ctx context.Context, conn *hub.Connection, ticketID string) error {
	t, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, conn.Principal, policy.Input{Action: policy.ActionAssignTicket}); err != nil {
		return err
	}
	next, _, err := s.applyTransition(ctx, t, domain.TriggerAssign, conn.Principal.ID)
	if err != nil {
		return err
	}

	room := hub.TicketRoom(next.ID)
	s.hub.Join(conn, room)
	data := map[string]interface{}{
		"ticketId":   next.ID,
		"assignedTo": next.AssignedTo,
		"status":     next.Status,
		"assignedAt": next.AssignedAt,
	}
	s.broadcast(room, protocol.TypeTicketAssigned, data, nil)
	s.broadcast(hub.RoomEmployees, protocol.TypeTicketAssigned, data, nil)

	s.notifier.Dispatch(domain.Notification{
		RecipientID: next.RequesterID,
		Kind:        "ticket_assigned",
		Title:       "Your ticket was picked up",
		Body:        "A support agent is now handling your request.",
		Data:        map[string]string{"ticketId": next.ID},
		CreatedAt:   s.now(),
	})
	return nil
}

// SendTicketMessage appends to a ticket thread. The assignee's first message
// moves the ticket to in_progress; a customer message on an open ticket is
// also announced to all employees.
func (s *Service) SendTicketMessage(ctx context.Context, conn *hub.Connection, ticketID, content string, attachment *domain.Attachment) error {
	if err := validateContent("message", content); err != nil {
		return err
	}
	t, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.Status == domain.TicketStatusClosed {
		return domain.Conflict("ticket %s is closed", t.ID)
	}
	p := conn.Principal
	if err := s.authorize(ctx, p, ticketRelations(t, p, policy.ActionTicketMessage)); err != nil {
		return err
	}

	senderType := domain.SenderEmployee
	if t.RequesterID == p.ID {
		senderType = domain.SenderCustomer
	}
	m := &domain.TicketMessage{
		ID:         uuid.New().String(),
		TicketID:   t.ID,
		SenderID:   p.ID,
		SenderType: senderType,
		Content:    content,
		Attachment: attachment,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateTicketMessage(ctx, m); err != nil {
		return domain.Internal(err, "failed to save ticket message")
	}

	room := hub.TicketRoom(t.ID)
	current := t
	if senderType == domain.SenderEmployee {
		next, changed, err := s.applyTransition(ctx, t, domain.TriggerEmployeeMessage, p.ID)
		if err != nil {
			// the message is already stored; the status catches up on the next message
			s.logger.Warn("ticket status not advanced", zap.String("ticket_id", t.ID), zap.Error(err))
		} else if changed {
			current = next
			s.broadcast(room, protocol.TypeTicketStatusChanged, map[string]interface{}{
				"ticketId": next.ID,
				"status":   next.Status,
			}, nil)
		}
	}

	s.broadcast(room, protocol.TypeTicketNewMessage, map[string]interface{}{
		"ticketId": t.ID,
		"message":  m,
		"status":   current.Status,
	}, nil)

	switch {
	case senderType == domain.SenderCustomer && t.Status == domain.TicketStatusOpen:
		s.broadcast(hub.RoomEmployees, protocol.TypeTicketCustomerMessage, map[string]interface{}{
			"ticketId": t.ID,
			"senderId": p.ID,
			"preview":  domain.Preview(content),
		}, nil)
	case senderType == domain.SenderEmployee:
		s.notifier.Dispatch(domain.Notification{
			RecipientID: t.RequesterID,
			Kind:        "ticket_reply",
			Title:       "New reply on your ticket",
			Body:        domain.Preview(content),
			Data:        map[string]string{"ticketId": t.ID},
			CreatedAt:   m.CreatedAt,
		})
	}
	return nil
}

// CloseTicket closes a ticket. Only the assignee may close.
func (s *Service) CloseTicket(ctx context.Context, conn *hub.Connection, ticketID string) error {
	return s.finishTicket(ctx, conn, ticketID, domain.TriggerClose)
}

// ResolveTicket marks a ticket resolved. Only the assignee may resolve.
func (s *Service) ResolveTicket(ctx context.Context, conn *hub.Connection, ticketID string) error {
	return s.finishTicket(ctx, conn, ticketID, domain.TriggerResolve)
}

func (s *Service) finishTicket(ctx context.Context, conn *hub.Connection, ticketID string, trigger domain.TicketTrigger) error {
	t, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	next, _, err := s.applyTransition(ctx, t, trigger, conn.Principal.ID)
	if err != nil {
		return err
	}

	event, at, kind := protocol.TypeTicketClosed, next.ClosedAt, "ticket_closed"
	if trigger == domain.TriggerResolve {
		event, at, kind = protocol.TypeTicketResolved, next.ResolvedAt, "ticket_resolved"
	}
	data := map[string]interface{}{
		"ticketId": next.ID,
		"status":   next.Status,
		"by":       conn.Principal.ID,
		"at":       at,
	}
	s.broadcast(hub.TicketRoom(next.ID), event, data, nil)
	s.broadcast(hub.RoomEmployees, event, data, nil)

	s.notifier.Dispatch(domain.Notification{
		RecipientID: next.RequesterID,
		Kind:        kind,
		Title:       "Your ticket was " + string(next.Status),
		Body:        "You can rate the support you received.",
		Data:        map[string]string{"ticketId": next.ID},
		CreatedAt:   s.now(),
	})
	return nil
}

// RateTicket records the requester's 1..5 rating of a finished ticket.
func (s *Service) RateTicket(ctx context.Context, conn *hub.Connection, ticketID string, rating int) error {
	if rating < 1 || rating > 5 {
		return domain.Invalid("rating must be between 1 and 5")
	}
	t, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, conn.Principal, ticketRelations(t, conn.Principal, policy.ActionRateTicket)); err != nil {
		return err
	}
	if t.Status != domain.TicketStatusResolved && t.Status != domain.TicketStatusClosed {
		return domain.Conflict("ticket %s is %s and cannot be rated yet", t.ID, t.Status)
	}
	if t.Rating != nil {
		return domain.Conflict("ticket %s is already rated", t.ID)
	}

	if err := s.store.RateTicket(ctx, t.ID, rating); err != nil {
		return domain.Internal(err, "failed to rate ticket")
	}
	s.broadcast(hub.TicketRoom(t.ID), protocol.TypeTicketRated, map[string]interface{}{
		"ticketId": t.ID,
		"rating":   rating,
	}, nil)
	return nil
}
