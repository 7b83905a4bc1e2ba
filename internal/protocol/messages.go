// Package protocol defines the WebSocket message protocol between clients and the gateway.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/realtime/internal/domain"
)

// Message types from client to gateway
const (
	TypeJoinConversation    = "join_conversation"
	TypeLeaveConversation   = "leave_conversation"
	TypeSendMessage         = "send_message"
	TypeTyping              = "typing"
	TypeMarkAsRead          = "mark_as_read"
	TypeEditMessage         = "edit_message"
	TypeDeleteMessage       = "delete_message"
	TypeJoinTicket          = "join_ticket"
	TypeLeaveTicket         = "leave_ticket"
	TypeTicketMessage       = "ticket_message"
	TypeAssignTicket        = "assign_ticket"
	TypeCloseTicket         = "close_ticket"
	TypeResolveTicket       = "resolve_ticket"
	TypeRateTicket          = "rate_ticket"
	TypeAgentConnect        = "agent_connect"
	TypeAgentSetStatus      = "agent_set_status"
	TypeAgentAcceptChat     = "agent_accept_chat"
	TypeAgentSendMessage    = "agent_send_message"
	TypeAgentEndSession     = "agent_end_session"
	TypeRequestAgent        = "request_agent"
	TypeJoinAgentSession    = "join_agent_session"
	TypeCustomerSendMessage = "customer_send_message"
	TypeCustomerEndSession  = "customer_end_session"
)

// Message types from gateway to client
const (
	TypeConnected             = "connected"
	TypeJoined                = "joined"
	TypeLeft                  = "left"
	TypeNewMessage            = "new_message"
	TypeMessageNotification   = "message_notification"
	TypeMessageEdited         = "message_edited"
	TypeMessageDeleted        = "message_deleted"
	TypeMessagesRead          = "messages_read"
	TypeUserTyping            = "user_typing"
	TypeTicketAssigned        = "ticket:assigned"
	TypeTicketCustomerMessage = "ticket:customer-message"
	TypeTicketNewMessage      = "ticket:new-message"
	TypeTicketStatusChanged   = "ticket:status-changed"
	TypeTicketResolved        = "ticket:resolved"
	TypeTicketClosed          = "ticket:closed"
	TypeTicketRated           = "ticket:rated"
	TypeAgentStatus           = "agent_status"
	TypeAgentSessionStarted   = "agent_session_started"
	TypeAgentJoined           = "agent_joined"
	TypeAgentMessage          = "agent_message"
	TypeCustomerMessage       = "customer_message"
	TypeSessionEnded          = "session_ended"
	TypeQueueStatus           = "queue_status"
	TypeQueueUpdate           = "queue_update"
	TypePresenceChanged       = "presence_changed"
	TypeError                 = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Inbound is the closed set of client events. Only types in this package
// implement it.
type Inbound interface {
	Base() BaseMessage
	// StateChanging reports whether the event counts against the rate limit.
	StateChanging() bool
	inbound()
}

func (m BaseMessage) Base() BaseMessage   { return m }
func (BaseMessage) StateChanging() bool { return true }
func (BaseMessage) inbound()            {}

// JoinConversationMessage is sent to subscribe to a conversation room.
type JoinConversationMessage struct {
	BaseMessage
	ConversationID string `json:"conversationId"`
}

// LeaveConversationMessage is sent to unsubscribe from a conversation room.
type LeaveConversationMessage struct {
	BaseMessage
	ConversationID string `json:"conversationId"`
}

func (LeaveConversationMessage) StateChanging() bool { return false }

// SendMessageMessage creates a conversation message.
type SendMessageMessage struct {
	BaseMessage
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	MessageType    domain.MessageType `json:"messageType,omitempty"`
	Attachment     *domain.Attachment `json:"attachment,omitempty"`
}

// TypingMessage signals typing start/stop.
type TypingMessage struct {
	BaseMessage
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// MarkAsReadMessage marks the other participants' messages read.
type MarkAsReadMessage struct {
	BaseMessage
	ConversationID string `json:"conversationId"`
}

// EditMessageMessage replaces a message's content.
type EditMessageMessage struct {
	BaseMessage
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// DeleteMessageMessage soft-deletes a message.
type DeleteMessageMessage struct {
	BaseMessage
	MessageID string `json:"messageId"`
}

// JoinTicketMessage subscribes to a ticket room.
type JoinTicketMessage struct {
	BaseMessage
	TicketID string `json:"ticketId"`
}

// LeaveTicketMessage unsubscribes from a ticket room.
type LeaveTicketMessage struct {
	BaseMessage
	TicketID string `json:"ticketId"`
}

func (LeaveTicketMessage) StateChanging() bool { return false }

// TicketMessageMessage posts to a ticket thread.
type TicketMessageMessage struct {
	BaseMessage
	TicketID   string             `json:"ticketId"`
	Message    string             `json:"message"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

// AssignTicketMessage claims a ticket for the calling employee.
type AssignTicketMessage struct {
	BaseMessage
	TicketID string `json:"ticketId"`
}

// CloseTicketMessage closes a ticket.
type CloseTicketMessage struct {
	BaseMessage
	TicketID string `json:"ticketId"`
}

// ResolveTicketMessage marks a ticket resolved.
type ResolveTicketMessage struct {
	BaseMessage
	TicketID string `json:"ticketId"`
}

// RateTicketMessage records the requester's satisfaction rating.
type RateTicketMessage struct {
	BaseMessage
	TicketID string `json:"ticketId"`
	Rating   int    `json:"rating"`
}

// AgentConnectMessage registers the calling agent as online.
type AgentConnectMessage struct {
	BaseMessage
	Name     string `json:"name,omitempty"`
	MaxChats int    `json:"maxChats,omitempty"`
}

// AgentSetStatusMessage changes the calling agent's availability.
type AgentSetStatusMessage struct {
	BaseMessage
	Status domain.AgentStatus `json:"status"`
}

// AgentAcceptChatMessage takes a queued hand-off session.
type AgentAcceptChatMessage struct {
	BaseMessage
	SessionID string `json:"sessionId"`
}

// AgentSendMessageMessage is an agent writing into a session.
type AgentSendMessageMessage struct {
	BaseMessage
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// AgentEndSessionMessage is an agent ending a session.
type AgentEndSessionMessage struct {
	BaseMessage
	SessionID string `json:"sessionId"`
}

// RequestAgentMessage asks for a human agent.
type RequestAgentMessage struct {
	BaseMessage
	CustomerName string          `json:"customerName,omitempty"`
	History      json.RawMessage `json:"history,omitempty"`
}

// JoinAgentSessionMessage re-subscribes to a hand-off session room.
type JoinAgentSessionMessage struct {
	BaseMessage
	SessionID string `json:"sessionId"`
}

// CustomerSendMessageMessage is a customer writing into a session.
type CustomerSendMessageMessage struct {
	BaseMessage
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// CustomerEndSessionMessage is a customer ending a session, optionally
// rating the agent.
type CustomerEndSessionMessage struct {
	BaseMessage
	SessionID string `json:"sessionId"`
	Rating    *int   `json:"rating,omitempty"`
	Feedback  string `json:"feedback,omitempty"`
}

// Decode parses one client frame into its concrete event type.
func Decode(data []byte) (Inbound, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON message: %w", err)
	}

	var msg Inbound
	switch base.Type {
	case TypeJoinConversation:
		msg = &JoinConversationMessage{}
	case TypeLeaveConversation:
		msg = &LeaveConversationMessage{}
	case TypeSendMessage:
		msg = &SendMessageMessage{}
	case TypeTyping:
		msg = &TypingMessage{}
	case TypeMarkAsRead:
		msg = &MarkAsReadMessage{}
	case TypeEditMessage:
		msg = &EditMessageMessage{}
	case TypeDeleteMessage:
		msg = &DeleteMessageMessage{}
	case TypeJoinTicket:
		msg = &JoinTicketMessage{}
	case TypeLeaveTicket:
		msg = &LeaveTicketMessage{}
	case TypeTicketMessage:
		msg = &TicketMessageMessage{}
	case TypeAssignTicket:
		msg = &AssignTicketMessage{}
	case TypeCloseTicket:
		msg = &CloseTicketMessage{}
	case TypeResolveTicket:
		msg = &ResolveTicketMessage{}
	case TypeRateTicket:
		msg = &RateTicketMessage{}
	case TypeAgentConnect:
		msg = &AgentConnectMessage{}
	case TypeAgentSetStatus:
		msg = &AgentSetStatusMessage{}
	case TypeAgentAcceptChat:
		msg = &AgentAcceptChatMessage{}
	case TypeAgentSendMessage:
		msg = &AgentSendMessageMessage{}
	case TypeAgentEndSession:
		msg = &AgentEndSessionMessage{}
	case TypeRequestAgent:
		msg = &RequestAgentMessage{}
	case TypeJoinAgentSession:
		msg = &JoinAgentSessionMessage{}
	case TypeCustomerSendMessage:
		msg = &CustomerSendMessageMessage{}
	case TypeCustomerEndSession:
		msg = &CustomerEndSessionMessage{}
	default:
		return nil, fmt.Errorf("unknown message type: %q", base.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", base.Type, err)
	}
	return msg, nil
}

// OutboundMessage is every server-to-client event except errors.
type OutboundMessage struct {
	BaseMessage
	Data interface{} `json:"data,omitempty"`
}

// NewOutbound stamps an outbound event with the current time.
func NewOutbound(eventType string, data interface{}) OutboundMessage {
	return OutboundMessage{
		BaseMessage: BaseMessage{Type: eventType, Ts: time.Now().UnixMilli()},
		Data:        data,
	}
}

// ErrorMessage is sent by the gateway when an event is rejected.
type ErrorMessage struct {
	BaseMessage
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// NewError builds the error event for err in reply to requestID.
func NewError(requestID string, err error) ErrorMessage {
	return ErrorMessage{
		BaseMessage: BaseMessage{Type: TypeError, Ts: time.Now().UnixMilli(), RequestID: requestID},
		Code:        domain.CodeOf(err),
		Message:     domain.MessageOf(err),
	}
}
