// Package store defines the document store interface and its SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/realtime/internal/domain"
)

// Store defines the interface for data persistence. Getters return (nil, nil)
// when the record does not exist. Counter and status changes that can race
// across connections are compare-and-set operations reporting whether they
// applied.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// Message operations
	// CreateMessage inserts the message and updates the conversation preview
	// in one transaction.
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]domain.Message, error)
	EditMessage(ctx context.Context, messageID, content string, at time.Time) (bool, error)
	SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error
	MarkMessagesRead(ctx context.Context, conversationID, readerID string, limit int) (int, error)

	// Ticket operations
	CreateTicket(ctx context.Context, ticket *domain.Ticket) error
	GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error)
	UpdateTicketState(ctx context.Context, next *domain.Ticket, prevStatus domain.TicketStatus) (bool, error)
	RateTicket(ctx context.Context, ticketID string, rating int) error
	CreateTicketMessage(ctx context.Context, msg *domain.TicketMessage) error
	ListTicketMessages(ctx context.Context, ticketID string) ([]domain.TicketMessage, error)

	// Agent capacity operations
	UpsertAgent(ctx context.Context, agent *domain.Agent) error
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	SetAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) error
	AcquireAgentSlot(ctx context.Context, agentID string) (bool, error)
	ReleaseAgentSlot(ctx context.Context, agentID string, rating *int) (bool, error)
	ReturnAgentSlot(ctx context.Context, agentID string) error

	// Agent session operations
	CreateAgentSession(ctx context.Context, session *domain.AgentSession) error
	GetAgentSession(ctx context.Context, sessionID string) (*domain.AgentSession, error)
	OpenAgentSessionForCustomer(ctx context.Context, customerID string) (*domain.AgentSession, error)
	ActivateAgentSession(ctx context.Context, sessionID, agentID, agentName string) (bool, error)
	CompleteAgentSession(ctx context.Context, sessionID string, rating *int, feedback string, at time.Time) (bool, error)
	AppendAgentSessionMessage(ctx context.Context, sessionID string, msg domain.AgentSessionMessage) error

	// Agent queue operations
	EnqueueAgentSession(ctx context.Context, session *domain.AgentSession, entry *domain.AgentQueueEntry) error
	QueuePosition(ctx context.Context, entryID string) (int, error)
	ClaimQueueEntry(ctx context.Context, sessionID string) (bool, error)
	ListWaitingEntries(ctx context.Context, limit int) ([]domain.AgentQueueEntry, error)

	// Presence operations
	SavePresence(ctx context.Context, p *domain.Presence) error
	GetPresence(ctx context.Context, principalID string) (*domain.Presence, error)

	// Lifecycle
	Close() error
}
