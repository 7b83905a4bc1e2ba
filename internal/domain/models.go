package domain

import (
	"encoding/json"
	"time"
)

const (
	// MaxMessageLength is the longest accepted message body, in characters.
	MaxMessageLength = 5000
	// PreviewLength is how much of a message is kept as the conversation preview.
	PreviewLength = 100
	// DeletedMessageContent replaces the body of a soft-deleted message.
	DeletedMessageContent = "This message was deleted"
)

// Principal is the identity extracted from a verified credential.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role"`
}

// Attachment is optional file metadata carried by a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Conversation is a buyer/seller thread.
type Conversation struct {
	ID            string     `json:"id"`
	Participants  []string   `json:"participants"`
	LastMessage   string     `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is a single conversation message. Its identity never changes; only
// content, edited and deleted are mutable, and only by the sender.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	Read           bool        `json:"read"`
	Edited         bool        `json:"edited"`
	Deleted        bool        `json:"deleted"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Ticket is a support request.
type Ticket struct {
	ID            string       `json:"id"`
	RequesterID   string       `json:"requesterId"`
	RequesterRole Role         `json:"requesterRole"`
	Category      string       `json:"category"`
	Subcategory   string       `json:"subcategory,omitempty"`
	Problem       string       `json:"problem"`
	Status        TicketStatus `json:"status"`
	AssignedTo    string       `json:"assignedTo,omitempty"`
	Rating        *int         `json:"rating,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	AssignedAt    *time.Time   `json:"assignedAt,omitempty"`
	ResolvedAt    *time.Time   `json:"resolvedAt,omitempty"`
	ClosedAt      *time.Time   `json:"closedAt,omitempty"`
}

// TicketMessage is an append-only entry in a ticket thread.
type TicketMessage struct {
	ID         string      `json:"id"`
	TicketID   string      `json:"ticketId"`
	SenderID   string      `json:"senderId"`
	SenderType SenderType  `json:"senderType"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// AgentRequest is what a customer submits when asking for a human agent.
type AgentRequest struct {
	CustomerID    string          `json:"customerId"`
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail"`
	History       json.RawMessage `json:"history,omitempty"`
}

// AgentSessionMessage is one entry of a hand-off session's message log.
type AgentSessionMessage struct {
	SenderID   string     `json:"senderId"`
	SenderType SenderType `json:"senderType"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
}

// AgentSession is a hand-off chat between a customer and a human agent.
type AgentSession struct {
	ID            string                `json:"id"`
	CustomerID    string                `json:"customerId"`
	CustomerName  string                `json:"customerName"`
	CustomerEmail string                `json:"customerEmail"`
	AgentID       string                `json:"agentId,omitempty"`
	AgentName     string                `json:"agentName,omitempty"`
	History       json.RawMessage       `json:"history,omitempty"`
	Status        AgentSessionStatus    `json:"status"`
	Messages      []AgentSessionMessage `json:"messages"`
	Rating        *int                  `json:"rating,omitempty"`
	Feedback      string                `json:"feedback,omitempty"`
	StartedAt     time.Time             `json:"startedAt"`
	EndedAt       *time.Time            `json:"endedAt,omitempty"`
}

// AgentQueueEntry is a FIFO slot for a customer waiting on an agent.
type AgentQueueEntry struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	Request   AgentRequest     `json:"request"`
	Status    QueueEntryStatus `json:"status"`
	AddedAt   time.Time        `json:"addedAt"`
	Seq       int64            `json:"-"`
}

// Agent is the capacity record of a human agent.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Status       AgentStatus `json:"status"`
	CurrentChats int         `json:"currentChats"`
	MaxChats     int         `json:"maxChats"`
	TotalChats   int         `json:"totalChats"`
	RatingSum    int         `json:"ratingSum"`
	RatingCount  int         `json:"ratingCount"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// AverageRating returns the mean of all ratings received, or 0.
func (a *Agent) AverageRating() float64 {
	if a.RatingCount == 0 {
		return 0
	}
	return float64(a.RatingSum) / float64(a.RatingCount)
}

// Presence is the durable tail of the presence tracker.
type Presence struct {
	PrincipalID string    `json:"principalId"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Notification is handed to the Notifier for out-of-band delivery.
type Notification struct {
	RecipientID string            `json:"recipientId"`
	Kind        string            `json:"kind"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Preview truncates content to PreviewLength characters.
func Preview(content string) string {
	r := []rune(content)
	if len(r) <= PreviewLength {
		return content
	}
	return string(r[:PreviewLength])
}
