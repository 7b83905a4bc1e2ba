// Package domain defines the core domain models for the realtime gateway.
package domain

import "fmt"

// Role is the role carried by an authenticated principal.
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSeller   Role = "seller"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
	RoleAgent    Role = "agent"
)

// ParseRole maps a raw claim value onto a known role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleBuyer, RoleSeller, RoleEmployee, RoleAdmin, RoleAgent:
		return Role(s), nil
	case "user", "customer":
		return RoleBuyer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// IsStaff reports whether the role belongs to the support staff.
func (r Role) IsStaff() bool {
	switch r {
	case RoleEmployee, RoleAdmin:
		return true
	case RoleBuyer, RoleSeller, RoleAgent:
		return false
	}
	return false
}

// IsAgent reports whether the role may take hand-off chats.
func (r Role) IsAgent() bool {
	switch r {
	case RoleAgent, RoleAdmin:
		return true
	case RoleBuyer, RoleSeller, RoleEmployee:
		return false
	}
	return false
}

// MessageType represents the kind of a conversation message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// TicketStatus represents the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusAssigned   TicketStatus = "assigned"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// SenderType identifies which side of a ticket or hand-off wrote a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderEmployee SenderType = "employee"
	SenderAgent    SenderType = "agent"
)

// AgentSessionStatus represents the state of a hand-off session.
type AgentSessionStatus string

const (
	AgentSessionQueued    AgentSessionStatus = "queued"
	AgentSessionActive    AgentSessionStatus = "active"
	AgentSessionCompleted AgentSessionStatus = "completed"
)

// QueueEntryStatus represents the state of an agent queue entry.
type QueueEntryStatus string

const (
	QueueEntryWaiting QueueEntryStatus = "waiting"
	QueueEntryClaimed QueueEntryStatus = "claimed"
)

// AgentStatus represents the availability of a human agent.
type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "available"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusOffline   AgentStatus = "offline"
)

// Valid reports whether s is a known agent status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusAvailable, AgentStatusBusy, AgentStatusOffline:
		return true
	}
	return false
}
