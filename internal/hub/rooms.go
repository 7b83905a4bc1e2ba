package hub

import "strings"

// Room kinds. A room id is "<kind>:<id>" except for the two broadcast groups.
const (
	KindConversation = "conversation"
	KindTicket       = "ticket"
	KindAgentSession = "agent_session"
	KindUser         = "user"
	KindGroup        = "group"

	RoomEmployees = "employees"
	RoomAgents    = "agents"
)

func ConversationRoom(id string) string { return KindConversation + ":" + id }
func TicketRoom(id string) string       { return KindTicket + ":" + id }
func AgentSessionRoom(id string) string { return KindAgentSession + ":" + id }

// UserRoom is the personal room every connection of a principal joins at
// handshake.
func UserRoom(principalID string) string { return KindUser + ":" + principalID }

// RoomKind returns the namespace of room.
func RoomKind(room string) string {
	if room == RoomEmployees || room == RoomAgents {
		return KindGroup
	}
	kind, _, ok := strings.Cut(room, ":")
	if !ok {
		return "unknown"
	}
	return kind
}

// ParseRoom splits a namespaced room id. Groups have an empty id.
func ParseRoom(room string) (kind, id string, ok bool) {
	if room == RoomEmployees || room == RoomAgents {
		return KindGroup, "", true
	}
	kind, id, ok = strings.Cut(room, ":")
	if !ok || id == "" {
		return "", "", false
	}
	switch kind {
	case KindConversation, KindTicket, KindAgentSession, KindUser:
		return kind, id, true
	}
	return "", "", false
}
