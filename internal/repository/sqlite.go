package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/realtime/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			participants TEXT NOT NULL,
			last_message TEXT,
			last_message_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			attachment TEXT,
			read INTEGER NOT NULL DEFAULT 0,
			edited INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, read, sender_id)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			ticket_id TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL,
			requester_role TEXT NOT NULL,
			category TEXT NOT NULL,
			subcategory TEXT,
			problem TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			assigned_to TEXT,
			rating INTEGER,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			assigned_at DATETIME,
			resolved_at DATETIME,
			closed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS ticket_messages (
			ticket_message_id TEXT PRIMARY KEY,
			ticket_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			content TEXT NOT NULL,
			attachment TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (ticket_id) REFERENCES tickets(ticket_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticket_messages_ticket ON ticket_messages(ticket_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'offline',
			current_chats INTEGER NOT NULL DEFAULT 0,
			max_chats INTEGER NOT NULL DEFAULT 5,
			total_chats INTEGER NOT NULL DEFAULT 0,
			rating_sum INTEGER NOT NULL DEFAULT 0,
			rating_count INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (current_chats >= 0 AND current_chats <= max_chats)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_sessions (
			session_id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			customer_name TEXT,
			customer_email TEXT,
			agent_id TEXT,
			agent_name TEXT,
			history TEXT,
			status TEXT NOT NULL,
			rating INTEGER,
			feedback TEXT,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_sessions_customer ON agent_sessions(customer_id, status)`,
		`CREATE TABLE IF NOT EXISTS agent_session_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			content TEXT NOT NULL,
			ts DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES agent_sessions(session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			request TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'waiting',
			added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES agent_sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_queue_status ON agent_queue(status, seq)`,
		`CREATE TABLE IF NOT EXISTS presence (
			principal_id TEXT PRIMARY KEY,
			online INTEGER NOT NULL,
			last_seen DATETIME NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalAttachment(a *domain.Attachment) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	data, _ := json.Marshal(a)
	return sql.NullString{String: string(data), Valid: true}
}

func unmarshalAttachment(raw sql.NullString) *domain.Attachment {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var a domain.Attachment
	if err := json.Unmarshal([]byte(raw.String), &a); err != nil {
		return nil
	}
	return &a
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

// CreateConversation creates a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	participants, err := json.Marshal(conv.Participants)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, participants, last_message, last_message_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, string(participants), conv.LastMessage, nullTime(conv.LastMessageAt), conv.CreatedAt)
	return err
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var participants string
	var lastMessage sql.NullString
	var lastMessageAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, participants, last_message, last_message_at, created_at FROM conversations WHERE conversation_id = ?`,
		conversationID).Scan(&conv.ID, &participants, &lastMessage, &lastMessageAt, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &conv.Participants); err != nil {
		return nil, fmt.Errorf("corrupt participants for %s: %w", conversationID, err)
	}
	conv.LastMessage = lastMessage.String
	conv.LastMessageAt = timePtr(lastMessageAt)
	return &conv, nil
}

// CreateMessage inserts a message and moves the conversation preview forward.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, sender_id, content, type, attachment, read, edited, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, marshalAttachment(msg.Attachment), msg.CreatedAt, msg.CreatedAt); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message = ?, last_message_at = ? WHERE conversation_id = ?`,
		domain.Preview(msg.Content), msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("conversation %s not found", msg.ConversationID)
	}
	return tx.Commit()
}

const messageColumns = `message_id, conversation_id, sender_id, content, type, attachment, read, edited, deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var attachment sql.NullString
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Type, &attachment,
		&msg.Read, &msg.Edited, &msg.Deleted, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, err
	}
	msg.Attachment = unmarshalAttachment(attachment)
	return &msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

// ListMessages returns the newest limit messages of a conversation (all
// when zero) created before the given time, in creation order. Passing the
// first returned CreatedAt as before pages backwards.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []interface{}{conversationID}

	if !before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, before)
	}

	// newest page first, returned oldest first
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// EditMessage replaces the content of a live message and flags it edited.
// It reports false when the message is missing or already deleted.
func (s *SQLiteStore) EditMessage(ctx context.Context, messageID, content string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited = 1, updated_at = ? WHERE message_id = ? AND deleted = 0`,
		content, at, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SoftDeleteMessage tombstones a message without removing the row.
func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, deleted = 1, updated_at = ? WHERE message_id = ?`,
		domain.DeletedMessageContent, at, messageID)
	return err
}

// MarkMessagesRead flags up to limit unread messages not sent by readerID as
// read and returns how many changed.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE message_id IN (
			SELECT message_id FROM messages
			WHERE conversation_id = ? AND sender_id != ? AND read = 0
			ORDER BY created_at ASC, rowid ASC LIMIT ?
		)`,
		conversationID, readerID, limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CreateTicket creates a new ticket.
func (s *SQLiteStore) CreateTicket(ctx context.Context, t *domain.Ticket) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (ticket_id, requester_id, requester_role, category, subcategory, problem, status, assigned_to, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RequesterID, t.RequesterRole, t.Category, t.Subcategory, t.Problem, t.Status, t.AssignedTo, t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTicket retrieves a ticket by ID.
func (s *SQLiteStore) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	var t domain.Ticket
	var subcategory, assignedTo sql.NullString
	var rating sql.NullInt64
	var assignedAt, resolvedAt, closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT ticket_id, requester_id, requester_role, category, subcategory, problem, status, assigned_to, rating,
			created_at, updated_at, assigned_at, resolved_at, closed_at
		 FROM tickets WHERE ticket_id = ?`, ticketID).Scan(
		&t.ID, &t.RequesterID, &t.RequesterRole, &t.Category, &subcategory, &t.Problem, &t.Status, &assignedTo, &rating,
		&t.CreatedAt, &t.UpdatedAt, &assignedAt, &resolvedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Subcategory = subcategory.String
	t.AssignedTo = assignedTo.String
	t.Rating = intPtr(rating)
	t.AssignedAt = timePtr(assignedAt)
	t.ResolvedAt = timePtr(resolvedAt)
	t.ClosedAt = timePtr(closedAt)
	return &t, nil
}

// UpdateTicketState writes the state machine fields of next, provided the
// stored ticket is still in prevStatus.
func (s *SQLiteStore) UpdateTicketState(ctx context.Context, next *domain.Ticket, prevStatus domain.TicketStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET status = ?, assigned_to = ?, updated_at = ?, assigned_at = ?, resolved_at = ?, closed_at = ?
		 WHERE ticket_id = ? AND status = ?`,
		next.Status, next.AssignedTo, next.UpdatedAt, nullTime(next.AssignedAt), nullTime(next.ResolvedAt), nullTime(next.ClosedAt),
		next.ID, prevStatus)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RateTicket stores the requester's satisfaction rating.
func (s *SQLiteStore) RateTicket(ctx context.Context, ticketID string, rating int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET rating = ? WHERE ticket_id = ?`, rating, ticketID)
	return err
}

// CreateTicketMessage appends a message to a ticket thread.
func (s *SQLiteStore) CreateTicketMessage(ctx context.Context, m *domain.TicketMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ticket_messages (ticket_message_id, ticket_id, sender_id, sender_type, content, attachment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TicketID, m.SenderID, m.SenderType, m.Content, marshalAttachment(m.Attachment), m.CreatedAt)
	return err
}

// ListTicketMessages returns a ticket thread in order.
func (s *SQLiteStore) ListTicketMessages(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticket_message_id, ticket_id, sender_id, sender_type, content, attachment, created_at
		 FROM ticket_messages WHERE ticket_id = ? ORDER BY created_at ASC, rowid ASC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TicketMessage
	for rows.Next() {
		var m domain.TicketMessage
		var attachment sql.NullString
		if err := rows.Scan(&m.ID, &m.TicketID, &m.SenderID, &m.SenderType, &m.Content, &attachment, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Attachment = unmarshalAttachment(attachment)
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertAgent registers an agent or refreshes its name, status and capacity.
// Counters of an existing agent are preserved.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, a *domain.Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id, name, status, current_chats, max_chats, updated_at) VALUES (?, ?, ?, 0, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			name = excluded.name,
			status = CASE
				WHEN excluded.status = 'available' AND agents.current_chats >= excluded.max_chats THEN 'busy'
				ELSE excluded.status END,
			max_chats = MAX(excluded.max_chats, agents.current_chats),
			updated_at = excluded.updated_at`,
		a.ID, a.Name, a.Status, a.MaxChats, a.UpdatedAt)
	return err
}

const agentColumns = `agent_id, name, status, current_chats, max_chats, total_chats, rating_sum, rating_count, updated_at`

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var a domain.Agent
	if err := row.Scan(&a.ID, &a.Name, &a.Status, &a.CurrentChats, &a.MaxChats, &a.TotalChats, &a.RatingSum, &a.RatingCount, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListAgents lists all agents in registration order.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// SetAgentStatus records an explicit status change. An agent at capacity
// cannot be made available.
func (s *SQLiteStore) SetAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET
			status = CASE WHEN ? = 'available' AND current_chats >= max_chats THEN 'busy' ELSE ? END,
			updated_at = ?
		 WHERE agent_id = ?`,
		status, status, time.Now(), agentID)
	return err
}

// AcquireAgentSlot takes one chat slot from an online agent with spare
// capacity, flipping it to busy when the last slot is taken.
func (s *SQLiteStore) AcquireAgentSlot(ctx context.Context, agentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET
			current_chats = current_chats + 1,
			status = CASE WHEN current_chats + 1 >= max_chats THEN 'busy' ELSE status END,
			updated_at = ?
		 WHERE agent_id = ? AND current_chats < max_chats AND status != 'offline'`,
		time.Now(), agentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseAgentSlot returns a chat slot, counts the handled chat and its
// rating, and makes the agent available again once it has no chats left.
func (s *SQLiteStore) ReleaseAgentSlot(ctx context.Context, agentID string, rating *int) (bool, error) {
	ratingSum, ratingCount := 0, 0
	if rating != nil {
		ratingSum, ratingCount = *rating, 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET
			current_chats = current_chats - 1,
			total_chats = total_chats + 1,
			rating_sum = rating_sum + ?,
			rating_count = rating_count + ?,
			status = CASE WHEN current_chats - 1 = 0 AND status != 'offline' THEN 'available' ELSE status END,
			updated_at = ?
		 WHERE agent_id = ? AND current_chats > 0`,
		ratingSum, ratingCount, time.Now(), agentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReturnAgentSlot gives back a slot taken by AcquireAgentSlot for a chat
// that never started. Totals and ratings are untouched.
func (s *SQLiteStore) ReturnAgentSlot(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET
			current_chats = current_chats - 1,
			status = CASE WHEN current_chats - 1 = 0 AND status != 'offline' THEN 'available' ELSE status END,
			updated_at = ?
		 WHERE agent_id = ? AND current_chats > 0`,
		time.Now(), agentID)
	return err
}

// CreateAgentSession creates a new hand-off session.
func (s *SQLiteStore) CreateAgentSession(ctx context.Context, as *domain.AgentSession) error {
	return insertAgentSession(ctx, s.db, as)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertAgentSession(ctx context.Context, ex execer, as *domain.AgentSession) error {
	var history sql.NullString
	if len(as.History) > 0 {
		history = sql.NullString{String: string(as.History), Valid: true}
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO agent_sessions (session_id, customer_id, customer_name, customer_email, agent_id, agent_name, history, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		as.ID, as.CustomerID, as.CustomerName, as.CustomerEmail, as.AgentID, as.AgentName, history, as.Status, as.StartedAt)
	return err
}

const agentSessionColumns = `session_id, customer_id, customer_name, customer_email, agent_id, agent_name, history, status, rating, feedback, started_at, ended_at`

func scanAgentSession(row rowScanner) (*domain.AgentSession, error) {
	var as domain.AgentSession
	var name, email, agentID, agentName, history, feedback sql.NullString
	var rating sql.NullInt64
	var endedAt sql.NullTime
	if err := row.Scan(&as.ID, &as.CustomerID, &name, &email, &agentID, &agentName, &history, &as.Status,
		&rating, &feedback, &as.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	as.CustomerName = name.String
	as.CustomerEmail = email.String
	as.AgentID = agentID.String
	as.AgentName = agentName.String
	if history.Valid && history.String != "" {
		as.History = json.RawMessage(history.String)
	}
	as.Rating = intPtr(rating)
	as.Feedback = feedback.String
	as.EndedAt = timePtr(endedAt)
	return &as, nil
}

// GetAgentSession retrieves a hand-off session and its message log.
func (s *SQLiteStore) GetAgentSession(ctx context.Context, sessionID string) (*domain.AgentSession, error) {
	as, err := scanAgentSession(s.db.QueryRowContext(ctx,
		`SELECT `+agentSessionColumns+` FROM agent_sessions WHERE session_id = ?`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id, sender_type, content, ts FROM agent_session_messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	as.Messages = []domain.AgentSessionMessage{}
	for rows.Next() {
		var m domain.AgentSessionMessage
		if err := rows.Scan(&m.SenderID, &m.SenderType, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		as.Messages = append(as.Messages, m)
	}
	return as, rows.Err()
}

// OpenAgentSessionForCustomer returns the customer's queued or active
// session, if any.
func (s *SQLiteStore) OpenAgentSessionForCustomer(ctx context.Context, customerID string) (*domain.AgentSession, error) {
	as, err := scanAgentSession(s.db.QueryRowContext(ctx,
		`SELECT `+agentSessionColumns+` FROM agent_sessions
		 WHERE customer_id = ? AND status IN ('queued', 'active') ORDER BY started_at DESC LIMIT 1`, customerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return as, err
}

// ActivateAgentSession assigns an agent to a queued session.
func (s *SQLiteStore) ActivateAgentSession(ctx context.Context, sessionID, agentID, agentName string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET agent_id = ?, agent_name = ?, status = 'active' WHERE session_id = ? AND status = 'queued'`,
		agentID, agentName, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteAgentSession ends a queued or active session.
func (s *SQLiteStore) CompleteAgentSession(ctx context.Context, sessionID string, rating *int, feedback string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET status = 'completed', rating = ?, feedback = ?, ended_at = ?
		 WHERE session_id = ? AND status IN ('queued', 'active')`,
		nullInt(rating), feedback, at, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// AppendAgentSessionMessage appends to a session's message log.
func (s *SQLiteStore) AppendAgentSessionMessage(ctx context.Context, sessionID string, m domain.AgentSessionMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_session_messages (session_id, sender_id, sender_type, content, ts) VALUES (?, ?, ?, ?, ?)`,
		sessionID, m.SenderID, m.SenderType, m.Content, m.Timestamp)
	return err
}

// EnqueueAgentSession writes a queued session and its waiting entry in one
// transaction.
func (s *SQLiteStore) EnqueueAgentSession(ctx context.Context, as *domain.AgentSession, e *domain.AgentQueueEntry) error {
	req, err := json.Marshal(e.Request)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertAgentSession(ctx, tx, as); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO agent_queue (entry_id, session_id, request, status, added_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, as.ID, string(req), e.Status, e.AddedAt)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.SessionID = as.ID
	e.Seq = seq
	return nil
}

// QueuePosition returns the 1-indexed position of a waiting entry: the
// number of strictly older waiting entries plus one.
func (s *SQLiteStore) QueuePosition(ctx context.Context, entryID string) (int, error) {
	var pos int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) + 1 FROM agent_queue
		 WHERE status = 'waiting' AND seq < (SELECT seq FROM agent_queue WHERE entry_id = ?)`,
		entryID).Scan(&pos)
	return pos, err
}

// ClaimQueueEntry marks the waiting entry of a session as claimed.
func (s *SQLiteStore) ClaimQueueEntry(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_queue SET status = 'claimed' WHERE session_id = ? AND status = 'waiting'`, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListWaitingEntries returns waiting entries oldest first.
func (s *SQLiteStore) ListWaitingEntries(ctx context.Context, limit int) ([]domain.AgentQueueEntry, error) {
	query := `SELECT seq, entry_id, session_id, request, status, added_at FROM agent_queue WHERE status = 'waiting' ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AgentQueueEntry
	for rows.Next() {
		var e domain.AgentQueueEntry
		var req string
		if err := rows.Scan(&e.Seq, &e.ID, &e.SessionID, &req, &e.Status, &e.AddedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(req), &e.Request); err != nil {
			return nil, fmt.Errorf("corrupt queue entry %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SavePresence upserts the durable presence record.
func (s *SQLiteStore) SavePresence(ctx context.Context, p *domain.Presence) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO presence (principal_id, online, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(principal_id) DO UPDATE SET online = excluded.online, last_seen = excluded.last_seen`,
		p.PrincipalID, p.Online, p.LastSeen)
	return err
}

// GetPresence retrieves the durable presence record.
func (s *SQLiteStore) GetPresence(ctx context.Context, principalID string) (*domain.Presence, error) {
	var p domain.Presence
	err := s.db.QueryRowContext(ctx,
		`SELECT principal_id, online, last_seen FROM presence WHERE principal_id = ?`, principalID).
		Scan(&p.PrincipalID, &p.Online, &p.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
