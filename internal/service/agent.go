package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/hub"
	"github.com/xiaot623/gogo/realtime/internal/policy"
	"github.com/xiaot623/gogo/realtime/internal/protocol"
)

// QueueStatus is what a waiting customer is told about its place in line.
type QueueStatus struct {
	SessionID     string `json:"sessionId"`
	QueuePosition int    `json:"queuePosition"`
	// EstimatedWait is in minutes.
	EstimatedWait int `json:"estimatedWait"`
}

func (s *Service) queueStatus(sessionID string, position int) QueueStatus {
	return QueueStatus{
		SessionID:     sessionID,
		QueuePosition: position,
		EstimatedWait: position * int(s.config.QueueWaitPerPosition()/time.Minute),
	}
}

func (s *Service) loadAgentSession(ctx context.Context, sessionID string) (*domain.AgentSession, error) {
	if sessionID == "" {
		return nil, domain.Invalid("sessionId is required")
	}
	as, err := s.store.GetAgentSession(ctx, sessionID)
	if err != nil {
		return nil, domain.Internal(err, "failed to load agent session")
	}
	if as == nil {
		return nil, domain.NotFound("agent session %s not found", sessionID)
	}
	return as, nil
}

func sessionRelations(as *domain.AgentSession, p domain.Principal, action policy.Action) policy.Input {
	return policy.Input{
		Action:     action,
		IsOwner:    as.CustomerID == p.ID,
		IsAssignee: as.AgentID != "" && as.AgentID == p.ID,
	}
}

func (s *Service) publishAgentStatus(ctx context.Context, agentID string) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil || agent == nil {
		s.logger.Warn("agent status not published", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	s.broadcast(hub.RoomAgents, protocol.TypeAgentStatus, agent, nil)
}

// AgentConnect registers the calling agent as available.
func (s *Service) AgentConnect(ctx context.Context, conn *hub.Connection, requestID, name string, maxChats int) error {
	p := conn.Principal
	if err := s.authorize(ctx, p, policy.Input{Action: policy.ActionAgentManage}); err != nil {
		return err
	}
	if maxChats <= 0 {
		maxChats = s.config.AgentMaxChats
	}
	if name == "" {
		name = p.Name
	}
	if name == "" {
		name = p.Email
	}

	err := s.store.UpsertAgent(ctx, &domain.Agent{
		ID:        p.ID,
		Name:      name,
		Status:    domain.AgentStatusAvailable,
		MaxChats:  maxChats,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return domain.Internal(err, "failed to register agent")
	}
	s.hub.Join(conn, hub.RoomAgents)

	agent, err := s.store.GetAgent(ctx, p.ID)
	if err != nil {
		return domain.Internal(err, "failed to load agent")
	}
	s.reply(conn, requestID, protocol.TypeAgentStatus, agent)
	s.broadcast(hub.RoomAgents, protocol.TypeAgentStatus, agent, conn)

	waiting, err := s.store.ListWaitingEntries(ctx, 0)
	if err != nil {
		return domain.Internal(err, "failed to list queue")
	}
	s.reply(conn, requestID, protocol.TypeQueueUpdate, queueUpdate(waiting))
	return nil
}

// AgentSetStatus changes the calling agent's availability. An agent at
// capacity stays busy.
func (s *Service) AgentSetStatus(ctx context.Context, conn *hub.Connection, status domain.AgentStatus) error {
	p := conn.Principal
	if err := s.authorize(ctx, p, policy.Input{Action: policy.ActionAgentManage}); err != nil {
		return err
	}
	if !status.Valid() {
		return domain.Invalid("unknown agent status %q", status)
	}
	agent, err := s.store.GetAgent(ctx, p.ID)
	if err != nil {
		return domain.Internal(err, "failed to load agent")
	}
	if agent == nil {
		return domain.NotFound("agent %s is not registered, send agent_connect first", p.ID)
	}
	if err := s.store.SetAgentStatus(ctx, p.ID, status); err != nil {
		return domain.Internal(err, "failed to set agent status")
	}
	s.publishAgentStatus(ctx, p.ID)
	return nil
}

// pickAgents returns the agents that can take a chat, fewest current chats
// first. Ties keep registration order.
func pickAgents(agents []domain.Agent) []domain.Agent {
	var out []domain.Agent
	for _, a := range agents {
		if a.Status == domain.AgentStatusOffline {
			continue
		}
		if a.Status == domain.AgentStatusAvailable || a.CurrentChats < a.MaxChats {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CurrentChats < out[j].CurrentChats })
	return out
}

// RequestAgent hands the calling customer to the least loaded agent, or
// queues the request when nobody has capacity.
func (s *Service) RequestAgent(ctx context.Context, conn *hub.Connection, requestID, customerName string, history json.RawMessage) error {
	p := conn.Principal
	open, err := s.store.OpenAgentSessionForCustomer(ctx, p.ID)
	if err != nil {
		return domain.Internal(err, "failed to look up agent sessions")
	}
	if open != nil {
		return domain.Conflict("customer already has %s session %s", open.Status, open.ID)
	}
	if customerName == "" {
		customerName = p.Name
	}
	req := domain.AgentRequest{CustomerID: p.ID, CustomerName: customerName, CustomerEmail: p.Email, History: history}

	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return domain.Internal(err, "failed to list agents")
	}
	for _, candidate := range pickAgents(agents) {
		ok, err := s.store.AcquireAgentSlot(ctx, candidate.ID)
		if err != nil {
			return domain.Internal(err, "failed to reserve agent")
		}
		if ok {
			return s.startSession(ctx, conn, requestID, req, candidate)
		}
	}
	return s.enqueue(ctx, conn, requestID, req)
}

func (s *Service) startSession(ctx context.Context, conn *hub.Connection, requestID string, req domain.AgentRequest, agent domain.Agent) error {
	as := &domain.AgentSession{
		ID:            uuid.New().String(),
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		AgentID:       agent.ID,
		AgentName:     agent.Name,
		History:       req.History,
		Status:        domain.AgentSessionActive,
		Messages:      []domain.AgentSessionMessage{},
		StartedAt:     s.now(),
	}
	if err := s.store.CreateAgentSession(ctx, as); err != nil {
		if rerr := s.store.ReturnAgentSlot(ctx, agent.ID); rerr != nil {
			s.logger.Error("failed to return agent slot", zap.String("agent_id", agent.ID), zap.Error(rerr))
		}
		return domain.Internal(err, "failed to create agent session")
	}

	room := hub.AgentSessionRoom(as.ID)
	s.hub.JoinPrincipal(as.CustomerID, room)
	s.hub.JoinPrincipal(agent.ID, room)

	s.reply(conn, requestID, protocol.TypeAgentSessionStarted, as)
	s.broadcast(hub.UserRoom(agent.ID), protocol.TypeAgentSessionStarted, as, nil)
	s.publishAgentStatus(ctx, agent.ID)
	return nil
}

func (s *Service) enqueue(ctx context.Context, conn *hub.Connection, requestID string, req domain.AgentRequest) error {
	now := s.now()
	as := &domain.AgentSession{
		ID:            uuid.New().String(),
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		History:       req.History,
		Status:        domain.AgentSessionQueued,
		StartedAt:     now,
	}
	entry := &domain.AgentQueueEntry{
		ID:        uuid.New().String(),
		SessionID: as.ID,
		Request:   req,
		Status:    domain.QueueEntryWaiting,
		AddedAt:   now,
	}
	if err := s.store.EnqueueAgentSession(ctx, as, entry); err != nil {
		return domain.Internal(err, "failed to enqueue agent request")
	}
	pos, err := s.store.QueuePosition(ctx, entry.ID)
	if err != nil {
		return domain.Internal(err, "failed to compute queue position")
	}

	s.hub.JoinPrincipal(as.CustomerID, hub.AgentSessionRoom(as.ID))
	s.reply(conn, requestID, protocol.TypeQueueStatus, s.queueStatus(as.ID, pos))
	s.broadcastQueue(ctx, false)
	return nil
}

// AcceptChat assigns the calling agent to a queued session.
func (s *Service) AcceptChat(ctx context.Context, conn *hub.Connection, requestID, sessionID string) error {
	p := conn.Principal
	if err := s.authorize(ctx, p, policy.Input{Action: policy.ActionAgentManage}); err != nil {
		return err
	}
	as, err := s.loadAgentSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if as.Status != domain.AgentSessionQueued {
		return domain.Conflict("agent session %s is already %s", as.ID, as.Status)
	}
	agent, err := s.store.GetAgent(ctx, p.ID)
	if err != nil {
		return domain.Internal(err, "failed to load agent")
	}
	if agent == nil {
		return domain.NotFound("agent %s is not registered, send agent_connect first", p.ID)
	}

	ok, err := s.store.AcquireAgentSlot(ctx, agent.ID)
	if err != nil {
		return domain.Internal(err, "failed to reserve agent")
	}
	if !ok {
		return domain.Conflict("agent %s has no free chat slot", agent.ID)
	}
	activated, err := s.store.ActivateAgentSession(ctx, as.ID, agent.ID, agent.Name)
	if err != nil || !activated {
		if rerr := s.store.ReturnAgentSlot(ctx, agent.ID); rerr != nil {
			s.logger.Error("failed to return agent slot", zap.String("agent_id", agent.ID), zap.Error(rerr))
		}
		if err != nil {
			return domain.Internal(err, "failed to activate agent session")
		}
		return domain.Conflict("agent session %s was already accepted", as.ID)
	}
	if _, err := s.store.ClaimQueueEntry(ctx, as.ID); err != nil {
		s.logger.Error("failed to claim queue entry", zap.String("session_id", as.ID), zap.Error(err))
	}

	as.Status = domain.AgentSessionActive
	as.AgentID = agent.ID
	as.AgentName = agent.Name

	room := hub.AgentSessionRoom(as.ID)
	s.hub.Join(conn, room)
	s.hub.JoinPrincipal(agent.ID, room)
	s.hub.JoinPrincipal(as.CustomerID, room)

	s.reply(conn, requestID, protocol.TypeAgentSessionStarted, as)
	s.broadcast(hub.UserRoom(as.CustomerID), protocol.TypeAgentJoined, map[string]interface{}{
		"sessionId": as.ID,
		"agentId":   agent.ID,
		"agentName": agent.Name,
	}, nil)
	s.publishAgentStatus(ctx, agent.ID)
	s.broadcastQueue(ctx, true)
	return nil
}

// AgentSendMessage appends the assigned agent's message to the session log.
func (s *Service) AgentSendMessage(ctx context.Context, conn *hub.Connection, sessionID, content string) error {
	return s.sessionMessage(ctx, conn, sessionID, content, domain.SenderAgent)
}

// CustomerSendMessage appends the owning customer's message to the session log.
func (s *Service) CustomerSendMessage(ctx context.Context, conn *hub.Connection, sessionID, content string) error {
	return s.sessionMessage(ctx, conn, sessionID, content, domain.SenderCustomer)
}

func (s *Service) sessionMessage(ctx context.Context, conn *hub.Connection, sessionID, content string, sender domain.SenderType) error {
	if err := validateContent("message", content); err != nil {
		return err
	}
	as, err := s.loadAgentSession(ctx, sessionID)
	if err != nil {
		return err
	}

	action, event := policy.ActionCustomerSessionSend, protocol.TypeCustomerMessage
	if sender == domain.SenderAgent {
		action, event = policy.ActionAgentSessionWrite, protocol.TypeAgentMessage
	}
	if err := s.authorize(ctx, conn.Principal, sessionRelations(as, conn.Principal, action)); err != nil {
		return err
	}
	switch {
	case as.Status == domain.AgentSessionCompleted:
		return domain.Conflict("agent session %s has ended", as.ID)
	case sender == domain.SenderAgent && as.Status != domain.AgentSessionActive:
		return domain.Conflict("agent session %s is not active", as.ID)
	}

	m := domain.AgentSessionMessage{
		SenderID:   conn.Principal.ID,
		SenderType: sender,
		Content:    content,
		Timestamp:  s.now(),
	}
	if err := s.store.AppendAgentSessionMessage(ctx, as.ID, m); err != nil {
		return domain.Internal(err, "failed to save session message")
	}
	s.broadcast(hub.AgentSessionRoom(as.ID), event, map[string]interface{}{
		"sessionId": as.ID,
		"senderId":  m.SenderID,
		"message":   m.Content,
		"timestamp": m.Timestamp,
	}, nil)
	return nil
}

// JoinAgentSession re-subscribes the session's customer or agent, for
// example after a reconnect.
func (s *Service) JoinAgentSession(ctx context.Context, conn *hub.Connection, requestID, sessionID string) error {
	as, err := s.loadAgentSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, conn.Principal, sessionRelations(as, conn.Principal, policy.ActionJoinAgentSession)); err != nil {
		return err
	}
	room := hub.AgentSessionRoom(as.ID)
	s.hub.Join(conn, room)
	s.reply(conn, requestID, protocol.TypeJoined, map[string]interface{}{"room": room, "session": as})
	return nil
}

// AgentEndSession ends a session on behalf of its assigned agent.
func (s *Service) AgentEndSession(ctx context.Context, conn *hub.Connection, sessionID string) error {
	as, err := s.loadAgentSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, conn.Principal, sessionRelations(as, conn.Principal, policy.ActionAgentSessionWrite)); err != nil {
		return err
	}
	return s.EndSession(ctx, as.ID, nil, "", domain.SenderAgent)
}

// CustomerEndSession ends a session on behalf of its customer, who may rate
// the agent.
func (s *Service) CustomerEndSession(ctx context.Context, conn *hub.Connection, sessionID string, rating *int, feedback string) error {
	as, err := s.loadAgentSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, conn.Principal, sessionRelations(as, conn.Principal, policy.ActionCustomerSessionSend)); err != nil {
		return err
	}
	return s.EndSession(ctx, as.ID, rating, feedback, domain.SenderCustomer)
}

// EndSession completes a session by id, whether or not either side is still
// connected. The agent's slot is released and the rating, if any, counted.
func (s *Service) EndSession(ctx context.Context, sessionID string, rating *int, feedback string, endedBy domain.SenderType) error {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return domain.Invalid("rating must be between 1 and 5")
	}
	as, err := s.loadAgentSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if as.Status == domain.AgentSessionCompleted {
		return domain.Conflict("agent session %s has already ended", as.ID)
	}

	now := s.now()
	done, err := s.store.CompleteAgentSession(ctx, as.ID, rating, feedback, now)
	if err != nil {
		return domain.Internal(err, "failed to end agent session")
	}
	if !done {
		return domain.Conflict("agent session %s has already ended", as.ID)
	}

	wasQueued := as.Status == domain.AgentSessionQueued
	if wasQueued {
		if _, err := s.store.ClaimQueueEntry(ctx, as.ID); err != nil {
			s.logger.Error("failed to drop queue entry", zap.String("session_id", as.ID), zap.Error(err))
		}
	} else if as.AgentID != "" {
		released, err := s.store.ReleaseAgentSlot(ctx, as.AgentID, rating)
		if err != nil {
			return domain.Internal(err, "failed to release agent")
		}
		if !released {
			s.logger.Warn("agent had no chat to release", zap.String("agent_id", as.AgentID), zap.String("session_id", as.ID))
		}
	}

	s.broadcast(hub.AgentSessionRoom(as.ID), protocol.TypeSessionEnded, map[string]interface{}{
		"sessionId": as.ID,
		"endedBy":   endedBy,
		"rating":    rating,
		"endedAt":   now,
	}, nil)
	s.logger.Info("agent session ended",
		zap.String("session_id", as.ID),
		zap.String("agent_id", as.AgentID),
		zap.String("ended_by", string(endedBy)))

	if as.AgentID != "" {
		s.publishAgentStatus(ctx, as.AgentID)
	}
	s.broadcastQueue(ctx, true)
	return nil
}

func queueUpdate(waiting []domain.AgentQueueEntry) map[string]interface{} {
	entries := make([]map[string]interface{}, 0, len(waiting))
	for i, e := range waiting {
		entries = append(entries, map[string]interface{}{
			"sessionId":     e.SessionID,
			"customerId":    e.Request.CustomerID,
			"customerName":  e.Request.CustomerName,
			"addedAt":       e.AddedAt,
			"queuePosition": i + 1,
		})
	}
	return map[string]interface{}{"waiting": len(waiting), "entries": entries}
}

// broadcastQueue tells agents about the backlog and, with customers set,
// every waiting customer its current position. Positions come from insertion
// order, so removing an earlier entry never reorders later ones.
func (s *Service) broadcastQueue(ctx context.Context, customers bool) {
	waiting, err := s.store.ListWaitingEntries(ctx, 0)
	if err != nil {
		s.logger.Error("failed to list queue", zap.Error(err))
		return
	}
	s.broadcast(hub.RoomAgents, protocol.TypeQueueUpdate, queueUpdate(waiting), nil)
	if !customers {
		return
	}
	for i, e := range waiting {
		s.broadcast(hub.UserRoom(e.Request.CustomerID), protocol.TypeQueueStatus, s.queueStatus(e.SessionID, i+1), nil)
	}
}
