// Package service is the gateway context: it owns the per-process state and
// implements every client command on top of the store and the hub.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/config"
	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/hub"
	"github.com/xiaot623/gogo/realtime/internal/notify"
	"github.com/xiaot623/gogo/realtime/internal/policy"
	"github.com/xiaot623/gogo/realtime/internal/presence"
	"github.com/xiaot623/gogo/realtime/internal/protocol"
	"github.com/xiaot623/gogo/realtime/internal/ratelimit"
	"github.com/xiaot623/gogo/realtime/internal/repository"
)

type Service struct {
	store    store.Store
	hub      *hub.Hub
	policy   *policy.Engine
	limiter  *ratelimit.Limiter
	presence *presence.Tracker
	notifier *notify.Dispatcher
	config   *config.Config
	logger   *zap.Logger
	now      func() time.Time

	// presenceMu orders hub membership changes with the presence updates
	// they trigger.
	presenceMu sync.Mutex
}

func New(store store.Store, h *hub.Hub, policyEngine *policy.Engine, tracker *presence.Tracker, notifier *notify.Dispatcher, cfg *config.Config, logger *zap.Logger) *Service {
	s := &Service{
		store:    store,
		hub:      h,
		policy:   policyEngine,
		limiter:  ratelimit.NewLimiter(cfg.RateLimitEvents, cfg.RateLimitWindow()),
		presence: tracker,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
	tracker.OnSettled(s.onPresenceSettled)
	return s
}

// Hub returns the hub the service broadcasts through.
func (s *Service) Hub() *hub.Hub { return s.hub }

// authorize asks the policy engine whether p may perform in.Action.
func (s *Service) authorize(ctx context.Context, p domain.Principal, in policy.Input) error {
	in.Role = p.Role
	ok, err := s.policy.Allowed(ctx, in)
	if err != nil {
		return domain.Internal(err, "authorization check failed")
	}
	if !ok {
		return domain.Forbidden("%s not allowed", in.Action)
	}
	return nil
}

func (s *Service) broadcast(room, event string, data interface{}, exclude *hub.Connection) {
	if err := s.hub.BroadcastJSON(room, protocol.NewOutbound(event, data), exclude); err != nil {
		s.logger.Error("failed to encode broadcast", zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
}

func (s *Service) reply(conn *hub.Connection, requestID, event string, data interface{}) {
	msg := protocol.NewOutbound(event, data)
	msg.RequestID = requestID
	if err := s.hub.SendJSONToConnection(conn, msg); err != nil {
		s.logger.Warn("failed to reply",
			zap.String("conn_id", conn.ID),
			zap.String("event", event),
			zap.Error(err))
	}
}

// Connect registers an authenticated connection and joins the broadcast
// groups its role may see.
func (s *Service) Connect(ctx context.Context, conn *hub.Connection) {
	p := conn.Principal
	s.presenceMu.Lock()
	if first := s.hub.Register(conn); first {
		s.presence.Set(p.ID, true)
	}
	s.presenceMu.Unlock()
	if s.authorize(ctx, p, policy.Input{Action: policy.ActionJoinEmployees}) == nil {
		s.hub.Join(conn, hub.RoomEmployees)
	}
	if s.authorize(ctx, p, policy.Input{Action: policy.ActionJoinAgents}) == nil {
		s.hub.Join(conn, hub.RoomAgents)
	}

	s.logger.Info("client connected",
		zap.String("conn_id", conn.ID),
		zap.String("principal_id", p.ID),
		zap.String("role", string(p.Role)))
	s.reply(conn, "", protocol.TypeConnected, map[string]interface{}{
		"connectionId": conn.ID,
		"principal":    p,
	})
}

// Disconnect unregisters conn. The principal goes offline only when its last
// connection closes.
func (s *Service) Disconnect(conn *hub.Connection) {
	s.presenceMu.Lock()
	if last := s.hub.Unregister(conn); last {
		s.presence.Set(conn.Principal.ID, false)
	}
	s.presenceMu.Unlock()
	s.logger.Info("client disconnected", zap.String("conn_id", conn.ID), zap.String("principal_id", conn.Principal.ID))
}

func (s *Service) onPresenceSettled(p domain.Presence) {
	if !p.Online && s.hub.IsOnline(p.PrincipalID) {
		// reconnected after the offline timer was armed
		s.presenceMu.Lock()
		if s.hub.IsOnline(p.PrincipalID) {
			s.presence.Set(p.PrincipalID, true)
		}
		s.presenceMu.Unlock()
		return
	}
	data := map[string]interface{}{
		"principalId": p.PrincipalID,
		"online":      p.Online,
		"lastSeen":    p.LastSeen,
	}
	s.broadcast(hub.RoomEmployees, protocol.TypePresenceChanged, data, nil)
	s.broadcast(hub.RoomAgents, protocol.TypePresenceChanged, data, nil)

	if p.Online {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	agent, err := s.store.GetAgent(ctx, p.PrincipalID)
	if err != nil {
		s.logger.Error("failed to load agent", zap.String("agent_id", p.PrincipalID), zap.Error(err))
		return
	}
	if agent == nil || agent.Status == domain.AgentStatusOffline {
		return
	}
	if err := s.store.SetAgentStatus(ctx, agent.ID, domain.AgentStatusOffline); err != nil {
		s.logger.Error("failed to mark agent offline", zap.String("agent_id", agent.ID), zap.Error(err))
		return
	}
	s.publishAgentStatus(ctx, agent.ID)
}

// Handle runs one inbound event for conn. Every state-changing event is
// counted against the connection's rate limit before anything else happens.
func (s *Service) Handle(ctx context.Context, conn *hub.Connection, msg protocol.Inbound) error {
	if msg.StateChanging() && !s.limiter.Allow(&conn.Window, s.now()) {
		s.hub.CountRateLimited()
		return domain.ErrRateLimited
	}
	s.hub.CountEvent()

	rid := msg.Base().RequestID
	switch m := msg.(type) {
	case *protocol.JoinConversationMessage:
		return s.JoinConversation(ctx, conn, rid, m.ConversationID)
	case *protocol.LeaveConversationMessage:
		s.leave(conn, rid, hub.ConversationRoom(m.ConversationID))
		return nil
	case *protocol.SendMessageMessage:
		_, err := s.SendMessage(ctx, conn, m)
		return err
	case *protocol.TypingMessage:
		return s.Typing(conn, m.ConversationID, m.IsTyping)
	case *protocol.MarkAsReadMessage:
		_, err := s.MarkAsRead(ctx, conn, m.ConversationID)
		return err
	case *protocol.EditMessageMessage:
		return s.EditMessage(ctx, conn, m.MessageID, m.Content)
	case *protocol.DeleteMessageMessage:
		return s.DeleteMessage(ctx, conn, m.MessageID)

	case *protocol.JoinTicketMessage:
		return s.JoinTicket(ctx, conn, rid, m.TicketID)
	case *protocol.LeaveTicketMessage:
		s.leave(conn, rid, hub.TicketRoom(m.TicketID))
		return nil
	case *protocol.TicketMessageMessage:
		return s.SendTicketMessage(ctx, conn, m.TicketID, m.Message, m.Attachment)
	case *protocol.AssignTicketMessage:
		return s.AssignTicket(ctx, conn, m.TicketID)
	case *protocol.CloseTicketMessage:
		return s.CloseTicket(ctx, conn, m.TicketID)
	case *protocol.ResolveTicketMessage:
		return s.ResolveTicket(ctx, conn, m.TicketID)
	case *protocol.RateTicketMessage:
		return s.RateTicket(ctx, conn, m.TicketID, m.Rating)

	case *protocol.AgentConnectMessage:
		return s.AgentConnect(ctx, conn, rid, m.Name, m.MaxChats)
	case *protocol.AgentSetStatusMessage:
		return s.AgentSetStatus(ctx, conn, m.Status)
	case *protocol.AgentAcceptChatMessage:
		return s.AcceptChat(ctx, conn, rid, m.SessionID)
	case *protocol.AgentSendMessageMessage:
		return s.AgentSendMessage(ctx, conn, m.SessionID, m.Message)
	case *protocol.AgentEndSessionMessage:
		return s.AgentEndSession(ctx, conn, m.SessionID)
	case *protocol.RequestAgentMessage:
		return s.RequestAgent(ctx, conn, rid, m.CustomerName, m.History)
	case *protocol.JoinAgentSessionMessage:
		return s.JoinAgentSession(ctx, conn, rid, m.SessionID)
	case *protocol.CustomerSendMessageMessage:
		return s.CustomerSendMessage(ctx, conn, m.SessionID, m.Message)
	case *protocol.CustomerEndSessionMessage:
		return s.CustomerEndSession(ctx, conn, m.SessionID, m.Rating, m.Feedback)
	}
	return domain.Invalid("unsupported message type %q", msg.Base().Type)
}

func (s *Service) leave(conn *hub.Connection, requestID, room string) {
	s.hub.Leave(conn, room)
	s.reply(conn, requestID, protocol.TypeLeft, map[string]string{"room": room})
}

// Stats returns the hub counters.
func (s *Service) Stats() hub.Stats {
	return s.hub.Stats()
}
