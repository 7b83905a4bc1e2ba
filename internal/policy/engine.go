package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/gogo/realtime/internal/domain"
)

// Action names a gated operation.
type Action string

const (
	ActionJoinConversation    Action = "join_conversation"
	ActionSendMessage         Action = "send_message"
	ActionReadHistory         Action = "read_history"
	ActionJoinTicket          Action = "join_ticket"
	ActionTicketMessage       Action = "ticket_message"
	ActionAssignTicket        Action = "assign_ticket"
	ActionRateTicket          Action = "rate_ticket"
	ActionJoinEmployees       Action = "join_employees"
	ActionJoinAgents          Action = "join_agents"
	ActionAgentManage         Action = "agent_manage"
	ActionAgentSessionWrite   Action = "agent_session_write"
	ActionCustomerSessionSend Action = "customer_session_send"
	ActionJoinAgentSession    Action = "join_agent_session"
)

// Input carries the facts a decision is made on. Relations are computed by
// the caller from current durable state.
type Input struct {
	Action        Action      `json:"action"`
	Role          domain.Role `json:"role"`
	IsParticipant bool        `json:"is_participant"`
	IsOwner       bool        `json:"is_owner"`
	IsAssignee    bool        `json:"is_assignee"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.gateway.authz.allow"),
		rego.Module("gateway_authz.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Allowed evaluates the policy for input. Anything but an explicit true is a
// denial.
func (e *Engine) Allowed(ctx context.Context, input Input) (bool, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}

// DefaultPolicy is the role policy shipped with the gateway.
const DefaultPolicy = `
package gateway.authz

import rego.v1

default allow := false

staff := {"employee", "admin"}

agents := {"agent", "admin"}

allow if {
	input.action in {"join_conversation", "send_message", "read_history"}
	input.is_participant
}

allow if {
	input.action == "read_history"
	input.role in staff
}

allow if {
	input.action in {"join_ticket", "ticket_message"}
	input.is_owner
}

allow if {
	input.action in {"join_ticket", "ticket_message"}
	input.is_assignee
}

allow if {
	input.action in {"join_ticket", "ticket_message", "assign_ticket", "join_employees"}
	input.role in staff
}

allow if {
	input.action == "rate_ticket"
	input.is_owner
}

allow if {
	input.action in {"join_agents", "agent_manage"}
	input.role in agents
}

allow if {
	input.action == "agent_session_write"
	input.role in agents
	input.is_assignee
}

allow if {
	input.action == "customer_session_send"
	input.is_owner
}

allow if {
	input.action == "join_agent_session"
	input.is_owner
}

allow if {
	input.action == "join_agent_session"
	input.is_assignee
}
`
