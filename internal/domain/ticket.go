package domain

import "time"

// TicketTrigger is an input to the ticket state machine.
type TicketTrigger string

const (
	// TriggerAssign is an employee claiming an unassigned ticket.
	TriggerAssign TicketTrigger = "assign"
	// TriggerEmployeeMessage is an employee posting to the ticket thread.
	TriggerEmployeeMessage TicketTrigger = "employee_message"
	TriggerResolve         TicketTrigger = "resolve"
	TriggerClose           TicketTrigger = "close"
)

// Transition applies trigger, performed by actorID at now, to t and returns
// the resulting ticket. The input ticket is never modified. A trigger that is
// legal but has no effect (a second employee message) returns t unchanged.
//
// Status only moves forward: open -> assigned -> in_progress -> resolved|closed,
// with resolved and closed also reachable straight from assigned, and
// resolved -> closed. Closed is terminal.
func Transition(t Ticket, trigger TicketTrigger, actorID string, now time.Time) (Ticket, error) {
	if t.Status == TicketStatusClosed {
		return t, Conflict("ticket %s is closed", t.ID)
	}

	switch trigger {
	case TriggerAssign:
		if t.Status != TicketStatusOpen || t.AssignedTo != "" {
			return t, Conflict("ticket %s is already assigned", t.ID)
		}
		t.Status = TicketStatusAssigned
		t.AssignedTo = actorID
		t.AssignedAt = &now

	case TriggerEmployeeMessage:
		if t.Status == TicketStatusAssigned && t.AssignedTo == actorID {
			t.Status = TicketStatusInProgress
		} else {
			return t, nil
		}

	case TriggerResolve, TriggerClose:
		if t.AssignedTo == "" || t.AssignedTo != actorID {
			return t, Forbidden("only the assigned employee may %s ticket %s", trigger, t.ID)
		}
		switch t.Status {
		case TicketStatusAssigned, TicketStatusInProgress:
		case TicketStatusResolved:
			if trigger == TriggerResolve {
				return t, Conflict("ticket %s is already resolved", t.ID)
			}
		default:
			return t, Conflict("ticket %s cannot be %sd from %s", t.ID, trigger, t.Status)
		}
		if trigger == TriggerResolve {
			t.Status = TicketStatusResolved
			t.ResolvedAt = &now
		} else {
			t.Status = TicketStatusClosed
			t.ClosedAt = &now
		}

	default:
		return t, Invalid("unknown ticket trigger %q", trigger)
	}

	t.UpdatedAt = now
	return t, nil
}
