package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTicket() Ticket {
	return Ticket{ID: "t1", RequesterID: "u1", Status: TicketStatusOpen}
}

func TestTransitionHappyPath(t *testing.T) {
	now := time.Now()

	tk, err := Transition(openTicket(), TriggerAssign, "e1", now)
	require.NoError(t, err)
	assert.Equal(t, TicketStatusAssigned, tk.Status)
	assert.Equal(t, "e1", tk.AssignedTo)
	require.NotNil(t, tk.AssignedAt)

	tk, err = Transition(tk, TriggerEmployeeMessage, "e1", now)
	require.NoError(t, err)
	assert.Equal(t, TicketStatusInProgress, tk.Status)

	tk, err = Transition(tk, TriggerEmployeeMessage, "e1", now)
	require.NoError(t, err)
	assert.Equal(t, TicketStatusInProgress, tk.Status)

	tk, err = Transition(tk, TriggerClose, "e1", now)
	require.NoError(t, err)
	assert.Equal(t, TicketStatusClosed, tk.Status)
	require.NotNil(t, tk.ClosedAt)
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	in := openTicket()
	_, err := Transition(in, TriggerAssign, "e1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, TicketStatusOpen, in.Status)
	assert.Empty(t, in.AssignedTo)
}

func TestTransitionAssignTwiceConflicts(t *testing.T) {
	tk, err := Transition(openTicket(), TriggerAssign, "e1", time.Now())
	require.NoError(t, err)

	_, err = Transition(tk, TriggerAssign, "e2", time.Now())
	assert.True(t, errors.Is(err, ErrStateConflict))
}

func TestTransitionMessageFromOtherEmployeeKeepsStatus(t *testing.T) {
	tk, _ := Transition(openTicket(), TriggerAssign, "e1", time.Now())
	got, err := Transition(tk, TriggerEmployeeMessage, "e2", time.Now())
	require.NoError(t, err)
	assert.Equal(t, TicketStatusAssigned, got.Status)
}

func TestTransitionCloseByNonAssigneeForbidden(t *testing.T) {
	tk, _ := Transition(openTicket(), TriggerAssign, "e1", time.Now())
	tk, _ = Transition(tk, TriggerEmployeeMessage, "e1", time.Now())

	got, err := Transition(tk, TriggerClose, "e2", time.Now())
	assert.True(t, errors.Is(err, ErrAuthorization))
	assert.Equal(t, TicketStatusInProgress, got.Status)
}

func TestTransitionClosedIsTerminal(t *testing.T) {
	tk, _ := Transition(openTicket(), TriggerAssign, "e1", time.Now())
	tk, err := Transition(tk, TriggerClose, "e1", time.Now())
	require.NoError(t, err)

	for _, trig := range []TicketTrigger{TriggerAssign, TriggerEmployeeMessage, TriggerResolve, TriggerClose} {
		_, err := Transition(tk, trig, "e1", time.Now())
		assert.Truef(t, errors.Is(err, ErrStateConflict), "trigger %s", trig)
	}
}

func TestTransitionResolveThenClose(t *testing.T) {
	tk, _ := Transition(openTicket(), TriggerAssign, "e1", time.Now())

	tk, err := Transition(tk, TriggerResolve, "e1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, TicketStatusResolved, tk.Status)

	_, err = Transition(tk, TriggerResolve, "e1", time.Now())
	assert.True(t, errors.Is(err, ErrStateConflict))

	tk, err = Transition(tk, TriggerClose, "e1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, TicketStatusClosed, tk.Status)
}

func TestTransitionCloseOpenTicketForbidden(t *testing.T) {
	_, err := Transition(openTicket(), TriggerClose, "e1", time.Now())
	assert.True(t, errors.Is(err, ErrAuthorization))
}
