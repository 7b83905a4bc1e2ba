package presence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/presence"
	"github.com/xiaot623/gogo/realtime/internal/testutil/helpers"
)

type recordingSaver struct {
	mu     sync.Mutex
	writes []domain.Presence
	err    error
}

func (r *recordingSaver) SavePresence(_ context.Context, p *domain.Presence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.writes = append(r.writes, *p)
	return nil
}

func (r *recordingSaver) all() []domain.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Presence(nil), r.writes...)
}

func newTestTracker(saver presence.Saver) (*presence.Tracker, *helpers.ManualScheduler) {
	sched := helpers.NewManualScheduler()
	return presence.NewTracker(saver, zap.NewNop(), presence.WithScheduler(sched)), sched
}

func TestOnlineSettlesAfterDelay(t *testing.T) {
	saver := &recordingSaver{}
	tr, sched := newTestTracker(saver)

	tr.Set("u1", true)
	sched.Advance(999 * time.Millisecond)
	assert.Empty(t, saver.all())
	assert.True(t, tr.Pending("u1"))

	sched.Advance(time.Millisecond)
	writes := saver.all()
	require.Len(t, writes, 1)
	assert.True(t, writes[0].Online)
	assert.False(t, tr.Pending("u1"))
}

func TestBlipDoesNotFlicker(t *testing.T) {
	saver := &recordingSaver{}
	tr, sched := newTestTracker(saver)

	tr.Set("u1", false)
	sched.Advance(2 * time.Second)
	tr.Set("u1", true)
	assert.Equal(t, 1, sched.Active(), "only one pending timer per principal")

	sched.Advance(10 * time.Second)
	writes := saver.all()
	require.Len(t, writes, 1)
	assert.True(t, writes[0].Online)
}

func TestLatestCallWins(t *testing.T) {
	saver := &recordingSaver{}
	tr, sched := newTestTracker(saver)

	tr.Set("u1", true)
	tr.Set("u1", false)
	sched.Advance(time.Second)
	assert.Empty(t, saver.all(), "online timer was superseded")

	sched.Advance(4 * time.Second)
	writes := saver.all()
	require.Len(t, writes, 1)
	assert.False(t, writes[0].Online)
}

func TestPrincipalsAreIndependent(t *testing.T) {
	saver := &recordingSaver{}
	tr, sched := newTestTracker(saver)

	tr.Set("u1", true)
	tr.Set("u2", true)
	assert.Equal(t, 2, sched.Active())
	sched.Advance(time.Second)
	assert.Len(t, saver.all(), 2)
}

func TestOnSettledRunsAfterWrite(t *testing.T) {
	saver := &recordingSaver{}
	tr, sched := newTestTracker(saver)
	var got []domain.Presence
	tr.OnSettled(func(p domain.Presence) { got = append(got, p) })

	tr.Set("u1", false)
	sched.Advance(5 * time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].PrincipalID)

	saver.err = errors.New("store down")
	tr.Set("u2", true)
	sched.Advance(time.Second)
	assert.Len(t, got, 1, "no hook when the write fails")
}

func TestStopCancelsPending(t *testing.T) {
	saver := &recordingSaver{}
	tr, sched := newTestTracker(saver)
	tr.Set("u1", true)
	tr.Stop()
	sched.Advance(time.Minute)
	assert.Empty(t, saver.all())
}

func TestWallClockScheduler(t *testing.T) {
	saver := &recordingSaver{}
	tr := presence.NewTracker(saver, zap.NewNop(), presence.WithDelays(5*time.Millisecond, 5*time.Millisecond))
	tr.Set("u1", true)
	require.Eventually(t, func() bool { return len(saver.all()) == 1 }, time.Second, 5*time.Millisecond)
}
