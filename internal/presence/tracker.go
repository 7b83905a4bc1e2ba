// Package presence debounces online/offline transitions per principal.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/domain"
)

const (
	DefaultOnlineDelay  = time.Second
	DefaultOfflineDelay = 5 * time.Second
)

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// Scheduler creates one-shot timers.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// WallClock schedules on real time.
var WallClock Scheduler = wallScheduler{}

// Saver persists the settled presence record.
type Saver interface {
	SavePresence(ctx context.Context, p *domain.Presence) error
}

// slot is the single pending timer of a principal.
type slot struct {
	timer  Timer
	online bool
	gen    uint64
}

// Tracker holds at most one pending timer per principal. A new Set cancels
// and replaces the pending one; only a timer that fires writes.
type Tracker struct {
	store        Saver
	sched        Scheduler
	onlineDelay  time.Duration
	offlineDelay time.Duration
	now          func() time.Time
	logger       *zap.Logger

	mu      sync.Mutex
	pending map[string]*slot
	gen     uint64

	// onSettled runs after the record is written.
	onSettled func(domain.Presence)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(t *Tracker) { t.sched = s }
}

// WithDelays overrides the online and offline debounce delays.
func WithDelays(online, offline time.Duration) Option {
	return func(t *Tracker) {
		if online > 0 {
			t.onlineDelay = online
		}
		if offline > 0 {
			t.offlineDelay = offline
		}
	}
}

// WithClock overrides the time stamped as last seen.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker writing to store.
func NewTracker(store Saver, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:        store,
		sched:        WallClock,
		onlineDelay:  DefaultOnlineDelay,
		offlineDelay: DefaultOfflineDelay,
		now:          time.Now,
		logger:       logger,
		pending:      make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnSettled registers fn to run after each durable write.
func (t *Tracker) OnSettled(fn func(domain.Presence)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettled = fn
}

// Set schedules principalID to become online or offline after the debounce
// delay, superseding any pending change.
func (t *Tracker) Set(principalID string, online bool) {
	delay := t.offlineDelay
	if online {
		delay = t.onlineDelay
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.pending[principalID]; ok {
		prev.timer.Stop()
	}
	t.gen++
	s := &slot{online: online, gen: t.gen}
	t.pending[principalID] = s
	s.timer = t.sched.AfterFunc(delay, func() { t.fire(principalID, s.gen) })
}

// Pending reports whether principalID has an unsettled change.
func (t *Tracker) Pending(principalID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[principalID]
	return ok
}

// Stop cancels every pending timer.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.pending {
		s.timer.Stop()
		delete(t.pending, id)
	}
}

func (t *Tracker) fire(principalID string, gen uint64) {
	t.mu.Lock()
	s, ok := t.pending[principalID]
	// a timer that lost the race with Stop must not write
	if !ok || s.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.pending, principalID)
	hook := t.onSettled
	t.mu.Unlock()

	p := domain.Presence{PrincipalID: principalID, Online: s.online, LastSeen: t.now()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.SavePresence(ctx, &p); err != nil {
		t.logger.Error("failed to save presence",
			zap.String("principal_id", principalID),
			zap.Bool("online", s.online),
			zap.Error(err))
		return
	}
	if hook != nil {
		hook(p)
	}
}
