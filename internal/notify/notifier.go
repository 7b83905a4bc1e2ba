// Package notify delivers out-of-band notifications (email/SMS/push workers
// consume them downstream).
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/domain"
)

// Notifier hands a notification to a delivery channel.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, domain.Notification) error { return nil }

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher runs notifications in the background after the caller has
// already broadcast. Failures are logged and dropped.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewDispatcher wraps n. Each notification gets timeout to complete.
func NewDispatcher(n Notifier, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if n == nil {
		n = Nop{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifier: n, timeout: timeout, logger: logger}
}

// Dispatch sends n without blocking the caller.
func (d *Dispatcher) Dispatch(n domain.Notification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.logger.Error("notification dropped",
				zap.String("recipient_id", n.RecipientID),
				zap.String("kind", n.Kind),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
