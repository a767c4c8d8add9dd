package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification is one message for one user about one Kanban request.
type Notification struct {
	UserID   uuid.UUID `json:"user_id"`
	KanbanID uuid.UUID `json:"kanban_id"`
	Message  string    `json:"message"`
}

// Sender delivers a single notification over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher hands notification batches to every sender off the request path.
type Dispatcher struct {
	senders []Sender
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(logger *zap.Logger, timeout time.Duration, senders ...Sender) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{senders: senders, timeout: timeout, logger: logger}
}

// Dispatch returns immediately; delivery runs on its own goroutine with a context
// detached from the caller's request. Failures are logged and dropped.
func (d *Dispatcher) Dispatch(batch []Notification) {
	if len(batch) == 0 || len(d.senders) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.deliver(ctx, batch)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, batch []Notification) {
	for _, n := range batch {
		for _, s := range d.senders {
			if err := d.safeSend(ctx, s, n); err != nil {
				d.logger.Warn("Notification delivery failed",
					zap.String("sender", s.Name()),
					zap.String("user_id", n.UserID.String()),
					zap.String("kanban_id", n.KanbanID.String()),
					zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) safeSend(ctx context.Context, s Sender, n Notification) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sender panicked: %v", p)
		}
	}()
	return s.Send(ctx, n)
}

// Wait blocks until every dispatched batch has been processed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
