package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ContactPipe/internal/models"
	"github.com/BTreeMap/ContactPipe/internal/store"
)

const (
	// DefaultUserQueueSize bounds the events waiting for one user.
	DefaultUserQueueSize = 32
	// DefaultIdleTimeout is how long a user's worker lingers without events.
	DefaultIdleTimeout = 2 * time.Minute

	cancelCommand = "cancel"
)

// Handler turns one inbound event into the replies to send.
type Handler interface {
	Handle(ctx context.Context, ev models.Event) []models.Reply
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev models.Event) []models.Reply

func (f HandlerFunc) Handle(ctx context.Context, ev models.Event) []models.Reply {
	return f(ctx, ev)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDedup skips events whose ID was already recorded in repo.
func WithDedup(repo store.DedupRepo) DispatcherOption {
	return func(d *Dispatcher) {
		d.dedup = repo
	}
}

// WithIdleTimeout sets how long an idle user worker is kept.
func WithIdleTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.idleTimeout = timeout
	}
}

// Dispatcher routes events from a Service to a Handler. Each user has a
// worker processing that user's events in arrival order; different users
// are processed in parallel. The cancel command skips the queue so it can
// interrupt a long running step.
type Dispatcher struct {
	svc         Service
	handler     Handler
	dedup       store.DedupRepo
	idleTimeout time.Duration

	mu      sync.Mutex
	queues  map[string]chan models.Event
	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(svc Service, handler Handler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		svc:         svc,
		handler:     handler,
		idleTimeout: DefaultIdleTimeout,
		queues:      make(map[string]chan models.Event),
		closing:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start consumes the service's events until the channel closes or ctx is
// done.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher starting event processing")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer slog.Info("Dispatcher stopped event processing")
		for {
			select {
			case ev, ok := <-d.svc.Events():
				if !ok {
					slog.Debug("Dispatcher events channel closed")
					d.Close()
					return
				}
				d.Dispatch(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close lets the workers finish their queued events and exit. It is called
// when the service's event channel closes.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.closing) })
}

// Wait blocks until the event loop and every worker have returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch schedules ev. Duplicate deliveries are dropped. The cancel command
// does not wait behind the user's queue: it is handled before Dispatch
// returns, so events dispatched after it see the session already ended.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) {
	if d.isDuplicate(ev) {
		slog.Info("Dispatcher: duplicate event skipped", "event_id", ev.ID, "user_id", ev.UserID)
		return
	}
	if ev.Kind == models.EventCommand && ev.Command == cancelCommand {
		d.process(ctx, ev)
		return
	}
	d.enqueue(ctx, ev)
}

func (d *Dispatcher) isDuplicate(ev models.Event) bool {
	if d.dedup == nil || ev.ID == "" {
		return false
	}
	isNew, err := d.dedup.RecordInbound(ev.ID, ev.UserID)
	if err != nil {
		// Fail open: the event is processed.
		slog.Error("Dispatcher: failed to record inbound event", "event_id", ev.ID, "error", err)
		return false
	}
	return !isNew
}

func (d *Dispatcher) enqueue(ctx context.Context, ev models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[ev.UserID]
	if !ok {
		q = make(chan models.Event, DefaultUserQueueSize)
		d.queues[ev.UserID] = q
		d.wg.Add(1)
		go d.worker(ctx, ev.UserID, q)
	}
	select {
	case q <- ev:
	default:
		slog.Warn("Dispatcher: user queue full, event dropped", "user_id", ev.UserID, "event_id", ev.ID)
	}
}

// worker drains one user's queue. It exits after idleTimeout without events
// or once the dispatcher closes.
func (d *Dispatcher) worker(ctx context.Context, userID string, q chan models.Event) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idleTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-q:
			d.process(ctx, ev)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idleTimeout)
		case <-timer.C:
			d.mu.Lock()
			if len(q) > 0 {
				d.mu.Unlock()
				timer.Reset(d.idleTimeout)
				continue
			}
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		case <-d.closing:
			d.mu.Lock()
			delete(d.queues, userID)
			d.mu.Unlock()
			for {
				select {
				case ev := <-q:
					d.process(ctx, ev)
				default:
					return
				}
			}
		case <-ctx.Done():
			d.mu.Lock()
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, ev models.Event) {
	replies := d.handler.Handle(ctx, ev)
	for _, r := range replies {
		if err := d.svc.Send(ctx, r); err != nil {
			slog.Error("Dispatcher: failed to send reply", "user_id", ev.UserID, "chat_id", r.ChatID, "error", err)
		}
	}
	if d.dedup != nil && ev.ID != "" {
		if err := d.dedup.MarkProcessed(ev.ID); err != nil {
			slog.Warn("Dispatcher: failed to mark event processed", "event_id", ev.ID, "error", err)
		}
	}
}
