// Package messaging connects chat transports to the conversation engine.
//
// A Service normalizes a transport's inbound traffic into models.Event
// values and delivers models.Reply values back. The Dispatcher reads those
// events, runs them through a Handler one user at a time and sends the
// replies.
package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer of a service's event channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long a transport waits on a full
	// event channel before dropping the event.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging: service stopped")

// Service is a pluggable chat transport.
type Service interface {
	// Start begins background processing such as polling.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channel.
	Stop() error

	// Send delivers a reply. Transports that cannot edit messages send
	// edits as new messages.
	Send(ctx context.Context, reply models.Reply) error

	// Events returns the channel of inbound events.
	Events() <-chan models.Event
}

// eventSink is the emit half shared by the services: a buffered channel that
// is closed once on stop and never written to afterwards.
type eventSink struct {
	mu      sync.RWMutex
	once    sync.Once
	events  chan models.Event
	stopped chan struct{}
}

func newEventSink() *eventSink {
	return &eventSink{
		events:  make(chan models.Event, DefaultChannelBufferSize),
		stopped: make(chan struct{}),
	}
}

// emit queues ev, waiting at most DefaultChannelTimeout. It reports false
// when the event was dropped.
func (s *eventSink) emit(ev models.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isStopped() {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.stopped:
		return false
	case <-time.After(DefaultChannelTimeout):
		return false
	}
}

// close stops the sink. Pending emits give up before the channel closes.
func (s *eventSink) close() {
	s.once.Do(func() {
		close(s.stopped)
		s.mu.Lock()
		close(s.events)
		s.mu.Unlock()
	})
}

func (s *eventSink) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}
