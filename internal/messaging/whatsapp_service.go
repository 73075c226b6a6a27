package messaging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ContactPipe/internal/models"
	"github.com/BTreeMap/ContactPipe/internal/whatsapp"
)

// WhatsAppService implements Service over a linked WhatsApp account.
// Options are rendered as numbered lists and numeric answers are turned
// back into selections.
type WhatsAppService struct {
	client  whatsapp.Transport
	sink    *eventSink
	options *optionMemory
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a WhatsAppService wrapping client.
func NewWhatsAppService(client whatsapp.Transport) *WhatsAppService {
	return &WhatsAppService{
		client:  client,
		sink:    newEventSink(),
		options: newOptionMemory(),
	}
}

// Start registers the inbound message handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.client.OnMessage(s.handleIncomingMessage)
	slog.Debug("WhatsAppService started")
	return nil
}

// Stop disconnects the client and closes the event channel.
func (s *WhatsAppService) Stop() error {
	s.sink.close()
	s.client.Disconnect()
	slog.Info("WhatsAppService stopped")
	return nil
}

// Events returns the channel of inbound events.
func (s *WhatsAppService) Events() <-chan models.Event {
	return s.sink.events
}

// Send renders reply as plain text with numbered options.
func (s *WhatsAppService) Send(ctx context.Context, reply models.Reply) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	body := reply.Text
	if reply.Markdown {
		body = PlainText(body)
	}
	body = RenderOptions(body, reply.Options)
	if err := s.client.SendMessage(ctx, reply.ChatID, body); err != nil {
		slog.Error("WhatsAppService Send failed", "to", reply.ChatID, "error", err)
		return err
	}
	s.options.remember(reply.ChatID, reply.Options)
	return nil
}

func (s *WhatsAppService) handleIncomingMessage(in whatsapp.InboundMessage) {
	from := strings.TrimPrefix(in.From, "+")
	ev := models.TextEvent("wa:"+in.ID, from, in.PushName, from, in.Text)
	ev = s.options.resolve(ev)
	slog.Debug("WhatsAppService inbound message", "from", from, "kind", ev.Kind)
	if !s.sink.emit(ev) {
		slog.Warn("WhatsAppService: event dropped", "from", from)
	}
}
