package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/BTreeMap/ContactPipe/internal/models"
	"github.com/BTreeMap/ContactPipe/internal/twiliowhatsapp"
)

// TwilioSignatureHeader carries the request signature on Twilio webhooks.
const TwilioSignatureHeader = "X-Twilio-Signature"

var nonDigits = regexp.MustCompile(`\D`)

// RequestValidator verifies Twilio webhook signatures.
type RequestValidator interface {
	ValidateRequest(url string, params map[string]string, signature string) bool
}

// TwilioService implements Service over the Twilio WhatsApp API. Inbound
// messages arrive through TwilioWebhookHandler.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	validator RequestValidator
	publicURL string
	sink      *eventSink
	options   *optionMemory
}

var _ Service = (*TwilioService)(nil)

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhooks whose signature does not match
// publicURL, the address Twilio is configured to call.
func WithSignatureValidation(v RequestValidator, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a TwilioService.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:  client,
		sink:    newEventSink(),
		options: newOptionMemory(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanonicalPhone strips everything but digits from a Twilio address such as
// "whatsapp:+33 6 12 34 56 78".
func CanonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := nonDigits.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// Start is a no-op; Twilio pushes messages to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	s.sink.close()
	return nil
}

// Events returns the channel of inbound events.
func (s *TwilioService) Events() <-chan models.Event {
	return s.sink.events
}

// Send renders reply as plain text with numbered options.
func (s *TwilioService) Send(ctx context.Context, reply models.Reply) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	to, err := CanonicalPhone(reply.ChatID)
	if err != nil {
		return err
	}
	body := reply.Text
	if reply.Markdown {
		body = PlainText(body)
	}
	if err := s.client.SendMessage(ctx, to, RenderOptions(body, reply.Options)); err != nil {
		slog.Error("TwilioService Send failed", "to", to, "error", err)
		return err
	}
	s.options.remember(to, reply.Options)
	return nil
}

// TwilioWebhookHandler receives inbound WhatsApp messages from Twilio.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("TwilioService webhook: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.validator.ValidateRequest(s.publicURL, params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("TwilioService webhook: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from, err := CanonicalPhone(r.PostFormValue("From"))
	body := strings.TrimSpace(r.PostFormValue("Body"))
	if err != nil || body == "" {
		slog.Warn("TwilioService webhook: missing fields", "from_set", err == nil, "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	id := ""
	if sid := r.PostFormValue("MessageSid"); sid != "" {
		id = "tw:" + sid
	}
	ev := s.options.resolve(models.TextEvent(id, from, r.PostFormValue("ProfileName"), from, body))
	slog.Debug("TwilioService inbound message", "from", from, "kind", ev.Kind)
	if !s.sink.emit(ev) {
		slog.Warn("TwilioService: event dropped", "from", from)
	}

	// Empty TwiML: replies are sent through the REST API.
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}
