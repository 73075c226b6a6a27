package messaging

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/ContactPipe/internal/models"
	"github.com/BTreeMap/ContactPipe/internal/telegram"
)

const (
	// SecretTokenHeader carries the webhook secret on Telegram deliveries.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

	maxWebhookBody   = 1 << 20
	pollRetryBackoff = 2 * time.Second
)

// TelegramAPI is the part of the Bot API the service uses.
type TelegramAPI interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, int64, error)
	SendMessage(ctx context.Context, chatID int64, text string, markdown bool, options []models.Option) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markdown bool, options []models.Option) error
	AnswerCallbackQuery(ctx context.Context, queryID string) error
}

var _ TelegramAPI = (*telegram.Client)(nil)

// TelegramOption configures a TelegramService.
type TelegramOption func(*TelegramService)

// WithPolling makes Start long-poll getUpdates. Without it updates arrive
// through WebhookHandler.
func WithPolling(timeout time.Duration) TelegramOption {
	return func(s *TelegramService) {
		s.polling = true
		s.pollTimeout = timeout
	}
}

// WithWebhookSecret requires secret in the SecretTokenHeader of webhook
// deliveries.
func WithWebhookSecret(secret string) TelegramOption {
	return func(s *TelegramService) {
		s.secret = secret
	}
}

// TelegramService implements Service over the Telegram Bot API.
type TelegramService struct {
	api         TelegramAPI
	sink        *eventSink
	polling     bool
	pollTimeout time.Duration
	secret      string
	backoff     time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Service = (*TelegramService)(nil)

// NewTelegramService creates a TelegramService.
func NewTelegramService(api TelegramAPI, opts ...TelegramOption) *TelegramService {
	s := &TelegramService{api: api, sink: newEventSink(), backoff: pollRetryBackoff}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the polling loop when polling is enabled.
func (s *TelegramService) Start(ctx context.Context) error {
	if !s.polling {
		slog.Debug("TelegramService Start: webhook mode, waiting for deliveries")
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poll(ctx)
	}()
	slog.Info("TelegramService polling started", "timeout", s.pollTimeout)
	return nil
}

// Stop ends polling and closes the event channel.
func (s *TelegramService) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.sink.close()
	slog.Info("TelegramService stopped")
	return nil
}

// Events returns the channel of inbound events.
func (s *TelegramService) Events() <-chan models.Event {
	return s.sink.events
}

func (s *TelegramService) poll(ctx context.Context) {
	var offset int64
	for ctx.Err() == nil {
		updates, next, err := s.api.GetUpdates(ctx, offset, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if telegram.IsPollTimeout(err) {
				continue
			}
			slog.Error("TelegramService poll: getUpdates failed", "offset", offset, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.backoff):
			}
			continue
		}
		offset = next
		for _, u := range updates {
			s.handleUpdate(ctx, u)
		}
	}
}

// handleUpdate acknowledges button presses and forwards the normalized
// event.
func (s *TelegramService) handleUpdate(ctx context.Context, u telegram.Update) {
	if q := u.CallbackQuery; q != nil && q.ID != "" {
		if err := s.api.AnswerCallbackQuery(ctx, q.ID); err != nil {
			slog.Warn("TelegramService: failed to answer callback query", "update_id", u.UpdateID, "error", err)
		}
	}
	ev, ok := telegram.ToEvent(u)
	if !ok {
		slog.Debug("TelegramService: ignoring update", "update_id", u.UpdateID)
		return
	}
	if !s.sink.emit(ev) {
		slog.Warn("TelegramService: event dropped", "update_id", u.UpdateID, "user_id", ev.UserID)
	}
}

// WebhookHandler receives updates pushed by Telegram. Any decodable update
// is answered 200 so Telegram does not redeliver it.
func (s *TelegramService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.secret != "" {
		got := r.Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			slog.Warn("TelegramService webhook: bad secret token", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	var u telegram.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&u); err != nil {
		slog.Warn("TelegramService webhook: invalid update", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.handleUpdate(r.Context(), u)
	w.WriteHeader(http.StatusOK)
}

// Send delivers a reply, editing the original message when asked to. An
// edit that fails falls back to a new message.
func (s *TelegramService) Send(ctx context.Context, reply models.Reply) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	chatID, err := telegram.ParseID(reply.ChatID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", reply.ChatID, err)
	}
	if reply.EditMessageID != "" {
		messageID, perr := telegram.ParseID(reply.EditMessageID)
		if perr == nil {
			err = s.api.EditMessageText(ctx, chatID, messageID, reply.Text, reply.Markdown, reply.Options)
			if err == nil {
				return nil
			}
			slog.Warn("TelegramService Send: edit failed, sending new message", "chat_id", chatID, "message_id", messageID, "error", err)
		}
	}
	if _, err := s.api.SendMessage(ctx, chatID, reply.Text, reply.Markdown, reply.Options); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}
