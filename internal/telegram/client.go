// Package telegram is a small Bot API client covering what the bot needs:
// long polling, webhooks, messages with inline keyboards, message edits and
// callback acknowledgements.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

const (
	// DefaultBaseURL is the public Bot API endpoint.
	DefaultBaseURL = "https://api.telegram.org"
	// DefaultPollTimeout is the long polling timeout of GetUpdates.
	DefaultPollTimeout = 30 * time.Second

	parseModeMarkdown = "Markdown"
)

// allowedUpdates restricts deliveries to the update kinds the bot handles.
var allowedUpdates = []string{"message", "callback_query"}

// RequestError is a Bot API call answered with ok=false or a non-2xx status.
type RequestError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
	Body        string
}

func (e *RequestError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = strings.TrimSpace(e.Body)
	}
	if desc == "" {
		return fmt.Sprintf("telegram %s: http %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, desc)
}

// IsMarkdownParseError reports whether err is Telegram refusing the message
// entities of a Markdown body.
func IsMarkdownParseError(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	desc := strings.ToLower(reqErr.Description)
	return strings.Contains(desc, "can't parse entities") || strings.Contains(desc, "can't parse entity")
}

// IsNotModified reports whether an edit was refused because the content did
// not change.
func IsNotModified(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && strings.Contains(strings.ToLower(reqErr.Description), "message is not modified")
}

// IsPollTimeout reports whether err is a long poll that ran out of time.
func IsPollTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Opts holds configuration for the Client.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Option configures the Client.
type Option func(*Opts)

// WithBaseURL overrides the Bot API endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Client calls the Bot API for one bot token.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient creates a Client for token.
func NewClient(token string, opts ...Option) *Client {
	cfg := Opts{BaseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultPollTimeout + 30*time.Second}
	}
	return &Client{
		http:    cfg.HTTPClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   token,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// call posts body as JSON to method and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, body, out any) error {
	payload := []byte("{}")
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("telegram %s: marshal request: %w", method, err)
		}
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var env apiResponse
	_ = json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.OK {
		return &RequestError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   env.ErrorCode,
			Description: env.Description,
			Body:        strings.TrimSpace(string(raw)),
		}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "getMe", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUpdates long-polls for updates starting at offset. It returns the
// offset to use for the next call, which acknowledges everything received.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	var updates []Update
	body := getUpdatesRequest{Offset: offset, Timeout: secs, AllowedUpdates: allowedUpdates}
	if err := c.call(reqCtx, "getUpdates", body, &updates); err != nil {
		return nil, offset, err
	}
	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

// SendMessage sends text to chatID and returns the id of the new message.
// A Markdown body Telegram cannot parse is resent as plain text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markdown bool, options []models.Option) (int64, error) {
	req := sendMessageRequest{
		ChatID:                chatID,
		Text:                  nonEmpty(text),
		DisableWebPagePreview: true,
		ReplyMarkup:           Keyboard(options),
	}
	if markdown {
		req.ParseMode = parseModeMarkdown
	}
	var msg Message
	err := c.call(ctx, "sendMessage", req, &msg)
	if err != nil && markdown && IsMarkdownParseError(err) {
		slog.Warn("TelegramClient SendMessage: markdown rejected, sending plain text", "chat_id", chatID, "error", err)
		req.ParseMode = ""
		err = c.call(ctx, "sendMessage", req, &msg)
	}
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessageText replaces the text of a message the bot sent. The inline
// keyboard is replaced by options, or removed when options is empty.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markdown bool, options []models.Option) error {
	req := editMessageTextRequest{
		ChatID:                chatID,
		MessageID:             messageID,
		Text:                  nonEmpty(text),
		DisableWebPagePreview: true,
		ReplyMarkup:           Keyboard(options),
	}
	if markdown {
		req.ParseMode = parseModeMarkdown
	}
	err := c.call(ctx, "editMessageText", req, nil)
	if err != nil && markdown && IsMarkdownParseError(err) {
		slog.Warn("TelegramClient EditMessageText: markdown rejected, sending plain text", "chat_id", chatID, "error", err)
		req.ParseMode = ""
		err = c.call(ctx, "editMessageText", req, nil)
	}
	if IsNotModified(err) {
		return nil
	}
	return err
}

// AnswerCallbackQuery acknowledges a button press so the client stops its
// loading indicator.
func (c *Client) AnswerCallbackQuery(ctx context.Context, queryID string) error {
	if queryID == "" {
		return fmt.Errorf("telegram answerCallbackQuery: missing query id")
	}
	return c.call(ctx, "answerCallbackQuery", answerCallbackQueryRequest{CallbackQueryID: queryID}, nil)
}

// SetWebhook registers url for update delivery. Telegram echoes secret in
// the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("telegram setWebhook: missing url")
	}
	return c.call(ctx, "setWebhook", setWebhookRequest{URL: url, SecretToken: secret, AllowedUpdates: allowedUpdates}, nil)
}

// DeleteWebhook removes any registered webhook so GetUpdates can be used.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", deleteWebhookRequest{}, nil)
}

// Keyboard lays options out one button per row. It returns nil for no
// options.
func Keyboard(options []models.Option) *InlineKeyboardMarkup {
	if len(options) == 0 {
		return nil
	}
	rows := make([][]InlineKeyboardButton, 0, len(options))
	for _, o := range options {
		rows = append(rows, []InlineKeyboardButton{{Text: o.Label, CallbackData: o.Payload}})
	}
	return &InlineKeyboardMarkup{InlineKeyboard: rows}
}

func nonEmpty(text string) string {
	if strings.TrimSpace(text) == "" {
		return "(vide)"
	}
	return text
}
