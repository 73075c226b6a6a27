package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

type recordedCall struct {
	Method string
	Body   map[string]any
}

// fakeBotAPI answers Bot API calls with canned results and records every
// request body.
type fakeBotAPI struct {
	mu    sync.Mutex
	calls []recordedCall
	// handle returns the status and JSON body for a call.
	handle func(method string, body map[string]any) (int, string)
}

func newFakeBotAPI(t *testing.T, handle func(method string, body map[string]any) (int, string)) (*fakeBotAPI, *Client) {
	t.Helper()
	f := &fakeBotAPI{handle: handle}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "/botTOKEN/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.Error(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		method := strings.TrimPrefix(r.URL.Path, prefix)
		raw, _ := io.ReadAll(r.Body)
		body := map[string]any{}
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{Method: method, Body: body})
		f.mu.Unlock()

		status, resp := f.handle(method, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return f, NewClient("TOKEN", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
}

func (f *fakeBotAPI) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func TestGetMe(t *testing.T) {
	_, c := newFakeBotAPI(t, func(string, map[string]any) (int, string) {
		return 200, `{"ok":true,"result":{"id":7,"is_bot":true,"username":"comptables_bot"}}`
	})
	u, err := c.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "comptables_bot", u.Username)
}

func TestGetUpdatesAdvancesOffset(t *testing.T) {
	f, c := newFakeBotAPI(t, func(string, map[string]any) (int, string) {
		return 200, `{"ok":true,"result":[
			{"update_id":11,"message":{"message_id":1,"chat":{"id":5},"from":{"id":5},"text":"/add"}},
			{"update_id":13,"callback_query":{"id":"q","from":{"id":5},"data":"source_Client","message":{"message_id":2,"chat":{"id":5}}}}
		]}`
	})
	updates, next, err := c.GetUpdates(context.Background(), 10, time.Second)
	require.NoError(t, err)
	assert.Len(t, updates, 2)
	assert.Equal(t, int64(14), next)

	body := f.recorded()[0].Body
	assert.Equal(t, float64(10), body["offset"])
	assert.Equal(t, float64(1), body["timeout"])
	assert.Equal(t, []any{"message", "callback_query"}, body["allowed_updates"])
}

func TestGetUpdatesKeepsOffsetOnError(t *testing.T) {
	_, c := newFakeBotAPI(t, func(string, map[string]any) (int, string) {
		return 409, `{"ok":false,"error_code":409,"description":"Conflict: can't use getUpdates method while webhook is active"}`
	})
	_, next, err := c.GetUpdates(context.Background(), 42, time.Second)
	require.Error(t, err)
	assert.Equal(t, int64(42), next)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 409, reqErr.StatusCode)
	assert.Contains(t, err.Error(), "webhook is active")
}

func TestSendMessageWithKeyboard(t *testing.T) {
	f, c := newFakeBotAPI(t, func(string, map[string]any) (int, string) {
		return 200, `{"ok":true,"result":{"message_id":99,"chat":{"id":5}}}`
	})
	id, err := c.SendMessage(context.Background(), 5, "*Source* ?", true, []models.Option{
		{Label: "👥 Client", Payload: "source_Client"},
		{Label: "🎯 Prospect", Payload: "source_Prospect"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)

	body := f.recorded()[0].Body
	assert.Equal(t, "Markdown", body["parse_mode"])
	assert.Equal(t, float64(5), body["chat_id"])
	markup := body["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "source_Client", first["callback_data"])
}

func TestSendMessageFallsBackToPlainText(t *testing.T) {
	f, c := newFakeBotAPI(t, func(_ string, body map[string]any) (int, string) {
		if body["parse_mode"] == "Markdown" {
			return 400, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: Can't find end of the entity starting at byte offset 3"}`
		}
		return 200, `{"ok":true,"result":{"message_id":3}}`
	})
	id, err := c.SendMessage(context.Background(), 5, "a_b", true, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	calls := f.recorded()
	require.Len(t, calls, 2)
	_, hasMode := calls[1].Body["parse_mode"]
	assert.False(t, hasMode)
	_, hasMarkup := calls[1].Body["reply_markup"]
	assert.False(t, hasMarkup)
}

func TestSendMessageOtherErrorsAreNotRetried(t *testing.T) {
	f, c := newFakeBotAPI(t, func(string, map[string]any) (int, string) {
		return 403, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	})
	_, err := c.SendMessage(context.Background(), 5, "hi", true, nil)
	require.Error(t, err)
	assert.False(t, IsMarkdownParseError(err))
	assert.Len(t, f.recorded(), 1)
}

func TestEditMessageTextIgnoresNotModified(t *testing.T) {
	f, c := newFakeBotAPI(t, func(string, map[string]any) (int, string) {
		return 400, `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`
	})
	require.NoError(t, c.EditMessageText(context.Background(), 5, 9, "done", false, nil))
	body := f.recorded()[0].Body
	assert.Equal(t, "editMessageText", f.recorded()[0].Method)
	assert.Equal(t, float64(9), body["message_id"])
}

func TestWebhookManagement(t *testing.T) {
	f, c := newFakeBotAPI(t, func(string, map[string]any) (int, string) {
		return 200, `{"ok":true,"result":true}`
	})
	ctx := context.Background()
	require.NoError(t, c.SetWebhook(ctx, "https://bot.example.com/telegram/webhook", "s3cret"))
	require.NoError(t, c.DeleteWebhook(ctx))
	require.NoError(t, c.AnswerCallbackQuery(ctx, "q1"))
	require.Error(t, c.SetWebhook(ctx, " ", ""))
	require.Error(t, c.AnswerCallbackQuery(ctx, ""))

	calls := f.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, "setWebhook", calls[0].Method)
	assert.Equal(t, "s3cret", calls[0].Body["secret_token"])
	assert.Equal(t, "deleteWebhook", calls[1].Method)
	assert.Equal(t, "q1", calls[2].Body["callback_query_id"])
}

func TestIsPollTimeout(t *testing.T) {
	assert.False(t, IsPollTimeout(nil))
	assert.True(t, IsPollTimeout(context.DeadlineExceeded))
	assert.False(t, IsPollTimeout(&RequestError{Method: "getUpdates", StatusCode: 502}))
}
