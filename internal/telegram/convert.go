package telegram

import (
	"strconv"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

// EventID is the de-duplication key of an update.
func EventID(updateID int64) string {
	return "tg:" + strconv.FormatInt(updateID, 10)
}

// ToEvent normalizes an update. It returns false for updates the bot does
// not handle: non-text messages, messages without a sender, and button
// presses on messages that are no longer accessible.
func ToEvent(u Update) (models.Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.From == nil || q.Message == nil || q.Message.Chat == nil {
			return models.Event{}, false
		}
		return models.Event{
			ID:        EventID(u.UpdateID),
			Kind:      models.EventSelection,
			UserID:    strconv.FormatInt(q.From.ID, 10),
			UserName:  q.From.DisplayName(),
			ChatID:    strconv.FormatInt(q.Message.Chat.ID, 10),
			Payload:   q.Data,
			MessageID: strconv.FormatInt(q.Message.MessageID, 10),
		}, true

	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.Chat == nil || m.Text == "" {
			return models.Event{}, false
		}
		return models.TextEvent(
			EventID(u.UpdateID),
			strconv.FormatInt(m.From.ID, 10),
			m.From.DisplayName(),
			strconv.FormatInt(m.Chat.ID, 10),
			m.Text,
		), true
	}
	return models.Event{}, false
}

// ParseID parses a chat or message id carried as a string in events and
// replies.
func ParseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
