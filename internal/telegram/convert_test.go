package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

func TestToEvent(t *testing.T) {
	alice := &User{ID: 42, Username: "alice", FirstName: "Alice"}
	chat := &Chat{ID: 4242, Type: "private"}

	tests := []struct {
		name   string
		update Update
		want   models.Event
		ok     bool
	}{
		{
			name:   "text",
			update: Update{UpdateID: 1, Message: &Message{MessageID: 10, Chat: chat, From: alice, Text: "Cabinet Martin"}},
			want:   models.Event{ID: "tg:1", Kind: models.EventText, UserID: "42", UserName: "alice", ChatID: "4242", Text: "Cabinet Martin"},
			ok:     true,
		},
		{
			name:   "command with bot suffix",
			update: Update{UpdateID: 2, Message: &Message{MessageID: 11, Chat: chat, From: alice, Text: "/Find@comptables_bot  Paris 15"}},
			want:   models.Event{ID: "tg:2", Kind: models.EventCommand, UserID: "42", UserName: "alice", ChatID: "4242", Command: "find", Args: "Paris 15"},
			ok:     true,
		},
		{
			name: "button press",
			update: Update{UpdateID: 3, CallbackQuery: &CallbackQuery{
				ID: "q", From: alice, Data: "duplicate_update",
				Message: &Message{MessageID: 12, Chat: chat},
			}},
			want: models.Event{ID: "tg:3", Kind: models.EventSelection, UserID: "42", UserName: "alice", ChatID: "4242", Payload: "duplicate_update", MessageID: "12"},
			ok:   true,
		},
		{
			name:   "photo without text",
			update: Update{UpdateID: 4, Message: &Message{MessageID: 13, Chat: chat, From: alice}},
		},
		{
			name:   "button on inaccessible message",
			update: Update{UpdateID: 5, CallbackQuery: &CallbackQuery{ID: "q", From: alice, Data: "x"}},
		},
		{
			name:   "empty update",
			update: Update{UpdateID: 6},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToEvent(tt.update)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "bob", (&User{Username: " bob ", FirstName: "Bob"}).DisplayName())
	assert.Equal(t, "Bob Martin", (&User{FirstName: "Bob", LastName: "Martin"}).DisplayName())
	assert.Equal(t, "Bob", (&User{FirstName: "Bob"}).DisplayName())
	assert.Equal(t, "", (*User)(nil).DisplayName())
}

func TestKeyboard(t *testing.T) {
	assert.Nil(t, Keyboard(nil))
	kb := Keyboard([]models.Option{{Label: "A", Payload: "a"}, {Label: "B", Payload: "b"}})
	assert.Equal(t, [][]InlineKeyboardButton{{{Text: "A", CallbackData: "a"}}, {{Text: "B", CallbackData: "b"}}}, kb.InlineKeyboard)
}
