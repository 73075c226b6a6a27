package models

import "strings"

// EventKind identifies the shape of an inbound chat event.
type EventKind string

const (
	// EventText is a plain text message typed by the user.
	EventText EventKind = "text"
	// EventCommand is a slash command such as "/add" or "/find paris".
	EventCommand EventKind = "command"
	// EventSelection is a press on one of the selectable options of a previous reply.
	EventSelection EventKind = "selection"
)

// Event is a transport-neutral inbound event. Transports normalize their
// native updates into Events before handing them to the conversation engine.
type Event struct {
	// ID identifies the inbound update for de-duplication (e.g. "tg:1234").
	// Empty when the transport cannot provide a stable identifier.
	ID       string    `json:"id,omitempty"`
	Kind     EventKind `json:"kind"`
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name,omitempty"`
	ChatID   string    `json:"chat_id"`

	// Text is the message body for EventText.
	Text string `json:"text,omitempty"`

	// Command and Args are set for EventCommand. Command is lower-cased and
	// has no leading slash or bot suffix.
	Command string `json:"command,omitempty"`
	Args    string `json:"args,omitempty"`

	// Payload is the opaque option payload for EventSelection and MessageID
	// the message that carried the options.
	Payload   string `json:"payload,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Option is a selectable choice attached to a reply.
type Option struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// Reply is an outbound message produced by the conversation engine.
type Reply struct {
	ChatID   string   `json:"chat_id"`
	Text     string   `json:"text"`
	Markdown bool     `json:"markdown,omitempty"`
	Options  []Option `json:"options,omitempty"`

	// EditMessageID, when set, asks the transport to edit that message in
	// place instead of sending a new one. Transports that cannot edit send a
	// new message.
	EditMessageID string `json:"edit_message_id,omitempty"`
}

// ParseCommand splits a "/name args" text into a lower-cased command name and
// its argument string. A "@botname" suffix on the command is dropped. The
// second return value is false when text is not a command.
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// TextEvent builds an Event for a text body, turning "/command" bodies into
// EventCommand. Text-only transports use it to normalize inbound messages.
func TextEvent(id, userID, userName, chatID, text string) Event {
	ev := Event{ID: id, UserID: userID, UserName: userName, ChatID: chatID}
	if name, args, ok := ParseCommand(text); ok {
		ev.Kind = EventCommand
		ev.Command = name
		ev.Args = args
		return ev
	}
	ev.Kind = EventText
	ev.Text = text
	return ev
}
