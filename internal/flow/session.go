// Package flow implements the record-entry conversation.
//
// Machine is a pure transition function over an explicit Session state.
// Engine wraps it with the side effects: authorization, the session store,
// duplicate lookups, remote writes, auditing and event publication.
package flow

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

// State is the step a session is waiting on.
type State string

const (
	StateAskingName        State = "ASKING_NAME"
	StateAskingContact     State = "ASKING_CONTACT"
	StateAskingEmail       State = "ASKING_EMAIL"
	StateAskingPhone       State = "ASKING_PHONE"
	StateAskingCity        State = "ASKING_CITY"
	StateAskingSource      State = "ASKING_SOURCE"
	StateAskingNotes       State = "ASKING_NOTES"
	StateHandlingDuplicate State = "HANDLING_DUPLICATE"
	// StateSubmitting covers the duplicate check and the remote write.
	StateSubmitting State = "SUBMITTING"
)

// ErrSessionNotFound is returned by a SessionStore when the user has no
// active session.
var ErrSessionNotFound = errors.New("flow: session not found")

// Session is the in-memory progress of one user's conversation.
type Session struct {
	// ID changes every time a conversation starts. It lets the engine detect
	// that a session was cancelled or restarted during a remote call.
	ID     string       `json:"id"`
	UserID string       `json:"user_id"`
	ChatID string       `json:"chat_id"`
	State  State        `json:"state"`
	Fields models.Draft `json:"fields"`

	// PendingMatchID and PendingMatchTitle are set only while handling a
	// duplicate.
	PendingMatchID    string `json:"pending_match_id,omitempty"`
	PendingMatchTitle string `json:"pending_match_title,omitempty"`

	// AddedBy is the operator handle written to the record on create.
	AddedBy string `json:"added_by,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = s.Fields.Clone()
	return &c
}

// SessionStore holds at most one session per user id. Implementations must
// be safe for concurrent use and must not share Session values with callers.
type SessionStore interface {
	Get(ctx context.Context, userID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID string) error
	// Replace stores s only if the user's current session has the same ID.
	// It reports false when the session was cancelled or restarted.
	Replace(ctx context.Context, s *Session) (bool, error)
	// Remove deletes the user's session only if its ID is s.ID.
	Remove(ctx context.Context, s *Session) error
}
