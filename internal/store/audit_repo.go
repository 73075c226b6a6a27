package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultSubmissionLimit caps ListSubmissions when no limit is given.
const DefaultSubmissionLimit = 50

// Submission is one audited remote write. Error is set when the write
// failed; PageID and URL are then empty for creates.
type Submission struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	PageID    string    `json:"page_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditRepo records the outcome of every remote write.
type AuditRepo interface {
	// SaveSubmission appends a submission. A missing ID or CreatedAt is
	// filled in.
	SaveSubmission(sub Submission) error

	// ListSubmissions returns the most recent submissions first.
	ListSubmissions(limit int) ([]Submission, error)
}

func (s *Submission) prepare() error {
	if s.UserID == "" || s.Action == "" {
		return fmt.Errorf("submission requires user id and action")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultSubmissionLimit
	}
	return limit
}
