package store

import (
	"time"
)

// DedupRecord represents an inbound update deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	SenderID    string     `json:"sender_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound update deduplication.
type DedupRepo interface {
	// IsDuplicate checks if an update id has already been recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound inserts a new inbound update record. Returns false if the
	// update was already recorded (duplicate).
	RecordInbound(messageID, senderID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for an update.
	MarkProcessed(messageID string) error

	// PruneInbound deletes records received before the cutoff and returns
	// how many were removed.
	PruneInbound(before time.Time) (int64, error)
}
