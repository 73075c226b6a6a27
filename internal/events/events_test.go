package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, SubjectRecordCreated, RecordEvent{Action: ActionCreated}.Subject())
	assert.Equal(t, SubjectRecordUpdated, RecordEvent{Action: ActionUpdated}.Subject())
}

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}
	require.NoError(t, p.Publish(context.Background(), RecordEvent{Action: ActionCreated, PageID: "p1"}))
	assert.Len(t, p.Events(), 1)

	p.Err = errors.New("down")
	assert.Error(t, p.Publish(context.Background(), RecordEvent{}))
	assert.Len(t, p.Events(), 1)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), RecordEvent{}))
	p.Close()
}

func TestNATSPublisherIntegration(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	p, err := NewNATSPublisher(url, os.Getenv("NATS_TOKEN"), logger)
	require.NoError(t, err)
	defer p.Close()

	sub, err := p.conn.SubscribeSync(SubjectRecordUpdated)
	require.NoError(t, err)

	ev := RecordEvent{Action: ActionUpdated, PageID: "p9", Name: "Acme", OccurredAt: time.Now().UTC()}
	require.NoError(t, p.Publish(context.Background(), ev))

	var msg *nats.Msg
	msg, err = sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var got RecordEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "p9", got.PageID)
	assert.Equal(t, "Acme", got.Name)
}
