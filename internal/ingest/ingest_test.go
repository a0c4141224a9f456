package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/event"
	"teamdigest/internal/queue"
	"teamdigest/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, *queue.Manager) {
	t.Helper()
	store := storage.NewMemoryStore()
	manager := queue.NewManager()
	svc := NewService(store, queue.NewRouter(60*time.Minute), manager)
	svc.now = func() time.Time { return time.Unix(10_000, 0) }
	return svc, store, manager
}

func envelope(eventID, channel, ts, text string) *event.Envelope {
	return &event.Envelope{
		EventID:   eventID,
		EventTime: 9_990,
		Type:      "event_callback",
		Event: event.Inner{
			Type:    event.TypeMessage,
			Channel: channel,
			User:    "U1",
			Text:    text,
			TS:      ts,
		},
	}
}

func TestIngestAcceptsAndRoutes(t *testing.T) {
	svc, store, manager := newTestService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, envelope("Ev1", "C1", "100.1", "Decision needed on bracket"))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, "hot", res.Lane)
	assert.Equal(t, 1, manager.Depth())

	msg, err := store.GetMessage(ctx, "C1", "100.1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "100.1", msg.ThreadTS, "root message starts its own thread")
}

func TestIngestDuplicateEventID(t *testing.T) {
	svc, _, manager := newTestService(t)
	ctx := context.Background()

	env := envelope("Ev1", "C1", "100.1", "hello")
	_, err := svc.Ingest(ctx, env)
	require.NoError(t, err)

	res, err := svc.Ingest(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.Empty(t, res.Lane)
	assert.Equal(t, 1, manager.Depth(), "duplicate must not be routed")
}

func TestIngestDuplicateMessageDifferentEventID(t *testing.T) {
	svc, store, manager := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, envelope("Ev1", "C1", "100.1", "original"))
	require.NoError(t, err)

	res, err := svc.Ingest(ctx, envelope("Ev2", "C1", "100.1", "imposter"))
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.Equal(t, 1, manager.Depth())

	msg, _ := store.GetMessage(ctx, "C1", "100.1")
	assert.Equal(t, "original", msg.Text, "first delivery wins")
}

func TestIngestReactionRoutesWithoutMessageInsert(t *testing.T) {
	svc, _, manager := newTestService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, &event.Envelope{
		EventID:   "Ev1",
		EventTime: 9_990,
		Event: event.Inner{
			Type:     event.TypeReactionAdded,
			User:     "U2",
			Reaction: "thumbsup",
			Item:     &event.ItemRef{Channel: "C1", TS: "100.1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, "standard", res.Lane)
	assert.Equal(t, 1, manager.Depth())
}

func TestIngestRejectsMalformedEnvelope(t *testing.T) {
	svc, _, manager := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		env  *event.Envelope
	}{
		{"missing event_id", envelope("", "C1", "100.1", "hi")},
		{"missing channel", envelope("Ev1", "", "100.1", "hi")},
		{"missing ts", envelope("Ev1", "C1", "", "hi")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(ctx, tt.env)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
		})
	}
	assert.Equal(t, 0, manager.Depth())
}
