package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/event"
)

func TestInsertEventFirstWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ev := &StoredEvent{EventID: "Ev123", TeamID: "T1", Payload: []byte(`{"type":"message"}`)}

	inserted, err := store.InsertEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted, "first delivery should insert")

	inserted, err = store.InsertEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, inserted, "redelivery of the same event_id should not insert")

	events, err := store.ListEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestInsertMessageFirstWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &Message{Channel: "C1", TS: "100.000100", ThreadTS: "100.000100", User: "U1", Text: "original"}
	inserted, err := store.InsertMessage(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same (channel, ts) with different content loses the race.
	second := &Message{Channel: "C1", TS: "100.000100", ThreadTS: "100.000100", User: "U2", Text: "imposter"}
	inserted, err = store.InsertMessage(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := store.GetMessage(ctx, "C1", "100.000100")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "original", got.Text)
	assert.Equal(t, "U1", got.User)
}

func TestMessageMutations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	msg := &Message{Channel: "C1", TS: "100.1", ThreadTS: "100.1", User: "U1", Text: "before"}
	_, err := store.InsertMessage(ctx, msg)
	require.NoError(t, err)

	require.NoError(t, store.UpdateMessageText(ctx, "C1", "100.1", "after"))
	got, err := store.GetMessage(ctx, "C1", "100.1")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Text)

	require.NoError(t, store.AdjustMessageReaction(ctx, "C1", "100.1", "rotating_light", 1))
	require.NoError(t, store.AdjustMessageReaction(ctx, "C1", "100.1", "rotating_light", 1))
	got, _ = store.GetMessage(ctx, "C1", "100.1")
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, 2, got.Reactions[0].Count)

	require.NoError(t, store.AdjustMessageReaction(ctx, "C1", "100.1", "rotating_light", -1))
	require.NoError(t, store.AdjustMessageReaction(ctx, "C1", "100.1", "rotating_light", -1))
	got, _ = store.GetMessage(ctx, "C1", "100.1")
	assert.Empty(t, got.Reactions, "reaction drained to zero should be removed")

	require.NoError(t, store.MarkMessageDeleted(ctx, "C1", "100.1"))
	got, _ = store.GetMessage(ctx, "C1", "100.1")
	assert.True(t, got.Deleted)

	err = store.UpdateMessageText(ctx, "C1", "999.9", "nope")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestThreadMessagesOrderedByTS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, ts := range []string{"100.000300", "100.000100", "100.000200"} {
		_, err := store.InsertMessage(ctx, &Message{
			Channel: "C1", TS: ts, ThreadTS: "100.000100", User: "U1", Text: "msg " + ts,
		})
		require.NoError(t, err)
	}

	msgs, err := store.ThreadMessages(ctx, "100.000100")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "100.000100", msgs[0].TS)
	assert.Equal(t, "100.000200", msgs[1].TS)
	assert.Equal(t, "100.000300", msgs[2].TS)
}

func TestUpsertDigestItemPreservesCreatedAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	item := &DigestItem{ThreadTS: "100.1", Channel: "C1", Title: "first pass", Urgency: 0.2}
	require.NoError(t, store.UpsertDigestItem(ctx, item))

	got, err := store.GetDigestItem(ctx, "100.1")
	require.NoError(t, err)
	created := got.CreatedAt

	item.Title = "second pass"
	item.Urgency = 0.6
	require.NoError(t, store.UpsertDigestItem(ctx, item))

	got, err = store.GetDigestItem(ctx, "100.1")
	require.NoError(t, err)
	assert.Equal(t, "second pass", got.Title)
	assert.Equal(t, created, got.CreatedAt)
	assert.False(t, got.UpdatedAt.Before(created))
}

func TestCandidateItemsScope(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	items := []DigestItem{
		{ThreadTS: "100.1", Channel: "C-hw", Title: "in scope"},
		{ThreadTS: "100.2", Channel: "C-random", Title: "wrong channel"},
		{ThreadTS: "100.3", Channel: "C-hw", Title: "no embedding yet"},
	}
	for i := range items {
		require.NoError(t, store.UpsertDigestItem(ctx, &items[i]))
	}
	require.NoError(t, store.UpsertEmbedding(ctx, OwnerItem, "100.1", []float32{1, 0}))
	require.NoError(t, store.UpsertEmbedding(ctx, OwnerItem, "100.2", []float32{0, 1}))

	candidates, err := store.CandidateItems(ctx, []string{"C-hw"}, time.Time{})
	require.NoError(t, err)
	require.Len(t, candidates, 1, "only embedded items in scoped channels qualify")
	assert.Equal(t, "100.1", candidates[0].Item.ThreadTS)
}

func TestEmbeddingReadIsACopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertEmbedding(ctx, OwnerUser, "U1", []float32{0.6, 0.8}))

	emb, err := store.GetEmbedding(ctx, OwnerUser, "U1")
	require.NoError(t, err)
	emb.Vector[0] = 99

	again, err := store.GetEmbedding(ctx, OwnerUser, "U1")
	require.NoError(t, err)
	assert.Equal(t, float32(0.6), again.Vector[0], "mutating a returned vector must not affect the store")
}

func TestProfileRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertRole(ctx, &Role{RoleID: "mech-lead", Name: "Mechanical Lead"}))
	require.NoError(t, store.UpsertPhase(ctx, &Phase{PhaseKey: "evt", Description: "Engineering validation"}))
	require.NoError(t, store.UpsertProject(ctx, &Project{ProjectID: "p1", Name: "Handset", CurrentPhase: "evt"}))
	require.NoError(t, store.AddProjectChannel(ctx, "p1", "C-hw"))
	require.NoError(t, store.AddProjectChannel(ctx, "p1", "C-hw"))
	require.NoError(t, store.UpsertUser(ctx, &User{UserID: "U1", Name: "Dana", RoleID: "mech-lead"}))
	require.NoError(t, store.AddUserProject(ctx, "U1", "p1"))

	project, err := store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C-hw"}, project.Channels, "channel membership is idempotent")

	require.NoError(t, store.UpdateProjectPhase(ctx, "p1", "dvt"))
	project, _ = store.GetProject(ctx, "p1")
	assert.Equal(t, "dvt", project.CurrentPhase)

	projects, err := store.UserProjects(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, projects)

	err = store.UpdateProjectPhase(ctx, "missing", "evt")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestCompareTS(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"earlier", "100.000100", "100.000200", -1},
		{"later", "101.000100", "100.000200", 1},
		{"equal", "100.000100", "100.000100", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareTS(tt.a, tt.b))
		})
	}
}

func TestReactionsSurviveRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	msg := &Message{
		Channel: "C1", TS: "100.1", ThreadTS: "100.1", User: "U1", Text: "hi",
		Reactions: []event.Reaction{{Name: "thumbsup", Count: 3}},
	}
	_, err := store.InsertMessage(ctx, msg)
	require.NoError(t, err)

	msg.Reactions[0].Count = 99
	got, err := store.GetMessage(ctx, "C1", "100.1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Reactions[0].Count)
}
