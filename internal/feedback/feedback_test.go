package feedback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/embed"
	"teamdigest/internal/storage"
)

func newTestLearner(t *testing.T) (*Learner, *storage.MemoryStore, *embed.Encoder) {
	t.Helper()
	store := storage.NewMemoryStore()
	enc := embed.NewEncoder(embed.DefaultDim)
	ctx := context.Background()

	require.NoError(t, store.UpsertUser(ctx, &storage.User{UserID: "U1", Name: "Dana"}))
	require.NoError(t, store.UpsertEmbedding(ctx, storage.OwnerUser, "U1",
		embed.Normalize(enc.Encode("housing tolerances and vendor quotes"))))

	require.NoError(t, store.UpsertDigestItem(ctx, &storage.DigestItem{
		ThreadTS: "100.1", Channel: "C1", Title: "carbon fiber decision",
	}))
	require.NoError(t, store.UpsertEmbedding(ctx, storage.OwnerItem, "100.1",
		enc.Encode("carbon fiber bracket decision for evt")))

	return NewLearner(store, enc), store, enc
}

func itemVector(t *testing.T, store *storage.MemoryStore) []float32 {
	t.Helper()
	emb, err := store.GetEmbedding(context.Background(), storage.OwnerItem, "100.1")
	require.NoError(t, err)
	return emb.Vector
}

func userVector(t *testing.T, store *storage.MemoryStore) []float32 {
	t.Helper()
	emb, err := store.GetEmbedding(context.Background(), storage.OwnerUser, "U1")
	require.NoError(t, err)
	require.NotNil(t, emb)
	return emb.Vector
}

func TestPositiveFeedbackMovesTowardItem(t *testing.T) {
	learner, store, _ := newTestLearner(t)
	ctx := context.Background()

	before := embed.Cosine(userVector(t, store), itemVector(t, store))
	require.NoError(t, learner.Apply(ctx, "U1", "p1", "100.1", ActionClick))
	after := embed.Cosine(userVector(t, store), itemVector(t, store))

	assert.Greater(t, after, before)
}

func TestNegativeFeedbackMovesAwayFromItem(t *testing.T) {
	learner, store, _ := newTestLearner(t)
	ctx := context.Background()

	before := embed.Cosine(userVector(t, store), itemVector(t, store))
	require.NoError(t, learner.Apply(ctx, "U1", "p1", "100.1", ActionDismiss))
	after := embed.Cosine(userVector(t, store), itemVector(t, store))

	assert.Less(t, after, before)
}

func TestUpdatedVectorStaysUnitNorm(t *testing.T) {
	learner, store, _ := newTestLearner(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, learner.Apply(ctx, "U1", "p1", "100.1", ActionSave))
	}
	vec := userVector(t, store)
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestApplyWritesAuditEvent(t *testing.T) {
	learner, store, _ := newTestLearner(t)
	ctx := context.Background()

	require.NoError(t, learner.Apply(ctx, "U1", "p1", "100.1", ActionThumbsUp))

	events, err := store.ListFeedbackEvents(ctx, "U1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ActionThumbsUp, events[0].Action)
	assert.Equal(t, "100.1", events[0].ThreadTS)
	assert.NotEmpty(t, events[0].ID)
}

func TestApplyRejectsUnknownAction(t *testing.T) {
	learner, _, _ := newTestLearner(t)
	err := learner.Apply(context.Background(), "U1", "p1", "100.1", "shrug")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestApplyUnknownTargets(t *testing.T) {
	learner, _, _ := newTestLearner(t)
	ctx := context.Background()

	err := learner.Apply(ctx, "ghost", "p1", "100.1", ActionClick)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	err = learner.Apply(ctx, "U1", "p1", "999.9", ActionClick)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestNewUserStartsFromRoleVector(t *testing.T) {
	learner, store, enc := newTestLearner(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRole(ctx, &storage.Role{RoleID: "me-lead", Name: "Mechanical Lead"}))
	require.NoError(t, store.UpsertEmbedding(ctx, storage.OwnerRole, "me-lead",
		enc.Encode("mechanical engineering hardware")))
	require.NoError(t, store.UpsertUser(ctx, &storage.User{UserID: "U2", Name: "Sam", RoleID: "me-lead"}))

	require.NoError(t, learner.Apply(ctx, "U2", "p1", "100.1", ActionClick))

	emb, err := store.GetEmbedding(ctx, storage.OwnerUser, "U2")
	require.NoError(t, err)
	require.NotNil(t, emb, "first interaction materializes a personal vector")
}

func TestStaleUserVectorDecaysTowardRole(t *testing.T) {
	learner, store, enc := newTestLearner(t)
	ctx := context.Background()

	roleVec := embed.Normalize(enc.Encode("mechanical engineering hardware reviews"))
	require.NoError(t, store.UpsertRole(ctx, &storage.Role{RoleID: "me-lead", Name: "Mechanical Lead"}))
	require.NoError(t, store.UpsertEmbedding(ctx, storage.OwnerRole, "me-lead", roleVec))
	require.NoError(t, store.UpsertUser(ctx, &storage.User{UserID: "U1", Name: "Dana", RoleID: "me-lead"}))

	user, err := store.GetUser(ctx, "U1")
	require.NoError(t, err)

	fresh, err := learner.currentUserVector(ctx, user)
	require.NoError(t, err)

	learner.now = func() time.Time { return time.Now().Add(DecayWindow + time.Hour) }
	stale, err := learner.currentUserVector(ctx, user)
	require.NoError(t, err)

	assert.Greater(t, embed.Cosine(stale, roleVec), embed.Cosine(fresh, roleVec),
		"stale vector drifts toward the role vector")
}

func TestConcurrentFeedbackAllRecorded(t *testing.T) {
	learner, store, _ := newTestLearner(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, learner.Apply(ctx, "U1", "p1", "100.1", ActionClick))
		}()
	}
	wg.Wait()

	events, err := store.ListFeedbackEvents(ctx, "U1", 100)
	require.NoError(t, err)
	assert.Len(t, events, 8)
}
