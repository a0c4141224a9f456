package profiles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/embed"
	"teamdigest/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewService(store, embed.NewEncoder(embed.DefaultDim)), store
}

func seedWorld(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.UpsertRole(ctx, &storage.Role{
		RoleID: "me-lead", Name: "Mechanical Lead",
		Description: "owns mechanical design and vendor selection",
	}))
	require.NoError(t, svc.UpsertPhase(ctx, &storage.Phase{
		PhaseKey: "evt", Description: "engineering validation build",
	}))
	require.NoError(t, svc.UpsertProject(ctx, &storage.Project{
		ProjectID: "p1", Name: "Handset", CurrentPhase: "evt",
	}))
	require.NoError(t, svc.UpsertUser(ctx, &storage.User{
		UserID: "U1", Name: "Dana", RoleID: "me-lead",
	}))
	require.NoError(t, svc.AddUserProject(ctx, "U1", "p1"))
}

func TestUpsertRoleStoresVector(t *testing.T) {
	svc, store := newTestService(t)
	seedWorld(t, svc)

	emb, err := store.GetEmbedding(context.Background(), storage.OwnerRole, "me-lead")
	require.NoError(t, err)
	require.NotNil(t, emb)
	assert.Len(t, emb.Vector, embed.DefaultDim)
}

func TestReferentialValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.UpsertUser(ctx, &storage.User{UserID: "U1", Name: "Dana", RoleID: "ghost"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	err = svc.UpsertProject(ctx, &storage.Project{ProjectID: "p1", Name: "X", CurrentPhase: "ghost"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	err = svc.AddUserProject(ctx, "ghost", "p1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	err = svc.UpsertRole(ctx, &storage.Role{RoleID: "", Name: "x"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestSetProjectPhaseRequiresKnownPhase(t *testing.T) {
	svc, _ := newTestService(t)
	seedWorld(t, svc)
	ctx := context.Background()

	err := svc.SetProjectPhase(ctx, "p1", "dvt")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	require.NoError(t, svc.UpsertPhase(ctx, &storage.Phase{PhaseKey: "dvt"}))
	require.NoError(t, svc.SetProjectPhase(ctx, "p1", "dvt"))

	project, err := svc.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "dvt", project.CurrentPhase)
}

func TestQueryVectorFallsBackToRole(t *testing.T) {
	svc, _ := newTestService(t)
	seedWorld(t, svc)

	vec, source, err := svc.QueryVector(context.Background(), "U1", "p1")
	require.NoError(t, err)
	require.Len(t, vec, embed.DefaultDim)
	assert.False(t, source.UserVector)
	assert.Equal(t, "me-lead", source.RoleID)
	assert.Equal(t, "evt", source.PhaseKey)
}

func TestQueryVectorPrefersLearnedUserVector(t *testing.T) {
	svc, store := newTestService(t)
	seedWorld(t, svc)
	ctx := context.Background()

	personal := make([]float32, embed.DefaultDim)
	personal[0] = 1
	require.NoError(t, store.UpsertEmbedding(ctx, storage.OwnerUser, "U1", personal))

	_, source, err := svc.QueryVector(ctx, "U1", "p1")
	require.NoError(t, err)
	assert.True(t, source.UserVector)
	assert.Empty(t, source.RoleID)
}

func TestQueryVectorUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	seedWorld(t, svc)

	_, _, err := svc.QueryVector(context.Background(), "ghost", "p1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}
