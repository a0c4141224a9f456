package digest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamdigest/internal/embed"
	"teamdigest/internal/event"
	"teamdigest/internal/pipeline"
	"teamdigest/internal/profiles"
	"teamdigest/internal/queue"
	"teamdigest/internal/retrieval"
	"teamdigest/internal/storage"
)

type world struct {
	store   *storage.MemoryStore
	builder *Builder
	proc    *pipeline.Processor
}

func newWorld(t *testing.T) *world {
	t.Helper()
	store := storage.NewMemoryStore()
	enc := embed.NewEncoder(embed.DefaultDim)
	profileSvc := profiles.NewService(store, enc)
	ctx := context.Background()

	require.NoError(t, profileSvc.UpsertRole(ctx, &storage.Role{
		RoleID: "me-lead", Name: "Mechanical Lead",
		Description: "mechanical design materials vendors",
	}))
	require.NoError(t, profileSvc.UpsertPhase(ctx, &storage.Phase{
		PhaseKey: "evt", Description: "engineering validation build",
	}))
	require.NoError(t, profileSvc.UpsertProject(ctx, &storage.Project{
		ProjectID: "p1", Name: "Handset", CurrentPhase: "evt",
	}))
	require.NoError(t, profileSvc.AddProjectChannel(ctx, "p1", "C-hw"))
	require.NoError(t, profileSvc.UpsertUser(ctx, &storage.User{
		UserID: "U1", Name: "Dana", RoleID: "me-lead",
	}))
	require.NoError(t, profileSvc.AddUserProject(ctx, "U1", "p1"))

	return &world{
		store:   store,
		builder: NewBuilder(store, profileSvc, retrieval.NewService(store, 3), 0, 0),
		proc:    pipeline.NewProcessor(store, enc),
	}
}

func (w *world) postThread(t *testing.T, channel, threadTS, user, text string) {
	t.Helper()
	ctx := context.Background()
	_, err := w.store.InsertMessage(ctx, &storage.Message{
		Channel: channel, TS: threadTS, ThreadTS: threadTS, User: user, Text: text,
	})
	require.NoError(t, err)
	env := &event.Envelope{
		EventID: fmt.Sprintf("Ev-%s", threadTS),
		Event: event.Inner{
			Type: event.TypeMessage, Channel: channel, TS: threadTS, User: user, Text: text,
		},
	}
	require.NoError(t, w.proc.Process(ctx, env, queue.LaneStandard))
}

func TestBuildRanksUrgentOwnedWork(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	w.postThread(t, "C-hw", "100.000100", "U1",
		"Decision needed by Friday: aluminum to carbon fiber for the EVT bracket")
	w.postThread(t, "C-hw", "100.000200", "U9",
		"minutes from the design review, no action items")
	w.postThread(t, "C-other", "100.000300", "U1",
		"Decision needed by Friday: aluminum to carbon fiber for the EVT bracket")

	d, err := w.builder.Build(ctx, "U1", "p1", 5)
	require.NoError(t, err)
	require.Len(t, d.Items, 2, "out-of-scope channel excluded")

	top := d.Items[0]
	assert.Equal(t, "100.000100", top.ThreadTS)
	assert.Equal(t, "decision", top.Category)
	assert.Greater(t, top.ScoreBreakdown.FinalScore, d.Items[1].ScoreBreakdown.FinalScore)
	assert.Equal(t, 1.0, top.ScoreBreakdown.Ownership, "author owns the thread")
	assert.Equal(t, 1.0, top.ScoreBreakdown.PhaseMatch)
	assert.NotEmpty(t, top.WhyShown)
}

func TestBuildPersistsDigestRecord(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	w.postThread(t, "C-hw", "100.000100", "U1", "urgent blocker on the housing")

	d, err := w.builder.Build(ctx, "U1", "p1", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, d.DigestID)
	assert.Equal(t, "me-lead", d.QuerySource.RoleID)
	assert.Equal(t, "evt", d.QuerySource.PhaseKey)

	records, err := w.store.ListDigests(ctx, "U1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, d.DigestID, records[0].DigestID)
}

func TestBuildCapsItemCount(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		w.postThread(t, "C-hw", fmt.Sprintf("100.%06d", i), "U1",
			"decision needed on carbon fiber sourcing")
	}

	d, err := w.builder.Build(ctx, "U1", "p1", 3)
	require.NoError(t, err)
	assert.Len(t, d.Items, 3)
}

func TestBuildIsDeterministicForSameState(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	w.postThread(t, "C-hw", "100.000100", "U1", "decision on carbon fiber")
	w.postThread(t, "C-hw", "100.000200", "U2", "vendor a lead time update")

	first, err := w.builder.Build(ctx, "U1", "p1", 5)
	require.NoError(t, err)
	second, err := w.builder.Build(ctx, "U1", "p1", 5)
	require.NoError(t, err)

	require.Equal(t, len(first.Items), len(second.Items))
	for i := range first.Items {
		assert.Equal(t, first.Items[i].ThreadTS, second.Items[i].ThreadTS)
		assert.Equal(t, first.Items[i].ScoreBreakdown, second.Items[i].ScoreBreakdown)
	}
}

func TestBuildWindowExcludesStaleItems(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	w.postThread(t, "C-hw", "100.000100", "U1", "decision on carbon fiber")

	// Pretend the digest runs two hours from now so every stored item falls
	// outside the one hour retrieval window.
	w.builder.window = time.Hour
	w.builder.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	d, err := w.builder.Build(ctx, "U1", "p1", 5)
	require.NoError(t, err)
	assert.Empty(t, d.Items)
}
