// Package digest assembles a personalized digest: query vector, candidate
// retrieval, reranking, and the persisted digest record.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"teamdigest/internal/enrich"
	"teamdigest/internal/metrics"
	"teamdigest/internal/profiles"
	"teamdigest/internal/rerank"
	"teamdigest/internal/retrieval"
	"teamdigest/internal/storage"
)

// DefaultSize is the number of items in a digest when the caller does not ask
// for a specific count.
const DefaultSize = 5

// Item is one digest entry with its full score explanation.
type Item struct {
	ThreadTS string          `json:"thread_ts"`
	Channel  string          `json:"channel"`
	Title    string          `json:"title"`
	Category string          `json:"category"`
	Labels   []string        `json:"labels"`
	Entities enrich.Entities `json:"entities"`
	Urgency  float64         `json:"urgency"`
	Summary  string          `json:"summary"`
	Tags     []string        `json:"tags"`

	ScoreBreakdown rerank.Breakdown `json:"score_breakdown"`
	WhyShown       string           `json:"why_shown"`
}

// Digest is one generated digest for a user and project.
type Digest struct {
	DigestID    string                     `json:"digest_id"`
	UserID      string                     `json:"user_id"`
	ProjectID   string                     `json:"project_id"`
	GeneratedAt time.Time                  `json:"generated_at"`
	QuerySource profiles.QueryVectorSource `json:"query_source"`
	Items       []Item                     `json:"items"`
}

type Builder struct {
	store     storage.Store
	profiles  *profiles.Service
	retrieval *retrieval.Service
	reranker  *rerank.Reranker
	window    time.Duration
	size      int
	now       func() time.Time
}

// NewBuilder constructs a digest builder. window bounds how far back
// retrieval looks (0 means unbounded) and size is the item count used when a
// request does not ask for one (0 means DefaultSize).
func NewBuilder(store storage.Store, profileSvc *profiles.Service, retrievalSvc *retrieval.Service, window time.Duration, size int) *Builder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Builder{
		store:     store,
		profiles:  profileSvc,
		retrieval: retrievalSvc,
		reranker:  rerank.NewReranker(),
		window:    window,
		size:      size,
		now:       time.Now,
	}
}

// stages holds the intermediate products of one digest computation, kept so
// the debug endpoints can expose each step without recomputing.
type stages struct {
	queryVec []float32
	source   profiles.QueryVectorSource
	scored   []retrieval.Scored
	ranked   []rerank.Ranked
}

func (b *Builder) compute(ctx context.Context, userID, projectID string, k int) (*stages, error) {
	if k <= 0 {
		k = b.size
	}

	queryVec, source, err := b.profiles.QueryVector(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	project, err := b.profiles.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	since := time.Time{}
	if b.window > 0 {
		since = b.now().Add(-b.window)
	}
	scored, err := b.retrieval.Retrieve(ctx, queryVec, project.Channels, since, k)
	if err != nil {
		return nil, err
	}

	inputs := make([]rerank.Input, 0, len(scored))
	for _, cand := range scored {
		owned, err := b.ownership(ctx, userID, cand.Item.ThreadTS)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, rerank.Input{
			Item:         cand.Item,
			Similarity:   cand.Similarity,
			Owned:        owned,
			PhaseMatched: rerank.PhaseMatched(cand.Item, project.CurrentPhase),
		})
	}
	ranked := b.reranker.Rank(inputs)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return &stages{queryVec: queryVec, source: source, scored: scored, ranked: ranked}, nil
}

// Candidates exposes the raw retrieval output for a user and project.
func (b *Builder) Candidates(ctx context.Context, userID, projectID string, k int) ([]retrieval.Scored, error) {
	st, err := b.compute(ctx, userID, projectID, k)
	if err != nil {
		return nil, err
	}
	return st.scored, nil
}

// Preview runs the full retrieval and reranking pipeline without persisting
// a digest record.
func (b *Builder) Preview(ctx context.Context, userID, projectID string, k int) ([]rerank.Ranked, error) {
	st, err := b.compute(ctx, userID, projectID, k)
	if err != nil {
		return nil, err
	}
	return st.ranked, nil
}

// Build computes and persists a digest of up to k items.
func (b *Builder) Build(ctx context.Context, userID, projectID string, k int) (*Digest, error) {
	start := b.now()
	if k <= 0 {
		k = b.size
	}

	st, err := b.compute(ctx, userID, projectID, k)
	if err != nil {
		metrics.DigestsBuilt.WithLabelValues("error").Inc()
		return nil, err
	}
	source, scored, ranked := st.source, st.scored, st.ranked

	result := &Digest{
		DigestID:    uuid.New().String(),
		UserID:      userID,
		ProjectID:   projectID,
		GeneratedAt: start,
		QuerySource: source,
		Items:       make([]Item, 0, len(ranked)),
	}
	for _, r := range ranked {
		result.Items = append(result.Items, Item{
			ThreadTS:       r.Item.ThreadTS,
			Channel:        r.Item.Channel,
			Title:          r.Item.Title,
			Category:       r.Item.Category,
			Labels:         r.Item.Labels,
			Entities:       r.Item.Entities,
			Urgency:        r.Item.Urgency,
			Summary:        r.Item.Summary,
			Tags:           r.Item.Tags,
			ScoreBreakdown: r.Score,
			WhyShown:       r.WhyShown,
		})
	}

	payload, err := json.Marshal(result.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode digest items: %w", err)
	}
	if err := b.store.InsertDigest(ctx, &storage.DigestRecord{
		DigestID:  result.DigestID,
		UserID:    userID,
		ProjectID: projectID,
		Items:     payload,
	}); err != nil {
		return nil, err
	}

	metrics.DigestsBuilt.WithLabelValues("success").Inc()
	metrics.DigestBuildDuration.Observe(time.Since(start).Seconds())
	slog.Info("Built digest",
		"user_id", userID,
		"project_id", projectID,
		"items", len(result.Items),
		"candidates", len(scored))
	return result, nil
}

func (b *Builder) ownership(ctx context.Context, userID, threadTS string) (bool, error) {
	thread, err := b.store.GetThread(ctx, threadTS)
	if err != nil {
		return false, err
	}
	var participants []string
	if thread != nil {
		participants = thread.Participants
	}
	messages, err := b.store.ThreadMessages(ctx, threadTS)
	if err != nil {
		return false, err
	}
	return rerank.Owned(userID, participants, messages), nil
}
