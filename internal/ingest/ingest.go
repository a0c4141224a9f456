// Package ingest accepts inbound chat events: validate, dedupe against the
// event log, persist first-seen message rows, and route to a priority lane.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"teamdigest/internal/event"
	"teamdigest/internal/metrics"
	"teamdigest/internal/queue"
	"teamdigest/internal/storage"
)

const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

// Result reports what happened to one inbound event.
type Result struct {
	Status string `json:"status"`
	Lane   string `json:"lane,omitempty"`
}

type Service struct {
	store   storage.Store
	router  *queue.Router
	manager *queue.Manager
	now     func() time.Time
}

func NewService(store storage.Store, router *queue.Router, manager *queue.Manager) *Service {
	return &Service{store: store, router: router, manager: manager, now: time.Now}
}

// Ingest runs the synchronous half of the pipeline. Duplicate delivery of
// either the event_id or the message (channel, ts) short-circuits before any
// queue routing; storage failures propagate so the caller can signal retry.
func (s *Service) Ingest(ctx context.Context, env *event.Envelope) (*Result, error) {
	return s.ingest(ctx, env, nil)
}

// IngestBackfill ingests a historical event straight into the backfill lane,
// bypassing the freshness classifier. Dedup semantics are unchanged.
func (s *Service) IngestBackfill(ctx context.Context, env *event.Envelope) (*Result, error) {
	lane := queue.LaneBackfill
	return s.ingest(ctx, env, &lane)
}

func (s *Service) ingest(ctx context.Context, env *event.Envelope, forced *queue.Lane) (*Result, error) {
	if err := env.Validate(); err != nil {
		metrics.EventsIngested.WithLabelValues("rejected").Inc()
		return nil, err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	inserted, err := s.store.InsertEvent(ctx, &storage.StoredEvent{
		EventID: env.EventID,
		TeamID:  env.TeamID,
		Payload: payload,
	})
	if err != nil {
		metrics.EventsIngested.WithLabelValues("error").Inc()
		return nil, err
	}
	if !inserted {
		metrics.EventsIngested.WithLabelValues("duplicate").Inc()
		slog.Debug("Dropping redelivered event", "event_id", env.EventID)
		return &Result{Status: StatusDuplicate}, nil
	}

	if env.Event.Type == event.TypeMessage && env.Event.Subtype == "" {
		inserted, err := s.store.InsertMessage(ctx, &storage.Message{
			Channel:   env.Event.Channel,
			TS:        env.Event.TS,
			ThreadTS:  env.Event.RootTS(),
			User:      env.Event.User,
			Text:      env.Event.Text,
			Reactions: env.Event.Reactions,
		})
		if err != nil {
			metrics.EventsIngested.WithLabelValues("error").Inc()
			return nil, err
		}
		if !inserted {
			metrics.EventsIngested.WithLabelValues("duplicate").Inc()
			slog.Debug("Dropping duplicate message",
				"channel", env.Event.Channel, "ts", env.Event.TS)
			return &Result{Status: StatusDuplicate}, nil
		}
	}

	lane := s.router.Classify(env, s.now())
	if forced != nil {
		lane = *forced
	}
	s.manager.Push(lane, env)
	metrics.EventsIngested.WithLabelValues("accepted").Inc()
	metrics.EventsRouted.WithLabelValues(lane.String()).Inc()
	return &Result{Status: StatusAccepted, Lane: lane.String()}, nil
}
