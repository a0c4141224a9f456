// Package pipeline is the asynchronous half of ingestion: apply message
// mutations, rebuild thread stats, and refresh the thread's digest item and
// embedding. Every step is idempotent so lane replays converge on the same
// state.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/embed"
	"teamdigest/internal/enrich"
	"teamdigest/internal/event"
	"teamdigest/internal/metrics"
	"teamdigest/internal/queue"
	"teamdigest/internal/storage"
)

type Processor struct {
	store   storage.Store
	encoder *embed.Encoder
}

func NewProcessor(store storage.Store, encoder *embed.Encoder) *Processor {
	return &Processor{store: store, encoder: encoder}
}

func (p *Processor) Process(ctx context.Context, env *event.Envelope, lane queue.Lane) error {
	channel, threadTS, err := p.applyMutation(ctx, env)
	if err != nil {
		return err
	}
	if threadTS == "" {
		// Mutation targeted a message we never stored. Nothing to rebuild.
		slog.Debug("Skipping event with no resolvable thread", "event_id", env.EventID)
		return nil
	}
	return p.Rebuild(ctx, channel, threadTS)
}

// applyMutation persists the event's effect on the message set and resolves
// the thread root the event belongs to.
func (p *Processor) applyMutation(ctx context.Context, env *event.Envelope) (string, string, error) {
	inner := &env.Event
	switch inner.Type {
	case event.TypeMessage:
		switch inner.Subtype {
		case event.SubtypeMessageChanged:
			edited := inner.Message
			if err := p.store.UpdateMessageText(ctx, inner.Channel, edited.TS, edited.Text); err != nil {
				if apperrors.IsKind(err, apperrors.KindNotFound) {
					return "", "", nil
				}
				return "", "", err
			}
			return inner.Channel, p.resolveThread(ctx, inner.Channel, edited.TS, edited.ThreadTS), nil

		case event.SubtypeMessageDeleted:
			ts := inner.DeletedTS
			threadTS := ""
			if inner.PreviousMessage != nil {
				if ts == "" {
					ts = inner.PreviousMessage.TS
				}
				threadTS = inner.PreviousMessage.ThreadTS
			}
			if err := p.store.MarkMessageDeleted(ctx, inner.Channel, ts); err != nil {
				if apperrors.IsKind(err, apperrors.KindNotFound) {
					return "", "", nil
				}
				return "", "", err
			}
			return inner.Channel, p.resolveThread(ctx, inner.Channel, ts, threadTS), nil

		default:
			return inner.Channel, inner.RootTS(), nil
		}

	case event.TypeReactionAdded, event.TypeReactionRemoved:
		delta := 1
		if inner.Type == event.TypeReactionRemoved {
			delta = -1
		}
		item := inner.Item
		err := p.store.AdjustMessageReaction(ctx, item.Channel, item.TS, inner.Reaction, delta)
		if err != nil {
			if apperrors.IsKind(err, apperrors.KindNotFound) {
				return "", "", nil
			}
			return "", "", err
		}
		return item.Channel, p.resolveThread(ctx, item.Channel, item.TS, ""), nil
	}
	return "", "", fmt.Errorf("unroutable event type %q", inner.Type)
}

func (p *Processor) resolveThread(ctx context.Context, channel, ts, threadTS string) string {
	if threadTS != "" {
		return threadTS
	}
	msg, err := p.store.GetMessage(ctx, channel, ts)
	if err != nil || msg == nil {
		return ts
	}
	return msg.ThreadTS
}

// Rebuild recomputes thread stats, enrichment, and the thread embedding from
// the stored messages. It is safe to call repeatedly for the same thread.
func (p *Processor) Rebuild(ctx context.Context, channel, threadTS string) error {
	messages, err := p.store.ThreadMessages(ctx, threadTS)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	thread := buildThread(channel, threadTS, messages)
	if err := p.store.UpsertThread(ctx, thread); err != nil {
		return err
	}

	sources := make([]enrich.SourceMessage, 0, len(messages))
	for _, msg := range messages {
		sources = append(sources, enrich.SourceMessage{
			User:      msg.User,
			Text:      msg.Text,
			Reactions: msg.Reactions,
			Deleted:   msg.Deleted,
		})
	}
	result := enrich.Thread(sources)
	now := storage.TSTime(threadTS)
	item := &storage.DigestItem{
		ThreadTS:  threadTS,
		Channel:   channel,
		Title:     result.Title,
		Category:  result.Category,
		Labels:    result.Labels,
		Entities:  result.Entities,
		Urgency:   result.Urgency,
		Summary:   result.Summary,
		Tags:      result.Tags,
		CreatedAt: now,
	}
	if err := p.store.UpsertDigestItem(ctx, item); err != nil {
		return err
	}
	metrics.ThreadsEnriched.Inc()

	vector := p.encoder.Encode(threadText(messages))
	if err := p.store.UpsertEmbedding(ctx, storage.OwnerItem, threadTS, vector); err != nil {
		return err
	}
	metrics.EmbeddingsComputed.WithLabelValues(storage.OwnerItem).Inc()
	return nil
}

func buildThread(channel, threadTS string, messages []storage.Message) *storage.Thread {
	thread := &storage.Thread{
		ThreadTS:  threadTS,
		Channel:   channel,
		RootTS:    threadTS,
		CreatedAt: storage.TSTime(threadTS),
	}
	seen := map[string]bool{}
	for _, msg := range messages {
		if t := storage.TSTime(msg.TS); t.After(thread.LastActivity) {
			thread.LastActivity = t
		}
		for _, r := range msg.Reactions {
			thread.ReactionCount += r.Count
		}
		if msg.User != "" && !seen[msg.User] {
			seen[msg.User] = true
			thread.Participants = append(thread.Participants, msg.User)
		}
	}
	thread.ReplyCount = len(messages) - 1
	return thread
}

func threadText(messages []storage.Message) string {
	var parts []string
	for _, msg := range messages {
		if msg.Deleted || msg.Text == "" {
			continue
		}
		parts = append(parts, msg.Text)
	}
	return strings.Join(parts, "\n")
}
