package queue

import (
	"strings"
	"time"

	"teamdigest/internal/event"
)

// hotSignals are phrases that mark a message as time critical regardless of
// its age. Matching is case insensitive substring matching on the message text.
var hotSignals = []string{
	"decision needed",
	"by friday",
	"blocker",
	"urgent",
	"evt",
}

const hotReaction = "rotating_light"

// Router classifies accepted events into lanes. Events carrying a hot signal
// go to the hot lane, fresh events to standard, and anything older than the
// hot window to backfill.
type Router struct {
	hotWindow time.Duration
}

func NewRouter(hotWindow time.Duration) *Router {
	return &Router{hotWindow: hotWindow}
}

func (r *Router) Classify(env *event.Envelope, now time.Time) Lane {
	if r.isHot(env) {
		return LaneHot
	}
	eventTime := time.Unix(env.EventTime, 0)
	if env.EventTime > 0 && now.Sub(eventTime) > r.hotWindow {
		return LaneBackfill
	}
	return LaneStandard
}

func (r *Router) isHot(env *event.Envelope) bool {
	inner := &env.Event
	if inner.Type == event.TypeReactionAdded && inner.Reaction == hotReaction {
		return true
	}
	if inner.HasReaction(hotReaction) {
		return true
	}
	text := strings.ToLower(inner.Text)
	if inner.Subtype == event.SubtypeMessageChanged && inner.Message != nil {
		text = strings.ToLower(inner.Message.Text)
	}
	for _, signal := range hotSignals {
		if strings.Contains(text, signal) {
			return true
		}
	}
	return false
}
