// Package feedback applies online updates to user vectors from digest
// interactions. Updates for one user are serialized so two concurrent
// interactions never interleave a read-modify-write.
package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/embed"
	"teamdigest/internal/metrics"
	"teamdigest/internal/storage"
)

// LearningRate controls how far one interaction moves the user vector toward
// or away from an item.
const LearningRate = 0.3

// Learned vectors untouched for longer than DecayWindow drift back toward
// the role vector before the next update.
const (
	DecayWindow = 14 * 24 * time.Hour
	decayBlend  = 0.05
)

// Actions form a closed set. Positive actions pull the user vector toward
// the item, negative actions push it away.
const (
	ActionClick      = "click"
	ActionSave       = "save"
	ActionThumbsUp   = "thumbs_up"
	ActionThumbsDown = "thumbs_down"
	ActionDismiss    = "dismiss"
)

func actionSign(action string) (float64, error) {
	switch action {
	case ActionClick, ActionSave, ActionThumbsUp:
		return 1, nil
	case ActionThumbsDown, ActionDismiss:
		return -1, nil
	default:
		return 0, apperrors.Validation("unknown feedback action %q", action)
	}
}

type Learner struct {
	store   storage.Store
	encoder *embed.Encoder
	now     func() time.Time

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func NewLearner(store storage.Store, encoder *embed.Encoder) *Learner {
	return &Learner{
		store:   store,
		encoder: encoder,
		now:     time.Now,
		users:   map[string]*sync.Mutex{},
	}
}

func (l *Learner) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.users[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.users[userID] = lock
	}
	return lock
}

// Apply records one interaction: move the user vector, persist it, and write
// the audit event. The updated vector is durable before Apply returns.
func (l *Learner) Apply(ctx context.Context, userID, projectID, threadTS, action string) error {
	sign, err := actionSign(action)
	if err != nil {
		return err
	}

	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.NotFound("user %s not found", userID)
	}
	item, err := l.store.GetDigestItem(ctx, threadTS)
	if err != nil {
		return err
	}
	if item == nil {
		return apperrors.NotFound("digest item %s not found", threadTS)
	}
	itemEmb, err := l.store.GetEmbedding(ctx, storage.OwnerItem, threadTS)
	if err != nil {
		return err
	}
	if itemEmb == nil {
		return apperrors.Consistency("digest item %s has no embedding", threadTS)
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	userVec, err := l.currentUserVector(ctx, user)
	if err != nil {
		return err
	}

	updated := move(userVec, itemEmb.Vector, sign)
	if err := l.store.UpsertEmbedding(ctx, storage.OwnerUser, userID, updated); err != nil {
		return err
	}
	if err := l.store.InsertFeedbackEvent(ctx, &storage.FeedbackEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		ProjectID: projectID,
		ThreadTS:  threadTS,
		Action:    action,
	}); err != nil {
		return err
	}
	metrics.FeedbackEvents.WithLabelValues(action).Inc()
	return nil
}

// currentUserVector loads the user's learned vector, falling back to the
// role vector and then to a zero vector for brand new users. A learned
// vector past the decay window is first blended back toward the role vector.
func (l *Learner) currentUserVector(ctx context.Context, user *storage.User) ([]float32, error) {
	emb, err := l.store.GetEmbedding(ctx, storage.OwnerUser, user.UserID)
	if err != nil {
		return nil, err
	}
	roleVec, err := l.roleVector(ctx, user)
	if err != nil {
		return nil, err
	}
	if emb != nil {
		if roleVec != nil && l.now().Sub(emb.UpdatedAt) > DecayWindow {
			return decayToward(emb.Vector, roleVec), nil
		}
		return emb.Vector, nil
	}
	if roleVec != nil {
		return roleVec, nil
	}
	return make([]float32, l.encoder.Dim()), nil
}

func (l *Learner) roleVector(ctx context.Context, user *storage.User) ([]float32, error) {
	if user.RoleID == "" {
		return nil, nil
	}
	emb, err := l.store.GetEmbedding(ctx, storage.OwnerRole, user.RoleID)
	if err != nil {
		return nil, err
	}
	if emb == nil {
		return nil, nil
	}
	return emb.Vector, nil
}

func decayToward(userVec, roleVec []float32) []float32 {
	out := make([]float32, len(userVec))
	for i := range userVec {
		out[i] = float32((1-decayBlend)*float64(userVec[i]) + decayBlend*float64(roleVec[i]))
	}
	return embed.Normalize(out)
}

// move shifts the user vector along the difference to the item and
// renormalizes, so repeated feedback cannot grow the vector unbounded.
func move(userVec, itemVec []float32, sign float64) []float32 {
	out := make([]float32, len(userVec))
	for i := range userVec {
		diff := float64(itemVec[i]) - float64(userVec[i])
		out[i] = float32(float64(userVec[i]) + LearningRate*sign*diff)
	}
	return embed.Normalize(out)
}
