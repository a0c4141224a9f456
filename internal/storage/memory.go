package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/event"
)

// MemoryStore is a mutex-guarded in-memory Store with the same first-wins
// dedup semantics as the Postgres implementation. It backs tests and local
// demo runs where no database is available.
type MemoryStore struct {
	mu sync.RWMutex

	events     map[string]StoredEvent
	eventOrder []string
	messages   map[string]map[string]*Message // channel -> ts -> message
	threads    map[string]*Thread
	items      map[string]*DigestItem
	embeddings map[string]*Embedding // ownerType/ownerID
	roles      map[string]*Role
	phases     map[string]*Phase
	projects   map[string]*Project
	users      map[string]*User
	userProj   map[string]map[string]bool
	feedback   []FeedbackEvent
	digests    []DigestRecord
	schedules  []Schedule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[string]StoredEvent),
		messages:   make(map[string]map[string]*Message),
		threads:    make(map[string]*Thread),
		items:      make(map[string]*DigestItem),
		embeddings: make(map[string]*Embedding),
		roles:      make(map[string]*Role),
		phases:     make(map[string]*Phase),
		projects:   make(map[string]*Project),
		users:      make(map[string]*User),
		userProj:   make(map[string]map[string]bool),
	}
}

func embeddingKey(ownerType, ownerID string) string {
	return ownerType + "/" + ownerID
}

func (s *MemoryStore) InsertEvent(_ context.Context, ev *StoredEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.EventID]; exists {
		return false, nil
	}
	stored := *ev
	if stored.ReceivedAt.IsZero() {
		stored.ReceivedAt = time.Now().UTC()
	}
	s.events[ev.EventID] = stored
	s.eventOrder = append(s.eventOrder, ev.EventID)
	return true, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, limit int) ([]StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredEvent, 0, limit)
	for i := len(s.eventOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[s.eventOrder[i]])
	}
	return out, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, msg *Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channel := s.messages[msg.Channel]
	if channel == nil {
		channel = make(map[string]*Message)
		s.messages[msg.Channel] = channel
	}
	if _, exists := channel[msg.TS]; exists {
		return false, nil
	}
	stored := *msg
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.Reactions = copyReactions(msg.Reactions)
	channel[msg.TS] = &stored
	return true, nil
}

func (s *MemoryStore) UpdateMessageText(_ context.Context, channel, ts, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.lookupMessage(channel, ts)
	if msg == nil {
		return apperrors.NotFound("message %s/%s not found", channel, ts)
	}
	msg.Text = text
	return nil
}

func (s *MemoryStore) MarkMessageDeleted(_ context.Context, channel, ts string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.lookupMessage(channel, ts)
	if msg == nil {
		return apperrors.NotFound("message %s/%s not found", channel, ts)
	}
	msg.Deleted = true
	return nil
}

func (s *MemoryStore) AdjustMessageReaction(_ context.Context, channel, ts, name string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.lookupMessage(channel, ts)
	if msg == nil {
		return apperrors.NotFound("message %s/%s not found", channel, ts)
	}
	for i := range msg.Reactions {
		if msg.Reactions[i].Name == name {
			msg.Reactions[i].Count += delta
			if msg.Reactions[i].Count <= 0 {
				msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
			}
			return nil
		}
	}
	if delta > 0 {
		msg.Reactions = append(msg.Reactions, event.Reaction{Name: name, Count: delta})
	}
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, channel, ts string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg := s.lookupMessage(channel, ts)
	if msg == nil {
		return nil, nil
	}
	out := *msg
	out.Reactions = copyReactions(msg.Reactions)
	return &out, nil
}

func (s *MemoryStore) ThreadMessages(_ context.Context, threadTS string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, channel := range s.messages {
		for _, msg := range channel {
			if msg.ThreadTS == threadTS {
				copied := *msg
				copied.Reactions = copyReactions(msg.Reactions)
				out = append(out, copied)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return CompareTS(out[i].TS, out[j].TS) < 0
	})
	return out, nil
}

func (s *MemoryStore) UpsertThread(_ context.Context, thread *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *thread
	stored.Participants = append([]string(nil), thread.Participants...)
	if existing, ok := s.threads[thread.ThreadTS]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	s.threads[thread.ThreadTS] = &stored
	return nil
}

func (s *MemoryStore) GetThread(_ context.Context, threadTS string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[threadTS]
	if !ok {
		return nil, nil
	}
	out := *thread
	out.Participants = append([]string(nil), thread.Participants...)
	return &out, nil
}

func (s *MemoryStore) ListThreads(_ context.Context, limit int) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, 0, len(s.threads))
	for _, thread := range s.threads {
		copied := *thread
		copied.Participants = append([]string(nil), thread.Participants...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ThreadTS < out[j].ThreadTS
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpsertDigestItem(_ context.Context, item *DigestItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *item
	stored.Labels = append([]string(nil), item.Labels...)
	stored.Tags = append([]string(nil), item.Tags...)
	now := time.Now().UTC()
	if existing, ok := s.items[item.ThreadTS]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.items[item.ThreadTS] = &stored
	return nil
}

func (s *MemoryStore) GetDigestItem(_ context.Context, threadTS string) (*DigestItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[threadTS]
	if !ok {
		return nil, nil
	}
	out := copyItem(item)
	return &out, nil
}

func (s *MemoryStore) ListDigestItems(_ context.Context, limit int) ([]DigestItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DigestItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, copyItem(item))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ThreadTS < out[j].ThreadTS
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CandidateItems(_ context.Context, channels []string, since time.Time) ([]CandidateItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed := make(map[string]bool, len(channels))
	for _, ch := range channels {
		allowed[ch] = true
	}
	var out []CandidateItem
	for _, item := range s.items {
		if len(channels) > 0 && !allowed[item.Channel] {
			continue
		}
		if !since.IsZero() && item.UpdatedAt.Before(since) {
			continue
		}
		emb, ok := s.embeddings[embeddingKey(OwnerItem, item.ThreadTS)]
		if !ok {
			continue
		}
		out = append(out, CandidateItem{
			Item:   copyItem(item),
			Vector: append([]float32(nil), emb.Vector...),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Item.ThreadTS < out[j].Item.ThreadTS
	})
	return out, nil
}

func (s *MemoryStore) UpsertEmbedding(_ context.Context, ownerType, ownerID string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[embeddingKey(ownerType, ownerID)] = &Embedding{
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Vector:    append([]float32(nil), vector...),
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) GetEmbedding(_ context.Context, ownerType, ownerID string) (*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, ok := s.embeddings[embeddingKey(ownerType, ownerID)]
	if !ok {
		return nil, nil
	}
	out := *emb
	out.Vector = append([]float32(nil), emb.Vector...)
	return &out, nil
}

func (s *MemoryStore) UpsertRole(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *role
	s.roles[role.RoleID] = &stored
	return nil
}

func (s *MemoryStore) GetRole(_ context.Context, roleID string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[roleID]
	if !ok {
		return nil, nil
	}
	out := *role
	return &out, nil
}

func (s *MemoryStore) UpsertPhase(_ context.Context, phase *Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *phase
	s.phases[phase.PhaseKey] = &stored
	return nil
}

func (s *MemoryStore) GetPhase(_ context.Context, phaseKey string) (*Phase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phase, ok := s.phases[phaseKey]
	if !ok {
		return nil, nil
	}
	out := *phase
	return &out, nil
}

func (s *MemoryStore) UpsertProject(_ context.Context, project *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *project
	stored.Channels = append([]string(nil), project.Channels...)
	if existing, ok := s.projects[project.ProjectID]; ok && len(stored.Channels) == 0 {
		stored.Channels = existing.Channels
	}
	s.projects[project.ProjectID] = &stored
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, projectID string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[projectID]
	if !ok {
		return nil, nil
	}
	out := *project
	out.Channels = append([]string(nil), project.Channels...)
	return &out, nil
}

func (s *MemoryStore) UpdateProjectPhase(_ context.Context, projectID, phaseKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[projectID]
	if !ok {
		return apperrors.NotFound("project %s not found", projectID)
	}
	project.CurrentPhase = phaseKey
	return nil
}

func (s *MemoryStore) AddProjectChannel(_ context.Context, projectID, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[projectID]
	if !ok {
		return apperrors.NotFound("project %s not found", projectID)
	}
	for _, existing := range project.Channels {
		if existing == channel {
			return nil
		}
	}
	project.Channels = append(project.Channels, channel)
	return nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *user
	s.users[user.UserID] = &stored
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	out := *user
	return &out, nil
}

func (s *MemoryStore) UpdateUserRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return apperrors.NotFound("user %s not found", userID)
	}
	user.RoleID = roleID
	return nil
}

func (s *MemoryStore) AddUserProject(_ context.Context, userID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	memberships := s.userProj[userID]
	if memberships == nil {
		memberships = make(map[string]bool)
		s.userProj[userID] = memberships
	}
	memberships[projectID] = true
	return nil
}

func (s *MemoryStore) UserProjects(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	memberships := s.userProj[userID]
	out := make([]string, 0, len(memberships))
	for projectID := range memberships {
		out = append(out, projectID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) InsertFeedbackEvent(_ context.Context, fb *FeedbackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *fb
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.feedback = append(s.feedback, stored)
	return nil
}

func (s *MemoryStore) ListFeedbackEvents(_ context.Context, userID string, limit int) ([]FeedbackEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []FeedbackEvent
	for i := len(s.feedback) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.feedback[i].UserID == userID {
			out = append(out, s.feedback[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertDigest(_ context.Context, rec *DigestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *rec
	stored.Items = append([]byte(nil), rec.Items...)
	s.digests = append(s.digests, stored)
	return nil
}

func (s *MemoryStore) ListDigests(_ context.Context, userID string, limit int) ([]DigestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DigestRecord
	for i := len(s.digests) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if userID == "" || s.digests[i].UserID == userID {
			rec := s.digests[i]
			rec.Items = append([]byte(nil), s.digests[i].Items...)
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertSchedule(_ context.Context, schedule *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append(s.schedules, *schedule)
	return nil
}

func (s *MemoryStore) ListSchedules(_ context.Context) ([]Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Schedule(nil), s.schedules...), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) lookupMessage(channel, ts string) *Message {
	if msgs, ok := s.messages[channel]; ok {
		return msgs[ts]
	}
	return nil
}

func copyItem(item *DigestItem) DigestItem {
	out := *item
	out.Labels = append([]string(nil), item.Labels...)
	out.Tags = append([]string(nil), item.Tags...)
	return out
}

func copyReactions(reactions []event.Reaction) []event.Reaction {
	if reactions == nil {
		return nil
	}
	return append([]event.Reaction(nil), reactions...)
}
