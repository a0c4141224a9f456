package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"teamdigest/internal/enrich"
	"teamdigest/internal/event"
)

// StoredEvent is a raw inbound event kept as an append-only audit record.
type StoredEvent struct {
	EventID    string          `json:"event_id"`
	TeamID     string          `json:"team_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Message is the normalized message row, unique on (channel, ts).
type Message struct {
	Channel   string           `json:"channel"`
	TS        string           `json:"ts"`
	ThreadTS  string           `json:"thread_ts"`
	User      string           `json:"user,omitempty"`
	Text      string           `json:"text,omitempty"`
	Reactions []event.Reaction `json:"reactions,omitempty"`
	Deleted   bool             `json:"deleted,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Thread groups the messages sharing a root timestamp in one channel.
type Thread struct {
	ThreadTS      string    `json:"thread_ts"`
	Channel       string    `json:"channel"`
	RootTS        string    `json:"root_ts"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	ReplyCount    int       `json:"reply_count"`
	ReactionCount int       `json:"reaction_count"`
	Participants  []string  `json:"participants"`
}

// DigestItem is the enriched, rankable unit derived from a thread snapshot.
type DigestItem struct {
	ThreadTS  string          `json:"thread_ts"`
	Channel   string          `json:"channel"`
	Title     string          `json:"title"`
	Category  string          `json:"category"`
	Labels    []string        `json:"labels"`
	Entities  enrich.Entities `json:"entities"`
	Urgency   float64         `json:"urgency"`
	Summary   string          `json:"summary"`
	Tags      []string        `json:"tags"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CandidateItem joins a digest item with its embedding for retrieval. Items
// without a stored embedding never appear as candidates.
type CandidateItem struct {
	Item   DigestItem
	Vector []float32
}

// Embedding owner types. Item vectors are immutable per item snapshot; user
// vectors mutate through feedback.
const (
	OwnerItem  = "item"
	OwnerUser  = "user"
	OwnerRole  = "role"
	OwnerPhase = "phase"
)

type Embedding struct {
	OwnerType string    `json:"owner_type"`
	OwnerID   string    `json:"owner_id"`
	Vector    []float32 `json:"vector"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role struct {
	RoleID      string `json:"role_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Phase struct {
	PhaseKey    string `json:"phase_key"`
	Description string `json:"description"`
}

type Project struct {
	ProjectID    string   `json:"project_id"`
	Name         string   `json:"name"`
	CurrentPhase string   `json:"current_phase"`
	Channels     []string `json:"channels"`
}

type User struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	RoleID string `json:"role_id,omitempty"`
}

// FeedbackEvent is the append-only audit record of one applied feedback action.
type FeedbackEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id"`
	ThreadTS  string    `json:"thread_ts"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// DigestRecord persists one computed digest.
type DigestRecord struct {
	DigestID  string          `json:"digest_id"`
	UserID    string          `json:"user_id"`
	ProjectID string          `json:"project_id"`
	Items     json.RawMessage `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
}

type Schedule struct {
	ScheduleID string    `json:"schedule_id"`
	TeamID     string    `json:"team_id"`
	UserID     string    `json:"user_id"`
	ProjectID  string    `json:"project_id"`
	TimeOfDay  string    `json:"time_of_day"`
	Timezone   string    `json:"timezone"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventStore records raw events first-wins on event_id. InsertEvent reports
// whether the event was new; the insert must be atomic so concurrent
// deliveries of the same event_id cannot both win.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *StoredEvent) (bool, error)
	ListEvents(ctx context.Context, limit int) ([]StoredEvent, error)
}

// MessageStore persists normalized messages, first-wins on (channel, ts).
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *Message) (bool, error)
	UpdateMessageText(ctx context.Context, channel, ts, text string) error
	MarkMessageDeleted(ctx context.Context, channel, ts string) error
	AdjustMessageReaction(ctx context.Context, channel, ts, name string, delta int) error
	GetMessage(ctx context.Context, channel, ts string) (*Message, error)
	ThreadMessages(ctx context.Context, threadTS string) ([]Message, error)
}

type ThreadStore interface {
	UpsertThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, threadTS string) (*Thread, error)
	ListThreads(ctx context.Context, limit int) ([]Thread, error)
}

type ItemStore interface {
	UpsertDigestItem(ctx context.Context, item *DigestItem) error
	GetDigestItem(ctx context.Context, threadTS string) (*DigestItem, error)
	ListDigestItems(ctx context.Context, limit int) ([]DigestItem, error)
	// CandidateItems returns items scoped to the given channels (all channels
	// when empty) touched at or after since (no window when zero), joined
	// with their embeddings.
	CandidateItems(ctx context.Context, channels []string, since time.Time) ([]CandidateItem, error)
}

type VectorStore interface {
	UpsertEmbedding(ctx context.Context, ownerType, ownerID string, vector []float32) error
	GetEmbedding(ctx context.Context, ownerType, ownerID string) (*Embedding, error)
}

type ProfileStore interface {
	UpsertRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID string) (*Role, error)
	UpsertPhase(ctx context.Context, phase *Phase) error
	GetPhase(ctx context.Context, phaseKey string) (*Phase, error)
	UpsertProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, projectID string) (*Project, error)
	UpdateProjectPhase(ctx context.Context, projectID, phaseKey string) error
	AddProjectChannel(ctx context.Context, projectID, channel string) error
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	UpdateUserRole(ctx context.Context, userID, roleID string) error
	AddUserProject(ctx context.Context, userID, projectID string) error
	UserProjects(ctx context.Context, userID string) ([]string, error)
}

type FeedbackStore interface {
	InsertFeedbackEvent(ctx context.Context, fb *FeedbackEvent) error
	ListFeedbackEvents(ctx context.Context, userID string, limit int) ([]FeedbackEvent, error)
}

type DigestStore interface {
	InsertDigest(ctx context.Context, rec *DigestRecord) error
	ListDigests(ctx context.Context, userID string, limit int) ([]DigestRecord, error)
}

type ScheduleStore interface {
	InsertSchedule(ctx context.Context, schedule *Schedule) error
	ListSchedules(ctx context.Context) ([]Schedule, error)
}

// Store is the full persistence surface. Components take the narrow
// interfaces they need; main wires one Store through all of them.
type Store interface {
	EventStore
	MessageStore
	ThreadStore
	ItemStore
	VectorStore
	ProfileStore
	FeedbackStore
	DigestStore
	ScheduleStore
	Close() error
}

// TSTime converts a platform timestamp string ("1726843.000200") to a
// time.Time. Unparseable timestamps map to the zero time.
func TSTime(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// CompareTS orders two platform timestamps numerically, falling back to
// string order when either fails to parse.
func CompareTS(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}
