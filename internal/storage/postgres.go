package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/event"
)

// PostgresStore implements Store on Postgres with pgvector columns for
// embeddings. Dedup relies on unique constraints, not read-then-write checks.
type PostgresStore struct {
	db  *sql.DB
	dim int
}

func NewPostgresStore(databaseURL string, dim int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := &PostgresStore{db: db, dim: dim}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	slog.Info("Initializing database schema...")

	if _, err := s.db.Exec("CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS raw_events (
			event_id TEXT PRIMARY KEY,
			team_id TEXT,
			payload JSONB NOT NULL,
			received_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			channel TEXT NOT NULL,
			ts TEXT NOT NULL,
			thread_ts TEXT NOT NULL,
			user_id TEXT,
			content TEXT,
			reactions JSONB,
			deleted BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (channel, ts)
		);`,
		`CREATE TABLE IF NOT EXISTS threads (
			thread_ts TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			root_ts TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE,
			last_activity TIMESTAMP WITH TIME ZONE,
			reply_count INTEGER DEFAULT 0,
			reaction_count INTEGER DEFAULT 0,
			participants JSONB
		);`,
		`CREATE TABLE IF NOT EXISTS digest_items (
			thread_ts TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			title TEXT,
			category TEXT,
			labels JSONB,
			entities JSONB,
			urgency DOUBLE PRECISION DEFAULT 0,
			summary TEXT,
			tags JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			owner_type TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			embedding vector(%d),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (owner_type, owner_id)
		);`, s.dim),
		`CREATE TABLE IF NOT EXISTS roles (
			role_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS phases (
			phase_key TEXT PRIMARY KEY,
			description TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS projects (
			project_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			current_phase TEXT,
			channels JSONB
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role_id TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS user_projects (
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			PRIMARY KEY (user_id, project_id)
		);`,
		`CREATE TABLE IF NOT EXISTS feedback_events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			thread_ts TEXT NOT NULL,
			action TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS digests (
			digest_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			items JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS schedules (
			schedule_id TEXT PRIMARY KEY,
			team_id TEXT,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			time_of_day TEXT,
			timezone TEXT,
			enabled BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_ts);",
		"CREATE INDEX IF NOT EXISTS idx_threads_activity ON threads(last_activity);",
		"CREATE INDEX IF NOT EXISTS idx_items_channel ON digest_items(channel);",
		"CREATE INDEX IF NOT EXISTS idx_items_updated ON digest_items(updated_at);",
		"CREATE INDEX IF NOT EXISTS idx_feedback_user ON feedback_events(user_id);",
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			slog.Warn("Failed to create index", "error", err, "sql", indexSQL)
		}
	}

	slog.Info("Database schema initialized successfully")
	return nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, ev *StoredEvent) (bool, error) {
	query := `
		INSERT INTO raw_events (event_id, team_id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, ev.EventID, ev.TeamID, ev.Payload)
	if err != nil {
		return false, apperrors.TransientStore("failed to record event", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.TransientStore("failed to record event", err)
	}
	return rows == 1, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	query := `
		SELECT event_id, COALESCE(team_id, ''), payload, received_at
		FROM raw_events
		ORDER BY received_at DESC
		LIMIT NULLIF($1, 0)
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		if err := rows.Scan(&ev.EventID, &ev.TeamID, &ev.Payload, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *Message) (bool, error) {
	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return false, fmt.Errorf("failed to encode reactions: %w", err)
	}
	query := `
		INSERT INTO messages (channel, ts, thread_ts, user_id, content, reactions)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel, ts) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		msg.Channel, msg.TS, msg.ThreadTS, msg.User, msg.Text, reactions)
	if err != nil {
		return false, apperrors.TransientStore("failed to store message", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.TransientStore("failed to store message", err)
	}
	return rows == 1, nil
}

func (s *PostgresStore) UpdateMessageText(ctx context.Context, channel, ts, text string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET content = $1 WHERE channel = $2 AND ts = $3",
		text, channel, ts)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return requireRow(res, channel, ts)
}

func (s *PostgresStore) MarkMessageDeleted(ctx context.Context, channel, ts string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET deleted = TRUE WHERE channel = $1 AND ts = $2",
		channel, ts)
	if err != nil {
		return fmt.Errorf("failed to mark message deleted: %w", err)
	}
	return requireRow(res, channel, ts)
}

func (s *PostgresStore) AdjustMessageReaction(ctx context.Context, channel, ts, name string, delta int) error {
	msg, err := s.GetMessage(ctx, channel, ts)
	if err != nil {
		return err
	}
	if msg == nil {
		return apperrors.NotFound("message %s/%s not found", channel, ts)
	}
	reactions := msg.Reactions
	found := false
	for i := range reactions {
		if reactions[i].Name == name {
			reactions[i].Count += delta
			if reactions[i].Count <= 0 {
				reactions = append(reactions[:i], reactions[i+1:]...)
			}
			found = true
			break
		}
	}
	if !found && delta > 0 {
		reactions = append(reactions, event.Reaction{Name: name, Count: delta})
	}
	encoded, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("failed to encode reactions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE messages SET reactions = $1 WHERE channel = $2 AND ts = $3",
		encoded, channel, ts)
	if err != nil {
		return fmt.Errorf("failed to update reactions: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, channel, ts string) (*Message, error) {
	query := `
		SELECT channel, ts, thread_ts, COALESCE(user_id, ''), COALESCE(content, ''),
		       reactions, deleted, created_at
		FROM messages
		WHERE channel = $1 AND ts = $2
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, channel, ts))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) ThreadMessages(ctx context.Context, threadTS string) ([]Message, error) {
	query := `
		SELECT channel, ts, thread_ts, COALESCE(user_id, ''), COALESCE(content, ''),
		       reactions, deleted, created_at
		FROM messages
		WHERE thread_ts = $1
		ORDER BY CAST(ts AS DOUBLE PRECISION) ASC
	`
	rows, err := s.db.QueryContext(ctx, query, threadTS)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) UpsertThread(ctx context.Context, thread *Thread) error {
	participants, err := json.Marshal(thread.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}
	query := `
		INSERT INTO threads
			(thread_ts, channel, root_ts, created_at, last_activity, reply_count, reaction_count, participants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (thread_ts) DO UPDATE SET
			last_activity = EXCLUDED.last_activity,
			reply_count = EXCLUDED.reply_count,
			reaction_count = EXCLUDED.reaction_count,
			participants = EXCLUDED.participants
	`
	_, err = s.db.ExecContext(ctx, query,
		thread.ThreadTS, thread.Channel, thread.RootTS, thread.CreatedAt,
		thread.LastActivity, thread.ReplyCount, thread.ReactionCount, participants)
	if err != nil {
		return fmt.Errorf("failed to upsert thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadTS string) (*Thread, error) {
	query := `
		SELECT thread_ts, channel, root_ts, created_at, last_activity,
		       reply_count, reaction_count, participants
		FROM threads
		WHERE thread_ts = $1
	`
	thread, err := scanThread(s.db.QueryRowContext(ctx, query, threadTS))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return thread, nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, limit int) ([]Thread, error) {
	query := `
		SELECT thread_ts, channel, root_ts, created_at, last_activity,
		       reply_count, reaction_count, participants
		FROM threads
		ORDER BY last_activity DESC
		LIMIT NULLIF($1, 0)
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, *thread)
	}
	return threads, rows.Err()
}

func (s *PostgresStore) UpsertDigestItem(ctx context.Context, item *DigestItem) error {
	labels, err := json.Marshal(item.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	entities, err := json.Marshal(item.Entities)
	if err != nil {
		return fmt.Errorf("failed to encode entities: %w", err)
	}
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	query := `
		INSERT INTO digest_items
			(thread_ts, channel, title, category, labels, entities, urgency, summary, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (thread_ts) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			labels = EXCLUDED.labels,
			entities = EXCLUDED.entities,
			urgency = EXCLUDED.urgency,
			summary = EXCLUDED.summary,
			tags = EXCLUDED.tags,
			updated_at = NOW()
	`
	_, err = s.db.ExecContext(ctx, query,
		item.ThreadTS, item.Channel, item.Title, item.Category,
		labels, entities, item.Urgency, item.Summary, tags)
	if err != nil {
		return fmt.Errorf("failed to upsert digest item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDigestItem(ctx context.Context, threadTS string) (*DigestItem, error) {
	query := digestItemSelect + " WHERE thread_ts = $1"
	item, err := scanDigestItem(s.db.QueryRowContext(ctx, query, threadTS))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get digest item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListDigestItems(ctx context.Context, limit int) ([]DigestItem, error) {
	query := digestItemSelect + " ORDER BY updated_at DESC LIMIT NULLIF($1, 0)"
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list digest items: %w", err)
	}
	defer rows.Close()

	var items []DigestItem
	for rows.Next() {
		item, err := scanDigestItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan digest item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CandidateItems(ctx context.Context, channels []string, since time.Time) ([]CandidateItem, error) {
	clauses := []string{"e.owner_type = 'item'"}
	args := []interface{}{}
	if !since.IsZero() {
		args = append(args, since)
		clauses = append(clauses, fmt.Sprintf("di.updated_at >= $%d", len(args)))
	}
	if len(channels) > 0 {
		placeholders := make([]string, len(channels))
		for i, ch := range channels {
			args = append(args, ch)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("di.channel IN (%s)", strings.Join(placeholders, ",")))
	}
	query := fmt.Sprintf(`
		SELECT di.thread_ts, di.channel, COALESCE(di.title, ''), COALESCE(di.category, ''),
		       di.labels, di.entities, di.urgency, COALESCE(di.summary, ''), di.tags,
		       di.created_at, di.updated_at, e.embedding
		FROM digest_items di
		JOIN embeddings e ON e.owner_id = di.thread_ts
		WHERE %s
	`, strings.Join(clauses, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	defer rows.Close()

	var candidates []CandidateItem
	for rows.Next() {
		var item DigestItem
		var labels, entities, tags []byte
		var vec pgvector.Vector
		if err := rows.Scan(
			&item.ThreadTS, &item.Channel, &item.Title, &item.Category,
			&labels, &entities, &item.Urgency, &item.Summary, &tags,
			&item.CreatedAt, &item.UpdatedAt, &vec,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if err := decodeItemJSON(&item, labels, entities, tags); err != nil {
			return nil, err
		}
		candidates = append(candidates, CandidateItem{Item: item, Vector: vec.Slice()})
	}
	return candidates, rows.Err()
}

func (s *PostgresStore) UpsertEmbedding(ctx context.Context, ownerType, ownerID string, vector []float32) error {
	query := `
		INSERT INTO embeddings (owner_type, owner_id, embedding, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner_type, owner_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, ownerType, ownerID, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEmbedding(ctx context.Context, ownerType, ownerID string) (*Embedding, error) {
	query := `
		SELECT owner_type, owner_id, embedding, updated_at
		FROM embeddings
		WHERE owner_type = $1 AND owner_id = $2
	`
	var emb Embedding
	var vec pgvector.Vector
	err := s.db.QueryRowContext(ctx, query, ownerType, ownerID).Scan(
		&emb.OwnerType, &emb.OwnerID, &vec, &emb.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}
	emb.Vector = vec.Slice()
	return &emb, nil
}

func (s *PostgresStore) UpsertRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (role_id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (role_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description
	`
	_, err := s.db.ExecContext(ctx, query, role.RoleID, role.Name, role.Description)
	if err != nil {
		return fmt.Errorf("failed to upsert role: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRole(ctx context.Context, roleID string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx,
		"SELECT role_id, name, COALESCE(description, '') FROM roles WHERE role_id = $1",
		roleID).Scan(&role.RoleID, &role.Name, &role.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

func (s *PostgresStore) UpsertPhase(ctx context.Context, phase *Phase) error {
	query := `
		INSERT INTO phases (phase_key, description)
		VALUES ($1, $2)
		ON CONFLICT (phase_key) DO UPDATE SET description = EXCLUDED.description
	`
	_, err := s.db.ExecContext(ctx, query, phase.PhaseKey, phase.Description)
	if err != nil {
		return fmt.Errorf("failed to upsert phase: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPhase(ctx context.Context, phaseKey string) (*Phase, error) {
	var phase Phase
	err := s.db.QueryRowContext(ctx,
		"SELECT phase_key, COALESCE(description, '') FROM phases WHERE phase_key = $1",
		phaseKey).Scan(&phase.PhaseKey, &phase.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get phase: %w", err)
	}
	return &phase, nil
}

func (s *PostgresStore) UpsertProject(ctx context.Context, project *Project) error {
	channels, err := json.Marshal(project.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}
	query := `
		INSERT INTO projects (project_id, name, current_phase, channels)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id) DO UPDATE SET
			name = EXCLUDED.name,
			current_phase = EXCLUDED.current_phase
	`
	_, err = s.db.ExecContext(ctx, query, project.ProjectID, project.Name, project.CurrentPhase, channels)
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	var channels []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT project_id, name, COALESCE(current_phase, ''), channels FROM projects WHERE project_id = $1",
		projectID).Scan(&project.ProjectID, &project.Name, &project.CurrentPhase, &channels)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &project.Channels); err != nil {
			return nil, fmt.Errorf("failed to decode channels: %w", err)
		}
	}
	return &project, nil
}

func (s *PostgresStore) UpdateProjectPhase(ctx context.Context, projectID, phaseKey string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE projects SET current_phase = $1 WHERE project_id = $2",
		phaseKey, projectID)
	if err != nil {
		return fmt.Errorf("failed to update project phase: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update project phase: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("project %s not found", projectID)
	}
	return nil
}

func (s *PostgresStore) AddProjectChannel(ctx context.Context, projectID, channel string) error {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project == nil {
		return apperrors.NotFound("project %s not found", projectID)
	}
	for _, existing := range project.Channels {
		if existing == channel {
			return nil
		}
	}
	channels, err := json.Marshal(append(project.Channels, channel))
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE projects SET channels = $1 WHERE project_id = $2",
		channels, projectID)
	if err != nil {
		return fmt.Errorf("failed to add project channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (user_id, name, role_id)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			role_id = EXCLUDED.role_id
	`
	_, err := s.db.ExecContext(ctx, query, user.UserID, user.Name, user.RoleID)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, name, COALESCE(role_id, '') FROM users WHERE user_id = $1",
		userID).Scan(&user.UserID, &user.Name, &user.RoleID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET role_id = $1 WHERE user_id = $2", roleID, userID)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("user %s not found", userID)
	}
	return nil
}

func (s *PostgresStore) AddUserProject(ctx context.Context, userID, projectID string) error {
	query := `
		INSERT INTO user_projects (user_id, project_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, project_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, userID, projectID)
	if err != nil {
		return fmt.Errorf("failed to add user to project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UserProjects(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT project_id FROM user_projects WHERE user_id = $1 ORDER BY project_id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var projectID string
		if err := rows.Scan(&projectID); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, projectID)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) InsertFeedbackEvent(ctx context.Context, fb *FeedbackEvent) error {
	query := `
		INSERT INTO feedback_events (id, user_id, project_id, thread_ts, action)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, fb.ID, fb.UserID, fb.ProjectID, fb.ThreadTS, fb.Action)
	if err != nil {
		return fmt.Errorf("failed to insert feedback event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFeedbackEvents(ctx context.Context, userID string, limit int) ([]FeedbackEvent, error) {
	query := `
		SELECT id, user_id, project_id, thread_ts, action, created_at
		FROM feedback_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT NULLIF($2, 0)
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback events: %w", err)
	}
	defer rows.Close()

	var events []FeedbackEvent
	for rows.Next() {
		var fb FeedbackEvent
		if err := rows.Scan(&fb.ID, &fb.UserID, &fb.ProjectID, &fb.ThreadTS, &fb.Action, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback event: %w", err)
		}
		events = append(events, fb)
	}
	return events, rows.Err()
}

func (s *PostgresStore) InsertDigest(ctx context.Context, rec *DigestRecord) error {
	query := `
		INSERT INTO digests (digest_id, user_id, project_id, items)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query, rec.DigestID, rec.UserID, rec.ProjectID, rec.Items)
	if err != nil {
		return fmt.Errorf("failed to insert digest: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDigests(ctx context.Context, userID string, limit int) ([]DigestRecord, error) {
	query := `
		SELECT digest_id, user_id, project_id, items, created_at
		FROM digests
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at DESC
		LIMIT NULLIF($2, 0)
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list digests: %w", err)
	}
	defer rows.Close()

	var records []DigestRecord
	for rows.Next() {
		var rec DigestRecord
		if err := rows.Scan(&rec.DigestID, &rec.UserID, &rec.ProjectID, &rec.Items, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan digest: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) InsertSchedule(ctx context.Context, schedule *Schedule) error {
	query := `
		INSERT INTO schedules (schedule_id, team_id, user_id, project_id, time_of_day, timezone, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		schedule.ScheduleID, schedule.TeamID, schedule.UserID, schedule.ProjectID,
		schedule.TimeOfDay, schedule.Timezone, schedule.Enabled)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSchedules(ctx context.Context) ([]Schedule, error) {
	query := `
		SELECT schedule_id, COALESCE(team_id, ''), user_id, project_id,
		       COALESCE(time_of_day, ''), COALESCE(timezone, ''), enabled, created_at
		FROM schedules
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var sched Schedule
		if err := rows.Scan(&sched.ScheduleID, &sched.TeamID, &sched.UserID, &sched.ProjectID,
			&sched.TimeOfDay, &sched.Timezone, &sched.Enabled, &sched.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const digestItemSelect = `
	SELECT thread_ts, channel, COALESCE(title, ''), COALESCE(category, ''),
	       labels, entities, urgency, COALESCE(summary, ''), tags, created_at, updated_at
	FROM digest_items`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var reactions []byte
	if err := row.Scan(&msg.Channel, &msg.TS, &msg.ThreadTS, &msg.User, &msg.Text,
		&reactions, &msg.Deleted, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
			return nil, fmt.Errorf("failed to decode reactions: %w", err)
		}
	}
	return &msg, nil
}

func scanThread(row rowScanner) (*Thread, error) {
	var thread Thread
	var participants []byte
	if err := row.Scan(&thread.ThreadTS, &thread.Channel, &thread.RootTS, &thread.CreatedAt,
		&thread.LastActivity, &thread.ReplyCount, &thread.ReactionCount, &participants); err != nil {
		return nil, err
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &thread.Participants); err != nil {
			return nil, fmt.Errorf("failed to decode participants: %w", err)
		}
	}
	return &thread, nil
}

func scanDigestItem(row rowScanner) (*DigestItem, error) {
	var item DigestItem
	var labels, entities, tags []byte
	if err := row.Scan(&item.ThreadTS, &item.Channel, &item.Title, &item.Category,
		&labels, &entities, &item.Urgency, &item.Summary, &tags,
		&item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeItemJSON(&item, labels, entities, tags); err != nil {
		return nil, err
	}
	return &item, nil
}

func decodeItemJSON(item *DigestItem, labels, entities, tags []byte) error {
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &item.Labels); err != nil {
			return fmt.Errorf("failed to decode labels: %w", err)
		}
	}
	if len(entities) > 0 {
		if err := json.Unmarshal(entities, &item.Entities); err != nil {
			return fmt.Errorf("failed to decode entities: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &item.Tags); err != nil {
			return fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	return nil
}

func requireRow(res sql.Result, channel, ts string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("message %s/%s not found", channel, ts)
	}
	return nil
}
