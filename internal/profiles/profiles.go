// Package profiles manages roles, phases, projects and users, and assembles
// the personalized query vector a digest is built from.
package profiles

import (
	"context"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/embed"
	"teamdigest/internal/metrics"
	"teamdigest/internal/storage"
)

type Service struct {
	store   storage.Store
	encoder *embed.Encoder
}

func NewService(store storage.Store, encoder *embed.Encoder) *Service {
	return &Service{store: store, encoder: encoder}
}

// UpsertRole stores the role and a deterministic role vector derived from its
// name and description. The vector seeds digests for users with no personal
// vector yet.
func (s *Service) UpsertRole(ctx context.Context, role *storage.Role) error {
	if role.RoleID == "" || role.Name == "" {
		return apperrors.Validation("role requires role_id and name")
	}
	if err := s.store.UpsertRole(ctx, role); err != nil {
		return err
	}
	vector := s.encoder.Encode(role.Name + " " + role.Description)
	if err := s.store.UpsertEmbedding(ctx, storage.OwnerRole, role.RoleID, vector); err != nil {
		return err
	}
	metrics.EmbeddingsComputed.WithLabelValues(storage.OwnerRole).Inc()
	return nil
}

func (s *Service) UpsertPhase(ctx context.Context, phase *storage.Phase) error {
	if phase.PhaseKey == "" {
		return apperrors.Validation("phase requires phase_key")
	}
	if err := s.store.UpsertPhase(ctx, phase); err != nil {
		return err
	}
	vector := s.encoder.Encode(phase.PhaseKey + " " + phase.Description)
	if err := s.store.UpsertEmbedding(ctx, storage.OwnerPhase, phase.PhaseKey, vector); err != nil {
		return err
	}
	metrics.EmbeddingsComputed.WithLabelValues(storage.OwnerPhase).Inc()
	return nil
}

func (s *Service) UpsertProject(ctx context.Context, project *storage.Project) error {
	if project.ProjectID == "" || project.Name == "" {
		return apperrors.Validation("project requires project_id and name")
	}
	if project.CurrentPhase != "" {
		if err := s.requirePhase(ctx, project.CurrentPhase); err != nil {
			return err
		}
	}
	return s.store.UpsertProject(ctx, project)
}

func (s *Service) SetProjectPhase(ctx context.Context, projectID, phaseKey string) error {
	if err := s.requirePhase(ctx, phaseKey); err != nil {
		return err
	}
	return s.store.UpdateProjectPhase(ctx, projectID, phaseKey)
}

func (s *Service) AddProjectChannel(ctx context.Context, projectID, channel string) error {
	if channel == "" {
		return apperrors.Validation("channel is required")
	}
	return s.store.AddProjectChannel(ctx, projectID, channel)
}

func (s *Service) UpsertUser(ctx context.Context, user *storage.User) error {
	if user.UserID == "" || user.Name == "" {
		return apperrors.Validation("user requires user_id and name")
	}
	if user.RoleID != "" {
		role, err := s.store.GetRole(ctx, user.RoleID)
		if err != nil {
			return err
		}
		if role == nil {
			return apperrors.Validation("unknown role_id %q", user.RoleID)
		}
	}
	return s.store.UpsertUser(ctx, user)
}

func (s *Service) SetUserRole(ctx context.Context, userID, roleID string) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return apperrors.Validation("unknown role_id %q", roleID)
	}
	return s.store.UpdateUserRole(ctx, userID, roleID)
}

func (s *Service) AddUserProject(ctx context.Context, userID, projectID string) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.NotFound("user %s not found", userID)
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project == nil {
		return apperrors.NotFound("project %s not found", projectID)
	}
	return s.store.AddUserProject(ctx, userID, projectID)
}

func (s *Service) GetProject(ctx context.Context, projectID string) (*storage.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperrors.NotFound("project %s not found", projectID)
	}
	return project, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("user %s not found", userID)
	}
	return user, nil
}

func (s *Service) requirePhase(ctx context.Context, phaseKey string) error {
	phase, err := s.store.GetPhase(ctx, phaseKey)
	if err != nil {
		return err
	}
	if phase == nil {
		return apperrors.Validation("unknown phase_key %q", phaseKey)
	}
	return nil
}

// QueryVectorSource reports which vectors went into a query vector.
type QueryVectorSource struct {
	UserVector bool   `json:"user_vector"`
	RoleID     string `json:"role_id,omitempty"`
	PhaseKey   string `json:"phase_key,omitempty"`
}

// QueryVector blends the user's learned vector with the project's current
// phase vector. A user with no learned vector falls back to their role
// vector.
func (s *Service) QueryVector(ctx context.Context, userID, projectID string) ([]float32, QueryVectorSource, error) {
	var source QueryVectorSource

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, source, err
	}
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, source, err
	}

	var base []float32
	if emb, err := s.store.GetEmbedding(ctx, storage.OwnerUser, userID); err != nil {
		return nil, source, err
	} else if emb != nil {
		base = emb.Vector
		source.UserVector = true
	} else if user.RoleID != "" {
		emb, err := s.store.GetEmbedding(ctx, storage.OwnerRole, user.RoleID)
		if err != nil {
			return nil, source, err
		}
		if emb != nil {
			base = emb.Vector
			source.RoleID = user.RoleID
		}
	}

	var phaseVec []float32
	if project.CurrentPhase != "" {
		emb, err := s.store.GetEmbedding(ctx, storage.OwnerPhase, project.CurrentPhase)
		if err != nil {
			return nil, source, err
		}
		if emb != nil {
			phaseVec = emb.Vector
			source.PhaseKey = project.CurrentPhase
		}
	}

	if base == nil && phaseVec == nil {
		return nil, source, apperrors.Consistency(
			"no query vector available for user %s in project %s", userID, projectID)
	}

	vectors := make([][]float32, 0, 2)
	if base != nil {
		vectors = append(vectors, base)
	}
	if phaseVec != nil {
		vectors = append(vectors, phaseVec)
	}
	return embed.Blend(s.encoder.Dim(), vectors...), source, nil
}
