package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"teamdigest/internal/profiles"
	"teamdigest/internal/storage"
)

type ProfileHandler struct {
	profiles *profiles.Service
}

func NewProfileHandler(profileSvc *profiles.Service) *ProfileHandler {
	return &ProfileHandler{profiles: profileSvc}
}

func (h *ProfileHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var role storage.Role
	if !decodeBody(w, r, &role) {
		return
	}
	if err := h.profiles.UpsertRole(r.Context(), &role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *ProfileHandler) CreatePhase(w http.ResponseWriter, r *http.Request) {
	var phase storage.Phase
	if !decodeBody(w, r, &phase) {
		return
	}
	if err := h.profiles.UpsertPhase(r.Context(), &phase); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, phase)
}

func (h *ProfileHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var project storage.Project
	if !decodeBody(w, r, &project) {
		return
	}
	if err := h.profiles.UpsertProject(r.Context(), &project); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *ProfileHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.profiles.GetProject(r.Context(), mux.Vars(r)["project_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *ProfileHandler) SetProjectPhase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PhaseKey string `json:"phase_key"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	projectID := mux.Vars(r)["project_id"]
	if err := h.profiles.SetProjectPhase(r.Context(), projectID, body.PhaseKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"project_id": projectID,
		"phase_key":  body.PhaseKey,
	})
}

func (h *ProfileHandler) AddProjectChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Channel string `json:"channel"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	projectID := mux.Vars(r)["project_id"]
	if err := h.profiles.AddProjectChannel(r.Context(), projectID, body.Channel); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"project_id": projectID,
		"channel":    body.Channel,
	})
}

func (h *ProfileHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var user storage.User
	if !decodeBody(w, r, &user) {
		return
	}
	if err := h.profiles.UpsertUser(r.Context(), &user); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *ProfileHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.profiles.GetUser(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *ProfileHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RoleID string `json:"role_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	userID := mux.Vars(r)["user_id"]
	if err := h.profiles.SetUserRole(r.Context(), userID, body.RoleID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "role_id": body.RoleID})
}

func (h *ProfileHandler) AddUserProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID string `json:"project_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	userID := mux.Vars(r)["user_id"]
	if err := h.profiles.AddUserProject(r.Context(), userID, body.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "project_id": body.ProjectID})
}
