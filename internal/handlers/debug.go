package handlers

import (
	"net/http"
	"strconv"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/digest"
	"teamdigest/internal/profiles"
)

// DebugHandler exposes the intermediate stages of digest computation so the
// query vector, raw candidates, and rerank output can be inspected directly.
type DebugHandler struct {
	profiles *profiles.Service
	builder  *digest.Builder
}

func NewDebugHandler(profileSvc *profiles.Service, builder *digest.Builder) *DebugHandler {
	return &DebugHandler{profiles: profileSvc, builder: builder}
}

func digestParams(r *http.Request) (userID, projectID string, k int, err error) {
	userID = r.URL.Query().Get("user_id")
	projectID = r.URL.Query().Get("project_id")
	if userID == "" || projectID == "" {
		return "", "", 0, apperrors.Validation("user_id and project_id are required")
	}
	raw := r.URL.Query().Get("n")
	if raw == "" {
		raw = r.URL.Query().Get("k")
	}
	if raw != "" {
		parsed, convErr := strconv.Atoi(raw)
		if convErr != nil || parsed < 1 {
			return "", "", 0, apperrors.Validation("n must be a positive integer")
		}
		k = parsed
	}
	return userID, projectID, k, nil
}

func (h *DebugHandler) QueryVector(w http.ResponseWriter, r *http.Request) {
	userID, projectID, _, err := digestParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	vec, source, err := h.profiles.QueryVector(r.Context(), userID, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"project_id": projectID,
		"source":     source,
		"vector":     vec,
	})
}

func (h *DebugHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	userID, projectID, k, err := digestParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	scored, err := h.builder.Candidates(r.Context(), userID, projectID, k)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": scored})
}

func (h *DebugHandler) Rerank(w http.ResponseWriter, r *http.Request) {
	userID, projectID, k, err := digestParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ranked, err := h.builder.Preview(r.Context(), userID, projectID, k)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ranked": ranked})
}
